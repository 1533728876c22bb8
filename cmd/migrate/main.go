// Command migrate applies the ledger schema to DATABASE_URL and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nexustrade/wallet/internal/config"
	"github.com/nexustrade/wallet/internal/infra"
	"github.com/nexustrade/wallet/internal/ledger"
	"github.com/nexustrade/wallet/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.AppName, cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{MaxConns: cfg.DBMaxConns, ConnectTimeout: cfg.DBConnect})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := ledger.NewPostgresStore(db).Migrate(ctx); err != nil {
		logger.Error("migrate schema", "error", err)
		os.Exit(1)
	}
	logger.Info("schema migrated")
}
