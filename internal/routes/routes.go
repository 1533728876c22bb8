package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nexustrade/wallet/internal/auth"
	"github.com/nexustrade/wallet/internal/config"
	"github.com/nexustrade/wallet/internal/events"
	"github.com/nexustrade/wallet/internal/identity"
	"github.com/nexustrade/wallet/internal/ledger"
	"github.com/nexustrade/wallet/internal/middleware"
	"github.com/nexustrade/wallet/internal/seed"
	"github.com/nexustrade/wallet/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. Store and
// Publisher are optional; they default to a store over DB (or in memory) and
// a logging publisher.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Store     ledger.Store
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil && d.Store == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	store := d.Store
	if store == nil {
		if d.DB != nil {
			store = ledger.NewPostgresStore(d.DB)
		} else {
			d.Logger.Warn("no database configured, using in-memory store")
			store = ledger.NewInMemory()
		}
	}
	publisher := d.Publisher
	if publisher == nil {
		publisher = events.NewLoggerPublisher(d.Logger)
	}

	identitySvc := identity.NewService(store, d.Cfg.Currency, d.Logger)
	walletSvc := wallet.NewService(store, d.Logger, wallet.WithPublisher(publisher))
	tokens := auth.NewService(d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL, d.Cfg.AppName)

	if d.Cfg.SeedGuest {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := seed.Guest(ctx, identitySvc, walletSvc, d.Logger); err != nil {
			return fmt.Errorf("seed guest account: %w", err)
		}
	}

	// API routes
	api := app.Group("/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterAuthRoutes(api, identity.NewHandler(identitySvc), auth.NewHandler(identitySvc, tokens),
		middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimit))

	// Protected routes
	var idem fiber.Handler
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	jwtmw := middleware.JWTAuth(tokens)
	RegisterIdentityRoutes(api, identity.NewHandler(identitySvc), jwtmw)
	RegisterWalletRoutes(api, wallet.NewHandler(walletSvc, identitySvc), jwtmw, middleware.InternalAuth(d.Cfg.InternalToken), idem)

	return nil
}
