package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists users, wallets and transactions in PostgreSQL.
type PostgresStore struct {
	pgQueries
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{q: db}, db: db}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside one database transaction. Wallet reads made through
// the Tx take a row lock held until commit or rollback.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStorageFailure, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{pgQueries: pgQueries{q: tx, forUpdate: true}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStorageFailure, err)
	}
	return nil
}

type pgQueries struct {
	q         querier
	forUpdate bool
}

func (p pgQueries) LoadWallet(ctx context.Context, userID string) (Wallet, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: wallet for user %s", ErrNotFound, userID)
	}
	query := `SELECT id, user_id, balance::text, currency, version, updated_at FROM wallets WHERE user_id = $1`
	if p.forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		id, owner uuid.UUID
		balance   string
		updatedAt time.Time
		w         Wallet
	)
	if err := p.q.QueryRow(ctx, query, uid).Scan(&id, &owner, &balance, &w.Currency, &w.Version, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, fmt.Errorf("%w: wallet for user %s", ErrNotFound, userID)
		}
		return Wallet{}, err
	}
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, fmt.Errorf("decode balance: %w", err)
	}
	w.ID = id.String()
	w.UserID = owner.String()
	w.UpdatedAt = updatedAt.UTC()
	return w, nil
}

func (p pgQueries) LoadUser(ctx context.Context, id string) (User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return p.scanUser(ctx, id, `SELECT id, email, password_hash, full_name, created_at FROM users WHERE id = $1`, uid)
}

func (p pgQueries) LoadUserByEmail(ctx context.Context, email string) (User, error) {
	return p.scanUser(ctx, email, `SELECT id, email, password_hash, full_name, created_at FROM users WHERE lower(email) = $1`, NormalizeEmail(email))
}

func (p pgQueries) scanUser(ctx context.Context, key, query string, arg any) (User, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		user      User
	)
	if err := p.q.QueryRow(ctx, query, arg).Scan(&id, &user.Email, &user.PasswordHash, &user.FullName, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: user %s", ErrNotFound, key)
		}
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	return user, nil
}

func (p pgQueries) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := p.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = $1)`, NormalizeEmail(email)).Scan(&exists)
	return exists, err
}

func (p pgQueries) ListTransactions(ctx context.Context, walletID string, q ListQuery) (TransactionPage, error) {
	wid, err := uuid.Parse(walletID)
	if err != nil {
		return TransactionPage{Items: []Transaction{}}, nil
	}

	var latest int64
	if err := p.q.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM transactions WHERE wallet_id = $1`, wid).Scan(&latest); err != nil {
		return TransactionPage{}, err
	}
	asOf := latest
	if q.AsOf > 0 && q.AsOf < latest {
		asOf = q.AsOf
	}

	direction := "DESC"
	if q.Order == OrderOldestFirst {
		direction = "ASC"
	}
	rows, err := p.q.Query(ctx, `SELECT id, wallet_id, seq, amount::text, kind, status, created_at
        FROM transactions
        WHERE wallet_id = $1 AND seq <= $2
        ORDER BY seq `+direction+`
        OFFSET $3 LIMIT $4`, wid, asOf, q.Offset, q.Limit)
	if err != nil {
		return TransactionPage{}, err
	}
	defer rows.Close()

	page := TransactionPage{Items: []Transaction{}, Total: asOf, AsOf: asOf}
	for rows.Next() {
		var (
			id, owner uuid.UUID
			amount    string
			createdAt time.Time
			tx        Transaction
		)
		if err := rows.Scan(&id, &owner, &tx.Seq, &amount, &tx.Kind, &tx.Status, &createdAt); err != nil {
			return TransactionPage{}, err
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return TransactionPage{}, fmt.Errorf("decode amount: %w", err)
		}
		tx.ID = id.String()
		tx.WalletID = owner.String()
		tx.CreatedAt = createdAt.UTC()
		page.Items = append(page.Items, tx)
	}
	return page, rows.Err()
}

type pgTx struct {
	pgQueries
}

func (t *pgTx) SaveUser(ctx context.Context, user User) (User, error) {
	id, err := uuid.Parse(user.ID)
	if err != nil {
		return User{}, fmt.Errorf("%w: user id: %w", ErrInvalidArgument, err)
	}
	user.Email = NormalizeEmail(user.Email)
	_, err = t.q.Exec(ctx, `INSERT INTO users (id, email, password_hash, full_name, created_at)
        VALUES ($1, $2, $3, $4, $5)`, id, user.Email, user.PasswordHash, user.FullName, user.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("%w: email %s", ErrAlreadyExists, user.Email)
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// SaveWallet inserts a new wallet or updates an existing one whose stored
// version is exactly one behind.
func (t *pgTx) SaveWallet(ctx context.Context, w Wallet) (Wallet, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: wallet id: %w", ErrInvalidArgument, err)
	}
	owner, err := uuid.Parse(w.UserID)
	if err != nil {
		return Wallet{}, fmt.Errorf("%w: user id: %w", ErrInvalidArgument, err)
	}
	tag, err := t.q.Exec(ctx, `INSERT INTO wallets (id, user_id, balance, currency, version, updated_at)
        VALUES ($1, $2, $3::numeric, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE
        SET balance = EXCLUDED.balance, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
        WHERE wallets.version = EXCLUDED.version - 1`,
		id, owner, w.Balance.String(), w.Currency, w.Version, w.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return Wallet{}, fmt.Errorf("%w: wallet for user %s", ErrAlreadyExists, w.UserID)
	}
	if err != nil {
		return Wallet{}, err
	}
	if tag.RowsAffected() == 0 {
		return Wallet{}, fmt.Errorf("%w: wallet %s version conflict", ErrStorageFailure, w.ID)
	}
	return w, nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	id, err := uuid.Parse(tx.ID)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: transaction id: %w", ErrInvalidArgument, err)
	}
	walletID, err := uuid.Parse(tx.WalletID)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: wallet id: %w", ErrInvalidArgument, err)
	}
	_, err = t.q.Exec(ctx, `INSERT INTO transactions (id, wallet_id, seq, amount, kind, status, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		id, walletID, tx.Seq, tx.Amount.String(), string(tx.Kind), string(tx.Status), tx.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return Transaction{}, fmt.Errorf("%w: transaction seq %d for wallet %s already recorded", ErrStorageFailure, tx.Seq, tx.WalletID)
	}
	if err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
