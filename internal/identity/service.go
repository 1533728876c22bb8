package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/nexustrade/wallet/internal/ledger"
)

// ErrInvalidCredentials is returned for any failed login, whatever the cause.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Registration is the input to Register.
type Registration struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=72"`
	FullName string `validate:"required,max=255"`
}

// Service provisions accounts and checks credentials.
type Service struct {
	store    ledger.Store
	currency string
	hashCost int
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

// NewService creates a new identity service. New wallets are opened in currency.
func NewService(store ledger.Store, currency string, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		currency: strings.ToUpper(currency),
		hashCost: bcrypt.DefaultCost,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user and its zero-balance wallet as one unit.
func (s *Service) Register(ctx context.Context, reg Registration) (ledger.User, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	reg.FullName = strings.TrimSpace(reg.FullName)
	if err := s.validate.Struct(reg); err != nil {
		return ledger.User{}, invalid(err)
	}
	email := ledger.NormalizeEmail(reg.Email)

	exists, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return ledger.User{}, ledger.Classify(err)
	}
	if exists {
		return ledger.User{}, fmt.Errorf("%w: user with this email already exists", ledger.ErrAlreadyExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.hashCost)
	if err != nil {
		return ledger.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	user := ledger.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		FullName:     reg.FullName,
		CreatedAt:    now,
	}
	wallet := ledger.Wallet{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Balance:   decimal.Zero,
		Currency:  s.currency,
		UpdatedAt: now,
	}

	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.SaveUser(ctx, user); err != nil {
			return err
		}
		_, err := tx.SaveWallet(ctx, wallet)
		return err
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyExists) {
			return ledger.User{}, fmt.Errorf("%w: user with this email already exists", ledger.ErrAlreadyExists)
		}
		return ledger.User{}, ledger.Classify(err)
	}

	s.logger.Info("user registered", "user_id", user.ID, "wallet_id", wallet.ID)
	return user, nil
}

// Authenticate verifies an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (ledger.User, error) {
	user, err := s.store.LoadUserByEmail(ctx, email)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return ledger.User{}, ledger.Classify(err)
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return ledger.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Profile returns the user with the given id.
func (s *Service) Profile(ctx context.Context, userID string) (ledger.User, error) {
	user, err := s.store.LoadUser(ctx, userID)
	if err != nil {
		return ledger.User{}, ledger.Classify(err)
	}
	return user, nil
}

// ResolveEmail maps an email to its user id for trusted internal callers.
func (s *Service) ResolveEmail(ctx context.Context, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", fmt.Errorf("%w: email is required", ledger.ErrInvalidArgument)
	}
	user, err := s.store.LoadUserByEmail(ctx, email)
	if err != nil {
		return "", ledger.Classify(err)
	}
	return user.ID, nil
}

func invalid(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email address", fe.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		}
	}
	return fmt.Errorf("%w: %s", ledger.ErrInvalidArgument, strings.Join(msgs, "; "))
}
