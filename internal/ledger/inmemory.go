package ledger

import (
	"context"
	"fmt"
	"sync"
)

type inMemoryStore struct {
	mu           sync.RWMutex
	users        map[string]User
	emails       map[string]string
	wallets      map[string]Wallet
	transactions map[string][]Transaction
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and development runs without Postgres.
func NewInMemory() Store {
	return &inMemoryStore{
		users:        make(map[string]User),
		emails:       make(map[string]string),
		wallets:      make(map[string]Wallet),
		transactions: make(map[string][]Transaction),
	}
}

func (s *inMemoryStore) LoadWallet(_ context.Context, userID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: wallet for user %s", ErrNotFound, userID)
	}
	return w, nil
}

func (s *inMemoryStore) LoadUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, nil
}

func (s *inMemoryStore) LoadUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[NormalizeEmail(email)]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, email)
	}
	return s.users[id], nil
}

func (s *inMemoryStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.emails[NormalizeEmail(email)]
	return ok, nil
}

func (s *inMemoryStore) ListTransactions(_ context.Context, walletID string, q ListQuery) (TransactionPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageOf(s.transactions[walletID], q), nil
}

// pageOf cuts a window out of history, which is held in Seq order with
// history[i].Seq == i+1.
func pageOf(history []Transaction, q ListQuery) TransactionPage {
	asOf := int64(len(history))
	if q.AsOf > 0 && q.AsOf < asOf {
		asOf = q.AsOf
	}
	visible := history[:asOf]
	page := TransactionPage{Items: []Transaction{}, Total: asOf, AsOf: asOf}
	for i := q.Offset; i >= 0 && i < len(visible) && len(page.Items) < q.Limit; i++ {
		idx := i
		if q.Order != OrderOldestFirst {
			idx = len(visible) - 1 - i
		}
		page.Items = append(page.Items, visible[idx])
	}
	return page
}

func (s *inMemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	t := &memoryTx{store: s, wallets: make(map[string]Wallet)}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

// commit validates every staged write against the committed state and then
// applies all of them, or none. The store-wide write lock covers only this
// step; mutations serialize per wallet in the wallet service.
func (s *inMemoryStore) commit(t *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newEmails := make(map[string]string, len(t.users))
	for _, u := range t.users {
		if _, taken := s.emails[u.Email]; taken {
			return fmt.Errorf("%w: email %s", ErrAlreadyExists, u.Email)
		}
		if _, taken := newEmails[u.Email]; taken {
			return fmt.Errorf("%w: email %s", ErrAlreadyExists, u.Email)
		}
		if _, taken := s.users[u.ID]; taken {
			return fmt.Errorf("%w: user %s", ErrAlreadyExists, u.ID)
		}
		newEmails[u.Email] = u.ID
	}

	appended := make(map[string]int64)
	for _, tx := range t.txs {
		appended[tx.WalletID]++
		if want := int64(len(s.transactions[tx.WalletID])) + appended[tx.WalletID]; tx.Seq != want {
			return fmt.Errorf("%w: transaction seq %d for wallet %s, expected %d", ErrStorageFailure, tx.Seq, tx.WalletID, want)
		}
	}

	paired := make(map[string]bool, len(t.wallets))
	for userID, w := range t.wallets {
		var base int64
		if current, exists := s.wallets[userID]; exists {
			if current.ID != w.ID {
				return fmt.Errorf("%w: wallet for user %s", ErrAlreadyExists, userID)
			}
			base = current.Version
		} else if _, known := s.users[userID]; !known && !t.stagedUser(userID) {
			return fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		if base+appended[w.ID] != w.Version {
			return fmt.Errorf("%w: wallet %s version conflict", ErrStorageFailure, w.ID)
		}
		paired[w.ID] = true
	}
	for walletID := range appended {
		if !paired[walletID] {
			return fmt.Errorf("%w: transaction for wallet %s without balance update", ErrStorageFailure, walletID)
		}
	}

	for _, u := range t.users {
		s.users[u.ID] = u
		s.emails[u.Email] = u.ID
	}
	for userID, w := range t.wallets {
		s.wallets[userID] = w
	}
	for _, tx := range t.txs {
		s.transactions[tx.WalletID] = append(s.transactions[tx.WalletID], tx)
	}
	return nil
}

// memoryTx stages writes until commit. Reads see staged values first.
type memoryTx struct {
	store   *inMemoryStore
	users   []User
	wallets map[string]Wallet
	txs     []Transaction
}

func (t *memoryTx) stagedUser(id string) bool {
	for _, u := range t.users {
		if u.ID == id {
			return true
		}
	}
	return false
}

func (t *memoryTx) LoadWallet(ctx context.Context, userID string) (Wallet, error) {
	if w, ok := t.wallets[userID]; ok {
		return w, nil
	}
	return t.store.LoadWallet(ctx, userID)
}

func (t *memoryTx) LoadUser(ctx context.Context, id string) (User, error) {
	for _, u := range t.users {
		if u.ID == id {
			return u, nil
		}
	}
	return t.store.LoadUser(ctx, id)
}

func (t *memoryTx) LoadUserByEmail(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	for _, u := range t.users {
		if u.Email == email {
			return u, nil
		}
	}
	return t.store.LoadUserByEmail(ctx, email)
}

func (t *memoryTx) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	email = NormalizeEmail(email)
	for _, u := range t.users {
		if u.Email == email {
			return true, nil
		}
	}
	return t.store.ExistsByEmail(ctx, email)
}

func (t *memoryTx) ListTransactions(ctx context.Context, walletID string, q ListQuery) (TransactionPage, error) {
	return t.store.ListTransactions(ctx, walletID, q)
}

func (t *memoryTx) SaveUser(_ context.Context, user User) (User, error) {
	if user.ID == "" || user.Email == "" {
		return User{}, fmt.Errorf("%w: user id and email are required", ErrInvalidArgument)
	}
	user.Email = NormalizeEmail(user.Email)
	t.users = append(t.users, user)
	return user, nil
}

func (t *memoryTx) SaveWallet(_ context.Context, wallet Wallet) (Wallet, error) {
	if wallet.ID == "" || wallet.UserID == "" {
		return Wallet{}, fmt.Errorf("%w: wallet id and user id are required", ErrInvalidArgument)
	}
	if wallet.Balance.IsNegative() {
		return Wallet{}, fmt.Errorf("%w: wallet %s balance would be negative", ErrStorageFailure, wallet.ID)
	}
	t.wallets[wallet.UserID] = wallet
	return wallet, nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, tx Transaction) (Transaction, error) {
	if tx.ID == "" || tx.WalletID == "" {
		return Transaction{}, fmt.Errorf("%w: transaction id and wallet id are required", ErrInvalidArgument)
	}
	if !tx.Amount.IsPositive() {
		return Transaction{}, fmt.Errorf("%w: transaction amount must be positive", ErrInvalidArgument)
	}
	t.txs = append(t.txs, tx)
	return tx, nil
}
