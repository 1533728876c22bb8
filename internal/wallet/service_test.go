package wallet

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrade/wallet/internal/events"
	"github.com/nexustrade/wallet/internal/ledger"
	"github.com/nexustrade/wallet/internal/logging"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T, opts ...Option) (*Service, ledger.Store, ledger.User) {
	t.Helper()
	store := ledger.NewInMemory()
	user, _, err := ledger.SeedAccount(context.Background(), store, "a@x.com", "USD")
	require.NoError(t, err)
	return NewService(store, logging.Discard(), opts...), store, user
}

func history(t *testing.T, svc *Service, userID string) []ledger.Transaction {
	t.Helper()
	page, err := svc.ListTransactions(context.Background(), userID, PageRequest{Size: maxPageSize})
	require.NoError(t, err)
	return page.Items
}

func TestDepositWithdrawScenario(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	w, err := svc.GetWallet(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", ledger.Format(w.Balance, w.Currency))
	assert.Equal(t, "USD", w.Currency)

	w, err = svc.Deposit(ctx, user.ID, dec("100.00"))
	require.NoError(t, err)
	assert.Equal(t, "100.00", ledger.Format(w.Balance, w.Currency))
	require.Len(t, history(t, svc, user.ID), 1)

	_, err = svc.Withdraw(ctx, user.ID, dec("150.00"))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	w, err = svc.GetWallet(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("100")))
	require.Len(t, history(t, svc, user.ID), 1)

	_, err = svc.Withdraw(ctx, user.ID, dec("40.00"))
	require.NoError(t, err)
	w, err = svc.Deposit(ctx, user.ID, dec("10.00"))
	require.NoError(t, err)
	assert.Equal(t, "70.00", ledger.Format(w.Balance, w.Currency))

	items := history(t, svc, user.ID)
	require.Len(t, items, 3)
	assert.Equal(t, ledger.KindDeposit, items[0].Kind)
	assert.True(t, items[0].Amount.Equal(dec("10")))
	assert.Equal(t, ledger.KindWithdraw, items[1].Kind)
	assert.True(t, items[1].Amount.Equal(dec("40")))
	assert.Equal(t, ledger.KindDeposit, items[2].Kind)
	assert.True(t, items[2].Amount.Equal(dec("100")))
	for _, tx := range items {
		assert.Equal(t, ledger.StatusCompleted, tx.Status)
	}

	_, err = svc.Deposit(ctx, user.ID, dec("-5.00"))
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = svc.Deposit(ctx, user.ID, decimal.Zero)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = svc.Withdraw(ctx, user.ID, dec("0.001"))
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	require.Len(t, history(t, svc, user.ID), 3)
}

func TestPaginationIsPinnedToSnapshot(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()
	for _, amt := range []string{"1.00", "2.00", "3.00"} {
		_, err := svc.Deposit(ctx, user.ID, dec(amt))
		require.NoError(t, err)
	}

	first, err := svc.ListTransactions(ctx, user.ID, PageRequest{Page: 0, Size: 1})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.True(t, first.Items[0].Amount.Equal(dec("3")))
	assert.Equal(t, int64(3), first.Total)
	assert.Equal(t, 3, first.TotalPages)

	_, err = svc.Deposit(ctx, user.ID, dec("4.00"))
	require.NoError(t, err)

	second, err := svc.ListTransactions(ctx, user.ID, PageRequest{Page: 1, Size: 1, AsOf: first.AsOf})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.True(t, second.Items[0].Amount.Equal(dec("2")))
	assert.Equal(t, int64(3), second.Total)

	_, err = svc.ListTransactions(ctx, user.ID, PageRequest{Page: -1})
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = svc.ListTransactions(ctx, user.ID, PageRequest{Size: maxPageSize + 1})
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = svc.ListTransactions(ctx, user.ID, PageRequest{Order: "sideways"})
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestUnknownUserIsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Deposit(context.Background(), "missing", dec("1.00"))
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = svc.GetWallet(context.Background(), "")
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestConcurrentDepositsAreSerialized(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	const workers = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Deposit(ctx, user.ID, dec("1")); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()

	w, err := svc.GetWallet(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(workers)), "balance %s", w.Balance)
	page, err := svc.ListTransactions(ctx, user.ID, PageRequest{Size: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(workers), page.Total)
	assert.Zero(t, svc.locks.size())
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()
	_, err := svc.Deposit(ctx, user.ID, dec("10"))
	require.NoError(t, err)

	const workers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(ctx, user.ID, dec("1"))
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case !errors.Is(err, ledger.ErrInsufficientFunds):
				t.Errorf("withdraw: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	w, err := svc.GetWallet(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero(), "balance %s", w.Balance)
}

func TestBalanceMatchesHistoryUnderRandomLoad(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	amounts := make([]decimal.Decimal, 200)
	kinds := make([]ledger.Kind, len(amounts))
	for i := range amounts {
		amounts[i] = decimal.New(int64(rng.Intn(5000)+1), -2)
		kinds[i] = ledger.KindDeposit
		if rng.Intn(3) == 0 {
			kinds[i] = ledger.KindWithdraw
		}
	}

	var wg sync.WaitGroup
	for i := range amounts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if kinds[i] == ledger.KindDeposit {
				_, err = svc.Deposit(ctx, user.ID, amounts[i])
			} else {
				_, err = svc.Withdraw(ctx, user.ID, amounts[i])
			}
			if err != nil && !errors.Is(err, ledger.ErrInsufficientFunds) {
				t.Errorf("op %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	w, err := svc.GetWallet(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, w.Balance.IsNegative())

	sum := decimal.Zero
	var last time.Time
	page, err := svc.ListTransactions(ctx, user.ID, PageRequest{Size: maxPageSize, Order: ledger.OrderOldestFirst})
	require.NoError(t, err)
	for p := 0; p < page.TotalPages; p++ {
		chunk, err := svc.ListTransactions(ctx, user.ID, PageRequest{Page: p, Size: maxPageSize, Order: ledger.OrderOldestFirst, AsOf: page.AsOf})
		require.NoError(t, err)
		for _, tx := range chunk.Items {
			require.True(t, tx.CreatedAt.After(last), "timestamps must strictly increase")
			last = tx.CreatedAt
			sum = sum.Add(tx.Signed())
		}
	}
	assert.True(t, sum.Equal(w.Balance), "balance %s, history sum %s", w.Balance, sum)
	assert.Equal(t, w.Version, page.Total)
}

func TestTimestampsStrictlyIncreaseWithFrozenClock(t *testing.T) {
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc, _, user := newTestService(t, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Deposit(ctx, user.ID, dec("1"))
		require.NoError(t, err)
	}
	items := history(t, svc, user.ID)
	require.Len(t, items, 3)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))
	assert.True(t, items[1].CreatedAt.After(items[2].CreatedAt))
}

type faultyStore struct {
	ledger.Store
}

func (s faultyStore) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx ledger.Tx) error {
		return fn(faultyTx{Tx: tx})
	})
}

type faultyTx struct {
	ledger.Tx
}

func (faultyTx) AppendTransaction(context.Context, ledger.Transaction) (ledger.Transaction, error) {
	return ledger.Transaction{}, errors.New("disk full")
}

func TestFailedAppendLeavesWalletUntouched(t *testing.T) {
	store := ledger.NewInMemory()
	ctx := context.Background()
	user, _, err := ledger.SeedAccount(ctx, store, "a@x.com", "USD")
	require.NoError(t, err)

	healthy := NewService(store, logging.Discard())
	before, err := healthy.Deposit(ctx, user.ID, dec("100.00"))
	require.NoError(t, err)

	broken := NewService(faultyStore{Store: store}, logging.Discard())
	_, err = broken.Withdraw(ctx, user.ID, dec("30.00"))
	require.ErrorIs(t, err, ledger.ErrStorageFailure)

	after, err := healthy.GetWallet(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, before.Balance.Equal(after.Balance))
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	require.Len(t, history(t, healthy, user.ID), 1)
}

func TestLockIsPerWallet(t *testing.T) {
	store := ledger.NewInMemory()
	ctx := context.Background()
	alice, aliceWallet, err := ledger.SeedAccount(ctx, store, "alice@x.com", "USD")
	require.NoError(t, err)
	bob, _, err := ledger.SeedAccount(ctx, store, "bob@x.com", "USD")
	require.NoError(t, err)
	svc := NewService(store, logging.Discard())

	release, err := svc.locks.acquire(ctx, aliceWallet.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Deposit(ctx, bob.ID, dec("5"))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("deposit on an unrelated wallet blocked")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = svc.Deposit(waitCtx, alice.ID, dec("5"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	w, err := svc.GetWallet(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.Empty(t, history(t, svc, alice.ID))
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.TransactionCompleted
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e events.TransactionCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func TestCommittedMutationsArePublished(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	svc, _, user := newTestService(t, WithPublisher(pub))
	ctx := context.Background()

	w, err := svc.Deposit(ctx, user.ID, dec("12.50"))
	require.NoError(t, err, "publication failures must not fail the mutation")

	_, err = svc.Withdraw(ctx, user.ID, dec("100"))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, w.ID, e.WalletID)
	assert.Equal(t, user.ID, e.UserID)
	assert.Equal(t, "DEPOSIT", e.Kind)
	assert.True(t, e.Balance.Equal(dec("12.5")))
	assert.Equal(t, int64(1), e.Seq)
}

func TestOversizedAmountIsRejectedBeforeLocking(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	start := time.Now()
	_, err := svc.Deposit(ctx, user.ID, dec("1e5000000"))
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	assert.Less(t, time.Since(start), time.Second)

	_, err = svc.Deposit(ctx, user.ID, dec("999999999999.99"))
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, user.ID, dec("0.01"))
	require.ErrorIs(t, err, ledger.ErrInvalidArgument, "balance must stay below the column limit")

	w, err := svc.GetWallet(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("999999999999.99")))
	assert.Equal(t, int64(1), w.Version)
}

// stallingPublisher blocks its first Publish call until unblock is closed.
type stallingPublisher struct {
	once    sync.Once
	entered chan struct{}
	unblock chan struct{}
}

func (p *stallingPublisher) Publish(context.Context, events.TransactionCompleted) error {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.unblock
	}
	return nil
}

func TestSlowPublishDoesNotHoldWalletLock(t *testing.T) {
	pub := &stallingPublisher{entered: make(chan struct{}), unblock: make(chan struct{})}
	svc, _, user := newTestService(t, WithPublisher(pub))
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Deposit(ctx, user.ID, dec("1"))
		firstDone <- err
	}()
	<-pub.entered

	secondDone := make(chan error, 1)
	go func() {
		_, err := svc.Deposit(ctx, user.ID, dec("2"))
		secondDone <- err
	}()
	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(pub.unblock)
		t.Fatal("second deposit waited on the first deposit's publish")
	}

	close(pub.unblock)
	require.NoError(t, <-firstDone)

	w, err := svc.GetWallet(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("3")))
	assert.Equal(t, int64(2), w.Version)
}

func TestListTransactionsRejectsOverflowingPage(t *testing.T) {
	svc, _, user := newTestService(t)

	_, err := svc.ListTransactions(context.Background(), user.ID, PageRequest{Page: math.MaxInt, Size: maxPageSize})
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = svc.ListTransactions(context.Background(), user.ID, PageRequest{Page: 1000, Size: maxPageSize})
	require.NoError(t, err)
}
