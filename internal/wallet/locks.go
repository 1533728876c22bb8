package wallet

import (
	"context"
	"sync"
)

// walletLocks hands out one mutual-exclusion slot per wallet id. Entries are
// reference counted and dropped once no goroutine holds or waits on them.
type walletLocks struct {
	mu    sync.Mutex
	locks map[string]*walletLock
}

type walletLock struct {
	sem  chan struct{}
	refs int
}

func newWalletLocks() *walletLocks {
	return &walletLocks{locks: make(map[string]*walletLock)}
}

// acquire blocks until the wallet's slot is free or ctx is done.
func (l *walletLocks) acquire(ctx context.Context, walletID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[walletID]
	if !ok {
		lk = &walletLock{sem: make(chan struct{}, 1)}
		l.locks[walletID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lk.sem
				l.drop(walletID, lk)
			})
		}, nil
	case <-ctx.Done():
		l.drop(walletID, lk)
		return nil, ctx.Err()
	}
}

func (l *walletLocks) drop(walletID string, lk *walletLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, walletID)
	}
}

func (l *walletLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
