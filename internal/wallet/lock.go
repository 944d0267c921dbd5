// internal/wallet/lock.go
package wallet

import (
	"context"
	"errors"
	"sync"
)

// ErrWalletBusy is returned when another mutating operation already holds the
// wallet. Contention fails fast rather than queueing, keeping tool-call
// latency bounded; the caller retries after the in-flight operation resolves.
var ErrWalletBusy = errors.New("wallet busy: another operation is in progress")

// Locker guards a custodial wallet against concurrent mutation. One
// acquisition spans a whole tool call; a batch transfer holds the lock for
// its full sequential execution.
type Locker interface {
	// Acquire takes the lock for walletAddress or returns ErrWalletBusy.
	// The returned release function is idempotent.
	Acquire(ctx context.Context, walletAddress string) (release func(), err error)
}

// MemoryLocker is the in-process Locker used when the engine runs as a single
// instance. Horizontally scaled deployments use RedisLocker instead.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, walletAddress string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[walletAddress]; busy {
		return nil, ErrWalletBusy
	}
	l.held[walletAddress] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, walletAddress)
			l.mu.Unlock()
		})
	}
	return release, nil
}
