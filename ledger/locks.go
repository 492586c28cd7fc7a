/*
locks.go - Per-account locks with bounded acquisition

PURPOSE:
  The engine requires exclusive access to an account for the
  read-check-mutate-write sequence of every operation. Without it, two
  concurrent withdrawals can both pass the sufficiency check against a
  stale balance and overdraw the account.

DEADLOCK AVOIDANCE:
  Transfer locks two accounts. Acquisition order is always ascending by
  account id, independent of transfer direction, so two transfers moving
  funds in opposite directions cannot deadlock each other.

BOUNDED ACQUISITION:
  No operation blocks indefinitely. Acquisition races the caller's
  context and a timeout; on expiry the engine surfaces ErrLockTimeout
  and the caller may retry the whole operation.
*/
package ledger

import (
	"context"
	"sync"
	"time"
)

// DefaultLockTimeout bounds per-account lock acquisition.
const DefaultLockTimeout = 5 * time.Second

// lockTable maps account ids to single-slot semaphores. Lock entries are
// created on first use and kept for the life of the table; the universe
// of account ids is small enough that we never reap them.
type lockTable struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	timeout time.Duration
}

func newLockTable(timeout time.Duration) *lockTable {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &lockTable{
		locks:   make(map[string]chan struct{}),
		timeout: timeout,
	}
}

func (t *lockTable) sem(id string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.locks[id]
	if !ok {
		s = make(chan struct{}, 1)
		t.locks[id] = s
	}
	return s
}

// acquire takes the lock for one account. The returned release function
// must be called exactly once.
func (t *lockTable) acquire(ctx context.Context, id string) (func(), error) {
	s := t.sem(id)

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquirePair takes locks for two accounts in ascending id order.
func (t *lockTable) acquirePair(ctx context.Context, a, b string) (func(), error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	releaseFirst, err := t.acquire(ctx, first)
	if err != nil {
		return nil, err
	}
	releaseSecond, err := t.acquire(ctx, second)
	if err != nil {
		releaseFirst()
		return nil, err
	}
	return func() {
		releaseSecond()
		releaseFirst()
	}, nil
}
