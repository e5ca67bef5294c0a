// Package lock provides per-key mutual exclusion for recurring invoice
// generation, either inside one process or across replicas through Redis.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrLocked = errors.New("lock is held by another worker")

// Unlock releases a lock obtained from TryLock. Releasing twice is harmless.
type Unlock func(ctx context.Context) error

type Locker interface {
	// TryLock does not wait: it returns ErrLocked if key is already held.
	// The lock expires after ttl even if never released.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localLease
	now  func() time.Time
	seq  uint64
}

type localLease struct {
	id        uint64
	expiresAt time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLease), now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expiresAt) {
		return nil, ErrLocked
	}
	l.seq++
	id := l.seq
	l.held[key] = localLease{id: id, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[key]; ok && lease.id == id {
			delete(l.held, key)
		}
		return nil
	}, nil
}
