// Package lock provides short-lived named locks used to keep two charge
// workers, in this process or another, off the same reservation.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired means another holder owns the key.
var ErrNotAcquired = errors.New("lock held by another owner")

// Unlock releases a held lock. Releasing an expired lock is not an error.
type Unlock func(ctx context.Context) error

// Locker hands out exclusive leases on keys. A lease expires after ttl even
// if its holder never unlocks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// Memory is an in-process Locker.
type Memory struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	seq    uint64
	now    func() time.Time
}

type memoryLease struct {
	id        uint64
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{leases: make(map[string]memoryLease), now: time.Now}
}

func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[key]; ok && now.Before(l.expiresAt) {
		return nil, ErrNotAcquired
	}

	m.seq++
	id := m.seq
	m.leases[key] = memoryLease{id: id, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if l, ok := m.leases[key]; ok && l.id == id {
			delete(m.leases, key)
		}
		return nil
	}, nil
}
