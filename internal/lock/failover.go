package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// Failover uses the primary Locker until it errors, then serves locks from
// the fallback and retries the primary once per recoveryInterval.
type Failover struct {
	primary  Locker
	fallback Locker
	logger   zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailover(primary, fallback Locker, logger zerolog.Logger) *Failover {
	return &Failover{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "lock_failover").Logger(),
	}
}

func (f *Failover) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	if f.usePrimary() {
		unlock, err := f.primary.TryLock(ctx, key, ttl)
		if err == nil || errors.Is(err, ErrNotAcquired) {
			if f.isDown.CompareAndSwap(true, false) {
				f.logger.Info().Msg("primary locker recovered")
			}
			return unlock, err
		}

		if !f.isDown.Swap(true) {
			f.logger.Warn().Err(err).Msg("primary locker failed, switching to fallback")
		}
		f.mu.Lock()
		f.lastCheck = time.Now()
		f.mu.Unlock()
	}
	return f.fallback.TryLock(ctx, key, ttl)
}

func (f *Failover) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Since(f.lastCheck) > recoveryInterval
}
