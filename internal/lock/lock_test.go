package lock

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	unlock, err := m.TryLock(ctx, "charge:1", time.Minute)
	require.NoError(t, err)

	_, err = m.TryLock(ctx, "charge:1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	_, err = m.TryLock(ctx, "charge:2", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, unlock(ctx))
	again, err := m.TryLock(ctx, "charge:1", time.Minute)
	require.NoError(t, err)

	// expired lease is taken over, the stale unlock must not free it
	now = now.Add(2 * time.Minute)
	_, err = m.TryLock(ctx, "charge:1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
	_, err = m.TryLock(ctx, "charge:1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedis(client, "")
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	mr, r := newRedis(t)

	unlock, err := r.TryLock(ctx, "charge:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("parkly:lock:charge:1"))

	_, err = r.TryLock(ctx, "charge:1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("parkly:lock:charge:1"))
}

func TestRedis_ExpiredLeaseNotReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	mr, r := newRedis(t)

	stale, err := r.TryLock(ctx, "charge:1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = r.TryLock(ctx, "charge:1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("parkly:lock:charge:1"))
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	args := m.Called(key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Unlock), args.Error(1)
}

func TestFailover(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	f := NewFailover(primary, fallback, zerolog.New(io.Discard))
	ctx := context.Background()
	noop := Unlock(func(context.Context) error { return nil })

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("TryLock", "a").Return(noop, nil).Once()
		_, err := f.TryLock(ctx, "a", time.Minute)
		assert.NoError(t, err)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryHeldIsNotFailure", func(t *testing.T) {
		primary.On("TryLock", "b").Return(nil, ErrNotAcquired).Once()
		_, err := f.TryLock(ctx, "b", time.Minute)
		assert.ErrorIs(t, err, ErrNotAcquired)
		assert.False(t, f.isDown.Load())
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("TryLock", "c").Return(nil, errors.New("connection refused")).Once()
		fallback.On("TryLock", "c").Return(noop, nil).Once()
		_, err := f.TryLock(ctx, "c", time.Minute)
		assert.NoError(t, err)
		assert.True(t, f.isDown.Load())

		// still down, primary is not asked
		fallback.On("TryLock", "d").Return(noop, nil).Once()
		_, err = f.TryLock(ctx, "d", time.Minute)
		assert.NoError(t, err)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		f.mu.Lock()
		f.lastCheck = time.Now().Add(-2 * time.Minute)
		f.mu.Unlock()

		primary.On("TryLock", "e").Return(noop, nil).Once()
		_, err := f.TryLock(ctx, "e", time.Minute)
		assert.NoError(t, err)
		assert.False(t, f.isDown.Load())
		primary.AssertExpectations(t)
	})
}
