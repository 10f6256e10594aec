package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrTickInProgress is returned by RunNow while another tick is running.
var ErrTickInProgress = errors.New("charge tick already in progress")

// Ticker runs one charge tick.
type Ticker interface {
	RunChargeTick(ctx context.Context, now time.Time) (Summary, error)
}

// Scheduler runs charge ticks on a fixed interval.
type Scheduler struct {
	ticker   Ticker
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	ticking atomic.Bool
}

// NewScheduler creates a scheduler. timeout bounds a single tick.
func NewScheduler(ticker Ticker, interval, timeout time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		ticker:   ticker,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

// Start runs one tick right away and then one per interval until Stop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(s.stopCh)

	s.logger.Info().Dur("interval", s.interval).Msg("charge scheduler started")
}

// Stop waits for the tick in flight, if any, to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("charge scheduler stopped")
}

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow forces an immediate tick outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (Summary, error) {
	if !s.ticking.CompareAndSwap(false, true) {
		return Summary{}, ErrTickInProgress
	}
	defer s.ticking.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.ticker.RunChargeTick(ctx, s.now())
}

func (s *Scheduler) loop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.RunNow(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		s.logger.Warn().Msg("previous charge tick still running, skipping")
	case err != nil:
		s.logger.Error().Err(err).Msg("charge tick failed")
	}
}
