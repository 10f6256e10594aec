// Package notify delivers balance limit warnings over mail and Telegram
// with rate limiting and retries.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parkly/internal/metrics"
	"parkly/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Message is one notification to one addressee.
type Message struct {
	Email    string
	Username string
	Subject  string
	Text     string
}

// Channel delivers a message over one medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	if len(c.RetryDelays) == 0 {
		return time.Second
	}
	if attempt >= len(c.RetryDelays) {
		return c.RetryDelays[len(c.RetryDelays)-1]
	}
	return c.RetryDelays[attempt]
}

// PermanentError stops retries for a message that can never be delivered.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// SenderConfig holds configuration for the sender.
type SenderConfig struct {
	RatePerSecond float64
	Burst         int
	Retry         RetryConfig
}

// Sender fans a message out to every channel, waiting on a shared rate
// limiter and retrying transient failures.
type Sender struct {
	channels []Channel
	limiter  *rate.Limiter
	retry    RetryConfig
	logger   zerolog.Logger
}

func NewSender(cfg SenderConfig, logger zerolog.Logger, channels ...Channel) *Sender {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	return &Sender{
		channels: channels,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		retry:    cfg.Retry,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// NotifyLimitWarning tells the user their balance passed the warning limit.
func (s *Sender) NotifyLimitWarning(ctx context.Context, email, username string, balance decimal.Decimal) error {
	msg := Message{
		Email:    email,
		Username: username,
		Subject:  "Parking balance limit reached",
		Text: fmt.Sprintf(
			"Hello %s,\n\nyour parking balance is %s. Please pay to keep parking and to be able to check out.\n",
			username, models.FormatMoney(balance)),
	}
	return s.Send(ctx, msg)
}

// Send delivers msg on every channel. It returns the joined failures.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, ch := range s.channels {
		if err := s.sendWithRetry(ctx, ch, msg); err != nil {
			metrics.IncNotification(ch.Name(), "failed")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		metrics.IncNotification(ch.Name(), "sent")
	}
	return errors.Join(errs...)
}

func (s *Sender) sendWithRetry(ctx context.Context, ch Channel, msg Message) error {
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		err := ch.Send(ctx, msg)
		if err == nil {
			s.logger.Info().Str("channel", ch.Name()).Str("username", msg.Username).Msg("notification sent")
			return nil
		}
		lastErr = err

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			s.logger.Warn().Err(err).Str("channel", ch.Name()).Msg("notification rejected")
			return err
		}
		if attempt == s.retry.MaxRetries {
			break
		}

		wait := s.retry.delay(attempt)
		if tgErr, ok := IsTelegramError(err); ok && tgErr.RetryAfter > 0 {
			wait = time.Duration(tgErr.RetryAfter) * time.Second
		}
		metrics.IncNotificationRetry()
		s.logger.Info().
			Err(err).
			Str("channel", ch.Name()).
			Int("attempt", attempt+1).
			Int("max_retries", s.retry.MaxRetries).
			Dur("delay", wait).
			Msg("retrying notification")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.logger.Error().Err(lastErr).Str("channel", ch.Name()).Msg("max retries exceeded for notification")
	return lastErr
}

// Log is a Channel that only writes the message to the log.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(_ context.Context, msg Message) error {
	l.logger.Info().Str("email", msg.Email).Str("username", msg.Username).Str("subject", msg.Subject).Msg(msg.Text)
	return nil
}
