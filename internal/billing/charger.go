// Package billing charges open reservations on every scheduler tick.
package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"parkly/internal/events"
	"parkly/internal/ledger"
	"parkly/internal/lock"
	"parkly/internal/metrics"
	"parkly/internal/models"
	"parkly/internal/rates"
	"parkly/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notifier delivers balance limit warnings.
type Notifier interface {
	NotifyLimitWarning(ctx context.Context, email, username string, balance decimal.Decimal) error
}

// Config holds the charge tick settings.
type Config struct {
	// Interval is the billing period. Charges are keyed by now truncated to it.
	Interval time.Duration
	// Workers bounds the reservations charged in parallel.
	Workers int
	// WarningThreshold is the balance above which the user is warned.
	// A warning goes out once, on the charge that crosses it.
	WarningThreshold decimal.Decimal
	// LockTTL bounds how long one reservation lock may be held.
	LockTTL time.Duration
	// WarningTimeout bounds the delivery of one limit warning.
	WarningTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.WarningTimeout <= 0 {
		c.WarningTimeout = 30 * time.Second
	}
}

// ReservationError is a failure to charge one reservation.
type ReservationError struct {
	ReservationID int64
	Err           error
}

func (e ReservationError) Error() string {
	return fmt.Sprintf("reservation %d: %v", e.ReservationID, e.Err)
}

func (e ReservationError) Unwrap() error { return e.Err }

// Summary reports one tick. Warnings counts the limit warnings queued for
// delivery; they are sent after the tick returns.
type Summary struct {
	TickID   string
	Period   time.Time
	Open     int
	Charged  int
	Skipped  int
	Warnings int
	Errors   []ReservationError
	Duration time.Duration
}

type outcome int

const (
	outcomeCharged outcome = iota
	outcomeSkipped
	outcomeFailed
)

// errNothingToCharge rolls back a reservation that is closed or free right now.
var errNothingToCharge = errors.New("nothing to charge")

type limitWarning struct {
	reservationID int64
	email         string
	username      string
	balance       decimal.Decimal
}

// Charger appends one CHARGE per open reservation per period.
type Charger struct {
	store    store.Store
	catalog  *rates.Catalog
	ledger   *ledger.Ledger
	locker   lock.Locker
	notifier Notifier
	events   events.Publisher
	cfg      Config
	logger   zerolog.Logger

	deliveries sync.WaitGroup
}

func NewCharger(
	cfg Config,
	st store.Store,
	catalog *rates.Catalog,
	led *ledger.Ledger,
	locker lock.Locker,
	notifier Notifier,
	publisher events.Publisher,
	logger zerolog.Logger,
) *Charger {
	cfg.setDefaults()
	if locker == nil {
		locker = lock.NewMemory()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Charger{
		store:    st,
		catalog:  catalog,
		ledger:   led,
		locker:   locker,
		notifier: notifier,
		events:   publisher,
		cfg:      cfg,
		logger:   logger.With().Str("component", "billing").Logger(),
	}
}

// Period returns the billing period now belongs to.
func (c *Charger) Period(now time.Time) time.Time {
	return now.UTC().Truncate(c.cfg.Interval)
}

// RunChargeTick charges every reservation open at the time of the call.
// Per-reservation failures land in Summary.Errors. The error return is only
// set when the open reservations cannot be listed.
func (c *Charger) RunChargeTick(ctx context.Context, now time.Time) (Summary, error) {
	start := time.Now()
	summary := Summary{TickID: uuid.NewString(), Period: c.Period(now)}
	logger := c.logger.With().Str("tick_id", summary.TickID).Logger()

	open, err := c.store.ListOpenReservations(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list open reservations")
		return summary, err
	}
	summary.Open = len(open)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, c.cfg.Workers)
	)

	var pending []limitWarning
	record := func(id int64, o outcome, warning *limitWarning, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeCharged:
			summary.Charged++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeFailed:
			summary.Errors = append(summary.Errors, ReservationError{ReservationID: id, Err: err})
		}
		if warning != nil {
			pending = append(pending, *warning)
			summary.Warnings++
		}
	}

	for i := range open {
		if ctx.Err() != nil {
			record(open[i].ID, outcomeFailed, nil, ctx.Err())
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(res models.Reservation) {
			defer wg.Done()
			defer func() { <-sem }()

			o, warning, err := c.chargeOne(ctx, res.ID, now, summary.Period)
			if err != nil {
				logger.Error().Err(err).Int64("reservation_id", res.ID).Msg("failed to charge reservation")
			}
			record(res.ID, o, warning, err)
		}(open[i])
	}
	wg.Wait()

	if len(pending) > 0 {
		c.deliveries.Add(1)
		go func() {
			defer c.deliveries.Done()
			c.deliverWarnings(context.WithoutCancel(ctx), logger, pending)
		}()
	}

	summary.Duration = time.Since(start)
	metrics.ObserveTick(summary.Duration, summary.Open)
	logger.Info().
		Time("period", summary.Period).
		Int("open", summary.Open).
		Int("charged", summary.Charged).
		Int("skipped", summary.Skipped).
		Int("warnings", summary.Warnings).
		Int("errors", len(summary.Errors)).
		Dur("duration", summary.Duration).
		Msg("charge tick finished")
	return summary, nil
}

// Wait blocks until the limit warnings of finished ticks are delivered.
func (c *Charger) Wait() {
	c.deliveries.Wait()
}

func (c *Charger) chargeOne(ctx context.Context, reservationID int64, now, period time.Time) (outcome, *limitWarning, error) {
	unlock, err := c.locker.TryLock(ctx, fmt.Sprintf("charge:%d", reservationID), c.cfg.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		c.logger.Debug().Int64("reservation_id", reservationID).Msg("reservation is being charged elsewhere")
		metrics.IncCharge("skipped")
		return outcomeSkipped, nil, nil
	}
	if err != nil {
		metrics.IncCharge("error")
		return outcomeFailed, nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn().Err(err).Int64("reservation_id", reservationID).Msg("failed to release charge lock")
		}
	}()

	var (
		charged *models.Reservation
		amount  decimal.Decimal
	)
	err = c.store.InTx(ctx, func(q store.Queries) error {
		res, err := q.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		// checked out since the list was taken
		if !res.IsOpen() {
			return errNothingToCharge
		}

		amount, err = c.catalog.AmountTx(ctx, q, res.RateID, now)
		if err != nil {
			return err
		}
		if !amount.IsPositive() {
			return errNothingToCharge
		}

		if res.UserID == nil {
			car, err := q.GetCar(ctx, res.CarID)
			if err != nil {
				return err
			}
			if car.UserID != nil {
				if err := q.SetReservationUser(ctx, res.ID, *car.UserID); err != nil {
					return err
				}
				res.UserID = car.UserID
				c.logger.Info().Int64("reservation_id", res.ID).Int64("user_id", *car.UserID).Msg("reservation user backfilled from car owner")
			}
		}

		charged, err = c.ledger.Append(ctx, q, &models.FinancialTransaction{
			TrxDate:       now.UTC(),
			Type:          models.TransactionCharge,
			Debit:         amount,
			UserID:        res.UserID,
			ReservationID: res.ID,
			Period:        &period,
		})
		if err != nil {
			return err
		}
		charged.UserID = res.UserID
		return nil
	})
	switch {
	case errors.Is(err, errNothingToCharge), errors.Is(err, models.ErrAlreadyCharged):
		metrics.IncCharge("skipped")
		return outcomeSkipped, nil, nil
	case err != nil:
		metrics.IncCharge("error")
		return outcomeFailed, nil, err
	}

	metrics.IncCharge("charged")
	c.logger.Debug().
		Int64("reservation_id", reservationID).
		Str("amount", models.FormatMoney(amount)).
		Str("balance", models.FormatMoney(charged.Balance())).
		Msg("reservation charged")
	c.publishCharged(ctx, charged, amount)

	return outcomeCharged, c.limitWarningFor(ctx, charged, amount), nil
}

// limitWarningFor runs after commit and returns a warning only when this
// charge moved the balance across the threshold.
func (c *Charger) limitWarningFor(ctx context.Context, res *models.Reservation, amount decimal.Decimal) *limitWarning {
	balance := res.Balance()
	previous := balance.Sub(amount)
	if c.notifier == nil || previous.GreaterThan(c.cfg.WarningThreshold) || !balance.GreaterThan(c.cfg.WarningThreshold) {
		return nil
	}
	if res.UserID == nil {
		metrics.IncLimitWarning("no_user")
		return nil
	}

	user, err := c.store.GetUser(ctx, *res.UserID)
	if err != nil {
		metrics.IncLimitWarning("failed")
		c.logger.Warn().Err(err).Int64("user_id", *res.UserID).Msg("failed to load user for limit warning")
		return nil
	}
	if user.Email == "" {
		metrics.IncLimitWarning("no_user")
		return nil
	}
	return &limitWarning{reservationID: res.ID, email: user.Email, username: user.Username, balance: balance}
}

// deliverWarnings sends queued warnings one by one. Failures never undo a charge.
func (c *Charger) deliverWarnings(ctx context.Context, logger zerolog.Logger, pending []limitWarning) {
	for _, w := range pending {
		sendCtx, cancel := context.WithTimeout(ctx, c.cfg.WarningTimeout)
		err := c.notifier.NotifyLimitWarning(sendCtx, w.email, w.username, w.balance)
		cancel()
		if err != nil {
			metrics.IncLimitWarning("failed")
			logger.Warn().Err(err).
				Int64("reservation_id", w.reservationID).
				Str("email", w.email).
				Msg("failed to deliver limit warning")
			continue
		}
		metrics.IncLimitWarning("sent")
	}
}

func (c *Charger) publishCharged(ctx context.Context, res *models.Reservation, amount decimal.Decimal) {
	ev, err := events.New(events.TypeCharged, events.ReservationPayload{
		ReservationID: res.ID,
		SpotID:        res.ParkingSpotID,
		RateID:        res.RateID,
		Amount:        models.FormatMoney(amount),
		Balance:       models.FormatMoney(res.Balance()),
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to build charge event")
		return
	}
	c.events.Publish(ctx, ev)
}
