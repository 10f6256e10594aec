// Package ledger appends financial transactions and keeps the cached
// reservation balance equal to the ledger aggregate.
package ledger

import (
	"context"
	"fmt"

	"parkly/internal/models"
	"parkly/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Ledger struct {
	store  store.Store
	logger zerolog.Logger
}

func New(st store.Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  st,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Validate checks the shape of a transaction before anything is written.
func Validate(t *models.FinancialTransaction) error {
	if t.ReservationID <= 0 {
		return fmt.Errorf("%w: reservation is required", models.ErrInvalidTransaction)
	}
	if t.Debit.IsNegative() || t.Credit.IsNegative() {
		return fmt.Errorf("%w: negative amount", models.ErrInvalidAmount)
	}
	if !t.Debit.Equal(models.RoundMoney(t.Debit)) || !t.Credit.Equal(models.RoundMoney(t.Credit)) {
		return fmt.Errorf("%w: more than %d decimal places", models.ErrInvalidAmount, models.MoneyPlaces)
	}

	switch t.Type {
	case models.TransactionCharge:
		if !t.Credit.IsZero() || !t.Debit.IsPositive() {
			return fmt.Errorf("%w: charge needs a positive debit and no credit", models.ErrInvalidTransaction)
		}
	case models.TransactionPayment:
		if !t.Debit.IsZero() || !t.Credit.IsPositive() {
			return fmt.Errorf("%w: payment needs a positive credit and no debit", models.ErrInvalidTransaction)
		}
		if t.Period != nil {
			return fmt.Errorf("%w: payment has no period", models.ErrInvalidTransaction)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", models.ErrInvalidTransaction, t.Type)
	}
	return nil
}

// Validate is the package-level Validate, exposed on the service.
func (l *Ledger) Validate(t *models.FinancialTransaction) error { return Validate(t) }

// Append writes t inside the caller's transaction and refreshes the cached
// balance of its reservation before returning. The reservation row stays
// locked until the transaction ends, so appends to one reservation are
// serialized.
func (l *Ledger) Append(ctx context.Context, q store.Queries, t *models.FinancialTransaction) (*models.Reservation, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}

	res, err := q.LockReservation(ctx, t.ReservationID)
	if err != nil {
		return nil, err
	}

	if err := q.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}

	debit, credit, err := q.SumTransactions(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	if err := q.SetReservationBalance(ctx, res.ID, debit, credit); err != nil {
		return nil, err
	}
	res.Debit = models.FromCents(debit)
	res.Credit = models.FromCents(credit)
	return res, nil
}

// Post appends t in its own transaction.
func (l *Ledger) Post(ctx context.Context, t *models.FinancialTransaction) (*models.Reservation, error) {
	var res *models.Reservation
	err := l.store.InTx(ctx, func(q store.Queries) error {
		var err error
		res, err = l.Append(ctx, q, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Int64("reservation_id", t.ReservationID).
		Str("type", string(t.Type)).
		Str("debit", models.FormatMoney(t.Debit)).
		Str("credit", models.FormatMoney(t.Credit)).
		Msg("transaction posted")
	return res, nil
}

// RecordPayment credits amount to an open or closed reservation.
func (l *Ledger) RecordPayment(ctx context.Context, reservationID int64, amount decimal.Decimal, userID *int64) (*models.Reservation, error) {
	return l.Post(ctx, &models.FinancialTransaction{
		Type:          models.TransactionPayment,
		Credit:        amount,
		UserID:        userID,
		ReservationID: reservationID,
	})
}

// Balance returns total debit and credit for a reservation, zero when it
// has no transactions yet.
func (l *Ledger) Balance(ctx context.Context, reservationID int64) (debit, credit decimal.Decimal, err error) {
	return BalanceTx(ctx, l.store, reservationID)
}

// BalanceTx is Balance against the caller's transaction.
func BalanceTx(ctx context.Context, q store.Queries, reservationID int64) (debit, credit decimal.Decimal, err error) {
	d, c, err := q.SumTransactions(ctx, reservationID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return models.FromCents(d), models.FromCents(c), nil
}

// History lists the transactions of a reservation in posting order.
func (l *Ledger) History(ctx context.Context, reservationID int64) ([]models.FinancialTransaction, error) {
	if _, err := l.store.GetReservation(ctx, reservationID); err != nil {
		return nil, err
	}
	return l.store.ListTransactions(ctx, reservationID)
}

// Reconcile rewrites the cached balance from the ledger and reports whether
// it had drifted.
func (l *Ledger) Reconcile(ctx context.Context, reservationID int64) (drifted bool, err error) {
	err = l.store.InTx(ctx, func(q store.Queries) error {
		res, err := q.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		debit, credit, err := q.SumTransactions(ctx, reservationID)
		if err != nil {
			return err
		}
		if models.Cents(res.Debit) == debit && models.Cents(res.Credit) == credit {
			return nil
		}
		drifted = true
		return q.SetReservationBalance(ctx, reservationID, debit, credit)
	})
	if drifted && err == nil {
		l.logger.Warn().Int64("reservation_id", reservationID).Msg("cached balance drifted from ledger, rewritten")
	}
	return drifted, err
}
