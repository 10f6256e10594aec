package database

import (
	"context"
	"database/sql"
	"errors"

	"parkly/internal/models"
)

// InsertTransaction appends a ledger row. The unique (reservation_id, period)
// index turns a repeated charge for one period into models.ErrAlreadyCharged.
func (q *queries) InsertTransaction(ctx context.Context, t *models.FinancialTransaction) error {
	if t.TrxDate.IsZero() {
		t.TrxDate = now()
	}
	err := q.queryRow(ctx, `
		INSERT INTO financial_transactions (trx_date, type, debit, credit, user_id, reservation_id, period)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		t.TrxDate.UTC(), string(t.Type), models.Cents(t.Debit), models.Cents(t.Credit),
		nullInt64(t.UserID), t.ReservationID, nullTime(t.Period),
	).Scan(&t.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrAlreadyCharged
	}
	return translate(err)
}

func (q *queries) ListTransactions(ctx context.Context, reservationID int64) ([]models.FinancialTransaction, error) {
	rows, err := q.query(ctx, `
		SELECT id, trx_date, type, debit, credit, user_id, reservation_id, period
		FROM financial_transactions WHERE reservation_id = ? ORDER BY trx_date, id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.FinancialTransaction
	for rows.Next() {
		var (
			t             models.FinancialTransaction
			typ           string
			debit, credit int64
			userID        sql.NullInt64
			period        sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.TrxDate, &typ, &debit, &credit, &userID, &t.ReservationID, &period); err != nil {
			return nil, translate(err)
		}
		t.TrxDate = t.TrxDate.UTC()
		t.Type = models.TransactionType(typ)
		t.Debit = models.FromCents(debit)
		t.Credit = models.FromCents(credit)
		t.UserID = ptrInt64(userID)
		t.Period = ptrTime(period)
		list = append(list, t)
	}
	return list, translate(rows.Err())
}

// SumTransactions aggregates in one statement so a concurrent append is seen
// entirely or not at all.
func (q *queries) SumTransactions(ctx context.Context, reservationID int64) (debit, credit int64, err error) {
	err = q.queryRow(ctx, `
		SELECT CAST(COALESCE(SUM(debit), 0) AS BIGINT), CAST(COALESCE(SUM(credit), 0) AS BIGINT)
		FROM financial_transactions WHERE reservation_id = ?`, reservationID,
	).Scan(&debit, &credit)
	return debit, credit, translate(err)
}

func (q *queries) InsertEvent(ctx context.Context, e *models.Event) error {
	if e.EventDate.IsZero() {
		e.EventDate = now()
	}
	err := q.queryRow(ctx,
		`INSERT INTO events (event_date, event_type, parking_spot_id, reservation_id) VALUES (?, ?, ?, ?) RETURNING id`,
		e.EventDate.UTC(), string(e.EventType), e.ParkingSpotID, e.ReservationID,
	).Scan(&e.ID)
	return translate(err)
}

func (q *queries) ListEvents(ctx context.Context, reservationID int64) ([]models.Event, error) {
	rows, err := q.query(ctx,
		`SELECT id, event_date, event_type, parking_spot_id, reservation_id FROM events WHERE reservation_id = ? ORDER BY id`,
		reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		var (
			e   models.Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.EventDate, &typ, &e.ParkingSpotID, &e.ReservationID); err != nil {
			return nil, translate(err)
		}
		e.EventDate = e.EventDate.UTC()
		e.EventType = models.EventType(typ)
		list = append(list, e)
	}
	return list, translate(rows.Err())
}
