package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"parkly/internal/models"
	"parkly/internal/store"
)

const reservationColumns = `id, status, start_date, end_date, user_id, car_id, parking_spot_id, rate_id, debit, credit`

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r             models.Reservation
		status        string
		endDate       sql.NullTime
		userID        sql.NullInt64
		debit, credit int64
	)
	if err := row.Scan(&r.ID, &status, &r.StartDate, &endDate, &userID, &r.CarID, &r.ParkingSpotID, &r.RateID, &debit, &credit); err != nil {
		return nil, err
	}
	r.Status = models.ReservationStatus(status)
	r.StartDate = r.StartDate.UTC()
	r.EndDate = ptrTime(endDate)
	r.UserID = ptrInt64(userID)
	r.Debit = models.FromCents(debit)
	r.Credit = models.FromCents(credit)
	return &r, nil
}

func (q *queries) CreateReservation(ctx context.Context, r *models.Reservation) error {
	if r.Status == "" {
		r.Status = models.StatusCheckedIn
	}
	err := q.queryRow(ctx, `
		INSERT INTO reservations (status, start_date, end_date, user_id, car_id, parking_spot_id, rate_id, debit, credit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		string(r.Status), r.StartDate.UTC(), nullTime(r.EndDate), nullInt64(r.UserID),
		r.CarID, r.ParkingSpotID, r.RateID, models.Cents(r.Debit), models.Cents(r.Credit),
	).Scan(&r.ID)
	return translate(err)
}

func (q *queries) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	r, err := scanReservation(q.queryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, models.ErrReservationNotFound)
	}
	return r, nil
}

func (q *queries) LockReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	r, err := scanReservation(q.queryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`+q.d.forUpdate, id))
	if err != nil {
		return nil, notFound(err, models.ErrReservationNotFound)
	}
	return r, nil
}

func (q *queries) GetOpenReservationByCar(ctx context.Context, carID int64) (*models.Reservation, error) {
	r, err := scanReservation(q.queryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE car_id = ? AND status = ?`+q.d.forUpdate,
		carID, string(models.StatusCheckedIn)))
	if err != nil {
		return nil, notFound(err, models.ErrNoActiveSession)
	}
	return r, nil
}

func (q *queries) GetOpenReservationBySpot(ctx context.Context, spotID int64) (*models.Reservation, error) {
	r, err := scanReservation(q.queryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE parking_spot_id = ? AND status = ?`,
		spotID, string(models.StatusCheckedIn)))
	if err != nil {
		return nil, notFound(err, models.ErrNoActiveSession)
	}
	return r, nil
}

func (q *queries) ListOpenReservations(ctx context.Context) ([]models.Reservation, error) {
	rows, err := q.query(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE status = ? ORDER BY id`,
		string(models.StatusCheckedIn))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, translate(err)
		}
		list = append(list, *r)
	}
	return list, translate(rows.Err())
}

// CloseReservation only closes a reservation that is still open.
func (q *queries) CloseReservation(ctx context.Context, id int64, endDate time.Time) error {
	return q.execOne(ctx, models.ErrReservationClosed,
		`UPDATE reservations SET status = ?, end_date = ? WHERE id = ? AND status = ?`,
		string(models.StatusCheckedOut), endDate.UTC(), id, string(models.StatusCheckedIn))
}

func (q *queries) SetReservationUser(ctx context.Context, id, userID int64) error {
	return q.execOne(ctx, models.ErrReservationNotFound,
		`UPDATE reservations SET user_id = ? WHERE id = ?`, userID, id)
}

func (q *queries) SetReservationBalance(ctx context.Context, id int64, debit, credit int64) error {
	return q.execOne(ctx, models.ErrReservationNotFound,
		`UPDATE reservations SET debit = ?, credit = ? WHERE id = ?`, debit, credit, id)
}

// ListClosedReservations returns checked-out reservations with their plates.
func (q *queries) ListClosedReservations(ctx context.Context, f store.ReservationFilter) ([]store.StatementRow, error) {
	var (
		where = []string{"r.status = ?"}
		args  = []any{string(models.StatusCheckedOut)}
	)
	if f.CarID != 0 {
		where = append(where, "r.car_id = ?")
		args = append(args, f.CarID)
	}
	if f.UserID != 0 {
		where = append(where, "r.user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		where = append(where, "r.start_date >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "r.end_date < ?")
		args = append(args, f.To.UTC())
	}

	rows, err := q.query(ctx, `
		SELECT r.id, c.plate, r.user_id, r.start_date, r.end_date, r.debit, r.credit
		FROM reservations r JOIN cars c ON c.id = r.car_id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY r.start_date, r.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []store.StatementRow
	for rows.Next() {
		var (
			row    store.StatementRow
			userID sql.NullInt64
		)
		if err := rows.Scan(&row.ReservationID, &row.Plate, &userID, &row.StartDate, &row.EndDate, &row.Debit, &row.Credit); err != nil {
			return nil, translate(err)
		}
		row.UserID = ptrInt64(userID)
		row.StartDate = row.StartDate.UTC()
		row.EndDate = row.EndDate.UTC()
		list = append(list, row)
	}
	return list, translate(rows.Err())
}
