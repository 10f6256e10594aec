package database

import (
	"context"
	"database/sql"
	"fmt"

	"parkly/internal/models"
)

const rateColumns = `id, title, description, is_daily, created_at, updated_at`

func scanRate(row rowScanner) (*models.Rate, error) {
	var r models.Rate
	if err := row.Scan(&r.ID, &r.Title, &r.Description, &r.IsDaily, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (q *queries) CreateRate(ctx context.Context, r *models.Rate) error {
	ts := now()
	r.CreatedAt, r.UpdatedAt = ts, ts
	err := q.queryRow(ctx,
		`INSERT INTO rates (title, description, is_daily, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		r.Title, r.Description, r.IsDaily, ts, ts,
	).Scan(&r.ID)
	return translate(err)
}

func (q *queries) GetRate(ctx context.Context, id int64) (*models.Rate, error) {
	r, err := scanRate(q.queryRow(ctx, `SELECT `+rateColumns+` FROM rates WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, models.ErrRateNotFound)
	}
	return r, nil
}

func (q *queries) GetRateByTitle(ctx context.Context, title string) (*models.Rate, error) {
	r, err := scanRate(q.queryRow(ctx, `SELECT `+rateColumns+` FROM rates WHERE title = ?`, title))
	if err != nil {
		return nil, notFound(err, models.ErrRateNotFound)
	}
	return r, nil
}

func (q *queries) ListRates(ctx context.Context) ([]models.Rate, error) {
	rows, err := q.query(ctx, `SELECT `+rateColumns+` FROM rates ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []models.Rate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, translate(err)
		}
		rates = append(rates, *r)
	}
	return rates, translate(rows.Err())
}

func (q *queries) UpdateRate(ctx context.Context, r *models.Rate) error {
	r.UpdatedAt = now()
	return q.execOne(ctx, models.ErrRateNotFound,
		`UPDATE rates SET title = ?, description = ?, is_daily = ?, updated_at = ? WHERE id = ?`,
		r.Title, r.Description, r.IsDaily, r.UpdatedAt, r.ID)
}

func (q *queries) DeleteRate(ctx context.Context, id int64) error {
	if err := q.DeleteRateDetails(ctx, id); err != nil {
		return err
	}
	return q.execOne(ctx, models.ErrRateNotFound, `DELETE FROM rates WHERE id = ?`, id)
}

func (q *queries) CountOpenReservationsByRate(ctx context.Context, rateID int64) (int, error) {
	var n int
	err := q.queryRow(ctx,
		`SELECT COUNT(*) FROM reservations WHERE rate_id = ? AND status = ?`,
		rateID, string(models.StatusCheckedIn),
	).Scan(&n)
	return n, translate(err)
}

const detailColumns = `id, rate_id, start_date, end_date, start_hour, end_hour, amount, created_at`

func scanDetail(row rowScanner) (*models.RateDetail, error) {
	var (
		d                  models.RateDetail
		startDate, endDate sql.NullString
		startHour, endHour sql.NullString
		amount             int64
		err                error
	)
	if err = row.Scan(&d.ID, &d.RateID, &startDate, &endDate, &startHour, &endHour, &amount, &d.CreatedAt); err != nil {
		return nil, err
	}
	if d.StartDate, err = ptrDate(startDate); err != nil {
		return nil, fmt.Errorf("rate detail %d: %w", d.ID, err)
	}
	if d.EndDate, err = ptrDate(endDate); err != nil {
		return nil, fmt.Errorf("rate detail %d: %w", d.ID, err)
	}
	if d.StartHour, err = ptrHour(startHour); err != nil {
		return nil, fmt.Errorf("rate detail %d: %w", d.ID, err)
	}
	if d.EndHour, err = ptrHour(endHour); err != nil {
		return nil, fmt.Errorf("rate detail %d: %w", d.ID, err)
	}
	d.Amount = models.FromCents(amount)
	return &d, nil
}

func (q *queries) CreateRateDetail(ctx context.Context, d *models.RateDetail) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now()
	}
	err := q.queryRow(ctx, `
		INSERT INTO rate_details (rate_id, start_date, end_date, start_hour, end_hour, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		d.RateID, nullDate(d.StartDate), nullDate(d.EndDate), nullHour(d.StartHour), nullHour(d.EndHour),
		models.Cents(d.Amount), d.CreatedAt.UTC(),
	).Scan(&d.ID)
	return translate(err)
}

func (q *queries) GetRateDetail(ctx context.Context, id int64) (*models.RateDetail, error) {
	d, err := scanDetail(q.queryRow(ctx, `SELECT `+detailColumns+` FROM rate_details WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, models.ErrRateDetailNotFound)
	}
	return d, nil
}

func (q *queries) UpdateRateDetail(ctx context.Context, d *models.RateDetail) error {
	return q.execOne(ctx, models.ErrRateDetailNotFound, `
		UPDATE rate_details SET start_date = ?, end_date = ?, start_hour = ?, end_hour = ?, amount = ?
		WHERE id = ?`,
		nullDate(d.StartDate), nullDate(d.EndDate), nullHour(d.StartHour), nullHour(d.EndHour),
		models.Cents(d.Amount), d.ID)
}

func (q *queries) DeleteRateDetail(ctx context.Context, id int64) error {
	return q.execOne(ctx, models.ErrRateDetailNotFound, `DELETE FROM rate_details WHERE id = ?`, id)
}

func (q *queries) DeleteRateDetails(ctx context.Context, rateID int64) error {
	_, err := q.exec(ctx, `DELETE FROM rate_details WHERE rate_id = ?`, rateID)
	return err
}

// ListRateDetails returns details newest first, the order rate resolution uses.
func (q *queries) ListRateDetails(ctx context.Context, rateID int64) ([]models.RateDetail, error) {
	rows, err := q.query(ctx,
		`SELECT `+detailColumns+` FROM rate_details WHERE rate_id = ? ORDER BY created_at DESC, id DESC`, rateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []models.RateDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, translate(err)
		}
		details = append(details, *d)
	}
	return details, translate(rows.Err())
}
