package database

import (
	"context"
	"database/sql"
	"time"

	"parkly/internal/models"
)

// queries implements store.Queries on top of a *sql.DB or a *sql.Tx.
type queries struct {
	conn conn
	d    dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := q.conn.ExecContext(ctx, q.d.rebind(query), args...)
	return res, translate(err)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.conn.QueryRowContext(ctx, q.d.rebind(query), args...)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := q.conn.QueryContext(ctx, q.d.rebind(query), args...)
	return rows, translate(err)
}

// execOne runs an update and returns missing when no row matched.
func (q *queries) execOne(ctx context.Context, missing error, query string, args ...any) error {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func ptrInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func ptrTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullDate(v *time.Time) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Format(time.DateOnly), Valid: true}
}

func ptrDate(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := models.ParseDate(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullHour(v *models.TimeOfDay) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func ptrHour(v sql.NullString) (*models.TimeOfDay, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := models.ParseTimeOfDay(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	err := q.queryRow(ctx,
		`INSERT INTO users (username, email, role, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		u.Username, u.Email, string(u.Role), u.CreatedAt,
	).Scan(&u.ID)
	return translate(err)
}

// UpsertUser creates the user or updates email and role by username.
func (q *queries) UpsertUser(ctx context.Context, u *models.User) error {
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	err := q.queryRow(ctx, `
		INSERT INTO users (username, email, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET email = excluded.email, role = excluded.role
		RETURNING id`,
		u.Username, u.Email, string(u.Role), now(),
	).Scan(&u.ID)
	return translate(err)
}

func (q *queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	var role string
	err := q.queryRow(ctx,
		`SELECT id, username, email, role, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &role, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, models.ErrUserNotFound)
	}
	u.Role = models.Role(role)
	return &u, nil
}

const carColumns = `id, plate, is_blocked, user_id, created_at, updated_at`

func scanCar(row rowScanner) (*models.Car, error) {
	var c models.Car
	var userID sql.NullInt64
	if err := row.Scan(&c.ID, &c.Plate, &c.IsBlocked, &userID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.UserID = ptrInt64(userID)
	return &c, nil
}

func (q *queries) CreateCar(ctx context.Context, c *models.Car) error {
	ts := now()
	c.CreatedAt, c.UpdatedAt = ts, ts
	err := q.queryRow(ctx,
		`INSERT INTO cars (plate, is_blocked, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		c.Plate, c.IsBlocked, nullInt64(c.UserID), ts, ts,
	).Scan(&c.ID)
	return translate(err)
}

func (q *queries) GetCar(ctx context.Context, id int64) (*models.Car, error) {
	c, err := scanCar(q.queryRow(ctx, `SELECT `+carColumns+` FROM cars WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, models.ErrCarNotFound)
	}
	return c, nil
}

func (q *queries) GetCarByPlate(ctx context.Context, plate string) (*models.Car, error) {
	c, err := scanCar(q.queryRow(ctx, `SELECT `+carColumns+` FROM cars WHERE plate = ?`, plate))
	if err != nil {
		return nil, notFound(err, models.ErrCarNotFound)
	}
	return c, nil
}

func (q *queries) SetCarBlocked(ctx context.Context, id int64, blocked bool) error {
	return q.execOne(ctx, models.ErrCarNotFound,
		`UPDATE cars SET is_blocked = ?, updated_at = ? WHERE id = ?`, blocked, now(), id)
}
