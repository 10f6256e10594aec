package database

import (
	"context"
	"errors"

	"parkly/internal/models"
)

const spotColumns = `id, title, description, is_available, is_out_of_service, created_at, updated_at`

func scanSpot(row rowScanner) (*models.ParkingSpot, error) {
	var s models.ParkingSpot
	if err := row.Scan(&s.ID, &s.Title, &s.Description, &s.IsAvailable, &s.IsOutOfService, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *queries) listSpots(ctx context.Context, query string, args ...any) ([]models.ParkingSpot, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spots []models.ParkingSpot
	for rows.Next() {
		s, err := scanSpot(rows)
		if err != nil {
			return nil, translate(err)
		}
		spots = append(spots, *s)
	}
	return spots, translate(rows.Err())
}

func (q *queries) CreateSpot(ctx context.Context, s *models.ParkingSpot) error {
	ts := now()
	s.CreatedAt, s.UpdatedAt = ts, ts
	err := q.queryRow(ctx, `
		INSERT INTO parking_spots (title, description, is_available, is_out_of_service, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		s.Title, s.Description, s.IsAvailable, s.IsOutOfService, ts, ts,
	).Scan(&s.ID)
	return translate(err)
}

func (q *queries) GetSpot(ctx context.Context, id int64) (*models.ParkingSpot, error) {
	s, err := scanSpot(q.queryRow(ctx, `SELECT `+spotColumns+` FROM parking_spots WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, models.ErrSpotNotFound)
	}
	return s, nil
}

func (q *queries) GetSpotByTitle(ctx context.Context, title string) (*models.ParkingSpot, error) {
	s, err := scanSpot(q.queryRow(ctx, `SELECT `+spotColumns+` FROM parking_spots WHERE title = ?`, title))
	if err != nil {
		return nil, notFound(err, models.ErrSpotNotFound)
	}
	return s, nil
}

func (q *queries) UpdateSpot(ctx context.Context, s *models.ParkingSpot) error {
	s.UpdatedAt = now()
	return q.execOne(ctx, models.ErrSpotNotFound,
		`UPDATE parking_spots SET title = ?, description = ?, updated_at = ? WHERE id = ?`,
		s.Title, s.Description, s.UpdatedAt, s.ID)
}

func (q *queries) DeleteSpot(ctx context.Context, id int64) error {
	return q.execOne(ctx, models.ErrSpotNotFound, `DELETE FROM parking_spots WHERE id = ?`, id)
}

func (q *queries) SetSpotAvailable(ctx context.Context, id int64, available bool) error {
	return q.execOne(ctx, models.ErrSpotNotFound,
		`UPDATE parking_spots SET is_available = ?, updated_at = ? WHERE id = ?`, available, now(), id)
}

func (q *queries) SetSpotOutOfService(ctx context.Context, id int64, outOfService bool) error {
	return q.execOne(ctx, models.ErrSpotNotFound,
		`UPDATE parking_spots SET is_out_of_service = ?, updated_at = ? WHERE id = ?`, outOfService, now(), id)
}

func (q *queries) ListSpots(ctx context.Context) ([]models.ParkingSpot, error) {
	return q.listSpots(ctx, `SELECT `+spotColumns+` FROM parking_spots ORDER BY title`)
}

func (q *queries) ListOccupiedSpots(ctx context.Context) ([]models.ParkingSpot, error) {
	return q.listSpots(ctx,
		`SELECT `+spotColumns+` FROM parking_spots WHERE is_available = ? AND is_out_of_service = ? ORDER BY title`,
		false, false)
}

// ClaimRandomSpot selects a random free spot and flips it to unavailable.
// On postgres, SKIP LOCKED lets concurrent claimers pass over rows another
// transaction is holding. The guarded update catches any remaining race.
func (q *queries) ClaimRandomSpot(ctx context.Context) (*models.ParkingSpot, error) {
	for attempt := 0; attempt < 3; attempt++ {
		s, err := scanSpot(q.queryRow(ctx,
			`SELECT `+spotColumns+` FROM parking_spots
			WHERE is_available = ? AND is_out_of_service = ?
			ORDER BY RANDOM() LIMIT 1`+q.d.skipLock,
			true, false))
		if err != nil {
			return nil, notFound(err, models.ErrNoAvailableSpot)
		}

		err = q.execOne(ctx, errSpotTaken,
			`UPDATE parking_spots SET is_available = ?, updated_at = ? WHERE id = ? AND is_available = ?`,
			false, now(), s.ID, true)
		if errors.Is(err, errSpotTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.IsAvailable = false
		return s, nil
	}
	return nil, models.ErrNoAvailableSpot
}

var errSpotTaken = errors.New("spot taken concurrently")
