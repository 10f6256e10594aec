// Package store declares the transactional data store the parking core runs on.
package store

import (
	"context"
	"time"

	"parkly/internal/models"
)

// Queries is every read and write the core issues. Implementations translate
// driver failures into models.ErrStoreUnavailable and missing rows into the
// matching not-found sentinel.
type Queries interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error

	CreateCar(ctx context.Context, c *models.Car) error
	GetCar(ctx context.Context, id int64) (*models.Car, error)
	GetCarByPlate(ctx context.Context, plate string) (*models.Car, error)
	SetCarBlocked(ctx context.Context, id int64, blocked bool) error

	CreateRate(ctx context.Context, r *models.Rate) error
	GetRate(ctx context.Context, id int64) (*models.Rate, error)
	GetRateByTitle(ctx context.Context, title string) (*models.Rate, error)
	ListRates(ctx context.Context) ([]models.Rate, error)
	UpdateRate(ctx context.Context, r *models.Rate) error
	DeleteRate(ctx context.Context, id int64) error
	CreateRateDetail(ctx context.Context, d *models.RateDetail) error
	GetRateDetail(ctx context.Context, id int64) (*models.RateDetail, error)
	UpdateRateDetail(ctx context.Context, d *models.RateDetail) error
	DeleteRateDetail(ctx context.Context, id int64) error
	DeleteRateDetails(ctx context.Context, rateID int64) error
	ListRateDetails(ctx context.Context, rateID int64) ([]models.RateDetail, error)
	CountOpenReservationsByRate(ctx context.Context, rateID int64) (int, error)

	CreateSpot(ctx context.Context, s *models.ParkingSpot) error
	GetSpot(ctx context.Context, id int64) (*models.ParkingSpot, error)
	GetSpotByTitle(ctx context.Context, title string) (*models.ParkingSpot, error)
	UpdateSpot(ctx context.Context, s *models.ParkingSpot) error
	DeleteSpot(ctx context.Context, id int64) error
	SetSpotAvailable(ctx context.Context, id int64, available bool) error
	SetSpotOutOfService(ctx context.Context, id int64, outOfService bool) error
	ListSpots(ctx context.Context) ([]models.ParkingSpot, error)
	ListOccupiedSpots(ctx context.Context) ([]models.ParkingSpot, error)
	// ClaimRandomSpot picks a random available, in-service spot and marks it
	// unavailable. It must be exclusive across concurrent callers.
	ClaimRandomSpot(ctx context.Context) (*models.ParkingSpot, error)

	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	// LockReservation reads a reservation and holds it until the
	// surrounding transaction ends.
	LockReservation(ctx context.Context, id int64) (*models.Reservation, error)
	GetOpenReservationByCar(ctx context.Context, carID int64) (*models.Reservation, error)
	GetOpenReservationBySpot(ctx context.Context, spotID int64) (*models.Reservation, error)
	ListOpenReservations(ctx context.Context) ([]models.Reservation, error)
	CloseReservation(ctx context.Context, id int64, endDate time.Time) error
	SetReservationUser(ctx context.Context, id, userID int64) error
	SetReservationBalance(ctx context.Context, id int64, debit, credit int64) error
	ListClosedReservations(ctx context.Context, f ReservationFilter) ([]StatementRow, error)

	// InsertTransaction appends a ledger entry. A second CHARGE for the same
	// reservation and period returns models.ErrAlreadyCharged.
	InsertTransaction(ctx context.Context, t *models.FinancialTransaction) error
	ListTransactions(ctx context.Context, reservationID int64) ([]models.FinancialTransaction, error)
	// SumTransactions returns debit and credit totals in minor units.
	SumTransactions(ctx context.Context, reservationID int64) (debit, credit int64, err error)

	InsertEvent(ctx context.Context, e *models.Event) error
	ListEvents(ctx context.Context, reservationID int64) ([]models.Event, error)
}

// Store is a Queries that can also run a function in one transaction.
type Store interface {
	Queries
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}

// ReservationFilter narrows statement queries. Zero values match everything.
type ReservationFilter struct {
	CarID  int64
	UserID int64
	From   time.Time
	To     time.Time
}

// StatementRow is a closed reservation joined with its car.
type StatementRow struct {
	ReservationID int64
	Plate         string
	UserID        *int64
	StartDate     time.Time
	EndDate       time.Time
	Debit         int64
	Credit        int64
}
