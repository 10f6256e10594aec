package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultRateTitle is the rate used when check-in names none.
const DefaultRateTitle = "DEFAULT"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusCheckedIn  ReservationStatus = "CHECKED_IN"
	StatusCheckedOut ReservationStatus = "CHECKED_OUT"
)

// TransactionType distinguishes ledger entries.
type TransactionType string

const (
	TransactionCharge  TransactionType = "CHARGE"
	TransactionPayment TransactionType = "PAYMENT"
)

// EventType is the audit trail entry kind.
type EventType string

const (
	EventCheckedIn  EventType = "CHECKED_IN"
	EventCheckedOut EventType = "CHECKED_OUT"
)

// Role is the actor role used by capability checks.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleUser          Role = "user"
)

// User is the owner of cars and the addressee of limit warnings.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Car is identified by its normalized plate.
type Car struct {
	ID        int64     `json:"id"`
	Plate     string    `json:"plate"`
	IsBlocked bool      `json:"is_blocked"`
	UserID    *int64    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParkingSpot is a single place in the lot.
type ParkingSpot struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	IsAvailable    bool      `json:"is_available"`
	IsOutOfService bool      `json:"is_out_of_service"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsOccupied reports whether the spot is held by an active session.
func (s *ParkingSpot) IsOccupied() bool {
	return !s.IsAvailable && !s.IsOutOfService
}

// Rate is a named pricing policy.
type Rate struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	IsDaily     bool         `json:"is_daily"`
	Details     []RateDetail `json:"details,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RateDetail is an amount effective inside a date and time-of-day window.
// Nil bounds are open. Dates are civil dates stored at UTC midnight.
type RateDetail struct {
	ID        int64           `json:"id"`
	RateID    int64           `json:"rate_id"`
	StartDate *time.Time      `json:"start_date,omitempty"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
	StartHour *TimeOfDay      `json:"start_hour,omitempty"`
	EndHour   *TimeOfDay      `json:"end_hour,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Contains reports whether the local instant falls inside the detail window.
// The caller converts the instant to the catalog location first.
func (d *RateDetail) Contains(local time.Time) bool {
	day := CivilDate(local)
	if d.StartDate != nil && day.Before(*d.StartDate) {
		return false
	}
	if d.EndDate != nil && day.After(*d.EndDate) {
		return false
	}

	minute := TimeOfDayOf(local)
	switch {
	case d.StartHour == nil && d.EndHour == nil:
		return true
	case d.StartHour == nil:
		return minute <= *d.EndHour
	case d.EndHour == nil:
		return minute >= *d.StartHour
	case *d.StartHour <= *d.EndHour:
		return minute >= *d.StartHour && minute <= *d.EndHour
	default:
		// overnight window, e.g. 22:00-06:00
		return minute >= *d.StartHour || minute <= *d.EndHour
	}
}

// Reservation is one parking session of a car on a spot.
// Debit and Credit mirror the ledger aggregate.
type Reservation struct {
	ID            int64             `json:"id"`
	Status        ReservationStatus `json:"status"`
	StartDate     time.Time         `json:"start_date"`
	EndDate       *time.Time        `json:"end_date,omitempty"`
	UserID        *int64            `json:"user_id,omitempty"`
	CarID         int64             `json:"car_id"`
	ParkingSpotID int64             `json:"parking_spot_id"`
	RateID        int64             `json:"rate_id"`
	Debit         decimal.Decimal   `json:"debit"`
	Credit        decimal.Decimal   `json:"credit"`
}

// IsOpen reports whether the session has not been checked out yet.
func (r *Reservation) IsOpen() bool {
	return r.Status == StatusCheckedIn
}

// Balance is debit minus credit.
func (r *Reservation) Balance() decimal.Decimal {
	return r.Debit.Sub(r.Credit)
}

// FinancialTransaction is an append-only ledger entry.
type FinancialTransaction struct {
	ID            int64           `json:"id"`
	TrxDate       time.Time       `json:"trx_date"`
	Type          TransactionType `json:"type"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	UserID        *int64          `json:"user_id,omitempty"`
	ReservationID int64           `json:"reservation_id"`
	// Period is the start of the billing period a CHARGE belongs to.
	Period *time.Time `json:"period,omitempty"`
}

// Event is an audit record written once per state transition.
type Event struct {
	ID            int64     `json:"id"`
	EventDate     time.Time `json:"event_date"`
	EventType     EventType `json:"event_type"`
	ParkingSpotID int64     `json:"parking_spot_id"`
	ReservationID int64     `json:"reservation_id"`
}

var platePattern = regexp.MustCompile(`^[\p{Lu}0-9-]{2,16}$`)

// NormalizePlate upper-cases the plate and strips whitespace.
// It returns ErrInvalidPlate when the result is not a plausible plate.
func NormalizePlate(raw string) (string, error) {
	plate := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if !platePattern.MatchString(plate) {
		return "", ErrInvalidPlate
	}
	return plate, nil
}
