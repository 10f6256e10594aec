package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validation errors are returned before anything is written.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidPlate       = errors.New("invalid plate")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidRateWindow  = errors.New("invalid rate window")
)

// Lookup errors.
var (
	ErrCarNotFound         = errors.New("car not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrRateNotFound        = errors.New("rate not found")
	ErrRateDetailNotFound  = errors.New("rate detail not found")
	ErrSpotNotFound        = errors.New("parking spot not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

// Resource conflicts are business facts and are never retried.
var (
	ErrCarBlocked          = errors.New("car is blocked")
	ErrCarAlreadyCheckedIn = errors.New("car already checked in")
	ErrNoAvailableSpot     = errors.New("no available parking spot")
	ErrNoActiveSession     = errors.New("no active session for car")
	ErrRateInUse           = errors.New("rate is used by active reservations")
	ErrSpotOccupied        = errors.New("parking spot is occupied")
	ErrReservationClosed   = errors.New("reservation is closed")
	ErrAlreadyCharged      = errors.New("reservation already charged for period")
	ErrDuplicate           = errors.New("duplicate record")
	ErrReferenced          = errors.New("record is referenced by reservations")
)

// ErrRateNotApplicable means no rate detail window contains the instant.
var ErrRateNotApplicable = errors.New("no rate detail applies at this time")

// ErrNotOwner means a user touched a reservation that is not theirs.
var ErrNotOwner = errors.New("reservation belongs to another user")

// Infrastructure errors are for the transport layer to retry or not.
var (
	ErrStoreUnavailable  = errors.New("data store unavailable")
	ErrRecognitionFailed = errors.New("plate recognition failed")
)

// BalanceNotSettledError blocks check-out while debit and credit differ.
// A positive balance is owed by the driver, a negative one must be refunded.
type BalanceNotSettledError struct {
	Balance decimal.Decimal
}

func (e *BalanceNotSettledError) Error() string {
	return fmt.Sprintf("balance not settled: %s", FormatMoney(e.Balance))
}

// IsBalanceNotSettled returns the typed error if err wraps one.
func IsBalanceNotSettled(err error) (*BalanceNotSettledError, bool) {
	var target *BalanceNotSettledError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Kind groups errors the way callers react to them.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindConsistency    Kind = "consistency"
	KindInfrastructure Kind = "infrastructure"
	KindForbidden      Kind = "forbidden"
	KindInternal       Kind = "internal"
)

// kindOfForbidden is implemented by errors that deny an operation.
type kindOfForbidden interface {
	Forbidden() bool
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindValidation, []error{ErrInvalidInput, ErrInvalidPlate, ErrInvalidAmount, ErrInvalidTransaction, ErrInvalidRateWindow}},
	{KindNotFound, []error{ErrCarNotFound, ErrUserNotFound, ErrRateNotFound, ErrRateDetailNotFound, ErrSpotNotFound, ErrReservationNotFound}},
	{KindConflict, []error{
		ErrCarBlocked, ErrCarAlreadyCheckedIn, ErrNoAvailableSpot, ErrNoActiveSession,
		ErrRateInUse, ErrSpotOccupied, ErrReservationClosed, ErrAlreadyCharged, ErrDuplicate, ErrReferenced, ErrRateNotApplicable,
	}},
	{KindForbidden, []error{ErrNotOwner}},
	{KindInfrastructure, []error{ErrStoreUnavailable, ErrRecognitionFailed}},
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if _, ok := IsBalanceNotSettled(err); ok {
		return KindConsistency
	}
	var denied kindOfForbidden
	if errors.As(err, &denied) && denied.Forbidden() {
		return KindForbidden
	}
	for _, group := range kinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}
