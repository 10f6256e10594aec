// Package session runs the check-in and check-out state machine of parking
// reservations.
package session

import (
	"fmt"

	"parkly/internal/models"
)

// StateNone is the state of a car with no reservation yet.
const StateNone models.ReservationStatus = ""

// FSM holds the allowed reservation transitions. CHECKED_OUT is terminal.
type FSM struct {
	transitions map[models.ReservationStatus][]models.ReservationStatus
}

func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.ReservationStatus][]models.ReservationStatus{
			StateNone:               {models.StatusCheckedIn},
			models.StatusCheckedIn:  {models.StatusCheckedOut},
			models.StatusCheckedOut: {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to models.ReservationStatus) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check returns the domain error for a forbidden transition.
func (f *FSM) Check(from, to models.ReservationStatus) error {
	if f.CanTransition(from, to) {
		return nil
	}
	switch {
	case from == models.StatusCheckedOut:
		return models.ErrReservationClosed
	case from == models.StatusCheckedIn && to == models.StatusCheckedIn:
		return models.ErrCarAlreadyCheckedIn
	case from == StateNone && to == models.StatusCheckedOut:
		return models.ErrNoActiveSession
	default:
		return fmt.Errorf("%w: %q to %q", models.ErrInvalidInput, from, to)
	}
}
