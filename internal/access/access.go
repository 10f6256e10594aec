// Package access decides which role may run which operation. It knows
// nothing about transports; callers pass the role they authenticated.
package access

import (
	"errors"
	"fmt"

	"parkly/internal/models"
)

// Operation names a guarded action.
type Operation string

const (
	OpCheckIn        Operation = "check_in"
	OpCheckOut       Operation = "check_out"
	OpReadBalance    Operation = "read_balance"
	OpPostPayment    Operation = "post_payment"
	OpRunChargeTick  Operation = "run_charge_tick"
	OpManageSpots    Operation = "manage_spots"
	OpManageRates    Operation = "manage_rates"
	OpManageCars     Operation = "manage_cars"
	OpReadReports    Operation = "read_reports"
	OpReadCatalog    Operation = "read_catalog"
	OpReadOccupation Operation = "read_occupation"
	OpReconcile      Operation = "reconcile_ledger"
)

var capabilities = map[models.Role]map[Operation]bool{
	models.RoleUser: {
		OpCheckIn:     true,
		OpCheckOut:    true,
		OpReadBalance: true,
		OpPostPayment: true,
		OpReadCatalog: true,
	},
}

// Check returns nil when role may perform op and a *DeniedError otherwise.
// Administrators may perform every operation.
func Check(role models.Role, op Operation) error {
	if role == models.RoleAdministrator {
		return nil
	}
	if capabilities[role][op] {
		return nil
	}
	return &DeniedError{Role: role, Operation: op}
}

// ParseRole accepts the role names stored on users and in tokens.
func ParseRole(s string) (models.Role, error) {
	switch r := models.Role(s); r {
	case models.RoleAdministrator, models.RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, s)
	}
}

// DeniedError is returned when a role lacks a capability.
type DeniedError struct {
	Role      models.Role
	Operation Operation
}

func (e *DeniedError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("access denied: %s requires a role", e.Operation)
	}
	return fmt.Sprintf("access denied: role %s may not %s", e.Role, e.Operation)
}

// Forbidden marks the error for models.KindOf.
func (e *DeniedError) Forbidden() bool { return true }

// IsDenied checks if err is an access denial.
func IsDenied(err error) bool {
	var target *DeniedError
	return errors.As(err, &target)
}
