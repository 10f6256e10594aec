package access

import (
	"fmt"
	"testing"

	"parkly/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		role    models.Role
		op      Operation
		allowed bool
	}{
		{models.RoleAdministrator, OpRunChargeTick, true},
		{models.RoleAdministrator, OpManageRates, true},
		{models.RoleUser, OpCheckIn, true},
		{models.RoleUser, OpCheckOut, true},
		{models.RoleUser, OpReadBalance, true},
		{models.RoleUser, OpPostPayment, true},
		{models.RoleUser, OpRunChargeTick, false},
		{models.RoleUser, OpManageSpots, false},
		{models.RoleUser, OpManageCars, false},
		{models.RoleUser, OpReconcile, false},
		{models.RoleAdministrator, OpReconcile, true},
		{"", OpCheckIn, false},
		{"guest", OpReadBalance, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.role, tt.op), func(t *testing.T) {
			err := Check(tt.role, tt.op)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsDenied(err))
			assert.Equal(t, models.KindForbidden, models.KindOf(fmt.Errorf("wrapped: %w", err)))
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("administrator")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdministrator, r)

	_, err = ParseRole("root")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
