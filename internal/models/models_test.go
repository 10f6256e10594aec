package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tod(t *testing.T, s string) *TimeOfDay {
	t.Helper()
	v, err := ParseTimeOfDay(s)
	require.NoError(t, err)
	return &v
}

func date(t *testing.T, s string) *time.Time {
	t.Helper()
	v, err := ParseDate(s)
	require.NoError(t, err)
	return &v
}

func TestRateDetail_Contains(t *testing.T) {
	at := func(s string) time.Time {
		v, err := time.Parse("2006-01-02 15:04", s)
		require.NoError(t, err)
		return v
	}

	tests := []struct {
		name   string
		detail RateDetail
		at     time.Time
		want   bool
	}{
		{"open window", RateDetail{}, at("2025-03-01 03:10"), true},
		{"inside day window", RateDetail{StartHour: tod(t, "08:00"), EndHour: tod(t, "20:00")}, at("2025-03-01 12:00"), true},
		{"end hour inclusive", RateDetail{StartHour: tod(t, "08:00"), EndHour: tod(t, "20:00")}, at("2025-03-01 20:00"), true},
		{"after day window", RateDetail{StartHour: tod(t, "08:00"), EndHour: tod(t, "20:00")}, at("2025-03-01 20:01"), false},
		{"overnight late", RateDetail{StartHour: tod(t, "22:00"), EndHour: tod(t, "06:00")}, at("2025-03-01 23:30"), true},
		{"overnight early", RateDetail{StartHour: tod(t, "22:00"), EndHour: tod(t, "06:00")}, at("2025-03-01 05:59"), true},
		{"overnight gap", RateDetail{StartHour: tod(t, "22:00"), EndHour: tod(t, "06:00")}, at("2025-03-01 12:00"), false},
		{"before start date", RateDetail{StartDate: date(t, "2025-03-02")}, at("2025-03-01 12:00"), false},
		{"on end date", RateDetail{EndDate: date(t, "2025-03-01")}, at("2025-03-01 23:59"), true},
		{"after end date", RateDetail{EndDate: date(t, "2025-03-01")}, at("2025-03-02 00:00"), false},
		{"only start hour", RateDetail{StartHour: tod(t, "18:00")}, at("2025-03-01 19:00"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.detail.Contains(tt.at))
		})
	}
}

func TestNormalizePlate(t *testing.T) {
	plate, err := NormalizePlate(" ab 1234 ")
	require.NoError(t, err)
	assert.Equal(t, "AB1234", plate)

	plate, err = NormalizePlate("аа1234вв")
	require.NoError(t, err)
	assert.Equal(t, "АА1234ВВ", plate)

	_, err = NormalizePlate("")
	assert.ErrorIs(t, err, ErrInvalidPlate)

	_, err = NormalizePlate("AB_12")
	assert.ErrorIs(t, err, ErrInvalidPlate)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, int64(1000), Cents(decimal.RequireFromString("10")))
	assert.Equal(t, int64(1001), Cents(decimal.RequireFromString("10.005")))
	assert.Equal(t, "10.00", FormatMoney(FromCents(1000)))

	_, err := ParseMoney("-1")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseMoney("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	v, err := ParseMoney("2.345")
	require.NoError(t, err)
	assert.Equal(t, "2.35", FormatMoney(v))
}

func TestTimeOfDay(t *testing.T) {
	v := tod(t, "07:05")
	assert.Equal(t, TimeOfDay(425), *v)
	assert.Equal(t, "07:05", v.String())

	var parsed TimeOfDay
	require.NoError(t, parsed.UnmarshalText([]byte("23:59")))
	assert.Equal(t, TimeOfDay(1439), parsed)
	assert.Error(t, parsed.UnmarshalText([]byte("24:61")))
}

type denied struct{}

func (denied) Error() string   { return "denied" }
func (denied) Forbidden() bool { return true }

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("wrap: %w", ErrInvalidPlate)))
	assert.Equal(t, KindConflict, KindOf(ErrNoAvailableSpot))
	assert.Equal(t, KindNotFound, KindOf(ErrCarNotFound))
	assert.Equal(t, KindInfrastructure, KindOf(fmt.Errorf("tx: %w", ErrStoreUnavailable)))
	assert.Equal(t, KindForbidden, KindOf(denied{}))
	assert.Equal(t, KindForbidden, KindOf(fmt.Errorf("reservation 4: %w", ErrNotOwner)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))

	err := fmt.Errorf("check out: %w", &BalanceNotSettledError{Balance: decimal.RequireFromString("-2.5")})
	assert.Equal(t, KindConsistency, KindOf(err))
	typed, ok := IsBalanceNotSettled(err)
	require.True(t, ok)
	assert.Equal(t, "balance not settled: -2.50", typed.Error())
}

func TestReservation_Balance(t *testing.T) {
	r := Reservation{Status: StatusCheckedIn, Debit: FromCents(1500), Credit: FromCents(500)}
	assert.True(t, r.IsOpen())
	assert.True(t, r.Balance().Equal(FromCents(1000)))

	spot := ParkingSpot{IsAvailable: false}
	assert.True(t, spot.IsOccupied())
	spot.IsOutOfService = true
	assert.False(t, spot.IsOccupied())
}
