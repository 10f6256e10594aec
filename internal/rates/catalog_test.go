package rates

import (
	"context"
	"testing"
	"time"

	"parkly/internal/config"
	"parkly/internal/database/dbtest"
	"parkly/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hour(t *testing.T, s string) *models.TimeOfDay {
	t.Helper()
	h, err := models.ParseTimeOfDay(s)
	require.NoError(t, err)
	return &h
}

func date(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return &d
}

func TestPick(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	details := []models.RateDetail{
		{ID: 1, Amount: decimal.NewFromInt(10), CreatedAt: base},
		{ID: 2, StartHour: hour(t, "22:00"), EndHour: hour(t, "06:00"), Amount: decimal.NewFromInt(4), CreatedAt: base.Add(time.Hour)},
		{ID: 3, StartDate: date(t, "2025-12-31"), EndDate: date(t, "2025-12-31"), Amount: decimal.NewFromInt(50), CreatedAt: base.Add(2 * time.Hour)},
	}

	tests := []struct {
		name string
		at   time.Time
		want int64
	}{
		{"daytime falls back to base", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), 1},
		{"late evening", time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC), 2},
		{"early morning", time.Date(2025, 6, 2, 5, 59, 0, 0, time.UTC), 2},
		{"window end is inclusive", time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC), 2},
		{"after window", time.Date(2025, 6, 2, 6, 1, 0, 0, time.UTC), 1},
		{"holiday beats night", time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := Pick(details, tt.at)
			require.True(t, ok)
			assert.Equal(t, tt.want, d.ID)
		})
	}
}

func TestPick_TieBreaksOnID(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	details := []models.RateDetail{
		{ID: 7, Amount: decimal.NewFromInt(1), CreatedAt: created},
		{ID: 9, Amount: decimal.NewFromInt(2), CreatedAt: created},
		{ID: 8, Amount: decimal.NewFromInt(3), CreatedAt: created},
	}
	d, ok := Pick(details, created)
	require.True(t, ok)
	assert.Equal(t, int64(9), d.ID)

	_, ok = Pick(nil, created)
	assert.False(t, ok)
}

func TestCatalog_Amount(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	loc := time.FixedZone("UTC+3", 3*60*60)
	c := NewCatalog(db, loc, zerolog.Nop())

	rate := &models.Rate{
		Title: "NIGHT",
		Details: []models.RateDetail{
			{StartHour: hour(t, "22:00"), EndHour: hour(t, "06:00"), Amount: decimal.RequireFromString("2.505")},
		},
	}
	require.NoError(t, c.CreateRate(ctx, rate))

	// 20:00 UTC is 23:00 local
	amount, err := c.Amount(ctx, rate.ID, time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2.51", models.FormatMoney(amount))

	_, err = c.Amount(ctx, rate.ID, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, models.ErrRateNotApplicable)

	_, err = c.Amount(ctx, rate.ID+100, time.Now())
	assert.ErrorIs(t, err, models.ErrRateNotFound)
}

func TestCatalog_DetailValidation(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	c := NewCatalog(db, time.UTC, zerolog.Nop())

	rate := &models.Rate{Title: models.DefaultRateTitle}
	require.NoError(t, c.CreateRate(ctx, rate))

	err := c.AddDetail(ctx, &models.RateDetail{RateID: rate.ID, Amount: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	err = c.AddDetail(ctx, &models.RateDetail{
		RateID: rate.ID, StartDate: date(t, "2025-02-01"), EndDate: date(t, "2025-01-01"), Amount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, models.ErrInvalidRateWindow)

	err = c.AddDetail(ctx, &models.RateDetail{RateID: rate.ID + 1, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, models.ErrRateNotFound)

	open := &models.RateDetail{RateID: rate.ID, StartDate: date(t, "2025-01-01"), Amount: decimal.NewFromInt(3)}
	require.NoError(t, c.AddDetail(ctx, open))

	open.Amount = decimal.NewFromInt(4)
	require.NoError(t, c.UpdateDetail(ctx, open))

	got, err := c.GetRate(ctx, rate.ID)
	require.NoError(t, err)
	require.Len(t, got.Details, 1)
	assert.Equal(t, "4.00", models.FormatMoney(got.Details[0].Amount))

	require.NoError(t, c.DeleteDetail(ctx, open.ID))
	assert.ErrorIs(t, c.DeleteDetail(ctx, open.ID), models.ErrRateDetailNotFound)
}

func TestCatalog_ResolveAndDelete(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	c := NewCatalog(db, time.UTC, zerolog.Nop())

	_, err := c.Resolve(ctx, nil)
	assert.ErrorIs(t, err, models.ErrRateNotFound)

	def := &models.Rate{Title: models.DefaultRateTitle}
	require.NoError(t, c.CreateRate(ctx, def))
	vip := &models.Rate{Title: "VIP"}
	require.NoError(t, c.CreateRate(ctx, vip))

	got, err := c.Resolve(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)

	got, err = c.Resolve(ctx, &vip.ID)
	require.NoError(t, err)
	assert.Equal(t, "VIP", got.Title)

	car := &models.Car{Plate: "AB1234"}
	require.NoError(t, db.CreateCar(ctx, car))
	spot := &models.ParkingSpot{Title: "S1"}
	require.NoError(t, db.CreateSpot(ctx, spot))
	require.NoError(t, db.CreateReservation(ctx, &models.Reservation{
		StartDate: time.Now(), CarID: car.ID, ParkingSpotID: spot.ID, RateID: vip.ID,
	}))

	assert.ErrorIs(t, c.DeleteRate(ctx, vip.ID), models.ErrRateInUse)
	require.NoError(t, c.DeleteRate(ctx, def.ID))

	list, err := c.ListRates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "VIP", list[0].Title)

	assert.ErrorIs(t, c.CreateRate(ctx, &models.Rate{Title: "VIP"}), models.ErrDuplicate)
	assert.ErrorIs(t, c.CreateRate(ctx, &models.Rate{Title: "  "}), models.ErrInvalidInput)
}

func TestCatalog_SyncFromConfig(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	c := NewCatalog(db, time.UTC, zerolog.Nop())

	cfg := &config.CatalogConfig{Rates: []config.RateConfig{
		{Title: models.DefaultRateTitle, Details: []config.RateDetailConfig{{Amount: "10"}}},
	}}
	require.NoError(t, c.SyncFromConfig(ctx, cfg))

	amount, err := c.Amount(ctx, mustRateID(t, c, models.DefaultRateTitle), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "10.00", models.FormatMoney(amount))

	cfg.Rates[0].Description = "standard"
	cfg.Rates[0].Details[0].Amount = "12.5"
	require.NoError(t, c.SyncFromConfig(ctx, cfg))

	rate, err := c.GetRateByTitle(ctx, models.DefaultRateTitle)
	require.NoError(t, err)
	assert.Equal(t, "standard", rate.Description)
	require.Len(t, rate.Details, 1)
	assert.Equal(t, "12.50", models.FormatMoney(rate.Details[0].Amount))

	assert.Error(t, c.SyncFromConfig(ctx, nil))
}

func TestCatalog_SyncKeepsDetailsOfRateInUse(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	c := NewCatalog(db, time.UTC, zerolog.Nop())

	cfg := &config.CatalogConfig{Rates: []config.RateConfig{
		{Title: models.DefaultRateTitle, Details: []config.RateDetailConfig{{Amount: "10"}}},
	}}
	require.NoError(t, c.SyncFromConfig(ctx, cfg))
	rateID := mustRateID(t, c, models.DefaultRateTitle)

	car := &models.Car{Plate: "AB1234"}
	require.NoError(t, db.CreateCar(ctx, car))
	spot := &models.ParkingSpot{Title: "S1"}
	require.NoError(t, db.CreateSpot(ctx, spot))
	require.NoError(t, db.CreateReservation(ctx, &models.Reservation{
		StartDate: time.Now(), CarID: car.ID, ParkingSpotID: spot.ID, RateID: rateID,
	}))

	cfg.Rates[0].Details[0].Amount = "99"
	require.NoError(t, c.SyncFromConfig(ctx, cfg))

	amount, err := c.Amount(ctx, rateID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "10.00", models.FormatMoney(amount))
}

func mustRateID(t *testing.T, c *Catalog, title string) int64 {
	t.Helper()
	r, err := c.GetRateByTitle(context.Background(), title)
	require.NoError(t, err)
	return r.ID
}
