package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parkly/internal/database"
	"parkly/internal/database/dbtest"
	"parkly/internal/events"
	"parkly/internal/ledger"
	"parkly/internal/models"
	"parkly/internal/rates"
	"parkly/internal/spots"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db       *database.DB
	svc      *Service
	ledger   *ledger.Ledger
	registry *spots.Registry
	rate     *models.Rate
	events   []events.Event
	mu       sync.Mutex
}

func newFixture(t *testing.T, spotCount int, recognizer Recognizer) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	f := &fixture{db: dbtest.New(t)}
	catalog := rates.NewCatalog(f.db, time.UTC, logger)
	f.registry = spots.NewRegistry(f.db, logger)
	f.ledger = ledger.New(f.db, logger)

	f.rate = &models.Rate{Title: models.DefaultRateTitle, Details: []models.RateDetail{{Amount: decimal.NewFromInt(10)}}}
	require.NoError(t, catalog.CreateRate(ctx, f.rate))
	for i := 0; i < spotCount; i++ {
		require.NoError(t, f.registry.Create(ctx, &models.ParkingSpot{Title: string(rune('A' + i))}))
	}

	bus := events.NewBus(logger)
	bus.Subscribe("*", func(_ context.Context, e events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
		return nil
	})
	f.svc = NewService(f.db, catalog, f.registry, recognizer, bus, logger)
	return f
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type stubRecognizer struct {
	plate string
	err   error
}

func (s stubRecognizer) Recognize(context.Context, []byte) (string, error) {
	return s.plate, s.err
}

func TestFSM(t *testing.T) {
	fsm := NewFSM()
	assert.True(t, fsm.CanTransition(StateNone, models.StatusCheckedIn))
	assert.True(t, fsm.CanTransition(models.StatusCheckedIn, models.StatusCheckedOut))
	assert.False(t, fsm.CanTransition(models.StatusCheckedOut, models.StatusCheckedIn))

	assert.ErrorIs(t, fsm.Check(models.StatusCheckedIn, models.StatusCheckedIn), models.ErrCarAlreadyCheckedIn)
	assert.ErrorIs(t, fsm.Check(models.StatusCheckedOut, models.StatusCheckedOut), models.ErrReservationClosed)
	assert.ErrorIs(t, fsm.Check(StateNone, models.StatusCheckedOut), models.ErrNoActiveSession)
}

func TestService_FullSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, nil)

	res, in, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: " ab 1234 "})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, res.Status)
	assert.Equal(t, f.rate.ID, res.RateID)
	require.NotNil(t, in)
	assert.NotZero(t, in.ID)
	assert.Equal(t, models.EventCheckedIn, in.EventType)
	assert.Equal(t, res.ID, in.ReservationID)
	assert.Equal(t, res.ParkingSpotID, in.ParkingSpotID)
	assert.True(t, in.EventDate.Equal(res.StartDate))

	spot, err := f.registry.Get(ctx, res.ParkingSpotID)
	require.NoError(t, err)
	assert.False(t, spot.IsAvailable)

	_, _, err = f.svc.CheckIn(ctx, CheckInRequest{Plate: "AB1234"})
	assert.ErrorIs(t, err, models.ErrCarAlreadyCheckedIn)

	_, err = f.ledger.Post(ctx, &models.FinancialTransaction{
		Type: models.TransactionCharge, Debit: decimal.NewFromInt(10), ReservationID: res.ID,
	})
	require.NoError(t, err)

	_, _, err = f.svc.CheckOut(ctx, CheckOutRequest{Plate: "AB1234"})
	unsettled, ok := models.IsBalanceNotSettled(err)
	require.True(t, ok)
	assert.Equal(t, "10.00", models.FormatMoney(unsettled.Balance))

	_, err = f.ledger.RecordPayment(ctx, res.ID, decimal.NewFromInt(10), nil)
	require.NoError(t, err)

	closed, out, err := f.svc.CheckOut(ctx, CheckOutRequest{Plate: "ab1234"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedOut, closed.Status)
	require.NotNil(t, closed.EndDate)
	assert.True(t, closed.Balance().IsZero())
	require.NotNil(t, out)
	assert.Equal(t, models.EventCheckedOut, out.EventType)
	assert.Equal(t, res.ID, out.ReservationID)
	assert.Equal(t, res.ParkingSpotID, out.ParkingSpotID)
	assert.True(t, out.EventDate.Equal(*closed.EndDate))
	assert.Greater(t, out.ID, in.ID)

	spot, err = f.registry.Get(ctx, res.ParkingSpotID)
	require.NoError(t, err)
	assert.True(t, spot.IsAvailable)

	assert.Equal(t, []string{events.TypeCheckedIn, events.TypeCheckedOut}, f.eventTypes())

	_, _, err = f.svc.CheckOut(ctx, CheckOutRequest{Plate: "AB1234"})
	assert.ErrorIs(t, err, models.ErrNoActiveSession)

	// the car can start a new session after leaving
	again, _, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: "AB1234"})
	require.NoError(t, err)
	assert.NotEqual(t, res.ID, again.ID)
}

func TestService_CheckInRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("no free spot", func(t *testing.T) {
		f := newFixture(t, 1, nil)
		_, _, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: "AA111"})
		require.NoError(t, err)

		_, _, err = f.svc.CheckIn(ctx, CheckInRequest{Plate: "BB222"})
		assert.ErrorIs(t, err, models.ErrNoAvailableSpot)
		assert.Equal(t, []string{events.TypeCheckedIn}, f.eventTypes())
	})

	t.Run("blocked car leaves spot untouched", func(t *testing.T) {
		f := newFixture(t, 1, nil)
		car, err := f.svc.BlockCar(ctx, "cc333")
		require.NoError(t, err)
		assert.True(t, car.IsBlocked)

		_, _, err = f.svc.CheckIn(ctx, CheckInRequest{Plate: "CC333"})
		assert.ErrorIs(t, err, models.ErrCarBlocked)

		free, err := f.registry.List(ctx)
		require.NoError(t, err)
		assert.True(t, free[0].IsAvailable)

		_, err = f.svc.UnblockCar(ctx, "CC333")
		require.NoError(t, err)
		_, _, err = f.svc.CheckIn(ctx, CheckInRequest{Plate: "CC333"})
		assert.NoError(t, err)
	})

	t.Run("unknown rate rolls back the claimed spot", func(t *testing.T) {
		f := newFixture(t, 1, nil)
		missing := int64(999)
		_, _, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: "DD444", RateID: &missing})
		assert.ErrorIs(t, err, models.ErrRateNotFound)

		spotsList, err := f.registry.List(ctx)
		require.NoError(t, err)
		assert.True(t, spotsList[0].IsAvailable)
	})

	t.Run("invalid plate", func(t *testing.T) {
		f := newFixture(t, 1, nil)
		_, _, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: "!"})
		assert.ErrorIs(t, err, models.ErrInvalidPlate)
	})

	t.Run("unblock of unknown car", func(t *testing.T) {
		f := newFixture(t, 1, nil)
		_, err := f.svc.UnblockCar(ctx, "ZZ999")
		assert.ErrorIs(t, err, models.ErrCarNotFound)
	})
}

func TestService_CheckOutUnknownCar(t *testing.T) {
	f := newFixture(t, 1, nil)
	_, _, err := f.svc.CheckOut(context.Background(), CheckOutRequest{Plate: "NOPE1"})
	assert.ErrorIs(t, err, models.ErrCarNotFound)
}

func TestService_Recognition(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, 1, stubRecognizer{plate: "ee 555"})
	res, _, err := f.svc.CheckIn(ctx, CheckInRequest{Image: []byte("jpeg")})
	require.NoError(t, err)
	car, err := f.db.GetCar(ctx, res.CarID)
	require.NoError(t, err)
	assert.Equal(t, "EE555", car.Plate)

	f = newFixture(t, 1, stubRecognizer{err: errors.New("timeout")})
	_, _, err = f.svc.CheckIn(ctx, CheckInRequest{Image: []byte("jpeg")})
	assert.ErrorIs(t, err, models.ErrRecognitionFailed)

	f = newFixture(t, 1, nil)
	_, _, err = f.svc.CheckIn(ctx, CheckInRequest{Image: []byte("jpeg")})
	assert.ErrorIs(t, err, models.ErrRecognitionFailed)
}

func TestService_UserFallsBackToCarOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, nil)

	owner := &models.User{Username: "alice", Email: "alice@example.com", Role: models.RoleUser}
	require.NoError(t, f.db.CreateUser(ctx, owner))
	require.NoError(t, f.db.CreateCar(ctx, &models.Car{Plate: "FF666", UserID: &owner.ID}))

	res, _, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: "FF666"})
	require.NoError(t, err)
	require.NotNil(t, res.UserID)
	assert.Equal(t, owner.ID, *res.UserID)

	anon, _, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: "GG777"})
	require.NoError(t, err)
	assert.Nil(t, anon.UserID)
}

func TestService_ConcurrentCheckInsSameCar(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5, nil)

	const workers = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: "HH888"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrCarAlreadyCheckedIn), errors.Is(err, models.ErrDuplicate):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, already)

	open, err := f.svc.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	occupied, err := f.registry.ListOccupied(ctx)
	require.NoError(t, err)
	assert.Len(t, occupied, 1)
}

func TestService_Ownership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, nil)

	alice := &models.User{Username: "alice", Email: "alice@example.com", Role: models.RoleUser}
	require.NoError(t, f.db.CreateUser(ctx, alice))
	bob := &models.User{Username: "bob", Role: models.RoleUser}
	require.NoError(t, f.db.CreateUser(ctx, bob))

	res, _, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: "OW1", UserID: &alice.ID})
	require.NoError(t, err)

	_, err = f.svc.OwnedReservation(ctx, res.ID, &bob.ID)
	assert.ErrorIs(t, err, models.ErrNotOwner)
	_, err = f.svc.Events(ctx, res.ID, &bob.ID)
	assert.ErrorIs(t, err, models.ErrNotOwner)

	got, err := f.svc.OwnedReservation(ctx, res.ID, &alice.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, got.ID)
	_, err = f.svc.OwnedReservation(ctx, res.ID, nil)
	require.NoError(t, err)

	_, _, err = f.svc.CheckOut(ctx, CheckOutRequest{Plate: "OW1", UserID: &bob.ID})
	assert.ErrorIs(t, err, models.ErrNotOwner)
	still, err := f.svc.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, still.Status)

	// an anonymous session belongs to nobody but the administrators
	anon, _, err := f.svc.CheckIn(ctx, CheckInRequest{Plate: "OW2"})
	require.NoError(t, err)
	_, err = f.svc.OwnedReservation(ctx, anon.ID, &alice.ID)
	assert.ErrorIs(t, err, models.ErrNotOwner)

	_, out, err := f.svc.CheckOut(ctx, CheckOutRequest{Plate: "OW1", UserID: &alice.ID})
	require.NoError(t, err)
	assert.Equal(t, models.EventCheckedOut, out.EventType)

	evs, err := f.svc.Events(ctx, res.ID, &alice.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, models.EventCheckedIn, evs[0].EventType)
	assert.Equal(t, out.ID, evs[1].ID)
}
