package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parkly/internal/events"
	"parkly/internal/ledger"
	"parkly/internal/metrics"
	"parkly/internal/models"
	"parkly/internal/rates"
	"parkly/internal/spots"
	"parkly/internal/store"

	"github.com/rs/zerolog"
)

// Recognizer reads a plate from a camera image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// CheckInRequest identifies the car by plate or by image. RateID nil means
// the DEFAULT rate. UserID nil falls back to the car owner.
type CheckInRequest struct {
	Plate  string
	Image  []byte
	RateID *int64
	UserID *int64
}

// CheckOutRequest closes the session of a plate. When UserID is set the
// reservation must belong to that user.
type CheckOutRequest struct {
	Plate  string
	Image  []byte
	UserID *int64
}

// Service opens and closes reservations. Every operation runs in one store
// transaction, and events are published only after it commits.
type Service struct {
	store      store.Store
	catalog    *rates.Catalog
	spots      *spots.Registry
	recognizer Recognizer
	events     events.Publisher
	fsm        *FSM
	now        func() time.Time
	logger     zerolog.Logger
}

func NewService(
	st store.Store,
	catalog *rates.Catalog,
	registry *spots.Registry,
	recognizer Recognizer,
	publisher events.Publisher,
	logger zerolog.Logger,
) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:      st,
		catalog:    catalog,
		spots:      registry,
		recognizer: recognizer,
		events:     publisher,
		fsm:        NewFSM(),
		now:        time.Now,
		logger:     logger.With().Str("component", "session").Logger(),
	}
}

// CheckIn opens a reservation on a random free spot. It returns the
// reservation and the CHECKED_IN event recorded with it.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (*models.Reservation, *models.Event, error) {
	res, ev, plate, err := s.checkIn(ctx, req)
	metrics.IncCheckIn(outcome(err))
	if err != nil {
		s.logger.Warn().Err(err).Str("plate", plate).Msg("check-in rejected")
		return nil, nil, err
	}

	s.logger.Info().
		Int64("reservation_id", res.ID).
		Str("plate", plate).
		Int64("spot_id", res.ParkingSpotID).
		Int64("rate_id", res.RateID).
		Msg("car checked in")
	s.publish(ctx, events.TypeCheckedIn, events.ReservationPayload{
		ReservationID: res.ID, Plate: plate, SpotID: res.ParkingSpotID, RateID: res.RateID,
	})
	return res, ev, nil
}

func (s *Service) checkIn(ctx context.Context, req CheckInRequest) (*models.Reservation, *models.Event, string, error) {
	plate, err := s.resolvePlate(ctx, req.Plate, req.Image)
	if err != nil {
		return nil, nil, plate, err
	}

	var (
		res *models.Reservation
		ev  *models.Event
	)
	err = s.store.InTx(ctx, func(q store.Queries) error {
		car, err := s.findOrCreateCar(ctx, q, plate, req.UserID)
		if err != nil {
			return err
		}
		if car.IsBlocked {
			return models.ErrCarBlocked
		}

		open, err := q.GetOpenReservationByCar(ctx, car.ID)
		switch {
		case err == nil:
			return s.fsm.Check(open.Status, models.StatusCheckedIn)
		case !errors.Is(err, models.ErrNoActiveSession):
			return err
		}

		spot, err := s.spots.Claim(ctx, q)
		if err != nil {
			return err
		}
		rate, err := s.catalog.ResolveTx(ctx, q, req.RateID)
		if err != nil {
			return err
		}

		userID := req.UserID
		if userID == nil {
			userID = car.UserID
		}
		res = &models.Reservation{
			Status:        models.StatusCheckedIn,
			StartDate:     s.now().UTC(),
			UserID:        userID,
			CarID:         car.ID,
			ParkingSpotID: spot.ID,
			RateID:        rate.ID,
		}
		if err := q.CreateReservation(ctx, res); err != nil {
			if errors.Is(err, models.ErrDuplicate) {
				return models.ErrCarAlreadyCheckedIn
			}
			return err
		}

		ev = &models.Event{
			EventDate:     res.StartDate,
			EventType:     models.EventCheckedIn,
			ParkingSpotID: spot.ID,
			ReservationID: res.ID,
		}
		return q.InsertEvent(ctx, ev)
	})
	if err != nil {
		return nil, nil, plate, err
	}
	return res, ev, plate, nil
}

// CheckOut closes the open reservation of the car once its balance is
// settled and frees its spot. It returns the closed reservation and the
// CHECKED_OUT event.
func (s *Service) CheckOut(ctx context.Context, req CheckOutRequest) (*models.Reservation, *models.Event, error) {
	res, ev, plate, err := s.checkOut(ctx, req)
	metrics.IncCheckOut(outcome(err))
	if err != nil {
		s.logger.Warn().Err(err).Str("plate", plate).Msg("check-out rejected")
		return nil, nil, err
	}

	s.logger.Info().
		Int64("reservation_id", res.ID).
		Str("plate", plate).
		Int64("spot_id", res.ParkingSpotID).
		Str("debit", models.FormatMoney(res.Debit)).
		Msg("car checked out")
	s.publish(ctx, events.TypeCheckedOut, events.ReservationPayload{
		ReservationID: res.ID, Plate: plate, SpotID: res.ParkingSpotID, Amount: models.FormatMoney(res.Debit),
	})
	return res, ev, nil
}

func (s *Service) checkOut(ctx context.Context, req CheckOutRequest) (*models.Reservation, *models.Event, string, error) {
	plate, err := s.resolvePlate(ctx, req.Plate, req.Image)
	if err != nil {
		return nil, nil, plate, err
	}

	var (
		res *models.Reservation
		ev  *models.Event
	)
	err = s.store.InTx(ctx, func(q store.Queries) error {
		car, err := q.GetCarByPlate(ctx, plate)
		if err != nil {
			return err
		}

		open, err := q.GetOpenReservationByCar(ctx, car.ID)
		if err != nil {
			return err
		}
		// serializes with a charge tick posting to the same reservation
		res, err = q.LockReservation(ctx, open.ID)
		if err != nil {
			return err
		}
		if err := s.fsm.Check(res.Status, models.StatusCheckedOut); err != nil {
			return err
		}
		if err := checkOwner(ctx, q, res, req.UserID); err != nil {
			return err
		}

		debit, credit, err := ledger.BalanceTx(ctx, q, res.ID)
		if err != nil {
			return err
		}
		if balance := debit.Sub(credit); !balance.IsZero() {
			return &models.BalanceNotSettledError{Balance: balance}
		}

		end := s.now().UTC()
		if err := q.CloseReservation(ctx, res.ID, end); err != nil {
			return err
		}
		if err := s.spots.Release(ctx, q, res.ParkingSpotID); err != nil {
			return err
		}
		ev = &models.Event{
			EventDate:     end,
			EventType:     models.EventCheckedOut,
			ParkingSpotID: res.ParkingSpotID,
			ReservationID: res.ID,
		}
		if err := q.InsertEvent(ctx, ev); err != nil {
			return err
		}

		res.Status = models.StatusCheckedOut
		res.EndDate = &end
		res.Debit, res.Credit = debit, credit
		return nil
	})
	if err != nil {
		return nil, nil, plate, err
	}
	return res, ev, plate, nil
}

// BlockCar bars a plate from checking in. Unknown plates are registered
// so they are blocked on first arrival. An open session is not affected.
func (s *Service) BlockCar(ctx context.Context, plate string) (*models.Car, error) {
	return s.setBlocked(ctx, plate, true)
}

// UnblockCar lifts a block.
func (s *Service) UnblockCar(ctx context.Context, plate string) (*models.Car, error) {
	return s.setBlocked(ctx, plate, false)
}

func (s *Service) setBlocked(ctx context.Context, raw string, blocked bool) (*models.Car, error) {
	plate, err := models.NormalizePlate(raw)
	if err != nil {
		return nil, err
	}

	var car *models.Car
	err = s.store.InTx(ctx, func(q store.Queries) error {
		if blocked {
			car, err = s.findOrCreateCar(ctx, q, plate, nil)
		} else {
			car, err = q.GetCarByPlate(ctx, plate)
		}
		if err != nil {
			return err
		}
		if err := q.SetCarBlocked(ctx, car.ID, blocked); err != nil {
			return err
		}
		car.IsBlocked = blocked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("plate", plate).Bool("blocked", blocked).Msg("car block changed")
	return car, nil
}

func (s *Service) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.store.GetReservation(ctx, id)
}

// OwnedReservation is GetReservation restricted to reservations of userID.
// A nil userID is unrestricted.
func (s *Service) OwnedReservation(ctx context.Context, id int64, userID *int64) (*models.Reservation, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(ctx, s.store, res, userID); err != nil {
		return nil, err
	}
	return res, nil
}

// Events lists the state changes recorded for a reservation.
func (s *Service) Events(ctx context.Context, id int64, userID *int64) ([]models.Event, error) {
	if _, err := s.OwnedReservation(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// checkOwner accepts the reservation user, or the car owner when the
// reservation has none.
func checkOwner(ctx context.Context, q store.Queries, res *models.Reservation, userID *int64) error {
	if userID == nil {
		return nil
	}
	owner := res.UserID
	if owner == nil {
		car, err := q.GetCar(ctx, res.CarID)
		if err != nil {
			return err
		}
		owner = car.UserID
	}
	if owner == nil || *owner != *userID {
		return fmt.Errorf("%w: reservation %d", models.ErrNotOwner, res.ID)
	}
	return nil
}

// ListOpen returns every CHECKED_IN reservation.
func (s *Service) ListOpen(ctx context.Context) ([]models.Reservation, error) {
	return s.store.ListOpenReservations(ctx)
}

func (s *Service) resolvePlate(ctx context.Context, plate string, image []byte) (string, error) {
	if len(image) > 0 {
		if s.recognizer == nil {
			return "", fmt.Errorf("%w: no recognizer configured", models.ErrRecognitionFailed)
		}
		recognized, err := s.recognizer.Recognize(ctx, image)
		if err != nil {
			if !errors.Is(err, models.ErrRecognitionFailed) {
				err = fmt.Errorf("%w: %v", models.ErrRecognitionFailed, err)
			}
			return "", err
		}
		plate = recognized
	}
	normalized, err := models.NormalizePlate(plate)
	if err != nil {
		return plate, err
	}
	return normalized, nil
}

func (s *Service) findOrCreateCar(ctx context.Context, q store.Queries, plate string, userID *int64) (*models.Car, error) {
	car, err := q.GetCarByPlate(ctx, plate)
	if err == nil {
		return car, nil
	}
	if !errors.Is(err, models.ErrCarNotFound) {
		return nil, err
	}

	car = &models.Car{Plate: plate, UserID: userID}
	if err := q.CreateCar(ctx, car); err != nil {
		return nil, err
	}
	return car, nil
}

func (s *Service) publish(ctx context.Context, eventType string, payload events.ReservationPayload) {
	ev, err := events.New(eventType, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", eventType).Msg("failed to build event")
		return
	}
	s.events.Publish(ctx, ev)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(models.KindOf(err))
}
