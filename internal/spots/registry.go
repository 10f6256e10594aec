// Package spots keeps the parking spot inventory and hands out free spots.
package spots

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"parkly/internal/config"
	"parkly/internal/models"
	"parkly/internal/store"

	"github.com/rs/zerolog"
)

type Registry struct {
	store  store.Store
	logger zerolog.Logger
}

func NewRegistry(st store.Store, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  st,
		logger: logger.With().Str("component", "spots").Logger(),
	}
}

// Create adds a spot. New spots are available unless out of service.
func (r *Registry) Create(ctx context.Context, s *models.ParkingSpot) error {
	s.Title = strings.TrimSpace(s.Title)
	if s.Title == "" {
		return fmt.Errorf("%w: spot title is required", models.ErrInvalidInput)
	}
	s.IsAvailable = true
	return r.store.CreateSpot(ctx, s)
}

func (r *Registry) Get(ctx context.Context, id int64) (*models.ParkingSpot, error) {
	return r.store.GetSpot(ctx, id)
}

// Update renames or redescribes a spot. Flags change through SetAvailable
// and SetOutOfService.
func (r *Registry) Update(ctx context.Context, s *models.ParkingSpot) error {
	s.Title = strings.TrimSpace(s.Title)
	if s.Title == "" {
		return fmt.Errorf("%w: spot title is required", models.ErrInvalidInput)
	}
	return r.store.UpdateSpot(ctx, s)
}

// Delete removes a spot that no open reservation holds.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	return r.store.InTx(ctx, func(q store.Queries) error {
		if err := ensureNotHeld(ctx, q, id); err != nil {
			return err
		}
		return q.DeleteSpot(ctx, id)
	})
}

// SetAvailable flips the availability flag. A spot held by an open
// reservation cannot be made available.
func (r *Registry) SetAvailable(ctx context.Context, id int64, available bool) error {
	return r.store.InTx(ctx, func(q store.Queries) error {
		if available {
			if err := ensureNotHeld(ctx, q, id); err != nil {
				return err
			}
		}
		return q.SetSpotAvailable(ctx, id, available)
	})
}

// SetOutOfService takes a spot out of allocation or returns it.
func (r *Registry) SetOutOfService(ctx context.Context, id int64, outOfService bool) error {
	if err := r.store.SetSpotOutOfService(ctx, id, outOfService); err != nil {
		return err
	}
	r.logger.Info().Int64("spot_id", id).Bool("out_of_service", outOfService).Msg("spot service flag changed")
	return nil
}

func (r *Registry) List(ctx context.Context) ([]models.ParkingSpot, error) {
	return r.store.ListSpots(ctx)
}

// ListOccupied returns spots that are unavailable while in service.
func (r *Registry) ListOccupied(ctx context.Context) ([]models.ParkingSpot, error) {
	return r.store.ListOccupiedSpots(ctx)
}

// Claim takes one random free spot inside the caller's transaction.
// It returns models.ErrNoAvailableSpot when every spot is taken.
func (r *Registry) Claim(ctx context.Context, q store.Queries) (*models.ParkingSpot, error) {
	return q.ClaimRandomSpot(ctx)
}

// Release makes a spot available again inside the caller's transaction.
func (r *Registry) Release(ctx context.Context, q store.Queries, id int64) error {
	return q.SetSpotAvailable(ctx, id, true)
}

// SyncFromConfig creates spots declared in catalog.yaml and aligns their
// description and service flag. Spots absent from the file are kept.
func (r *Registry) SyncFromConfig(ctx context.Context, cfg *config.CatalogConfig) error {
	if cfg == nil {
		return fmt.Errorf("catalog config is nil")
	}

	for _, sc := range cfg.Spots {
		err := r.store.InTx(ctx, func(q store.Queries) error {
			spot, err := q.GetSpotByTitle(ctx, sc.Title)
			if errors.Is(err, models.ErrSpotNotFound) {
				spot = &models.ParkingSpot{
					Title:          sc.Title,
					Description:    sc.Description,
					IsAvailable:    true,
					IsOutOfService: sc.OutOfService,
				}
				return q.CreateSpot(ctx, spot)
			}
			if err != nil {
				return err
			}

			if spot.Description != sc.Description {
				spot.Description = sc.Description
				if err := q.UpdateSpot(ctx, spot); err != nil {
					return err
				}
			}
			if spot.IsOutOfService != sc.OutOfService {
				return q.SetSpotOutOfService(ctx, spot.ID, sc.OutOfService)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("sync spot %q: %w", sc.Title, err)
		}
	}
	return nil
}

func ensureNotHeld(ctx context.Context, q store.Queries, id int64) error {
	if _, err := q.GetSpot(ctx, id); err != nil {
		return err
	}
	res, err := q.GetOpenReservationBySpot(ctx, id)
	if errors.Is(err, models.ErrNoActiveSession) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: reservation %d", models.ErrSpotOccupied, res.ID)
}
