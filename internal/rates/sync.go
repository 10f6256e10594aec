package rates

import (
	"context"
	"errors"
	"fmt"

	"parkly/internal/config"
	"parkly/internal/models"
	"parkly/internal/store"
)

// SyncFromConfig applies the rates of catalog.yaml to the store. Rates are
// matched by title. The details of a rate are replaced only while no open
// reservation uses it, so a running session is never repriced mid-flight.
// Rates missing from the file are left alone.
func (c *Catalog) SyncFromConfig(ctx context.Context, cfg *config.CatalogConfig) error {
	if cfg == nil {
		return fmt.Errorf("catalog config is nil")
	}

	for _, rc := range cfg.Rates {
		details := make([]models.RateDetail, 0, len(rc.Details))
		for i := range rc.Details {
			d, err := rc.Details[i].ToModel()
			if err != nil {
				return fmt.Errorf("sync rate %q: %w", rc.Title, err)
			}
			details = append(details, *d)
		}

		err := c.store.InTx(ctx, func(q store.Queries) error {
			return c.syncRate(ctx, q, rc, details)
		})
		if err != nil {
			return fmt.Errorf("sync rate %q: %w", rc.Title, err)
		}
	}
	return nil
}

func (c *Catalog) syncRate(ctx context.Context, q store.Queries, rc config.RateConfig, details []models.RateDetail) error {
	rate, err := q.GetRateByTitle(ctx, rc.Title)
	switch {
	case errors.Is(err, models.ErrRateNotFound):
		rate = &models.Rate{Title: rc.Title, Description: rc.Description, IsDaily: rc.IsDaily}
		if err := q.CreateRate(ctx, rate); err != nil {
			return err
		}
		c.logger.Info().Str("rate", rate.Title).Msg("rate created from catalog")
	case err != nil:
		return err
	default:
		rate.Description = rc.Description
		rate.IsDaily = rc.IsDaily
		if err := q.UpdateRate(ctx, rate); err != nil {
			return err
		}

		open, err := q.CountOpenReservationsByRate(ctx, rate.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			c.logger.Warn().Str("rate", rate.Title).Int("open_reservations", open).
				Msg("rate in use, details left unchanged")
			return nil
		}
		if err := q.DeleteRateDetails(ctx, rate.ID); err != nil {
			return err
		}
	}

	for i := range details {
		details[i].RateID = rate.ID
		if err := q.CreateRateDetail(ctx, &details[i]); err != nil {
			return err
		}
	}
	return nil
}
