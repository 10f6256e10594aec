// Package rates owns rates, their priced windows and amount resolution.
package rates

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"parkly/internal/models"
	"parkly/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Catalog manages rates and resolves the amount charged at an instant.
type Catalog struct {
	store  store.Store
	loc    *time.Location
	logger zerolog.Logger
}

// NewCatalog builds a catalog whose windows are interpreted in loc.
func NewCatalog(st store.Store, loc *time.Location, logger zerolog.Logger) *Catalog {
	if loc == nil {
		loc = time.UTC
	}
	return &Catalog{
		store:  st,
		loc:    loc,
		logger: logger.With().Str("component", "rates").Logger(),
	}
}

// Location is the zone rate windows are evaluated in.
func (c *Catalog) Location() *time.Location { return c.loc }

// CreateRate inserts the rate and any details it carries in one transaction.
func (c *Catalog) CreateRate(ctx context.Context, r *models.Rate) error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return fmt.Errorf("%w: rate title is required", models.ErrInvalidInput)
	}
	for i := range r.Details {
		if err := validateDetail(&r.Details[i]); err != nil {
			return err
		}
	}

	return c.store.InTx(ctx, func(q store.Queries) error {
		if err := q.CreateRate(ctx, r); err != nil {
			return fmt.Errorf("create rate %q: %w", r.Title, err)
		}
		for i := range r.Details {
			r.Details[i].RateID = r.ID
			if err := q.CreateRateDetail(ctx, &r.Details[i]); err != nil {
				return fmt.Errorf("create rate %q detail: %w", r.Title, err)
			}
		}
		return nil
	})
}

// GetRate returns the rate with its details, newest first.
func (c *Catalog) GetRate(ctx context.Context, id int64) (*models.Rate, error) {
	return withDetails(ctx, c.store, func() (*models.Rate, error) { return c.store.GetRate(ctx, id) })
}

func (c *Catalog) GetRateByTitle(ctx context.Context, title string) (*models.Rate, error) {
	return withDetails(ctx, c.store, func() (*models.Rate, error) { return c.store.GetRateByTitle(ctx, title) })
}

// ListRates returns rates ordered by title, without details.
func (c *Catalog) ListRates(ctx context.Context) ([]models.Rate, error) {
	return c.store.ListRates(ctx)
}

// UpdateRate changes title, description and the daily flag.
func (c *Catalog) UpdateRate(ctx context.Context, r *models.Rate) error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return fmt.Errorf("%w: rate title is required", models.ErrInvalidInput)
	}
	return c.store.UpdateRate(ctx, r)
}

// DeleteRate removes a rate and its details. A rate used by an open
// reservation cannot be removed.
func (c *Catalog) DeleteRate(ctx context.Context, id int64) error {
	return c.store.InTx(ctx, func(q store.Queries) error {
		n, err := q.CountOpenReservationsByRate(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d open reservations", models.ErrRateInUse, n)
		}
		return q.DeleteRate(ctx, id)
	})
}

// AddDetail attaches a priced window to an existing rate.
func (c *Catalog) AddDetail(ctx context.Context, d *models.RateDetail) error {
	if err := validateDetail(d); err != nil {
		return err
	}
	return c.store.InTx(ctx, func(q store.Queries) error {
		if _, err := q.GetRate(ctx, d.RateID); err != nil {
			return err
		}
		return q.CreateRateDetail(ctx, d)
	})
}

// UpdateDetail rewrites the window and amount of a detail.
func (c *Catalog) UpdateDetail(ctx context.Context, d *models.RateDetail) error {
	if err := validateDetail(d); err != nil {
		return err
	}
	return c.store.UpdateRateDetail(ctx, d)
}

func (c *Catalog) DeleteDetail(ctx context.Context, id int64) error {
	return c.store.DeleteRateDetail(ctx, id)
}

// Default returns the DEFAULT rate.
func (c *Catalog) Default(ctx context.Context) (*models.Rate, error) {
	return c.store.GetRateByTitle(ctx, models.DefaultRateTitle)
}

// Resolve returns the rate with the given id, or DEFAULT when id is nil.
func (c *Catalog) Resolve(ctx context.Context, rateID *int64) (*models.Rate, error) {
	return c.ResolveTx(ctx, c.store, rateID)
}

// ResolveTx is Resolve against the caller's transaction.
func (c *Catalog) ResolveTx(ctx context.Context, q store.Queries, rateID *int64) (*models.Rate, error) {
	if rateID != nil {
		return q.GetRate(ctx, *rateID)
	}
	r, err := q.GetRateByTitle(ctx, models.DefaultRateTitle)
	if err != nil {
		return nil, fmt.Errorf("default rate: %w", err)
	}
	return r, nil
}

// Amount returns the amount of the rate applicable at the instant.
func (c *Catalog) Amount(ctx context.Context, rateID int64, at time.Time) (decimal.Decimal, error) {
	return c.AmountTx(ctx, c.store, rateID, at)
}

// AmountTx is Amount against the caller's transaction.
func (c *Catalog) AmountTx(ctx context.Context, q store.Queries, rateID int64, at time.Time) (decimal.Decimal, error) {
	details, err := q.ListRateDetails(ctx, rateID)
	if err != nil {
		return decimal.Zero, err
	}
	if len(details) == 0 {
		// tell a missing rate apart from an empty one
		if _, err := q.GetRate(ctx, rateID); err != nil {
			return decimal.Zero, err
		}
	}

	d, ok := Pick(details, at.In(c.loc))
	if !ok {
		return decimal.Zero, fmt.Errorf("rate %d at %s: %w", rateID, at.In(c.loc).Format(time.RFC3339), models.ErrRateNotApplicable)
	}
	return d.Amount, nil
}

// Pick returns the detail that applies at the local instant. When windows
// overlap the most recently created detail wins, then the higher id.
func Pick(details []models.RateDetail, local time.Time) (*models.RateDetail, bool) {
	ordered := make([]models.RateDetail, len(details))
	copy(ordered, details)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
		}
		return ordered[i].ID > ordered[j].ID
	})

	for i := range ordered {
		if ordered[i].Contains(local) {
			return &ordered[i], true
		}
	}
	return nil, false
}

func validateDetail(d *models.RateDetail) error {
	if d.Amount.IsNegative() {
		return fmt.Errorf("%w: amount %s is negative", models.ErrInvalidAmount, d.Amount)
	}
	d.Amount = models.RoundMoney(d.Amount)

	if d.StartDate != nil {
		day := models.CivilDate(*d.StartDate)
		d.StartDate = &day
	}
	if d.EndDate != nil {
		day := models.CivilDate(*d.EndDate)
		d.EndDate = &day
	}
	if d.StartDate != nil && d.EndDate != nil && d.EndDate.Before(*d.StartDate) {
		return fmt.Errorf("%w: end date before start date", models.ErrInvalidRateWindow)
	}

	for _, h := range []*models.TimeOfDay{d.StartHour, d.EndHour} {
		if h != nil && (*h < 0 || *h >= 24*60) {
			return fmt.Errorf("%w: hour out of range", models.ErrInvalidRateWindow)
		}
	}
	return nil
}

func withDetails(ctx context.Context, q store.Queries, get func() (*models.Rate, error)) (*models.Rate, error) {
	r, err := get()
	if err != nil {
		return nil, err
	}
	if r.Details, err = q.ListRateDetails(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}
