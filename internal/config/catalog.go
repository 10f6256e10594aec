package config

import (
	"fmt"
	"os"

	"parkly/internal/models"

	"gopkg.in/yaml.v3"
)

// RateDetailConfig is one priced window of a rate.
// The API accepts the same shape as JSON.
type RateDetailConfig struct {
	StartDate string `yaml:"start_date,omitempty" json:"start_date,omitempty"` // "2025-01-01"
	EndDate   string `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	StartHour string `yaml:"start_hour,omitempty" json:"start_hour,omitempty"` // "22:00"
	EndHour   string `yaml:"end_hour,omitempty" json:"end_hour,omitempty"`
	Amount    string `yaml:"amount" json:"amount"` // "1.50"
}

// RateConfig is a rate declared in catalog.yaml.
type RateConfig struct {
	Title       string             `yaml:"title" json:"title"`
	Description string             `yaml:"description" json:"description"`
	IsDaily     bool               `yaml:"is_daily" json:"is_daily"`
	Details     []RateDetailConfig `yaml:"details" json:"details"`
}

// SpotConfig is a parking spot declared in catalog.yaml.
type SpotConfig struct {
	Title        string `yaml:"title"`
	Description  string `yaml:"description"`
	OutOfService bool   `yaml:"out_of_service"`
}

// CatalogConfig is the root of catalog.yaml.
type CatalogConfig struct {
	Rates []RateConfig `yaml:"rates"`
	Spots []SpotConfig `yaml:"spots"`
}

// LoadCatalogConfig loads and validates the rate and spot catalog.
func LoadCatalogConfig(path string) (*CatalogConfig, error) {
	if path == "" {
		path = "configs/catalog.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog config: %w", err)
	}

	var cfg CatalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse catalog config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the catalog for errors.
func (c *CatalogConfig) Validate() error {
	titles := make(map[string]bool)
	for i, r := range c.Rates {
		if r.Title == "" {
			return fmt.Errorf("rate[%d]: title is required", i)
		}
		if titles[r.Title] {
			return fmt.Errorf("rate[%d]: duplicate title '%s'", i, r.Title)
		}
		titles[r.Title] = true

		for j := range r.Details {
			if _, err := r.Details[j].ToModel(); err != nil {
				return fmt.Errorf("rate[%d].details[%d]: %w", i, j, err)
			}
		}
	}

	spots := make(map[string]bool)
	for i, s := range c.Spots {
		if s.Title == "" {
			return fmt.Errorf("spot[%d]: title is required", i)
		}
		if spots[s.Title] {
			return fmt.Errorf("spot[%d]: duplicate title '%s'", i, s.Title)
		}
		spots[s.Title] = true
	}
	return nil
}

// ToModel parses the detail into a models.RateDetail without a rate id.
func (d RateDetailConfig) ToModel() (*models.RateDetail, error) {
	out := &models.RateDetail{}

	amount, err := models.ParseMoney(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount '%s': %w", d.Amount, err)
	}
	out.Amount = amount

	if d.StartDate != "" {
		t, err := models.ParseDate(d.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%w: start_date '%s', expected YYYY-MM-DD", models.ErrInvalidRateWindow, d.StartDate)
		}
		out.StartDate = &t
	}
	if d.EndDate != "" {
		t, err := models.ParseDate(d.EndDate)
		if err != nil {
			return nil, fmt.Errorf("%w: end_date '%s', expected YYYY-MM-DD", models.ErrInvalidRateWindow, d.EndDate)
		}
		out.EndDate = &t
	}
	if out.StartDate != nil && out.EndDate != nil && out.EndDate.Before(*out.StartDate) {
		return nil, models.ErrInvalidRateWindow
	}

	if d.StartHour != "" {
		h, err := models.ParseTimeOfDay(d.StartHour)
		if err != nil {
			return nil, fmt.Errorf("%w: start_hour '%s', expected HH:MM", models.ErrInvalidRateWindow, d.StartHour)
		}
		out.StartHour = &h
	}
	if d.EndHour != "" {
		h, err := models.ParseTimeOfDay(d.EndHour)
		if err != nil {
			return nil, fmt.Errorf("%w: end_hour '%s', expected HH:MM", models.ErrInvalidRateWindow, d.EndHour)
		}
		out.EndHour = &h
	}
	return out, nil
}

// HasRate reports whether a rate with the title is declared.
func (c *CatalogConfig) HasRate(title string) bool {
	for i := range c.Rates {
		if c.Rates[i].Title == title {
			return true
		}
	}
	return false
}

func (c *CatalogConfig) String() string {
	return fmt.Sprintf("CatalogConfig: %d rates, %d spots", len(c.Rates), len(c.Spots))
}
