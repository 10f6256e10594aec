package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchCatalog loads catalog.yaml, hands it to onUpdate, then polls the file
// and calls onUpdate again whenever its modification time moves forward.
// A file that fails to parse is logged and the previous catalog stays active.
func WatchCatalog(
	ctx context.Context,
	path string,
	interval time.Duration,
	logger zerolog.Logger,
	onUpdate func(*CatalogConfig) error,
) error {
	if path == "" {
		path = "configs/catalog.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger = logger.With().Str("component", "catalog_watch").Str("path", path).Logger()

	cfg, err := LoadCatalogConfig(path)
	if err != nil {
		return err
	}
	if err := onUpdate(cfg); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil || !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()

				cfg, err := LoadCatalogConfig(path)
				if err != nil {
					logger.Error().Err(err).Msg("catalog reload rejected")
					continue
				}
				if err := onUpdate(cfg); err != nil {
					logger.Error().Err(err).Msg("catalog sync failed")
					continue
				}
				logger.Info().Stringer("catalog", cfg).Msg("catalog reloaded")
			}
		}
	}()

	return nil
}
