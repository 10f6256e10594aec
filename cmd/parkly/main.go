package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parkly/internal/access"
	"parkly/internal/api"
	"parkly/internal/billing"
	"parkly/internal/config"
	"parkly/internal/database"
	"parkly/internal/events"
	"parkly/internal/ledger"
	"parkly/internal/lock"
	"parkly/internal/metrics"
	"parkly/internal/models"
	"parkly/internal/notify"
	"parkly/internal/rates"
	"parkly/internal/recognition"
	"parkly/internal/report"
	"parkly/internal/session"
	"parkly/internal/spots"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("PARKLY_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(database.Options{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.BusyTimeout(),
	}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	if err := seedUsers(ctx, db, cfg.Users); err != nil {
		logger.Fatal().Err(err).Msg("seed users error")
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	catalog := rates.NewCatalog(db, cfg.Location(), logger)
	registry := spots.NewRegistry(db, logger)
	led := ledger.New(db, logger)

	err = config.WatchCatalog(ctx, cfg.CatalogPath, 30*time.Second, logger, func(cc *config.CatalogConfig) error {
		if err := catalog.SyncFromConfig(ctx, cc); err != nil {
			return err
		}
		return registry.SyncFromConfig(ctx, cc)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("load catalog error")
	}

	bus := events.NewBus(logger)
	if cfg.Broker.Enabled {
		broker, err := events.DialAMQP(cfg.Broker.URL, cfg.Broker.Exchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect broker error")
		}
		defer broker.Close()
		bus.Subscribe("*", broker.Handle)
	}

	var recognizer session.Recognizer
	if cfg.Recognition.BaseURL != "" {
		client := recognition.NewClient(cfg.Recognition.BaseURL, cfg.RecognitionTimeout())
		if rdb != nil && cfg.RecognitionCacheTTL() > 0 {
			client.UseRedisCache(rdb, cfg.RecognitionCacheTTL())
		}
		recognizer = client
	}

	sessions := session.NewService(db, catalog, registry, recognizer, bus, logger)

	sender, err := newSender(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create notifier error")
	}

	threshold, _ := cfg.WarningThreshold()
	var locker lock.Locker = lock.NewMemory()
	if rdb != nil {
		locker = lock.NewFailover(lock.NewRedis(rdb, "parkly:lock:"), locker, logger)
	}
	charger := billing.NewCharger(billing.Config{
		Interval:         cfg.BillingInterval(),
		Workers:          cfg.BillingWorkers(),
		WarningThreshold: threshold,
		LockTTL:          cfg.LockTTL(),
	}, db, catalog, led, locker, sender, bus, logger)

	scheduler := billing.NewScheduler(charger, cfg.BillingInterval(), cfg.TickTimeout(), logger)
	scheduler.Start()

	reports := report.NewService(db, cfg.Location(), logger)
	var sheets api.StatementExporter
	if cfg.Reports.Sheets.Enabled {
		exporter, err := report.NewSheetsExporter(ctx, reports,
			cfg.Reports.Sheets.CredentialsFile, cfg.Reports.Sheets.SpreadsheetID, cfg.Reports.Sheets.SheetName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("create sheets exporter error")
		}
		sheets = exporter
	}

	backup := database.NewBackupService(db, database.BackupOptions{
		Enabled:       cfg.Backup.Enabled,
		StoragePath:   cfg.Backup.Path,
		Interval:      cfg.BackupInterval(),
		RetentionDays: cfg.Backup.RetentionDays,
	}, logger)
	go backup.Start(ctx)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.API.Enabled {
		if cfg.API.Port == 0 {
			cfg.API.Port = 8080
		}
		server := api.NewServer(api.Deps{
			Sessions: sessions,
			Ledger:   led,
			Catalog:  catalog,
			Spots:    registry,
			Reports:  reports,
			Sheets:   sheets,
			Ticks:    scheduler,
		}, cfg.API.JWTSecret, logger)
		go serve(ctx, "api", cfg.API.Port, server.Router(), &logger)
	}

	logger.Info().Str("app", cfg.App.Name).Msg("parkly started")
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	scheduler.Stop()
	charger.Wait()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Log.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func seedUsers(ctx context.Context, db *database.DB, users []config.UserConfig) error {
	for _, uc := range users {
		role, err := access.ParseRole(uc.Role)
		if err != nil {
			return fmt.Errorf("user %s: %w", uc.Username, err)
		}
		u := &models.User{Username: uc.Username, Email: uc.Email, Role: role}
		if err := db.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("user %s: %w", uc.Username, err)
		}
	}
	return nil
}

func newSender(cfg *config.Config, logger zerolog.Logger) (*notify.Sender, error) {
	channels := []notify.Channel{notify.NewLog(logger)}

	smtpCfg := cfg.Notifications.SMTP
	if smtpCfg.Host != "" {
		channels = append(channels, notify.NewMail(notify.MailConfig{
			Host:     smtpCfg.Host,
			Port:     smtpCfg.Port,
			Username: smtpCfg.Username,
			Password: smtpCfg.Password,
			From:     smtpCfg.From,
			Timeout:  time.Duration(smtpCfg.TimeoutSeconds) * time.Second,
		}))
	}

	tg := cfg.Notifications.Telegram
	if tg.BotToken != "" && len(tg.ChatIDs) > 0 {
		ch, err := notify.NewTelegram(tg.BotToken, tg.ChatIDs)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	retry := notify.DefaultRetryConfig()
	if cfg.Notifications.MaxRetries > 0 {
		retry.MaxRetries = cfg.Notifications.MaxRetries
	}
	return notify.NewSender(notify.SenderConfig{
		RatePerSecond: cfg.Notifications.RatePerSecond,
		Burst:         cfg.Notifications.Burst,
		Retry:         retry,
	}, logger, channels...), nil
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.Ping(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	serve(ctx, "health", port, mux, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serve(ctx, "metrics", port, mux, logger)
}

func serve(ctx context.Context, name string, port int, handler http.Handler, logger *zerolog.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Str("server", name).Int("port", port).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
