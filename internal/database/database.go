package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"parkly/internal/store"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Options configures the connection.
type Options struct {
	Driver          string
	Path            string // sqlite file
	DSN             string // postgres connection string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// DB is the SQL implementation of store.Store.
type DB struct {
	*sql.DB
	*queries
	driver string
	path   string
	logger *zerolog.Logger
}

var _ store.Store = (*DB)(nil)

// NewDB opens the database and applies the schema.
func NewDB(opts Options, logger *zerolog.Logger) (*DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	var dsn string
	switch opts.Driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// BEGIN IMMEDIATE takes the write lock up front, so transactions that
		// read then write cannot interleave.
		dsn = opts.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_txlock=immediate&_busy_timeout=" +
			strconv.FormatInt(opts.BusyTimeout.Milliseconds(), 10)
	case DriverPostgres:
		dsn = opts.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	sqlDB, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = time.Hour
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d := dialectFor(opts.Driver)
	db := &DB{
		DB:      sqlDB,
		queries: &queries{conn: sqlDB, d: d},
		driver:  opts.Driver,
		path:    opts.Path,
		logger:  logger,
	}

	if err := db.createTables(ctx, d.schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", opts.Driver).Str("path", opts.Path).Msg("database initialized")
	return db, nil
}

func (db *DB) createTables(ctx context.Context, schema []string) error {
	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", strings.TrimSpace(query), err)
		}
	}
	return nil
}

// InTx runs fn in one transaction.
func (db *DB) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := db.BeginTx(ctx, db.queries.d.txOptions)
	if err != nil {
		return fmt.Errorf("begin tx: %w", translate(err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&queries{conn: tx, d: db.queries.d}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translate(err))
	}
	return nil
}

// Ping checks that the database answers.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return translate(err)
	}
	return nil
}

// DriverName returns the configured driver name.
func (db *DB) DriverName() string {
	return db.driver
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type dialect struct {
	dollar    bool
	forUpdate string
	skipLock  string
	txOptions *sql.TxOptions
	schema    []string
}

func dialectFor(driver string) dialect {
	if driver == DriverPostgres {
		return dialect{
			dollar:    true,
			forUpdate: " FOR UPDATE",
			skipLock:  " FOR UPDATE SKIP LOCKED",
			txOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
			schema:    postgresSchema,
		}
	}
	// sqlite serializes writers, row locks are implicit.
	return dialect{schema: sqliteSchema}
}

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plate TEXT UNIQUE NOT NULL,
		is_blocked BOOLEAN NOT NULL DEFAULT 0,
		user_id INTEGER REFERENCES users(id),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_daily BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rate_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rate_id INTEGER NOT NULL REFERENCES rates(id) ON DELETE CASCADE,
		start_date TEXT,
		end_date TEXT,
		start_hour TEXT,
		end_hour TEXT,
		amount INTEGER NOT NULL CHECK (amount >= 0),
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS parking_spots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_available BOOLEAN NOT NULL DEFAULT 1,
		is_out_of_service BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		status TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME,
		user_id INTEGER REFERENCES users(id),
		car_id INTEGER NOT NULL REFERENCES cars(id),
		parking_spot_id INTEGER NOT NULL REFERENCES parking_spots(id),
		rate_id INTEGER NOT NULL REFERENCES rates(id),
		debit INTEGER NOT NULL DEFAULT 0,
		credit INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS financial_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trx_date DATETIME NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('CHARGE', 'PAYMENT')),
		debit INTEGER NOT NULL DEFAULT 0 CHECK (debit >= 0),
		credit INTEGER NOT NULL DEFAULT 0 CHECK (credit >= 0),
		user_id INTEGER REFERENCES users(id),
		reservation_id INTEGER NOT NULL REFERENCES reservations(id),
		period DATETIME,
		CHECK ((type = 'CHARGE' AND credit = 0) OR (type = 'PAYMENT' AND debit = 0))
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_date DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		parking_spot_id INTEGER NOT NULL REFERENCES parking_spots(id),
		reservation_id INTEGER NOT NULL REFERENCES reservations(id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_open_car ON reservations(car_id) WHERE status = 'CHECKED_IN'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_open_spot ON reservations(parking_spot_id) WHERE status = 'CHECKED_IN'`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_rate ON reservations(rate_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_period ON financial_transactions(reservation_id, period)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_reservation ON financial_transactions(reservation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_reservation ON events(reservation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rate_details_rate ON rate_details(rate_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cars (
		id BIGSERIAL PRIMARY KEY,
		plate TEXT UNIQUE NOT NULL,
		is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		user_id BIGINT REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rates (
		id BIGSERIAL PRIMARY KEY,
		title TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_daily BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rate_details (
		id BIGSERIAL PRIMARY KEY,
		rate_id BIGINT NOT NULL REFERENCES rates(id) ON DELETE CASCADE,
		start_date TEXT,
		end_date TEXT,
		start_hour TEXT,
		end_hour TEXT,
		amount BIGINT NOT NULL CHECK (amount >= 0),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS parking_spots (
		id BIGSERIAL PRIMARY KEY,
		title TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		is_out_of_service BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id BIGSERIAL PRIMARY KEY,
		status TEXT NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ,
		user_id BIGINT REFERENCES users(id),
		car_id BIGINT NOT NULL REFERENCES cars(id),
		parking_spot_id BIGINT NOT NULL REFERENCES parking_spots(id),
		rate_id BIGINT NOT NULL REFERENCES rates(id),
		debit BIGINT NOT NULL DEFAULT 0,
		credit BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS financial_transactions (
		id BIGSERIAL PRIMARY KEY,
		trx_date TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('CHARGE', 'PAYMENT')),
		debit BIGINT NOT NULL DEFAULT 0 CHECK (debit >= 0),
		credit BIGINT NOT NULL DEFAULT 0 CHECK (credit >= 0),
		user_id BIGINT REFERENCES users(id),
		reservation_id BIGINT NOT NULL REFERENCES reservations(id),
		period TIMESTAMPTZ,
		CHECK ((type = 'CHARGE' AND credit = 0) OR (type = 'PAYMENT' AND debit = 0))
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		event_date TIMESTAMPTZ NOT NULL,
		event_type TEXT NOT NULL,
		parking_spot_id BIGINT NOT NULL REFERENCES parking_spots(id),
		reservation_id BIGINT NOT NULL REFERENCES reservations(id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_open_car ON reservations(car_id) WHERE status = 'CHECKED_IN'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_open_spot ON reservations(parking_spot_id) WHERE status = 'CHECKED_IN'`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_rate ON reservations(rate_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_period ON financial_transactions(reservation_id, period)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_reservation ON financial_transactions(reservation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_reservation ON events(reservation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rate_details_rate ON rate_details(rate_id)`,
}
