package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"parkly/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), models.ErrStoreUnavailable},
		{"conn done", sql.ErrConnDone, models.ErrStoreUnavailable},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, models.ErrStoreUnavailable},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, models.ErrDuplicate},
		{"sqlite fk", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, models.ErrReferenced},
		{"pg unique", &pgconn.PgError{Code: "23505"}, models.ErrDuplicate},
		{"pg fk", &pgconn.PgError{Code: "23503"}, models.ErrReferenced},
		{"pg lock timeout", &pgconn.PgError{Code: "55P03"}, models.ErrStoreUnavailable},
		{"pg connection", &pgconn.PgError{Code: "08006"}, models.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translate(tt.in), tt.want)
		})
	}

	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(sql.ErrNoRows), sql.ErrNoRows)

	plain := errors.New("plain")
	assert.Equal(t, plain, translate(plain))
	assert.ErrorIs(t, notFound(sql.ErrNoRows, models.ErrCarNotFound), models.ErrCarNotFound)
}

func TestRebind(t *testing.T) {
	pg := dialectFor(DriverPostgres)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, " FOR UPDATE SKIP LOCKED", pg.skipLock)

	lite := dialectFor(DriverSQLite)
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
	assert.Empty(t, lite.forUpdate)
}
