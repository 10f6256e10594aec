package report

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"parkly/internal/database"
	"parkly/internal/database/dbtest"
	"parkly/internal/models"
	"parkly/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func seedClosed(t *testing.T, db *database.DB, plate string, from time.Time, minutes int, debitCents, creditCents int64) int64 {
	t.Helper()
	ctx := context.Background()

	car := &models.Car{Plate: plate}
	require.NoError(t, db.CreateCar(ctx, car))
	rate, err := db.GetRateByTitle(ctx, models.DefaultRateTitle)
	if err != nil {
		rate = &models.Rate{Title: models.DefaultRateTitle}
		require.NoError(t, db.CreateRate(ctx, rate))
	}
	spot := &models.ParkingSpot{Title: "spot-" + plate}
	require.NoError(t, db.CreateSpot(ctx, spot))

	r := &models.Reservation{StartDate: from, CarID: car.ID, ParkingSpotID: spot.ID, RateID: rate.ID}
	require.NoError(t, db.CreateReservation(ctx, r))
	require.NoError(t, db.SetReservationBalance(ctx, r.ID, debitCents, creditCents))
	require.NoError(t, db.CloseReservation(ctx, r.ID, from.Add(time.Duration(minutes)*time.Minute)))
	return r.ID
}

func newService(t *testing.T) (*Service, *database.DB) {
	t.Helper()
	db := dbtest.New(t)
	return NewService(db, time.UTC, zerolog.Nop()), db
}

func TestStatement(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)

	first := seedClosed(t, db, "AB1234", start, 90, 1500, 1500)
	seedClosed(t, db, "CD5678", start.Add(24*time.Hour), 30, 500, 0)

	rows, err := svc.Statement(ctx, store.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first, rows[0].ReservationID)
	assert.Equal(t, 90*time.Minute, rows[0].Duration())
	assert.True(t, rows[0].Balance().IsZero())
	assert.Equal(t, "5.00", models.FormatMoney(rows[1].Balance()))

	car, err := db.GetCarByPlate(ctx, "CD5678")
	require.NoError(t, err)
	rows, err = svc.Statement(ctx, store.ReservationFilter{CarID: car.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "CD5678", rows[0].Plate)

	_, err = svc.Statement(ctx, store.ReservationFilter{From: start, To: start.Add(-time.Hour)})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestValues(t *testing.T) {
	svc := NewService(nil, time.FixedZone("UTC+3", 3*3600), zerolog.Nop())
	rows := []Row{{
		ReservationID: 7,
		Plate:         "AB1234",
		Start:         start,
		End:           start.Add(125 * time.Minute),
	}}
	rows[0].Debit, rows[0].Credit = models.FromCents(2000), models.FromCents(500)

	values := svc.Values(rows)
	require.Len(t, values, 1)
	assert.Equal(t, []interface{}{
		int64(7), "AB1234", "2024-03-01 12:00", "2024-03-01 14:05", "2:05", "20.00", "5.00", "15.00",
	}, values[0])
}

func TestWriteExcel(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)
	seedClosed(t, db, "AB1234", start, 60, 1000, 400)

	var buf bytes.Buffer
	require.NoError(t, svc.WriteExcel(ctx, store.ReservationFilter{}, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Statement")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, "AB1234", rows[1][1])
	assert.Equal(t, "1:00", rows[1][4])
	assert.Equal(t, []string{"Total", "", "", "", "", "10.00", "4.00", "6.00"}, rows[2])
}

func TestExcelWriter_NoSheet(t *testing.T) {
	w := NewExcelWriter()
	defer w.Close()
	assert.ErrorIs(t, w.WriteRow([]interface{}{"x"}), errNoSheet)
}

func TestSheetsExporter_Export(t *testing.T) {
	var (
		mu       sync.Mutex
		calls    []string
		uploaded sheets.ValueRange
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.Method)
		assert.True(t, strings.Contains(r.URL.Path, "/spreadsheets/sheet-id/values/"), r.URL.Path)
		if r.Method == http.MethodPut {
			assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&uploaded))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	svc := NewService(nil, time.UTC, zerolog.Nop())
	exporter, err := NewSheetsExporter(context.Background(), svc, "", "sheet-id", "", zerolog.Nop(),
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)

	rows := []Row{{ReservationID: 1, Plate: "AB1234", Start: start, End: start.Add(time.Hour), Debit: models.FromCents(1000)}}
	require.NoError(t, exporter.Export(context.Background(), rows))

	assert.Equal(t, []string{http.MethodPost, http.MethodPut}, calls)
	require.Len(t, uploaded.Values, 3)
	assert.Equal(t, "Reservation", uploaded.Values[0][0])
	assert.Equal(t, "AB1234", uploaded.Values[1][1])
	assert.Equal(t, "Total", uploaded.Values[2][0])
}

func TestNewSheetsExporter_RequiresSpreadsheet(t *testing.T) {
	_, err := NewSheetsExporter(context.Background(), nil, "", "", "", zerolog.Nop(), option.WithoutAuthentication())
	assert.Error(t, err)
}
