// Package report builds statements of checked-out reservations.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"parkly/internal/models"
	"parkly/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Columns is the statement header.
var Columns = []string{"Reservation", "Plate", "Start", "End", "Duration", "Debit", "Credit", "Balance"}

const timeLayout = "2006-01-02 15:04"

// Row is one closed reservation.
type Row struct {
	ReservationID int64
	Plate         string
	UserID        *int64
	Start         time.Time
	End           time.Time
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

func (r Row) Duration() time.Duration { return r.End.Sub(r.Start) }

func (r Row) Balance() decimal.Decimal { return r.Debit.Sub(r.Credit) }

// Service reads statements from the store.
type Service struct {
	store  store.Queries
	loc    *time.Location
	logger zerolog.Logger
}

func NewService(st store.Queries, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:  st,
		loc:    loc,
		logger: logger.With().Str("component", "report").Logger(),
	}
}

// Statement returns the closed reservations matching f, oldest first.
func (s *Service) Statement(ctx context.Context, f store.ReservationFilter) ([]Row, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, fmt.Errorf("%w: report period ends before it starts", models.ErrInvalidInput)
	}

	list, err := s.store.ListClosedReservations(ctx, f)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(list))
	for _, r := range list {
		rows = append(rows, Row{
			ReservationID: r.ReservationID,
			Plate:         r.Plate,
			UserID:        r.UserID,
			Start:         r.StartDate,
			End:           r.EndDate,
			Debit:         models.FromCents(r.Debit),
			Credit:        models.FromCents(r.Credit),
		})
	}
	return rows, nil
}

// WriteExcel writes the statement for f as an XLSX workbook.
func (s *Service) WriteExcel(ctx context.Context, f store.ReservationFilter, w io.Writer) error {
	rows, err := s.Statement(ctx, f)
	if err != nil {
		return err
	}

	x := NewExcelWriter()
	defer x.Close()

	if err := x.AddSheet("Statement"); err != nil {
		return err
	}
	if err := x.WriteHeader(Columns); err != nil {
		return err
	}
	for _, v := range s.Values(rows) {
		if err := x.WriteRow(v); err != nil {
			return err
		}
	}
	if err := x.WriteTotals(totals(rows)); err != nil {
		return err
	}

	s.logger.Info().Int("rows", len(rows)).Msg("statement exported to xlsx")
	return x.Save(w)
}

// Values renders rows as cells in the service location.
func (s *Service) Values(rows []Row) [][]interface{} {
	out := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		out = append(out, []interface{}{
			r.ReservationID,
			r.Plate,
			r.Start.In(s.loc).Format(timeLayout),
			r.End.In(s.loc).Format(timeLayout),
			formatDuration(r.Duration()),
			models.FormatMoney(r.Debit),
			models.FormatMoney(r.Credit),
			models.FormatMoney(r.Balance()),
		})
	}
	return out
}

func totals(rows []Row) []interface{} {
	debit, credit := decimal.Zero, decimal.Zero
	for _, r := range rows {
		debit = debit.Add(r.Debit)
		credit = credit.Add(r.Credit)
	}
	return []interface{}{
		"Total", "", "", "", "",
		models.FormatMoney(debit),
		models.FormatMoney(credit),
		models.FormatMoney(debit.Sub(credit)),
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	return fmt.Sprintf("%d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
