package report

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsExporter replaces the contents of one sheet with a statement.
type SheetsExporter struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	report        *Service
	logger        zerolog.Logger
}

// NewSheetsExporter authenticates with a service account credentials file.
// Extra options are appended, so tests can point it at a local endpoint.
func NewSheetsExporter(
	ctx context.Context,
	report *Service,
	credentialsFile, spreadsheetID, sheetName string,
	logger zerolog.Logger,
	opts ...option.ClientOption,
) (*SheetsExporter, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if sheetName == "" {
		sheetName = "Statements"
	}

	clientOpts := opts
	if credentialsFile != "" {
		clientOpts = append([]option.ClientOption{option.WithCredentialsFile(credentialsFile)}, opts...)
	}
	srv, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &SheetsExporter{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		report:        report,
		logger:        logger.With().Str("component", "sheets").Logger(),
	}, nil
}

// Export clears the sheet and writes the header, rows and totals.
func (e *SheetsExporter) Export(ctx context.Context, rows []Row) error {
	values := make([][]interface{}, 0, len(rows)+2)
	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	values = append(values, header)
	values = append(values, e.report.Values(rows)...)
	values = append(values, totals(rows))

	sheetRange := e.sheetName + "!A:H"
	if _, err := e.service.Spreadsheets.Values.Clear(e.spreadsheetID, sheetRange, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}

	if _, err := e.service.Spreadsheets.Values.Update(e.spreadsheetID, e.sheetName+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("update sheet: %w", err)
	}

	e.logger.Info().Int("rows", len(rows)).Str("sheet", e.sheetName).Msg("statement exported to google sheets")
	return nil
}
