package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

var errNoSheet = errors.New("no active sheet")

// ExcelWriter writes rows into an in-memory workbook.
type ExcelWriter struct {
	file       *excelize.File
	sheet      string
	currentRow int
	bold       int
}

func NewExcelWriter() *ExcelWriter {
	return &ExcelWriter{file: excelize.NewFile()}
}

// AddSheet switches to a new sheet. The first call renames the default one.
func (w *ExcelWriter) AddSheet(name string) error {
	// Excel limit
	if len(name) > 31 {
		name = name[:31]
	}

	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.sheet = name
	w.currentRow = 1
	return nil
}

func (w *ExcelWriter) WriteHeader(columns []string) error {
	row := make([]interface{}, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.WriteRow(row); err != nil {
		return err
	}
	w.styleRow(w.currentRow-1, len(columns))
	return w.file.SetPanes(w.sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func (w *ExcelWriter) WriteRow(row []interface{}) error {
	if w.sheet == "" {
		return errNoSheet
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

// WriteTotals writes a bold summary row.
func (w *ExcelWriter) WriteTotals(row []interface{}) error {
	if err := w.WriteRow(row); err != nil {
		return err
	}
	w.styleRow(w.currentRow-1, len(row))
	return nil
}

func (w *ExcelWriter) styleRow(row, columns int) {
	if w.bold == 0 {
		style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return
		}
		w.bold = style
	}
	start, _ := excelize.CoordinatesToCellName(1, row)
	end, _ := excelize.CoordinatesToCellName(columns, row)
	_ = w.file.SetCellStyle(w.sheet, start, end, w.bold)
}

func (w *ExcelWriter) Save(out io.Writer) error {
	return w.file.Write(out)
}

func (w *ExcelWriter) Close() error {
	return w.file.Close()
}
