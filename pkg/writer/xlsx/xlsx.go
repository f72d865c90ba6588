// Package xlsx implements a Writer that exports obligations as an Excel workbook.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/writer"
)

// DefaultSheet is the worksheet obligations are written to.
const DefaultSheet = "Obligations"

var columnWidths = []float64{38, 12, 40, 14, 11, 10, 16, 38, 38, 12, 11}

// Writer writes obligations into a single worksheet.
type Writer struct {
	cfg    Config
	logger *slog.Logger
}

// Config holds configuration for the XLSX writer.
type Config struct {
	SheetName string
}

// New creates a new XLSX writer.
func New(cfg Config, logger *slog.Logger) *Writer {
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheet
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{cfg: cfg, logger: logger}
}

var _ writer.Writer = (*Writer)(nil)

func (w *Writer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (w *Writer) Extension() string { return "xlsx" }

// Write builds the workbook in memory and writes it to out.
func (w *Writer) Write(ctx context.Context, out io.Writer, obligations []*api.Obligation) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := w.cfg.SheetName
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if sheet != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return fmt.Errorf("removing default sheet: %w", err)
		}
	}

	if err := setRow(f, sheet, 1, writer.Headers); err != nil {
		return err
	}

	for i, o := range obligations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := setRow(f, sheet, i+2, writer.Record(o, writer.PlainAmount)); err != nil {
			return err
		}
	}

	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("naming column %d: %w", i+1, err)
		}
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("setting column width: %w", err)
		}
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}

	w.logger.Debug("wrote obligations to xlsx", "count", len(obligations), "sheet", sheet)
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("naming cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("writing cell %s: %w", cell, err)
		}
	}
	return nil
}
