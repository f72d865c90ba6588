// Package csv implements a Writer that exports obligations as CSV.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/money"
	"github.com/ArionMiles/obligations/pkg/writer"
)

// Writer writes obligations as CSV rows.
type Writer struct {
	cfg    Config
	logger *slog.Logger
}

// Config holds configuration for the CSV writer.
type Config struct {
	// Localized switches to ';' separators and Brazilian amounts ("1.234,56"),
	// the layout spreadsheet software expects under a pt-BR locale.
	Localized bool
}

// New creates a new CSV writer.
func New(cfg Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{cfg: cfg, logger: logger}
}

var _ writer.Writer = (*Writer)(nil)

func (w *Writer) ContentType() string { return "text/csv; charset=utf-8" }

func (w *Writer) Extension() string { return "csv" }

// Write writes a header row followed by one row per obligation.
func (w *Writer) Write(ctx context.Context, out io.Writer, obligations []*api.Obligation) error {
	cw := csv.NewWriter(out)
	formatAmount := writer.PlainAmount
	if w.cfg.Localized {
		cw.Comma = ';'
		formatAmount = money.Format
	}

	if err := cw.Write(writer.Headers); err != nil {
		return fmt.Errorf("writing csv headers: %w", err)
	}

	for _, o := range obligations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cw.Write(writer.Record(o, formatAmount)); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	w.logger.Debug("wrote obligations to csv", "count", len(obligations))
	return nil
}
