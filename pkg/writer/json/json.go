// Package json implements a Writer that exports obligations as a JSON array.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/writer"
)

// Writer writes obligations as a JSON array.
type Writer struct {
	cfg    Config
	logger *slog.Logger
}

// Config holds configuration for the JSON writer.
type Config struct {
	// Indent pretty-prints the output with two spaces.
	Indent bool
}

// New creates a new JSON writer.
func New(cfg Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{cfg: cfg, logger: logger}
}

var _ writer.Writer = (*Writer)(nil)

func (w *Writer) ContentType() string { return "application/json" }

func (w *Writer) Extension() string { return "json" }

// Write encodes obligations. An empty list is written as [].
func (w *Writer) Write(ctx context.Context, out io.Writer, obligations []*api.Obligation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if obligations == nil {
		obligations = []*api.Obligation{}
	}

	enc := json.NewEncoder(out)
	if w.cfg.Indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(obligations); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}

	w.logger.Debug("wrote obligations to json", "count", len(obligations))
	return nil
}
