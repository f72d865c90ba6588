package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ArionMiles/obligations/internal/server"
	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
	"github.com/ArionMiles/obligations/pkg/config"
)

// runExport writes an owner's obligations to a file or stdout.
func runExport(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id (required)")
	format := fs.String("format", server.FormatCSV, "output format: csv, json or xlsx")
	from := fs.String("from", "", "first date, YYYY-MM-DD")
	to := fs.String("to", "", "last date, YYYY-MM-DD")
	status := fs.String("status", "", "confirmed or projected")
	out := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" {
		return errors.New("-owner is required")
	}

	filter, err := exportFilter(*from, *to, *status)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	exporter, err := server.NewExporter(*format, cfg.ExportLocalized, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	list, err := store.ListObligations(ctx, *owner, filter)
	if err != nil {
		return fmt.Errorf("listing obligations: %w", err)
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}

	if err := exporter.Write(ctx, w, list); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	logger.Info("export complete", "owner_id", *owner, "format", exporter.Extension(), "count", len(list))
	return nil
}

func exportFilter(from, to, status string) (api.ObligationFilter, error) {
	var f api.ObligationFilter
	var err error
	if from != "" {
		if f.From, err = calendar.Parse(from); err != nil {
			return f, fmt.Errorf("-from: %w", err)
		}
	}
	if to != "" {
		if f.To, err = calendar.Parse(to); err != nil {
			return f, fmt.Errorf("-to: %w", err)
		}
	}
	if status != "" {
		if f.Status, err = api.ParseStatus(status); err != nil {
			return f, fmt.Errorf("-status: %w", err)
		}
	}
	return f, nil
}
