package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/obligations/internal/server"
	"github.com/ArionMiles/obligations/pkg/config"
	"github.com/ArionMiles/obligations/pkg/events"
	"github.com/ArionMiles/obligations/pkg/ingest"
	"github.com/ArionMiles/obligations/pkg/registry"
	"github.com/ArionMiles/obligations/pkg/report"
)

// runServe starts the HTTP API and blocks until ctx is cancelled.
func runServe(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		"addr", cfg.Addr,
		"store", cfg.Store,
		"timezone", cfg.Timezone,
		"fetch_timeout", cfg.Fetch.Timeout,
		"proxy_fallback", cfg.Fetch.ProxyURL != "",
	)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	fetcher, err := newFetcher(cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Store:    store,
		Events:   events.New(store, logger),
		Ingest:   ingest.New(fetcher, store, logger),
		Previews: ingest.NewPreviewCache(cfg.Ingest.PreviewTTL),
		Registry: registry.New(store, logger),
		Reports:  report.New(store),
	}, server.Options{
		IngestLimiter:   server.NewLimiter(cfg.Ingest.RatePerMinute, cfg.Ingest.RateBurst),
		Location:        cfg.Location(),
		ExportLocalized: cfg.ExportLocalized,
	}, logger)

	return srv.Run(ctx, cfg.Addr, cfg.ShutdownGrace)
}
