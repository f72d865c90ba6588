package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/client"
	"github.com/ArionMiles/obligations/pkg/config"
	"github.com/ArionMiles/obligations/pkg/store/memory"
	"github.com/ArionMiles/obligations/pkg/store/postgres"
)

// openStore returns the configured store and a function that releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (api.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg := cfg.Postgres
		store, err := postgres.New(ctx, postgres.Config{
			URL:         pg.URL,
			Host:        pg.Host,
			Port:        pg.Port,
			Database:    pg.Database,
			User:        pg.User,
			Password:    pg.Password,
			SSLMode:     pg.SSLMode,
			MaxPoolSize: pg.MaxConns,
		}, logger.With("component", "postgres"))
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return store, store.Close, nil
	default:
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	}
}

// newFetcher builds the direct fetcher and, when a proxy is configured, wraps
// it with a proxied fallback.
func newFetcher(cfg *config.Config, logger *slog.Logger) (client.Fetcher, error) {
	base := client.Config{
		Timeout:      cfg.Fetch.Timeout,
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}

	direct, err := client.New(base, logger)
	if err != nil {
		return nil, fmt.Errorf("creating fetcher: %w", err)
	}
	if cfg.Fetch.ProxyURL == "" {
		return direct, nil
	}

	proxied := base
	proxied.ProxyURL = cfg.Fetch.ProxyURL
	secondary, err := client.New(proxied, logger)
	if err != nil {
		return nil, fmt.Errorf("creating proxied fetcher: %w", err)
	}
	return &client.Fallback{Primary: direct, Secondary: secondary, Logger: logger}, nil
}
