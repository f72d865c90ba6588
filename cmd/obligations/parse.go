package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ArionMiles/obligations/pkg/client"
	"github.com/ArionMiles/obligations/pkg/config"
	"github.com/ArionMiles/obligations/pkg/ingest"
	"github.com/ArionMiles/obligations/pkg/parser/nfce"
)

// runParse parses a saved receipt page or fetches one by URL and prints the result.
// With -owner, a fetched receipt is also stored for that owner.
func runParse(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	owner := fs.String("owner", "", "store the fetched receipt for this owner id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: obligations parse [-owner id] <file|url>")
	}
	target := fs.Arg(0)
	isURL := strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")

	if *owner != "" && !isURL {
		return errors.New("-owner needs a receipt url")
	}

	var doc *nfce.Document
	if isURL {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		fetcher, err := newFetcher(cfg, logger)
		if err != nil {
			return err
		}

		if *owner != "" {
			return ingestReceipt(ctx, cfg, logger, fetcher, *owner, target)
		}

		// Preview never touches the store.
		doc, err = ingest.New(fetcher, nil, logger).Preview(ctx, target)
		if err != nil {
			return err
		}
	} else {
		markup, err := os.ReadFile(target)
		if err != nil {
			return fmt.Errorf("reading %s: %w", target, err)
		}
		doc = nfce.Parse(string(markup), "")
		if !doc.Usable() {
			logger.Warn("page has neither an access key nor a payable amount", "file", target)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func ingestReceipt(ctx context.Context, cfg *config.Config, logger *slog.Logger, fetcher client.Fetcher, owner, target string) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	id, err := ingest.New(fetcher, store, logger).Ingest(ctx, owner, target, ingest.Edits{})
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
