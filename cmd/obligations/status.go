package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ArionMiles/obligations/pkg/config"
	"github.com/ArionMiles/obligations/pkg/store/memory"
	"github.com/ArionMiles/obligations/pkg/store/postgres"
)

// runStatus checks the configuration and storage connectivity.
func runStatus(ctx context.Context, logger *slog.Logger) error {
	fmt.Println("=== Obligations Status ===")
	fmt.Println()

	allGood := true

	fmt.Print("Configuration: ")
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		printFinalStatus(false)
		return nil
	}
	fmt.Println("✓ Valid")
	fmt.Printf("  Listen address: %s\n", cfg.Addr)
	fmt.Printf("  Time zone:      %s\n", cfg.Timezone)
	fmt.Printf("  Fetch timeout:  %s\n", cfg.Fetch.Timeout)
	if cfg.Fetch.ProxyURL != "" {
		fmt.Println("  Proxy fallback: enabled")
	}
	fmt.Println()

	fmt.Printf("Store (%s): ", cfg.Store)
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	store, closeStore, err := openStore(checkCtx, cfg, logger)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else {
		defer closeStore()
		counts, err := storeCounts(checkCtx, store)
		if err != nil {
			fmt.Printf("✗ %v\n", err)
			allGood = false
		} else {
			fmt.Println("✓ Reachable")
			printCounts(counts)
		}
	}

	printFinalStatus(allGood)
	return nil
}

func storeCounts(ctx context.Context, store any) (map[string]int, error) {
	switch s := store.(type) {
	case *postgres.Store:
		return s.Stats(ctx)
	case *memory.Store:
		return s.Stats(), nil
	default:
		return nil, fmt.Errorf("unsupported store %T", store)
	}
}

func printCounts(counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-18s %d\n", name, counts[name])
	}
}

func printFinalStatus(allGood bool) {
	fmt.Println()
	if allGood {
		fmt.Println("Status: ✓ Ready to run")
		fmt.Println()
		fmt.Println("Run 'obligations serve' to start the API.")
	} else {
		fmt.Println("Status: ✗ Configuration issues detected")
		fmt.Println()
		fmt.Println("Fix the issues above, then run 'obligations status' again.")
	}
}
