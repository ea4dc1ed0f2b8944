package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"

	"github.com/mixmail/mix/config"
	"github.com/mixmail/mix/index"
)

func handleStats(ctx context.Context) {
	flags := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := flags.String("config", "config.toml", "Path to TOML configuration file")
	indexPath := flags.String("index", "", "Path of the sqlite index (overrides config)")

	flags.Usage = func() {
		fmt.Printf(`Show index statistics

Usage:
  mix-admin stats [options]

Options:
  --config string  Path to TOML configuration file (default "config.toml")
  --index string   Path of the sqlite index (overrides config)
`)
	}
	flags.Parse(os.Args[2:])

	idx := openIndex(*configPath, *indexPath)
	defer idx.Close()

	stats, err := idx.Stats(ctx)
	if err != nil {
		log.Fatalf("Failed to read index statistics: %v", err)
	}

	fmt.Printf("Mailboxes: %d\n", stats.Mailboxes)
	fmt.Printf("Messages:  %d\n", stats.Messages)
	if !stats.OldestScanned.IsZero() {
		fmt.Printf("Oldest scan: %s\n", stats.OldestScanned.Format("2006-01-02 15:04:05"))
	}
	kinds := make([]string, 0, len(stats.PerKind))
	for kind := range stats.PerKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("  %-8s %d\n", kind, stats.PerKind[kind])
	}
}

// openIndex resolves the index path from the flag or the config file and
// opens it. Missing config files are tolerated when the index path is
// given explicitly.
func openIndex(configPath, indexPath string) *index.Index {
	if indexPath == "" {
		cfg := config.NewDefaultConfig()
		if err := config.Load(configPath, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Fatalf("Error loading configuration: %v", err)
		}
		indexPath = cfg.Index.Path
	}

	idx, err := index.Open(indexPath)
	if err != nil {
		log.Fatalf("Failed to open mailbox index at '%s': %v", indexPath, err)
	}
	return idx
}
