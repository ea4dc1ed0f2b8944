package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
)

func handleList(ctx context.Context) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	indexPath := fs.String("index", "", "Path of the sqlite index (overrides config)")

	fs.Usage = func() {
		fmt.Printf(`List indexed mailboxes

Usage:
  mix-admin list [options]

Options:
  --config string  Path to TOML configuration file (default "config.toml")
  --index string   Path of the sqlite index (overrides config)
`)
	}
	fs.Parse(os.Args[2:])

	idx := openIndex(*configPath, *indexPath)
	defer idx.Close()

	records, err := idx.List(ctx)
	if err != nil {
		log.Fatalf("Failed to list mailboxes: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No mailboxes indexed.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tPRIO\tMESSAGES\tSCANNED\tPATH")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.Name, rec.Kind, rec.Prio, rec.Messages,
			rec.ScannedAt.Format("2006-01-02 15:04:05"), rec.Path)
	}
	w.Flush()
}
