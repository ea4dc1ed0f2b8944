package main

import (
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/mixmail/mix/mailbox"
)

func handleMessages() {
	flags := flag.NewFlagSet("messages", flag.ExitOnError)
	path := flags.String("path", "", "Mailbox file or maildir to read (required)")
	limit := flags.Int("limit", 20, "Maximum number of messages to show, 0 for all")

	flags.Usage = func() {
		fmt.Printf(`Show message summaries from a mailbox file or maildir

Usage:
  mix-admin messages [options]

Options:
  --path string  Mailbox file or maildir to read (required)
  --limit int    Maximum number of messages to show, 0 for all (default 20)
`)
	}
	flags.Parse(os.Args[2:])

	if *path == "" {
		fmt.Println("Error: --path is required")
		flags.Usage()
		os.Exit(1)
	}

	info, err := os.Stat(*path)
	if err != nil {
		log.Fatalf("Failed to stat '%s': %v", *path, err)
	}
	m, err := mailbox.Detect(*path, fs.FileInfoToDirEntry(info))
	if err != nil {
		log.Fatalf("Failed to detect mailbox type of '%s': %v", *path, err)
	}
	if m == nil {
		log.Fatalf("'%s' is not a recognized mailbox", *path)
	}

	infos, err := m.Messages(*limit)
	if err != nil {
		log.Fatalf("Failed to read messages: %v", err)
	}
	if len(infos) == 0 {
		fmt.Println("Mailbox is empty.")
		return
	}

	fmt.Printf("%s (%s), showing %d message(s):\n\n", m.Name(), m.Kind(), len(infos))
	for i, msg := range infos {
		fmt.Printf("%3d  %s\n", i+1, msg.Subject)
		fmt.Printf("     From: %s\n", msg.From)
		if !msg.Date.IsZero() {
			fmt.Printf("     Date: %s\n", msg.Date.Format("2006-01-02 15:04:05"))
		}
		if msg.Preview != "" {
			fmt.Printf("     %s\n", msg.Preview)
		}
		fmt.Println()
	}
}
