package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "list":
		handleList(ctx)
	case "stats":
		handleStats(ctx)
	case "messages":
		handleMessages()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`MIX Admin Tool

Usage:
  mix-admin <command> [options]

Commands:
  list      List indexed mailboxes
  stats     Show index statistics
  messages  Show message summaries from a mailbox file or maildir
  help      Show this help message

Examples:
  mix-admin list --index mix-index.db
  mix-admin stats --config /path/to/config.toml
  mix-admin messages --path ~/mail/old_mail.gz --limit 10

Use 'mix-admin <command> --help' for more information about a command.
`)
}
