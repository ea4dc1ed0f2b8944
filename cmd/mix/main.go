package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mixmail/mix/api"
	"github.com/mixmail/mix/archiver"
	"github.com/mixmail/mix/config"
	"github.com/mixmail/mix/index"
	"github.com/mixmail/mix/logger"
	"github.com/mixmail/mix/mailbox"
	"github.com/mixmail/mix/rewrite"
	"github.com/mixmail/mix/scanner"
	"github.com/mixmail/mix/storage"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg := config.NewDefaultConfig()

	// Flags override values from the config file when explicitly set.
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	fVersion := flag.Bool("version", false, "Print version and exit")

	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output: 'stderr', 'stdout', 'syslog' or a file path (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.Logging.Level, "Log level: 'debug', 'info', 'warn' or 'error' (overrides config)")

	fAPI := flag.Bool("api", cfg.API.Start, "Start the local HTTP API (overrides config)")
	fSocket := flag.String("socket", cfg.API.Socket, "Unix socket path for the API (overrides config)")
	fAddr := flag.String("addr", cfg.API.Addr, "TCP address for the API, takes precedence over the socket (overrides config)")
	fIndexPath := flag.String("indexpath", cfg.Index.Path, "Path of the sqlite mailbox index (overrides config)")
	fFollowSymlinks := flag.Bool("followsymlinks", cfg.Scan.FollowSymlinks, "Follow symlinks while scanning (overrides config)")
	fRescanInterval := flag.String("rescaninterval", cfg.Scan.RescanInterval, "Periodic rescan interval, '0' disables (overrides config)")

	flag.Parse()

	if *fVersion {
		fmt.Printf("mix %s (built %s)\n", Version, BuildTime)
		return
	}

	if err := config.Load(*configPath, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if isFlagSet("config") {
				log.Fatalf("Specified configuration file '%s' not found", *configPath)
			}
			log.Printf("WARNING: Default configuration file '%s' not found. Using application defaults and command-line flags.", *configPath)
		} else {
			log.Fatalf("Error loading configuration: %v", err)
		}
	}

	if isFlagSet("logoutput") {
		cfg.Logging.Output = *fLogOutput
	}
	if isFlagSet("loglevel") {
		cfg.Logging.Level = *fLogLevel
	}
	if isFlagSet("api") {
		cfg.API.Start = *fAPI
	}
	if isFlagSet("socket") {
		cfg.API.Socket = *fSocket
	}
	if isFlagSet("addr") {
		cfg.API.Addr = *fAddr
	}
	if isFlagSet("indexpath") {
		cfg.Index.Path = *fIndexPath
	}
	if isFlagSet("followsymlinks") {
		cfg.Scan.FollowSymlinks = *fFollowSymlinks
	}
	if isFlagSet("rescaninterval") {
		cfg.Scan.RescanInterval = *fRescanInterval
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.Info("mix starting", "version", Version, "search_paths", len(cfg.Storage.Search))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	idx, err := index.Open(cfg.Index.Path)
	if err != nil {
		logger.Fatalf("Failed to open mailbox index at '%s': %v", cfg.Index.Path, err)
	}
	defer idx.Close()

	callbacks := rewrite.NewRegistry()
	if rw := rewrite.FromConfig(cfg.Rewrite); rw != nil {
		callbacks.Register(rw.Callback())
	}

	registry := mailbox.NewRegistry()
	queue := scanner.NewQueue()
	scn := scanner.New(cfg, callbacks, registry, queue)

	errChan := make(chan error, 1)

	var archiveWorker *archiver.Worker
	if cfg.Archive.Enabled {
		logger.Info("Connecting to S3", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
		s3storage, err := storage.New(cfg.Archive.Endpoint, cfg.Archive.AccessKey, cfg.Archive.SecretKey, cfg.Archive.Bucket, !cfg.Archive.DisableTLS, cfg.Archive.Debug)
		if err != nil {
			logger.Fatalf("Failed to initialize S3 storage at endpoint '%s': %v", cfg.Archive.Endpoint, err)
		}
		retryInterval, err := cfg.Archive.GetRetryInterval()
		if err != nil {
			logger.Fatalf("Invalid archive retry_interval: %v", err)
		}
		maxObjectSize, err := cfg.Archive.GetMaxObjectSize()
		if err != nil {
			logger.Fatalf("Invalid archive max_object_size: %v", err)
		}
		archiveWorker = archiver.New(s3storage, registry, archiver.Options{
			BatchSize:     cfg.Archive.BatchSize,
			Concurrency:   cfg.Archive.Concurrency,
			MaxAttempts:   cfg.Archive.MaxAttempts,
			RetryInterval: retryInterval,
			MaxObjectSize: maxObjectSize,
		})
		archiveWorker.Start(ctx)
	}

	worker := scanner.NewWorker(queue, idx)
	go worker.Run(ctx)

	if _, err := scn.Scan(ctx); err != nil {
		logger.Fatalf("Initial mailbox scan failed: %v", err)
	}
	if archiveWorker != nil {
		archiveWorker.Notify()
	}

	rescanInterval, err := cfg.Scan.GetRescanInterval()
	if err != nil {
		logger.Fatalf("Invalid rescan_interval: %v", err)
	}
	scn.StartRescanLoop(ctx, rescanInterval)

	if cfg.API.Start {
		go api.Start(ctx, api.ServerOptions{
			Addr:   cfg.API.Addr,
			Socket: cfg.API.Socket,
		}, idx, registry, scn, queue, errChan)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down mix")
	case err := <-errChan:
		logger.Fatalf("Server error: %v", err)
	}
}

func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
