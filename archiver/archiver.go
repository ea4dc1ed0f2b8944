// Package archiver mirrors compressed mailboxes to S3-compatible object
// storage. Objects are content-addressed by BLAKE3 hash, so a mailbox is
// only uploaded again after its content changes.
package archiver

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mixmail/mix/logger"
	"github.com/mixmail/mix/mailbox"
	"github.com/mixmail/mix/pkg/metrics"
)

// S3 is the object storage surface the worker needs. Satisfied by
// *storage.S3Storage; mocked in tests.
type S3 interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body io.Reader, size int64) error
}

// Options configures the mirror worker.
type Options struct {
	BatchSize     int
	Concurrency   int
	MaxAttempts   int
	RetryInterval time.Duration
	MaxObjectSize int64
}

// Worker mirrors gzip mailboxes in the background.
type Worker struct {
	s3       S3
	registry *mailbox.Registry
	opts     Options

	notifyCh chan struct{}

	mu       sync.Mutex
	mirrored map[string]string // path -> content hash of the last successful upload
	attempts map[string]int    // path -> consecutive failures
	nextTry  map[string]time.Time
	running  bool
}

func New(s3 S3, registry *mailbox.Registry, opts Options) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Minute
	}
	return &Worker{
		s3:       s3,
		registry: registry,
		opts:     opts,
		notifyCh: make(chan struct{}, 1),
		mirrored: make(map[string]string),
		attempts: make(map[string]int),
		nextTry:  make(map[string]time.Time),
	}
}

// Start launches the worker loop. Calling Start twice is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
	logger.Info("ARCHIVER: worker started",
		"batch_size", w.opts.BatchSize, "concurrency", w.opts.Concurrency)
}

// Notify wakes the worker up, e.g. after a scan registered new mailboxes.
func (w *Worker) Notify() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.opts.RetryInterval)
	defer ticker.Stop()

	w.ProcessBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("ARCHIVER: worker stopped")
			return
		case <-w.notifyCh:
		case <-ticker.C:
		}
		w.ProcessBatch(ctx)
	}
}

// ProcessBatch mirrors up to BatchSize pending mailboxes, bounded by the
// configured concurrency. Returns the number of successful uploads.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	pending := w.collectPending()
	if len(pending) == 0 {
		return 0
	}
	if len(pending) > w.opts.BatchSize {
		pending = pending[:w.opts.BatchSize]
	}

	sem := make(chan struct{}, w.opts.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	uploaded := 0

	for _, m := range pending {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(m *mailbox.Mailbox) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := w.mirror(ctx, m); err != nil {
				w.recordFailure(m.Path())
				metrics.ArchiveUploadsTotal.WithLabelValues("error").Inc()
				logger.Error("ARCHIVER: failed to mirror mailbox",
					"mailbox", m.Name(), "error", err)
				return
			}
			mu.Lock()
			uploaded++
			mu.Unlock()
		}(m)
	}
	wg.Wait()
	return uploaded
}

// collectPending returns the gzip mailboxes currently eligible for a
// mirror attempt.
func (w *Worker) collectPending() []*mailbox.Mailbox {
	now := time.Now()
	var pending []*mailbox.Mailbox

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.registry.List() {
		if m.Kind() != mailbox.KindGzip {
			continue
		}
		path := m.Path()
		if w.attempts[path] >= w.opts.MaxAttempts {
			continue
		}
		if t, ok := w.nextTry[path]; ok && now.Before(t) {
			continue
		}
		pending = append(pending, m)
	}
	return pending
}

func (w *Worker) mirror(ctx context.Context, m *mailbox.Mailbox) error {
	hash, err := m.ContentHash()
	if err != nil {
		return err
	}

	w.mu.Lock()
	done := w.mirrored[m.Path()] == hash
	w.mu.Unlock()
	if done {
		metrics.ArchiveUploadsTotal.WithLabelValues("unchanged").Inc()
		return nil
	}

	info, err := os.Stat(m.Path())
	if err != nil {
		return fmt.Errorf("failed to stat mailbox %s: %w", m.Path(), err)
	}
	if w.opts.MaxObjectSize > 0 && info.Size() > w.opts.MaxObjectSize {
		// Permanently oversized; do not retry until content changes.
		w.recordSuccess(m.Path(), hash)
		metrics.ArchiveUploadsTotal.WithLabelValues("oversized").Inc()
		logger.Warn("ARCHIVER: mailbox exceeds object size limit, skipped",
			"mailbox", m.Name(), "size", info.Size(), "limit", w.opts.MaxObjectSize)
		return nil
	}

	exists, err := w.s3.Exists(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		w.recordSuccess(m.Path(), hash)
		metrics.ArchiveUploadsTotal.WithLabelValues("deduplicated").Inc()
		return nil
	}

	f, err := os.Open(m.Path())
	if err != nil {
		return fmt.Errorf("failed to open mailbox %s: %w", m.Path(), err)
	}
	defer f.Close()

	if err := w.s3.Put(ctx, hash, f, info.Size()); err != nil {
		return err
	}

	w.recordSuccess(m.Path(), hash)
	metrics.ArchiveUploadsTotal.WithLabelValues("uploaded").Inc()
	metrics.ArchiveUploadBytes.Add(float64(info.Size()))
	logger.Info("ARCHIVER: mailbox mirrored",
		"mailbox", m.Name(), "key", hash, "size", info.Size())
	return nil
}

func (w *Worker) recordSuccess(path, hash string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mirrored[path] = hash
	delete(w.attempts, path)
	delete(w.nextTry, path)
}

func (w *Worker) recordFailure(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[path]++
	w.nextTry[path] = time.Now().Add(w.opts.RetryInterval)
	if w.attempts[path] >= w.opts.MaxAttempts {
		logger.Warn("ARCHIVER: giving up on mailbox after repeated failures",
			"path", path, "attempts", w.attempts[path])
	}
}
