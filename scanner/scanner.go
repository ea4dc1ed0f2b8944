// Package scanner discovers mailboxes under the configured search roots.
// Each detected mailbox is passed through the registered config callbacks,
// given its per-path metadata, registered, and queued for a rescan that
// populates the index.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mixmail/mix/config"
	"github.com/mixmail/mix/logger"
	"github.com/mixmail/mix/mailbox"
	"github.com/mixmail/mix/pkg/metrics"
	"github.com/mixmail/mix/rewrite"
)

// Scanner walks the search roots and feeds the registry and task queue.
type Scanner struct {
	storage   config.StorageConfig
	follow    bool
	callbacks *rewrite.Registry
	registry  *mailbox.Registry
	queue     *Queue
}

func New(cfg config.Config, callbacks *rewrite.Registry, registry *mailbox.Registry, queue *Queue) *Scanner {
	return &Scanner{
		storage:   cfg.Storage,
		follow:    cfg.Scan.FollowSymlinks,
		callbacks: callbacks,
		registry:  registry,
		queue:     queue,
	}
}

// Scan walks every search root once and returns the number of newly
// registered mailboxes. Unreadable entries are logged and skipped; the
// scan itself only fails when the context is cancelled.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.ScansTotal.Inc()
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	seen := make(map[string]struct{})
	discovered := 0
	for _, root := range s.storage.Search {
		logger.Debug("SCANNER: scanning root", "path", root)
		if err := s.walk(ctx, root, seen, &discovered); err != nil {
			return discovered, err
		}
	}
	logger.Info("SCANNER: scan finished",
		"discovered", discovered, "registered", s.registry.Len(), "elapsed", time.Since(start))
	return discovered, nil
}

func (s *Scanner) walk(ctx context.Context, root string, seen map[string]struct{}, discovered *int) error {
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Error("SCANNER: cannot access entry", "path", path, "error", err)
			metrics.ScanErrorsTotal.Inc()
			return nil
		}
		if s.cutoff(seen, path, d) {
			logger.Debug("SCANNER: not descending", "path", path)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if s.follow {
				s.followSymlink(ctx, path, seen, discovered)
			}
			return nil
		}

		m, err := mailbox.Detect(path, d)
		if err != nil {
			logger.Error("SCANNER: failed to detect mailbox", "path", path, "error", err)
			metrics.ScanErrorsTotal.Inc()
			return nil
		}
		if m == nil {
			return nil
		}
		seen[path] = struct{}{}
		if s.found(m) {
			*discovered++
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if walkErr != nil {
		logger.Error("SCANNER: failed to walk root", "path", root, "error", walkErr)
		metrics.ScanErrorsTotal.Inc()
	}
	return nil
}

// cutoff reports whether the walk should skip this entry entirely: direct
// duplicates, and the cur/new/tmp subdirectories owned by an already
// detected maildir.
func (s *Scanner) cutoff(seen map[string]struct{}, path string, d fs.DirEntry) bool {
	if _, dup := seen[path]; dup {
		return true
	}
	if !d.IsDir() {
		return false
	}
	base := filepath.Base(path)
	for _, sub := range mailbox.MaildirSubdirs {
		if base == sub {
			_, parentSeen := seen[filepath.Dir(path)]
			return parentSeen
		}
	}
	return false
}

// followSymlink resolves a symlink and continues discovery at its target.
// Already visited targets are skipped, which also breaks symlink cycles.
func (s *Scanner) followSymlink(ctx context.Context, path string, seen map[string]struct{}, discovered *int) {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		logger.Error("SCANNER: failed to resolve symlink", "path", path, "error", err)
		metrics.ScanErrorsTotal.Inc()
		return
	}
	if _, dup := seen[target]; dup {
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		logger.Error("SCANNER: failed to stat symlink target", "path", target, "error", err)
		metrics.ScanErrorsTotal.Inc()
		return
	}

	if info.IsDir() {
		seen[path] = struct{}{}
		if err := s.walk(ctx, target, seen, discovered); err != nil {
			logger.Error("SCANNER: failed to walk symlink target", "path", target, "error", err)
		}
		return
	}

	m, err := mailbox.Detect(target, fs.FileInfoToDirEntry(info))
	if err != nil {
		logger.Error("SCANNER: failed to detect mailbox", "path", target, "error", err)
		metrics.ScanErrorsTotal.Inc()
		return
	}
	if m == nil {
		return
	}
	seen[target] = struct{}{}
	if s.found(m) {
		*discovered++
	}
}

// found configures and registers a detected mailbox. Returns true when the
// mailbox is new.
func (s *Scanner) found(m *mailbox.Mailbox) bool {
	if registered, ok := s.registry.GetByPath(m.Path()); ok {
		// Known from an earlier scan. The refresh must carry the registered
		// mailbox: the fresh detection still has the raw base name and no
		// metadata, and an upsert from it would clobber the index row.
		s.queue.Push(Task{Type: TaskRescan, Mailbox: registered})
		return false
	}

	if meta, ok := s.storage.Meta[m.Path()]; ok {
		m.SetPrio(meta.Prio)
		m.SetShortcut(meta.Shortcut)
	}

	original := m.Name()
	s.callbacks.Apply(m)
	if m.Name() != original {
		metrics.NameRewritesTotal.Inc()
		logger.Debug("SCANNER: display name rewritten", "from", original, "to", m.Name())
	}

	if err := s.registry.Add(m); err != nil {
		logger.Error("SCANNER: failed to register mailbox",
			"path", m.Path(), "name", m.Name(), "error", err)
		metrics.ScanErrorsTotal.Inc()
		return false
	}

	metrics.MailboxesRegistered.WithLabelValues(m.Kind().String()).Inc()
	s.queue.Push(Task{Type: TaskRescan, Mailbox: m})
	logger.Info("SCANNER: mailbox appeared",
		"name", m.Name(), "path", m.Path(), "kind", m.Kind().String())
	return true
}

// RescanAll queues a rescan for every registered mailbox.
func (s *Scanner) RescanAll() {
	for _, m := range s.registry.List() {
		s.queue.Push(Task{Type: TaskRescan, Mailbox: m})
	}
}

// StartRescanLoop periodically rescans all registered mailboxes until the
// context is cancelled. A non-positive interval disables the loop.
func (s *Scanner) StartRescanLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Debug("SCANNER: periodic rescan", "mailboxes", s.registry.Len())
				s.RescanAll()
			}
		}
	}()
}
