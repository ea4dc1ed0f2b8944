package scanner

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mixmail/mix/config"
	"github.com/mixmail/mix/index"
	"github.com/mixmail/mix/mailbox"
	"github.com/mixmail/mix/rewrite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMbox = `From alice Thu Jan  1 00:00:00 2026
From: Alice <alice@example.com>
Subject: Hello

Hi there.
`

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(data)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func makeMaildir(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	for _, sub := range mailbox.MaildirSubdirs {
		require.NoError(t, os.MkdirAll(filepath.Join(path, sub), 0755))
	}
	return path
}

func newTestScanner(t *testing.T, cfg config.Config) (*Scanner, *mailbox.Registry, *Queue) {
	t.Helper()
	callbacks := rewrite.NewRegistry()
	if r := rewrite.FromConfig(cfg.Rewrite); r != nil {
		callbacks.Register(r.Callback())
	}
	registry := mailbox.NewRegistry()
	queue := NewQueue()
	return New(cfg, callbacks, registry, queue), registry, queue
}

func TestScanDiscoversAndRewrites(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "inbox", []byte(testMbox))
	writeFile(t, root, "old_mail.gz", gzipBytes(t, []byte(testMbox)))
	writeFile(t, root, "notes.txt", []byte("not a mailbox\n"))
	makeMaildir(t, root, "work_stuff")

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{root}
	s, registry, queue := newTestScanner(t, cfg)

	discovered, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, discovered)
	assert.Equal(t, 3, registry.Len())
	assert.Equal(t, 3, queue.Len())

	// The stock rewriter renamed the compressed mailbox and the maildir.
	m, err := registry.Get("old mail (Archive)")
	require.NoError(t, err)
	assert.Equal(t, mailbox.KindGzip, m.Kind())

	m, err = registry.Get("work stuff")
	require.NoError(t, err)
	assert.Equal(t, mailbox.KindMaildir, m.Kind())

	_, err = registry.Get("inbox")
	require.NoError(t, err)
}

func TestScanAppliesPathMeta(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "urgent", []byte(testMbox))

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{root}
	cfg.Storage.Meta = map[string]config.PathMeta{
		path: {Shortcut: "u", Prio: 9},
	}
	s, registry, _ := newTestScanner(t, cfg)

	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	m, err := registry.Get("urgent")
	require.NoError(t, err)
	assert.Equal(t, 9, m.Prio())
	assert.Equal(t, 'u', m.Shortcut())
}

func TestScanSkipsMaildirInternals(t *testing.T) {
	root := t.TempDir()
	md := makeMaildir(t, root, "box")
	// An mbox file inside cur/ must not be registered as its own mailbox.
	writeFile(t, filepath.Join(md, "cur"), "stray", []byte(testMbox))

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{root}
	s, registry, _ := newTestScanner(t, cfg)

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())

	m, err := registry.Get("box")
	require.NoError(t, err)
	assert.Equal(t, mailbox.KindMaildir, m.Kind())
}

func TestScanDuplicateNamesRejected(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, rootA, "inbox", []byte(testMbox))
	writeFile(t, rootB, "inbox", []byte(testMbox))

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{rootA, rootB}
	s, registry, _ := newTestScanner(t, cfg)

	discovered, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, discovered, "second inbox collides and is skipped")
	assert.Equal(t, 1, registry.Len())
}

func TestScanSecondRunRegistersNothingNew(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "inbox", []byte(testMbox))

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{root}
	s, registry, queue := newTestScanner(t, cfg)

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	for queue.Len() > 0 {
		queue.Pop()
	}

	discovered, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, discovered)
	assert.Equal(t, 1, registry.Len())
	// A known mailbox still gets a refresh task.
	assert.Equal(t, 1, queue.Len())
}

func TestSecondScanKeepsRewrittenIndexEntry(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "old_mail.gz", gzipBytes(t, []byte(testMbox)))

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{root}
	cfg.Storage.Meta = map[string]config.PathMeta{
		path: {Prio: 3},
	}
	s, _, queue := newTestScanner(t, cfg)

	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	w := NewWorker(queue, idx)
	drain := func() {
		for w.Turn(ctx) {
		}
	}

	_, err = s.Scan(ctx)
	require.NoError(t, err)
	drain()

	rec, err := idx.GetByName(ctx, "old mail (Archive)")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Prio)

	// A second scan re-detects the known path. The refresh must not revert
	// the indexed row to the raw file name or drop its metadata.
	_, err = s.Scan(ctx)
	require.NoError(t, err)
	drain()

	rec, err = idx.GetByName(ctx, "old mail (Archive)")
	require.NoError(t, err)
	assert.Equal(t, "old mail (Archive)", rec.Name)
	assert.Equal(t, 3, rec.Prio)
	_, err = idx.GetByName(ctx, "old_mail.gz")
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestScanFollowsSymlinkedRoots(t *testing.T) {
	real := t.TempDir()
	writeFile(t, real, "linked_box", []byte(testMbox))

	root := t.TempDir()
	require.NoError(t, os.Symlink(real, filepath.Join(root, "mail")))

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{root}
	s, registry, _ := newTestScanner(t, cfg)

	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	_, err = registry.Get("linked box")
	require.NoError(t, err)

	// With symlink following disabled nothing is found.
	cfg.Scan.FollowSymlinks = false
	s2, registry2, _ := newTestScanner(t, cfg)
	_, err = s2.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, registry2.Len())
}

func TestScanMissingRootContinues(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "inbox", []byte(testMbox))

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{filepath.Join(root, "does-not-exist"), root}
	s, registry, _ := newTestScanner(t, cfg)

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())
}

func TestScanCancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "inbox", []byte(testMbox))

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{root}
	s, _, _ := newTestScanner(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
