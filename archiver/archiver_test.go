package archiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mixmail/mix/mailbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	stats   int
	failPut bool
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (s *mockS3) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats++
	_, ok := s.objects[key]
	return ok, nil
}

func (s *mockS3) Put(_ context.Context, key string, body io.Reader, _ int64) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failPut {
		return fmt.Errorf("injected upload failure")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func writeGzipMbox(t *testing.T, dir, name, body string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("From a Thu Jan  1 00:00:00 2026\nSubject: x\n\n" + body + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func setupWorker(t *testing.T, s3 S3) (*Worker, *mailbox.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	registry := mailbox.NewRegistry()
	w := New(s3, registry, Options{
		BatchSize:     10,
		Concurrency:   2,
		MaxAttempts:   2,
		RetryInterval: time.Hour, // no automatic retries during tests
	})
	return w, registry, dir
}

func TestProcessBatchUploadsGzipMailboxes(t *testing.T) {
	s3 := newMockS3()
	w, registry, dir := setupWorker(t, s3)

	gzPath := writeGzipMbox(t, dir, "old.gz", "archived mail")
	require.NoError(t, registry.Add(mailbox.New(gzPath, mailbox.KindGzip)))
	// Non-gzip mailboxes are never mirrored.
	plain := filepath.Join(dir, "inbox")
	require.NoError(t, os.WriteFile(plain, []byte("From a\n\nx\n"), 0644))
	require.NoError(t, registry.Add(mailbox.New(plain, mailbox.KindMbox)))

	uploaded := w.ProcessBatch(context.Background())
	assert.Equal(t, 1, uploaded)
	assert.Len(t, s3.objects, 1)

	raw, err := os.ReadFile(gzPath)
	require.NoError(t, err)
	for _, stored := range s3.objects {
		assert.Equal(t, raw, stored)
	}
}

func TestProcessBatchSkipsUnchanged(t *testing.T) {
	s3 := newMockS3()
	w, registry, dir := setupWorker(t, s3)

	gzPath := writeGzipMbox(t, dir, "old.gz", "archived mail")
	require.NoError(t, registry.Add(mailbox.New(gzPath, mailbox.KindGzip)))

	assert.Equal(t, 1, w.ProcessBatch(context.Background()))
	putsAfterFirst := s3.puts

	// Second batch: same hash, nothing to upload.
	assert.Equal(t, 1, w.ProcessBatch(context.Background()))
	assert.Equal(t, putsAfterFirst, s3.puts)

	// Changed content is uploaded under a new key.
	writeGzipMbox(t, dir, "old.gz", "new content entirely")
	assert.Equal(t, 1, w.ProcessBatch(context.Background()))
	assert.Len(t, s3.objects, 2)
}

func TestProcessBatchGivesUpAfterMaxAttempts(t *testing.T) {
	s3 := newMockS3()
	s3.failPut = true
	w, registry, dir := setupWorker(t, s3)
	w.opts.RetryInterval = 0 // retry immediately

	gzPath := writeGzipMbox(t, dir, "old.gz", "archived mail")
	require.NoError(t, registry.Add(mailbox.New(gzPath, mailbox.KindGzip)))

	assert.Equal(t, 0, w.ProcessBatch(context.Background()))
	assert.Equal(t, 0, w.ProcessBatch(context.Background()))
	putsAfterLimit := s3.puts

	// MaxAttempts reached: the mailbox is no longer eligible.
	assert.Equal(t, 0, w.ProcessBatch(context.Background()))
	assert.Equal(t, putsAfterLimit, s3.puts)
}

func TestProcessBatchDeduplicatesAcrossMailboxes(t *testing.T) {
	s3 := newMockS3()
	w, registry, dir := setupWorker(t, s3)

	// Two mailboxes with identical content share one object.
	first := writeGzipMbox(t, dir, "a.gz", "same bytes")
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	second := filepath.Join(dir, "b.gz")
	require.NoError(t, os.WriteFile(second, data, 0644))

	require.NoError(t, registry.Add(mailbox.New(first, mailbox.KindGzip)))
	require.NoError(t, registry.Add(mailbox.New(second, mailbox.KindGzip)))

	uploaded := w.ProcessBatch(context.Background())
	assert.Equal(t, 2, uploaded)
	assert.Len(t, s3.objects, 1)
}

func TestProcessBatchRespectsObjectSizeLimit(t *testing.T) {
	s3 := newMockS3()
	w, registry, dir := setupWorker(t, s3)
	w.opts.MaxObjectSize = 8

	gzPath := writeGzipMbox(t, dir, "huge.gz", "far larger than eight bytes")
	require.NoError(t, registry.Add(mailbox.New(gzPath, mailbox.KindGzip)))

	assert.Equal(t, 1, w.ProcessBatch(context.Background()))
	assert.Empty(t, s3.objects)
}
