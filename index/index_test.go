package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func sampleRecord(name, path string) Record {
	return Record{
		Path:        path,
		Name:        name,
		Kind:        "mbox",
		Messages:    3,
		ContentHash: "deadbeef",
		ScannedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestUpsertAndGet(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	rec := sampleRecord("inbox", "/var/mail/inbox")
	require.NoError(t, idx.Upsert(ctx, rec))

	got, err := idx.GetByName(ctx, "inbox")
	require.NoError(t, err)
	assert.Equal(t, rec.Path, got.Path)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, rec.Messages, got.Messages)
	assert.Equal(t, rec.ContentHash, got.ContentHash)

	// Upsert on the same path replaces the row.
	rec.Name = "inbox (Archive)"
	rec.Messages = 7
	require.NoError(t, idx.Upsert(ctx, rec))

	_, err = idx.GetByName(ctx, "inbox")
	assert.True(t, errors.Is(err, ErrNotFound))

	got, err = idx.GetByName(ctx, "inbox (Archive)")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Messages)
}

func TestListOrdering(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	a := sampleRecord("zeta", "/m/zeta")
	b := sampleRecord("alpha", "/m/alpha")
	c := sampleRecord("urgent", "/m/urgent")
	c.Prio = 9

	for _, rec := range []Record{a, b, c} {
		require.NoError(t, idx.Upsert(ctx, rec))
	}

	records, err := idx.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "urgent", records[0].Name)
	assert.Equal(t, "alpha", records[1].Name)
	assert.Equal(t, "zeta", records[2].Name)
}

func TestDeleteByPath(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, sampleRecord("inbox", "/m/inbox")))
	require.NoError(t, idx.DeleteByPath(ctx, "/m/inbox"))

	_, err := idx.GetByName(ctx, "inbox")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Deleting a missing path is not an error.
	require.NoError(t, idx.DeleteByPath(ctx, "/m/inbox"))
}

func TestStats(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	empty, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Mailboxes)

	mbox := sampleRecord("inbox", "/m/inbox")
	gz := sampleRecord("old (Archive)", "/m/old.gz")
	gz.Kind = "gzip"
	gz.Messages = 10
	md := sampleRecord("work", "/m/work")
	md.Kind = "maildir"

	for _, rec := range []Record{mbox, gz, md} {
		require.NoError(t, idx.Upsert(ctx, rec))
	}

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Mailboxes)
	assert.Equal(t, 16, stats.Messages)
	assert.Equal(t, map[string]int{"mbox": 1, "gzip": 1, "maildir": 1}, stats.PerKind)
	assert.False(t, stats.OldestScanned.IsZero())
}
