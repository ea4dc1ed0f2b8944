// Package index persists the mailbox catalog in a local sqlite database.
// The index survives restarts and backs the admin CLI; the scanner
// refreshes it after every scan and rescan.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mixmail/mix/logger"
	"github.com/mixmail/mix/mailbox"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when the index has no row for the requested name.
var ErrNotFound = errors.New("mailbox not indexed")

// Record is one indexed mailbox.
type Record struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Prio        int       `json:"prio"`
	Shortcut    string    `json:"shortcut,omitempty"`
	Messages    int       `json:"messages"`
	ContentHash string    `json:"content_hash"`
	ScannedAt   time.Time `json:"scanned_at"`
}

// Stats summarizes the index contents.
type Stats struct {
	Mailboxes     int            `json:"mailboxes"`
	Messages      int            `json:"messages"`
	PerKind       map[string]int `json:"per_kind"`
	OldestScanned time.Time      `json:"oldest_scanned,omitempty"`
}

// Index wraps the sqlite mailbox catalog.
type Index struct {
	db   *sql.DB
	path string
}

// Open opens (and if necessary creates) the index database at path.
func Open(path string) (*Index, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return nil, fmt.Errorf("index path cannot be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index DB: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		// WAL is an optimization, not a requirement.
		logger.Warn("INDEX: failed to set PRAGMA journal_mode = WAL", "error", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS mailboxes (
		path TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		prio INTEGER NOT NULL DEFAULT 0,
		shortcut TEXT NOT NULL DEFAULT '',
		messages INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		scanned_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mailboxes_name ON mailboxes(name);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index DB ping failed: %w", err)
	}

	return &Index{db: db, path: path}, nil
}

// Close closes the index database connection.
func (i *Index) Close() error {
	if i.db != nil {
		logger.Debug("INDEX: closing index database", "path", i.path)
		return i.db.Close()
	}
	return nil
}

// Upsert inserts or refreshes the row for the mailbox at rec.Path.
func (i *Index) Upsert(ctx context.Context, rec Record) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO mailboxes (path, name, kind, prio, shortcut, messages, content_hash, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			prio = excluded.prio,
			shortcut = excluded.shortcut,
			messages = excluded.messages,
			content_hash = excluded.content_hash,
			scanned_at = excluded.scanned_at`,
		rec.Path, rec.Name, rec.Kind, rec.Prio, rec.Shortcut, rec.Messages, rec.ContentHash, rec.ScannedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert mailbox %s: %w", rec.Path, err)
	}
	return nil
}

// FromMailbox builds an index record from a live mailbox. The message
// count and content hash are read from disk.
func FromMailbox(m *mailbox.Mailbox) (Record, error) {
	count, err := m.MessageCount()
	if err != nil {
		return Record{}, err
	}
	hash, err := m.ContentHash()
	if err != nil {
		return Record{}, err
	}
	shortcut := ""
	if sc := m.Shortcut(); sc != 0 {
		shortcut = string(sc)
	}
	return Record{
		Path:        m.Path(),
		Name:        m.Name(),
		Kind:        m.Kind().String(),
		Prio:        m.Prio(),
		Shortcut:    shortcut,
		Messages:    count,
		ContentHash: hash,
		ScannedAt:   time.Now().UTC(),
	}, nil
}

// DeleteByPath removes the row for the mailbox at path, if any.
func (i *Index) DeleteByPath(ctx context.Context, path string) error {
	if _, err := i.db.ExecContext(ctx, `DELETE FROM mailboxes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete mailbox %s from index: %w", path, err)
	}
	return nil
}

// GetByName looks up one indexed mailbox by display name.
func (i *Index) GetByName(ctx context.Context, name string) (Record, error) {
	row := i.db.QueryRowContext(ctx, `
		SELECT path, name, kind, prio, shortcut, messages, content_hash, scanned_at
		FROM mailboxes WHERE name = ?`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return rec, err
}

// List returns all indexed mailboxes ordered by priority (higher first)
// then name.
func (i *Index) List(ctx context.Context) ([]Record, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT path, name, kind, prio, shortcut, messages, content_hash, scanned_at
		FROM mailboxes ORDER BY prio DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed mailboxes: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats aggregates index contents per mailbox kind.
func (i *Index) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{PerKind: make(map[string]int)}

	rows, err := i.db.QueryContext(ctx, `SELECT kind, COUNT(*), COALESCE(SUM(messages), 0) FROM mailboxes GROUP BY kind`)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate index stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var count, messages int
		if err := rows.Scan(&kind, &count, &messages); err != nil {
			return stats, err
		}
		stats.PerKind[kind] = count
		stats.Mailboxes += count
		stats.Messages += messages
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var oldest sql.NullTime
	if err := i.db.QueryRowContext(ctx, `SELECT MIN(scanned_at) FROM mailboxes`).Scan(&oldest); err != nil {
		return stats, err
	}
	if oldest.Valid {
		stats.OldestScanned = oldest.Time
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.Path, &rec.Name, &rec.Kind, &rec.Prio, &rec.Shortcut, &rec.Messages, &rec.ContentHash, &rec.ScannedAt)
	return rec, err
}
