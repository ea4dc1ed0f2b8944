// Package mailbox implements the local mailbox model: type detection for
// plain mbox files, gzip-compressed mbox files and maildirs, message
// enumeration, and the in-memory registry of discovered mailboxes.
package mailbox

import (
	"path/filepath"
	"sync"
)

// Kind identifies the on-disk format of a mailbox.
type Kind int

const (
	KindMbox Kind = iota // plain mbox file
	KindGzip             // gzip-compressed mbox file
	KindMaildir
)

func (k Kind) String() string {
	switch k {
	case KindMbox:
		return "mbox"
	case KindGzip:
		return "gzip"
	case KindMaildir:
		return "maildir"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind string back to a Kind. The inverse of String.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "mbox":
		return KindMbox, true
	case "gzip":
		return KindGzip, true
	case "maildir":
		return KindMaildir, true
	default:
		return 0, false
	}
}

// Mailbox is a discovered mailbox. The display name starts as the path's
// base name and may be changed by config callbacks; the storage path is
// immutable. Accessors are safe for concurrent use.
type Mailbox struct {
	mu       sync.RWMutex
	path     string
	name     string
	kind     Kind
	prio     int
	shortcut rune
}

// New creates a mailbox for the given storage path. The initial display
// name is the base name of the path.
func New(path string, kind Kind) *Mailbox {
	return &Mailbox{
		path: path,
		name: filepath.Base(path),
		kind: kind,
	}
}

// Name returns the current display name.
func (m *Mailbox) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Path returns the storage path. Immutable after creation.
func (m *Mailbox) Path() string {
	return m.path
}

// Kind returns the mailbox on-disk format.
func (m *Mailbox) Kind() Kind {
	return m.kind
}

// SetName commits a new display name.
func (m *Mailbox) SetName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
}

// Prio returns the display priority. Higher sorts first.
func (m *Mailbox) Prio() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prio
}

// SetPrio sets the display priority.
func (m *Mailbox) SetPrio(prio int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prio = prio
}

// Shortcut returns the assigned shortcut rune, or 0 if none.
func (m *Mailbox) Shortcut() rune {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shortcut
}

// SetShortcut assigns the first rune of s as the mailbox shortcut. An
// empty string clears it.
func (m *Mailbox) SetShortcut(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == "" {
		m.shortcut = 0
		return
	}
	m.shortcut = []rune(s)[0]
}
