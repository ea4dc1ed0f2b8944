// Package rewrite implements configuration-time mailbox display name
// rewriting. A set of callbacks is registered before scanning starts and
// every freshly discovered mailbox is passed through all of them in
// registration order.
//
// The stock callback is the NameRewriter: it strips a trailing ".gz" from
// compressed mailboxes in favor of an " (Archive)" marker, and replaces
// underscores with spaces.
package rewrite

import (
	"strings"
	"sync"

	"github.com/mixmail/mix/config"
)

// Mailbox is the capability handed to config callbacks. Callbacks may read
// the current display name and storage path and commit a new display name.
type Mailbox interface {
	Name() string
	Path() string
	SetName(name string)
}

// Callback adjusts a freshly discovered mailbox before it is registered.
type Callback func(Mailbox)

// Registry holds config callbacks. Apply runs them in registration order.
type Registry struct {
	mu        sync.RWMutex
	callbacks []Callback
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a callback. Safe for concurrent use, though callbacks
// are normally registered once at startup.
func (r *Registry) Register(cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Apply runs every registered callback against the mailbox, in order.
func (r *Registry) Apply(m Mailbox) {
	r.mu.RLock()
	callbacks := r.callbacks
	r.mu.RUnlock()
	for _, cb := range callbacks {
		cb(m)
	}
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks)
}

// NameRewriter rewrites mailbox display names. The zero value is not
// useful; construct it with NewNameRewriter or FromConfig.
type NameRewriter struct {
	ArchiveSuffix      string
	ArchiveMarker      string
	ReplaceUnderscores bool
}

// NewNameRewriter returns a rewriter with the stock behavior.
func NewNameRewriter() *NameRewriter {
	return &NameRewriter{
		ArchiveSuffix:      ".gz",
		ArchiveMarker:      " (Archive)",
		ReplaceUnderscores: true,
	}
}

// FromConfig builds a rewriter from the rewrite configuration section.
// Returns nil if rewriting is disabled.
func FromConfig(cfg config.RewriteConfig) *NameRewriter {
	if !cfg.Enabled {
		return nil
	}
	return &NameRewriter{
		ArchiveSuffix:      cfg.ArchiveSuffix,
		ArchiveMarker:      cfg.ArchiveMarker,
		ReplaceUnderscores: cfg.ReplaceUnderscores,
	}
}

// Rewrite transforms a display name. The archive suffix match is anchored
// to the end of the string; interior occurrences are left untouched. The
// function is total: any input string yields a defined result.
func (r *NameRewriter) Rewrite(name string) string {
	if r.ArchiveSuffix != "" && strings.HasSuffix(name, r.ArchiveSuffix) {
		name = name[:len(name)-len(r.ArchiveSuffix)] + r.ArchiveMarker
	}
	if r.ReplaceUnderscores {
		name = strings.ReplaceAll(name, "_", " ")
	}
	return name
}

// Callback wraps the rewriter as a config callback: the mailbox's display
// name is replaced with its rewritten form.
func (r *NameRewriter) Callback() Callback {
	return func(m Mailbox) {
		m.SetName(r.Rewrite(m.Name()))
	}
}

// Rewrite applies the stock rewriter to a single name.
func Rewrite(name string) string {
	return NewNameRewriter().Rewrite(name)
}
