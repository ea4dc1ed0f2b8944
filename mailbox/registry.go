package mailbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateName is returned when a mailbox with the same display
	// name is already registered.
	ErrDuplicateName = errors.New("mailbox name already registered")

	// ErrNotFound is returned when no mailbox has the requested name.
	ErrNotFound = errors.New("mailbox not found")
)

// Registry is the in-memory set of discovered mailboxes, keyed by display
// name. Display names are unique after rewriting; a second registration
// under the same name fails.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Mailbox
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Mailbox)}
}

// Add registers a mailbox under its current display name.
func (r *Registry) Add(m *Mailbox) error {
	name := m.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	r.byName[name] = m
	return nil
}

// Get looks a mailbox up by display name.
func (r *Registry) Get(name string) (*Mailbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return m, nil
}

// Remove unregisters the mailbox with the given display name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.byName, name)
	return nil
}

// List returns all registered mailboxes ordered by priority (higher
// first), then by display name.
func (r *Registry) List() []*Mailbox {
	r.mu.RLock()
	mailboxes := make([]*Mailbox, 0, len(r.byName))
	for _, m := range r.byName {
		mailboxes = append(mailboxes, m)
	}
	r.mu.RUnlock()

	sort.Slice(mailboxes, func(i, j int) bool {
		pi, pj := mailboxes[i].Prio(), mailboxes[j].Prio()
		if pi != pj {
			return pi > pj
		}
		return mailboxes[i].Name() < mailboxes[j].Name()
	})
	return mailboxes
}

// Len returns the number of registered mailboxes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// GetByPath looks a mailbox up by storage path. The second return is
// false when no registered mailbox lives at path.
func (r *Registry) GetByPath(path string) (*Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.byName {
		if m.Path() == path {
			return m, true
		}
	}
	return nil, false
}

// HasPath reports whether any registered mailbox lives at path.
func (r *Registry) HasPath(path string) bool {
	_, ok := r.GetByPath(path)
	return ok
}
