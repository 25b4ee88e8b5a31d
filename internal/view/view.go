// Package view reconciles the active tab (pending vs approved) between the
// URL query parameter and remembered state. The URL wins when it carries a
// valid value; otherwise the remembered tab stands, so a bad or missing
// parameter never fights a user-driven switch.
package view

import (
	"strings"
	"sync"
)

type View string

const (
	Pending  View = "pendientes"
	Approved View = "aprobados"
)

func Parse(raw string) (View, bool) {
	switch View(strings.TrimSpace(raw)) {
	case Pending:
		return Pending, true
	case Approved:
		return Approved, true
	}
	return "", false
}

// Resolver remembers the active view for one document kind. The zero state is
// the pending tab.
type Resolver struct {
	mu      sync.Mutex
	current View
}

func NewResolver() *Resolver {
	return &Resolver{current: Pending}
}

// Resolve applies the tab parameter from a request. A valid parameter adopts
// that view (user click or bookmarked URL); an absent or invalid parameter
// leaves the remembered view untouched. Resolving the same parameter twice is
// idempotent, so a URL update echoing the current tab never re-triggers a
// change.
func (r *Resolver) Resolve(param string) View {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := Parse(param); ok {
		r.current = v
	}
	return r.current
}

// Current returns the remembered view without consulting any parameter.
func (r *Resolver) Current() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reset returns the resolver to the initial pending tab (logout).
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = Pending
}
