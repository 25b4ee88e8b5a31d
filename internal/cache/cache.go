// Package cache holds the process-wide query cache for ERP reads. Entries
// are keyed by (kind, view, identity, date range); a settled mutation marks
// every entry of the mutated kind stale, and stale entries revalidate lazily
// on the next read. Reads for the same key are deduplicated.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type Status string

const (
	StatusFresh   Status = "fresh"
	StatusStale   Status = "stale"
	StatusLoading Status = "loading"
	StatusErrored Status = "errored"
)

// Key identifies one cached query result. Identity and the date range are
// empty for reads that are not scoped to an operator or a day.
type Key struct {
	Kind     string
	View     string
	Identity string
	DateFrom string
	DateTo   string
}

// Loader fetches the authoritative value for a key. The cache remembers the
// loader from the most recent Get so invalidation can re-run it.
type Loader func(ctx context.Context) (any, error)

type entry struct {
	data      any
	status    Status
	err       error
	loader    Loader
	fetchedAt time.Time
	// gen moves on every invalidation; a load that started under an older
	// generation carries pre-mutation data and must not be stored as fresh.
	gen uint64
}

// Snapshot is a read-only view of one entry, for diagnostics and tests.
type Snapshot struct {
	Data      any
	Status    Status
	Err       error
	FetchedAt time.Time
}

type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	group   singleflight.Group
	log     zerolog.Logger
}

func New(log zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[Key]*entry),
		log:     log.With().Str("component", "cache").Logger(),
	}
}

// Get returns the cached value for key, loading it when absent or errored.
// A stale entry is returned as-is and revalidated in the background
// (stale-while-revalidate); the caller sees the refreshed value on a later
// read. Concurrent loads for one key collapse into a single upstream call.
func (c *Cache) Get(ctx context.Context, key Key, loader Loader) (any, Status, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{status: StatusLoading}
		c.entries[key] = e
	}
	e.loader = loader
	status := e.status
	data := e.data
	c.mu.Unlock()

	switch status {
	case StatusFresh:
		return data, StatusFresh, nil
	case StatusStale:
		go func() {
			// Background revalidation must not inherit the request's
			// cancellation.
			revalidateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := c.load(revalidateCtx, key, loader); err != nil {
				c.log.Warn().Str("kind", key.Kind).Str("view", key.View).Err(err).Msg("background revalidation failed")
			}
		}()
		return data, StatusStale, nil
	default:
		value, err := c.load(ctx, key, loader)
		if err != nil {
			return nil, StatusErrored, err
		}
		return value, StatusFresh, nil
	}
}

// Refresh re-runs the stored loader for key synchronously. It is a no-op for
// keys never read, since there is nothing on screen to update.
func (c *Cache) Refresh(ctx context.Context, key Key) (any, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	var loader Loader
	if ok {
		loader = e.loader
	}
	c.mu.Unlock()
	if loader == nil {
		return nil, nil
	}
	return c.load(ctx, key, loader)
}

// InvalidateKind marks every entry of the given kind stale, across all views
// and date ranges: an approval moves a document between the pending and
// approved partitions and changes both counters at once. Entries of other
// kinds are untouched. Returns the number of entries marked.
func (c *Cache) InvalidateKind(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	marked := 0
	for key, e := range c.entries {
		if key.Kind != kind {
			continue
		}
		e.gen++
		if e.status == StatusFresh || e.status == StatusErrored {
			e.status = StatusStale
		}
		// A read already in flight for this key predates the mutation.
		// Detach it so the next load issues a new upstream call instead of
		// joining it and caching a pre-mutation response.
		c.group.Forget(key.flightKey())
		marked++
	}
	c.log.Debug().Str("kind", kind).Int("entries", marked).Msg("cache entries invalidated")
	return marked
}

// Peek returns the entry snapshot without triggering any load.
func (c *Cache) Peek(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Data: e.data, Status: e.status, Err: e.err, FetchedAt: e.fetchedAt}, true
}

// Clear drops every entry. Called at logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*entry)
}

func (c *Cache) load(ctx context.Context, key Key, loader Loader) (any, error) {
	value, err, _ := c.group.Do(key.flightKey(), func() (any, error) {
		c.mu.Lock()
		var startGen uint64
		if e, ok := c.entries[key]; ok {
			e.status = StatusLoading
			startGen = e.gen
		}
		c.mu.Unlock()

		data, err := loader(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		e, ok := c.entries[key]
		if !ok {
			// Cleared while in flight; the result is dropped rather than
			// resurrecting a logged-out cache.
			return data, err
		}
		if e.gen != startGen {
			// A mutation settled while this read was in flight. The result
			// is returned to waiting callers but not stored over whatever a
			// newer load has written; an entry still loading is left stale
			// so the next read revalidates.
			if e.status == StatusLoading {
				e.status = StatusStale
			}
			return data, err
		}
		if err != nil {
			// A failed read is local to its entry; previous data is kept so
			// the view can keep rendering something.
			e.status = StatusErrored
			e.err = err
			return nil, err
		}
		e.data = data
		e.status = StatusFresh
		e.err = nil
		e.fetchedAt = time.Now()
		return data, nil
	})
	return value, err
}

func (k Key) flightKey() string {
	return k.Kind + "|" + k.View + "|" + k.Identity + "|" + k.DateFrom + "|" + k.DateTo
}
