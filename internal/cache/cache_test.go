package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testKey(kind, view string) Key {
	return Key{Kind: kind, View: view}
}

func TestGetLoadsOnceAndServesFresh(t *testing.T) {
	c := New(zerolog.Nop())
	var calls int32
	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "pending-list", nil
	}

	for i := 0; i < 3; i++ {
		value, status, err := c.Get(context.Background(), testKey("presupuestos", "pendientes"), loader)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if value != "pending-list" || status != StatusFresh {
			t.Fatalf("unexpected value %v status %s", value, status)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single upstream call, got %d", got)
	}
}

func TestInvalidateKindIsScopedToKind(t *testing.T) {
	c := New(zerolog.Nop())
	ctx := context.Background()
	load := func(value string) Loader {
		return func(context.Context) (any, error) { return value, nil }
	}

	budgetPending := testKey("presupuestos", "pendientes")
	budgetApproved := Key{Kind: "presupuestos", View: "aprobados", Identity: "jsmith", DateFrom: "2026-09-01", DateTo: "2026-09-01"}
	budgetIndicators := testKey("presupuestos", "indicadores")
	orderPending := testKey("ordenes-compra", "pendientes")

	for key, value := range map[Key]string{
		budgetPending:    "bp",
		budgetApproved:   "ba",
		budgetIndicators: "bi",
		orderPending:     "op",
	} {
		if _, _, err := c.Get(ctx, key, load(value)); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	if marked := c.InvalidateKind("presupuestos"); marked != 3 {
		t.Fatalf("expected 3 entries marked stale, got %d", marked)
	}

	for _, key := range []Key{budgetPending, budgetApproved, budgetIndicators} {
		snap, ok := c.Peek(key)
		if !ok || snap.Status != StatusStale {
			t.Fatalf("expected %v stale, got %+v", key, snap)
		}
	}
	snap, ok := c.Peek(orderPending)
	if !ok || snap.Status != StatusFresh {
		t.Fatalf("purchase-order entry must stay fresh, got %+v", snap)
	}
}

func TestStaleEntryServedThenRevalidated(t *testing.T) {
	c := New(zerolog.Nop())
	ctx := context.Background()
	var value atomic.Value
	value.Store("v1")
	loader := func(context.Context) (any, error) { return value.Load(), nil }

	key := testKey("presupuestos", "pendientes")
	if _, _, err := c.Get(ctx, key, loader); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	c.InvalidateKind("presupuestos")
	value.Store("v2")

	got, status, err := c.Get(ctx, key, loader)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "v1" || status != StatusStale {
		t.Fatalf("expected stale v1 immediately, got %v (%s)", got, status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ := c.Peek(key)
		if snap.Status == StatusFresh && snap.Data == "v2" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("background revalidation never refreshed the entry")
}

func TestRefreshRerunsStoredLoader(t *testing.T) {
	c := New(zerolog.Nop())
	ctx := context.Background()
	var calls int32
	loader := func(context.Context) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	key := testKey("ordenes-compra", "pendientes")
	if _, _, err := c.Get(ctx, key, loader); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	value, err := c.Refresh(ctx, key)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if value != int32(2) {
		t.Fatalf("expected second loader result, got %v", value)
	}
	snap, _ := c.Peek(key)
	if snap.Status != StatusFresh || snap.Data != int32(2) {
		t.Fatalf("unexpected entry after refresh: %+v", snap)
	}
}

func TestRefreshUnknownKeyIsNoop(t *testing.T) {
	c := New(zerolog.Nop())
	value, err := c.Refresh(context.Background(), testKey("presupuestos", "pendientes"))
	if err != nil || value != nil {
		t.Fatalf("expected no-op, got %v %v", value, err)
	}
}

func TestLoadFailureIsLocalToEntry(t *testing.T) {
	c := New(zerolog.Nop())
	ctx := context.Background()
	boom := errors.New("backend down")

	bad := testKey("presupuestos", "pendientes")
	good := testKey("ordenes-compra", "pendientes")

	if _, _, err := c.Get(ctx, good, func(context.Context) (any, error) { return "ok", nil }); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	_, status, err := c.Get(ctx, bad, func(context.Context) (any, error) { return nil, boom })
	if !errors.Is(err, boom) || status != StatusErrored {
		t.Fatalf("expected errored read, got %v (%s)", err, status)
	}

	snap, _ := c.Peek(bad)
	if snap.Status != StatusErrored {
		t.Fatalf("expected errored entry, got %+v", snap)
	}
	snap, _ = c.Peek(good)
	if snap.Status != StatusFresh {
		t.Fatalf("unrelated entry must stay fresh, got %+v", snap)
	}

	// An errored entry retries on the next read.
	value, status, err := c.Get(ctx, bad, func(context.Context) (any, error) { return "recovered", nil })
	if err != nil || value != "recovered" || status != StatusFresh {
		t.Fatalf("expected recovery, got %v %s %v", value, status, err)
	}
}

func TestConcurrentReadsDeduplicate(t *testing.T) {
	c := New(zerolog.Nop())
	var calls int32
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "list", nil
	}

	key := testKey("presupuestos", "pendientes")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.Get(context.Background(), key, loader); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected deduplicated single call, got %d", got)
	}
}

func TestInvalidationDuringInFlightReadForcesNewFetch(t *testing.T) {
	c := New(zerolog.Nop())
	key := testKey("presupuestos", "pendientes")

	var calls int32
	var mutated atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		if mutated.Load() {
			return "post-mutation list", nil
		}
		return "pre-mutation list", nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = c.Get(context.Background(), key, loader)
	}()
	<-entered

	// An approval settles while the read is still in flight.
	mutated.Store(true)
	c.InvalidateKind("presupuestos")

	value, err := c.Refresh(context.Background(), key)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if value != "post-mutation list" {
		t.Fatalf("Refresh() = %v, want the post-mutation list", value)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected the refresh to issue a new upstream call, got %d total", got)
	}

	// The superseded read completes afterwards; it must not overwrite the
	// refreshed entry.
	close(release)
	<-done
	snapshot, ok := c.Peek(key)
	if !ok {
		t.Fatal("expected a cached entry")
	}
	if snapshot.Status != StatusFresh || snapshot.Data != "post-mutation list" {
		t.Fatalf("entry = %s %v, want fresh post-mutation list", snapshot.Status, snapshot.Data)
	}
}

func TestSupersededReadLeavesEntryStale(t *testing.T) {
	c := New(zerolog.Nop())
	key := testKey("ordenes-compra", "pendientes")

	entered := make(chan struct{})
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		close(entered)
		<-release
		return "pre-mutation list", nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = c.Get(context.Background(), key, loader)
	}()
	<-entered
	c.InvalidateKind("ordenes-compra")
	close(release)
	<-done

	// With no synchronous refresh, the entry must not pass off the
	// pre-mutation result as fresh.
	snapshot, ok := c.Peek(key)
	if !ok {
		t.Fatal("expected a cached entry")
	}
	if snapshot.Status != StatusStale {
		t.Fatalf("status = %s, want stale", snapshot.Status)
	}
}

func TestClearDropsEverything(t *testing.T) {
	c := New(zerolog.Nop())
	key := testKey("presupuestos", "pendientes")
	if _, _, err := c.Get(context.Background(), key, func(context.Context) (any, error) { return "x", nil }); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	c.Clear()
	if _, ok := c.Peek(key); ok {
		t.Fatal("expected empty cache after Clear")
	}
}
