package seatmap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Lohithg21/Quickshow/internal/domain"
)

func newTestMap(t *testing.T, labels ...string) *SeatMap {
	t.Helper()
	if len(labels) == 0 {
		labels = []string{"A1", "A2", "A3", "B1", "B2"}
	}
	return New(uuid.New(), labels, time.Second)
}

func TestTryHold_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := newTestMap(t)

	first := uuid.New()
	if err := m.TryHold(ctx, []string{"A2"}, first, time.Minute); err != nil {
		t.Fatalf("hold A2: %v", err)
	}

	second := uuid.New()
	err := m.TryHold(ctx, []string{"A1", "A2", "A3"}, second, time.Minute)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %T", err)
	}
	if len(conflict.UnavailableSeats) != 1 || conflict.UnavailableSeats[0] != "A2" {
		t.Errorf("expected unavailable [A2], got %v", conflict.UnavailableSeats)
	}

	// A1 and A3 must not have been partially held.
	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap["A1"].Status != Free || snap["A3"].Status != Free {
		t.Errorf("partial hold left behind: A1=%s A3=%s", snap["A1"].Status, snap["A3"].Status)
	}
}

func TestTryHold_UnknownSeatConflicts(t *testing.T) {
	m := newTestMap(t)
	err := m.TryHold(context.Background(), []string{"Z9"}, uuid.New(), time.Minute)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for unknown seat, got %v", err)
	}
}

func TestTryHold_ConcurrentOverlap_NoDoubleGrant(t *testing.T) {
	ctx := context.Background()
	m := newTestMap(t)

	const attempts = 32
	var wg sync.WaitGroup
	granted := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := m.TryHold(ctx, []string{"B1", "B2"}, uuid.New(), time.Minute)
			if err == nil {
				granted[i] = true
			} else if !errors.Is(err, domain.ErrConflict) {
				t.Errorf("attempt %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range granted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestCommitAndRelease(t *testing.T) {
	ctx := context.Background()
	m := newTestMap(t)
	booking := uuid.New()

	if err := m.TryHold(ctx, []string{"A1", "A2"}, booking, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(ctx, booking); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Duplicate commit must fail without touching state.
	if err := m.Commit(ctx, booking); !errors.Is(err, domain.ErrStaleState) {
		t.Fatalf("expected stale state on duplicate commit, got %v", err)
	}

	// Sold seats are not releasable.
	n, err := m.Release(ctx, booking)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("released %d sold seats", n)
	}

	snap, _ := m.Snapshot(ctx)
	if snap["A1"].Status != Sold || snap["A2"].Status != Sold {
		t.Errorf("expected sold seats, got A1=%s A2=%s", snap["A1"].Status, snap["A2"].Status)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestMap(t)
	booking := uuid.New()

	if err := m.TryHold(ctx, []string{"A1", "A2"}, booking, time.Minute); err != nil {
		t.Fatal(err)
	}
	n, err := m.Release(ctx, booking)
	if err != nil || n != 2 {
		t.Fatalf("first release: n=%d err=%v", n, err)
	}
	n, err = m.Release(ctx, booking)
	if err != nil || n != 0 {
		t.Fatalf("second release: n=%d err=%v", n, err)
	}

	// Freed seats can be held again.
	if err := m.TryHold(ctx, []string{"A1"}, uuid.New(), time.Minute); err != nil {
		t.Fatalf("re-hold after release: %v", err)
	}
}

func TestCommit_UnknownBookingIsStale(t *testing.T) {
	m := newTestMap(t)
	if err := m.Commit(context.Background(), uuid.New()); !errors.Is(err, domain.ErrStaleState) {
		t.Fatalf("expected stale state, got %v", err)
	}
}

func TestAcquire_BusyTimeout(t *testing.T) {
	showID := uuid.New()
	m := New(showID, []string{"A1"}, 20*time.Millisecond)

	// Hold the show lock so the next operation times out.
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	err := m.TryHold(context.Background(), []string{"A1"}, uuid.New(), time.Minute)
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestExpiredHold_NotFreedByReads(t *testing.T) {
	ctx := context.Background()
	m := newTestMap(t)
	booking := uuid.New()

	if err := m.TryHold(ctx, []string{"A1"}, booking, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	v := snap["A1"]
	if v.Status != Held {
		t.Fatalf("read path mutated seat state: %s", v.Status)
	}
	if !v.Expired(time.Now().UTC()) {
		t.Error("expected hold to report expired")
	}

	// Still held: a competing hold conflicts until an explicit release.
	if err := m.TryHold(ctx, []string{"A1"}, uuid.New(), time.Minute); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on expired-but-unswept seat, got %v", err)
	}
}

func TestRegistry_RebuildReplaysLiveBookings(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(time.Second)
	show := domain.Show{ID: uuid.New(), Rows: 2, RowWidth: 3}

	pending := domain.Booking{
		ID:        uuid.New(),
		State:     domain.BookingPending,
		Seats:     []string{"A1"},
		ExpiresAt: time.Now().Add(time.Minute),
	}
	paid := domain.Booking{ID: uuid.New(), State: domain.BookingPaid, Seats: []string{"B2"}}

	m := reg.Rebuild(show, []domain.Booking{pending, paid})
	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap["A1"].Status != Held || snap["A1"].BookingID != pending.ID {
		t.Errorf("A1 not rebuilt as held: %+v", snap["A1"])
	}
	if snap["B2"].Status != Sold {
		t.Errorf("B2 not rebuilt as sold: %+v", snap["B2"])
	}
	if snap["A2"].Status != Free {
		t.Errorf("A2 expected free: %+v", snap["A2"])
	}
}

func TestReconcile_FoldsLedgerStateIn(t *testing.T) {
	ctx := context.Background()
	m := newTestMap(t)
	now := time.Now().UTC()

	lapsed := uuid.New()
	fresh := uuid.New()
	confirmed := uuid.New()
	if err := m.TryHold(ctx, []string{"A1"}, lapsed, -time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.TryHold(ctx, []string{"A2"}, fresh, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.TryHold(ctx, []string{"A3"}, confirmed, time.Minute); err != nil {
		t.Fatal(err)
	}

	remote := domain.Booking{
		ID:        uuid.New(),
		State:     domain.BookingPending,
		Seats:     []string{"B1"},
		ExpiresAt: now.Add(time.Minute),
	}
	live := []domain.Booking{
		// fresh is still PENDING in the ledger; lapsed was finalized by
		// another process and owns nothing anymore.
		{ID: fresh, State: domain.BookingPending, Seats: []string{"A2"}, ExpiresAt: now.Add(time.Minute)},
		{ID: confirmed, State: domain.BookingPaid, Seats: []string{"A3"}},
		remote,
	}
	if err := m.Reconcile(ctx, live, now); err != nil {
		t.Fatal(err)
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap["A1"].Status != Free {
		t.Errorf("A1 = %s, want FREE (lapsed hold with no live claim)", snap["A1"].Status)
	}
	if snap["A2"].Status != Held || snap["A2"].BookingID != fresh {
		t.Errorf("A2 = %+v, want held by its live booking", snap["A2"])
	}
	if snap["A3"].Status != Sold {
		t.Errorf("A3 = %s, want SOLD (confirmed elsewhere)", snap["A3"].Status)
	}
	if snap["B1"].Status != Held || snap["B1"].BookingID != remote.ID {
		t.Errorf("B1 = %+v, want held for the peer instance's booking", snap["B1"])
	}
}

func TestReconcile_KeepsUnlapsedLocalHold(t *testing.T) {
	ctx := context.Background()
	m := newTestMap(t)

	// A hold that has not reached the ledger yet (create still in flight)
	// must survive a reconcile against a ledger that does not know it.
	inflight := uuid.New()
	if err := m.TryHold(ctx, []string{"B2"}, inflight, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconcile(ctx, nil, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	snap, _ := m.Snapshot(ctx)
	if snap["B2"].Status != Held || snap["B2"].BookingID != inflight {
		t.Errorf("B2 = %+v, want untouched in-flight hold", snap["B2"])
	}
}
