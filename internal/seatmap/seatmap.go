// Package seatmap owns the per-show seat state. Every seat mutation in the
// system goes through a SeatMap; nothing else writes seat state. Mutations on
// one show are serialized by a bounded per-show lock, so operations against
// different shows never contend.
package seatmap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Lohithg21/Quickshow/internal/domain"
)

type Status string

const (
	Free Status = "FREE"
	Held Status = "HELD"
	Sold Status = "SOLD"
)

type seat struct {
	status     Status
	bookingID  uuid.UUID
	holdExpiry time.Time
}

// SeatView is a read-only copy of one seat's state.
type SeatView struct {
	Status     Status
	BookingID  uuid.UUID
	HoldExpiry time.Time
}

// Expired reports whether a held seat's grace window has lapsed. Reads never
// free the seat; only an explicit Release does.
func (v SeatView) Expired(now time.Time) bool {
	return v.Status == Held && v.HoldExpiry.Before(now)
}

// SeatMap tracks which seats of one show are free, held or sold.
type SeatMap struct {
	showID   uuid.UUID
	sem      chan struct{}
	lockWait time.Duration
	seats    map[string]seat
}

func New(showID uuid.UUID, labels []string, lockWait time.Duration) *SeatMap {
	seats := make(map[string]seat, len(labels))
	for _, l := range labels {
		seats[l] = seat{status: Free}
	}
	return &SeatMap{
		showID:   showID,
		sem:      make(chan struct{}, 1),
		lockWait: lockWait,
		seats:    seats,
	}
}

// acquire takes the show lock, waiting at most lockWait. Callers get
// domain.ErrBusy on timeout so clients can tell "retry shortly" apart from
// "seat taken".
func (m *SeatMap) acquire(ctx context.Context) error {
	timer := time.NewTimer(m.lockWait)
	defer timer.Stop()
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return domain.ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SeatMap) unlock() {
	<-m.sem
}

// TryHold marks every requested seat HELD for bookingID with expiry now+ttl.
// The hold is all-or-nothing: if any seat is not FREE, nothing changes and a
// ConflictError names the unavailable subset.
func (m *SeatMap) TryHold(ctx context.Context, seatIDs []string, bookingID uuid.UUID, ttl time.Duration) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.unlock()

	var unavailable []string
	for _, id := range seatIDs {
		s, ok := m.seats[id]
		if !ok || s.status != Free {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		return &domain.ConflictError{UnavailableSeats: unavailable}
	}

	expiry := time.Now().UTC().Add(ttl)
	for _, id := range seatIDs {
		m.seats[id] = seat{status: Held, bookingID: bookingID, holdExpiry: expiry}
	}
	return nil
}

// Commit transitions every seat held by bookingID to SOLD. A booking with no
// held seats, or one whose seats were already finalized, fails with
// ErrStaleState and changes nothing; this guards late or duplicate commits.
func (m *SeatMap) Commit(ctx context.Context, bookingID uuid.UUID) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.unlock()

	var owned []string
	for id, s := range m.seats {
		if s.bookingID == bookingID {
			if s.status != Held {
				return domain.ErrStaleState
			}
			owned = append(owned, id)
		}
	}
	if len(owned) == 0 {
		return domain.ErrStaleState
	}
	for _, id := range owned {
		s := m.seats[id]
		s.status = Sold
		s.holdExpiry = time.Time{}
		m.seats[id] = s
	}
	return nil
}

// Release frees every seat held by bookingID and returns how many it freed.
// Releasing a booking with no held seats is a no-op, not an error, so expiry
// sweeps and failure paths can race safely.
func (m *SeatMap) Release(ctx context.Context, bookingID uuid.UUID) (int, error) {
	if err := m.acquire(ctx); err != nil {
		return 0, err
	}
	defer m.unlock()

	released := 0
	for id, s := range m.seats {
		if s.bookingID == bookingID && s.status == Held {
			m.seats[id] = seat{status: Free}
			released++
		}
	}
	return released, nil
}

// Reconcile folds the ledger's live bookings back into the map. Another
// process may have finalized a booking this map still carries as HELD (expiry
// worker, payment consumer) or claimed seats this map thinks are FREE (a peer
// API instance). Under the show lock:
//   - seats of a PAID booking become SOLD
//   - free seats of a PENDING booking become HELD with that booking's expiry
//   - a HELD seat with no live claim is freed only once its grace window has
//     lapsed; a fresh hold may simply not have reached the ledger yet
func (m *SeatMap) Reconcile(ctx context.Context, live []domain.Booking, now time.Time) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.unlock()

	claims := make(map[string]domain.Booking)
	for _, b := range live {
		for _, id := range b.Seats {
			claims[id] = b
		}
	}

	for id, s := range m.seats {
		b, claimed := claims[id]
		switch {
		case claimed && b.State == domain.BookingPaid:
			m.seats[id] = seat{status: Sold, bookingID: b.ID}
		case claimed && s.status == Free:
			m.seats[id] = seat{status: Held, bookingID: b.ID, holdExpiry: b.ExpiresAt}
		case !claimed && s.status == Held && s.holdExpiry.Before(now):
			m.seats[id] = seat{status: Free}
		}
	}
	return nil
}

// Snapshot returns a copy of the current seat states.
func (m *SeatMap) Snapshot(ctx context.Context) (map[string]SeatView, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	out := make(map[string]SeatView, len(m.seats))
	for id, s := range m.seats {
		out[id] = SeatView{Status: s.status, BookingID: s.bookingID, HoldExpiry: s.holdExpiry}
	}
	return out, nil
}
