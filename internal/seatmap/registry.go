package seatmap

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lohithg21/Quickshow/internal/domain"
)

// Registry owns one SeatMap per show. Shows are registered when scheduled
// and rebuilt from the booking ledger on process start.
type Registry struct {
	mu       sync.RWMutex
	maps     map[uuid.UUID]*SeatMap
	lockWait time.Duration
}

func NewRegistry(lockWait time.Duration) *Registry {
	return &Registry{maps: make(map[uuid.UUID]*SeatMap), lockWait: lockWait}
}

// Register creates the seat map for a show. Registering the same show twice
// keeps the existing map so a restart race cannot wipe live holds.
func (r *Registry) Register(showID uuid.UUID, labels []string) *SeatMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.maps[showID]; ok {
		return m
	}
	m := New(showID, labels, r.lockWait)
	r.maps[showID] = m
	return m
}

func (r *Registry) Get(showID uuid.UUID) (*SeatMap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.maps[showID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

// Rebuild registers a show and replays its live bookings onto the fresh map:
// PENDING bookings become holds with their original expiry, PAID bookings
// become sold seats. Terminal non-PAID bookings own nothing.
func (r *Registry) Rebuild(show domain.Show, live []domain.Booking) *SeatMap {
	m := r.Register(show.ID, show.SeatLabels())

	m.sem <- struct{}{}
	defer m.unlock()
	for _, b := range live {
		switch b.State {
		case domain.BookingPending:
			for _, id := range b.Seats {
				m.seats[id] = seat{status: Held, bookingID: b.ID, holdExpiry: b.ExpiresAt}
			}
		case domain.BookingPaid:
			for _, id := range b.Seats {
				m.seats[id] = seat{status: Sold, bookingID: b.ID}
			}
		}
	}
	return m
}
