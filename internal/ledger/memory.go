package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lohithg21/Quickshow/internal/domain"
)

// Memory is the in-process Ledger. It backs unit tests and single-node runs;
// production wiring uses the crdb adapter.
type Memory struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]domain.Booking
	byRef    map[string]uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{
		bookings: make(map[uuid.UUID]domain.Booking),
		byRef:    make(map[string]uuid.UUID),
	}
}

func (m *Memory) Create(ctx context.Context, b domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[b.PaymentRef]; ok {
		return domain.ErrDuplicateReference
	}
	m.bookings[b.ID] = b
	m.byRef[b.PaymentRef] = b.ID
	return nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *Memory) FindByPaymentReference(ctx context.Context, ref string) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byRef[ref]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return m.bookings[id], nil
}

func (m *Memory) Transition(ctx context.Context, id uuid.UUID, from, to domain.BookingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	if b.State != from {
		return domain.ErrStaleState
	}
	b.State = to
	if to.Terminal() {
		now := time.Now().UTC()
		b.FinalizedAt = &now
	}
	m.bookings[id] = b
	return nil
}

func (m *Memory) FindExpiredPending(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.State == domain.BookingPending && b.ExpiresAt.Before(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// ListLiveBookings mirrors the crdb repository's surface: the PENDING and
// PAID bookings of one show, for seat map rebuild and reconciliation.
func (m *Memory) ListLiveBookings(ctx context.Context, showID uuid.UUID) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.ShowID == showID && (b.State == domain.BookingPending || b.State == domain.BookingPaid) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
