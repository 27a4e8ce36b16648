package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// NewBooking builds a PENDING booking for the given seats. Seats are stored
// sorted so equality checks and audit output are stable regardless of request
// order. The payment reference doubles as the confirmation idempotency key.
func NewBooking(show Show, userID string, seats []string, ttl time.Duration) Booking {
	sorted := make([]string, len(seats))
	copy(sorted, seats)
	sort.Strings(sorted)

	now := time.Now().UTC()
	return Booking{
		ID:          uuid.New(),
		ShowID:      show.ID,
		UserID:      userID,
		Seats:       sorted,
		AmountCents: show.PriceCents * int64(len(sorted)),
		State:       BookingPending,
		PaymentRef:  uuid.New().String(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// ValidateSeatSelection enforces the reservation preconditions: at least one
// seat, no duplicates, every label part of the show's layout. It returns the
// offending labels alongside ErrValidation so callers can name them.
func ValidateSeatSelection(show Show, seats []string) ([]string, error) {
	if len(seats) == 0 {
		return nil, ErrValidation
	}
	seen := make(map[string]struct{}, len(seats))
	var bad []string
	for _, s := range seats {
		if _, dup := seen[s]; dup {
			bad = append(bad, s)
			continue
		}
		seen[s] = struct{}{}
		if !show.HasSeat(s) {
			bad = append(bad, s)
		}
	}
	if len(bad) > 0 {
		return bad, ErrValidation
	}
	return nil, nil
}
