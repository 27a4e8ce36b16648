package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Show is a single scheduled screening of a movie. The seat layout is fixed
// at creation time; seats are addressed by row letter plus seat number
// ("A1" .. "J9" for a 10x9 hall).
type Show struct {
	ID         uuid.UUID
	MovieID    string
	MovieTitle string
	StartsAt   time.Time
	PriceCents int64
	Rows       int
	RowWidth   int
	CreatedAt  time.Time
}

// SeatLabels returns every seat identifier of the show's layout, row by row.
func (s Show) SeatLabels() []string {
	labels := make([]string, 0, s.Rows*s.RowWidth)
	for r := 0; r < s.Rows; r++ {
		for n := 1; n <= s.RowWidth; n++ {
			labels = append(labels, fmt.Sprintf("%c%d", 'A'+r, n))
		}
	}
	return labels
}

// HasSeat reports whether label addresses a seat of this show's layout.
func (s Show) HasSeat(label string) bool {
	if len(label) < 2 || s.Rows == 0 {
		return false
	}
	row := int(label[0] - 'A')
	if row < 0 || row >= s.Rows {
		return false
	}
	n := 0
	for _, c := range label[1:] {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
	}
	return n >= 1 && n <= s.RowWidth
}

type BookingState string

const (
	BookingPending   BookingState = "PENDING"
	BookingPaid      BookingState = "PAID"
	BookingExpired   BookingState = "EXPIRED"
	BookingCancelled BookingState = "CANCELLED"
)

// Terminal reports whether no further transition is permitted from s.
func (s BookingState) Terminal() bool {
	return s == BookingPaid || s == BookingExpired || s == BookingCancelled
}

// Booking is one customer's attempt to buy a set of seats on one show.
// PaymentRef is generated at creation and is the idempotency key the payment
// collaborator echoes back in its events.
type Booking struct {
	ID          uuid.UUID
	ShowID      uuid.UUID
	UserID      string
	Seats       []string
	AmountCents int64
	State       BookingState
	PaymentRef  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	FinalizedAt *time.Time
}

type PaymentOutcome string

const (
	PaymentSuccess PaymentOutcome = "SUCCESS"
	PaymentFailure PaymentOutcome = "FAILURE"
)

// PaymentEvent is the normalized payment notification. EventID is optional;
// when the collaborator supplies one it is used for short-window
// de-duplication on top of the state-based idempotency.
type PaymentEvent struct {
	PaymentRef string         `json:"payment_reference"`
	Outcome    PaymentOutcome `json:"outcome"`
	EventID    string         `json:"event_id,omitempty"`
}
