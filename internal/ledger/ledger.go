// Package ledger defines the durable booking record. The compare-and-swap
// Transition is the cornerstone of idempotent confirmation: whichever actor
// (webhook processor or expiry sweeper) swaps PENDING into a terminal state
// first wins, everyone else sees ErrStaleState.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Lohithg21/Quickshow/internal/domain"
)

type Ledger interface {
	// Create persists a new PENDING booking. A reused payment reference
	// fails with ErrDuplicateReference; references are uuids, so hitting it
	// means a generation bug, not normal operation.
	Create(ctx context.Context, b domain.Booking) error

	Get(ctx context.Context, id uuid.UUID) (domain.Booking, error)

	// FindByPaymentReference resolves the booking a payment event targets.
	FindByPaymentReference(ctx context.Context, ref string) (domain.Booking, error)

	// Transition swaps the booking state only if the persisted state equals
	// from; otherwise ErrStaleState. Atomic per booking id.
	Transition(ctx context.Context, id uuid.UUID, from, to domain.BookingState) error

	// FindExpiredPending lists PENDING bookings whose hold window lapsed
	// before now.
	FindExpiredPending(ctx context.Context, now time.Time) ([]domain.Booking, error)

	ListByUser(ctx context.Context, userID string) ([]domain.Booking, error)
}
