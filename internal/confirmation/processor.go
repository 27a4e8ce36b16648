// Package confirmation consumes normalized payment events and finalizes
// bookings. The logic is transport-agnostic: the HTTP callback handler and
// the queue consumer both feed HandlePaymentEvent.
package confirmation

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/Lohithg21/Quickshow/internal/domain"
	"github.com/Lohithg21/Quickshow/internal/ledger"
	"github.com/Lohithg21/Quickshow/internal/observability"
	"github.com/Lohithg21/Quickshow/internal/seatmap"
)

// Deduper suppresses redundant deliveries of the same event id within a
// short window. Purely defense-in-depth: the ledger CAS keeps processing
// idempotent even without it.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// Publisher emits outcome notifications (booking.paid, booking.cancelled,
// booking.reconcile). Fire-and-forget.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, payload any) error
}

// SeatLocker releases the redis fast-path locks when seats go back to FREE.
type SeatLocker interface {
	UnlockSeats(ctx context.Context, showID uuid.UUID, seats []string) error
}

// Auditor records lifecycle events to the audit trail.
type Auditor interface {
	LogBooking(ctx context.Context, action string, b domain.Booking)
}

type Processor struct {
	ledger ledger.Ledger
	seats  *seatmap.Registry
	dedupe Deduper    // nil disables the seen-set
	events Publisher  // nil disables notifications
	locks  SeatLocker // nil disables the fast path
	audit  Auditor    // nil disables auditing
	logger observability.Logger
}

func NewProcessor(l ledger.Ledger, seats *seatmap.Registry, dedupe Deduper, events Publisher, locks SeatLocker, audit Auditor, logger observability.Logger) *Processor {
	return &Processor{ledger: l, seats: seats, dedupe: dedupe, events: events, locks: locks, audit: audit, logger: logger}
}

// HandlePaymentEvent applies one payment outcome. Unknown references and
// already-finalized bookings are acknowledged as no-ops: erroring would only
// make the collaborator retry an event this system can never act on.
func (p *Processor) HandlePaymentEvent(ctx context.Context, ev domain.PaymentEvent) error {
	if ev.Outcome != domain.PaymentSuccess && ev.Outcome != domain.PaymentFailure {
		return errors.Wrapf(domain.ErrValidation, "outcome %q", ev.Outcome)
	}

	if p.dedupe != nil && ev.EventID != "" {
		seen, err := p.dedupe.Seen(ctx, ev.EventID)
		if err != nil {
			// Degrade to state-based idempotency alone.
			p.logger.WithError(err).Warn("event dedupe unavailable")
		} else if seen {
			p.logger.WithField("event_id", ev.EventID).Debug("duplicate payment event suppressed")
			return nil
		}
	}

	b, err := p.ledger.FindByPaymentReference(ctx, ev.PaymentRef)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.WithField("payment_reference", ev.PaymentRef).Warn("payment event for unknown reference discarded")
		return nil
	}
	if err != nil {
		return err
	}
	if b.State != domain.BookingPending {
		return nil
	}

	if ev.Outcome == domain.PaymentSuccess {
		return p.confirm(ctx, b)
	}
	return p.reject(ctx, b, domain.BookingCancelled, "booking.cancelled")
}

func (p *Processor) confirm(ctx context.Context, b domain.Booking) error {
	err := p.ledger.Transition(ctx, b.ID, domain.BookingPending, domain.BookingPaid)
	if errors.Is(err, domain.ErrStaleState) {
		return p.reconcile(ctx, b)
	}
	if err != nil {
		return err
	}
	observability.BookingsFinalized.WithLabelValues(string(domain.BookingPaid)).Inc()

	if m, err := p.seats.Get(b.ShowID); err == nil {
		if err := m.Commit(ctx, b.ID); err != nil {
			p.logger.WithField("booking_id", b.ID).WithError(err).Error("seat commit failed")
		}
	}

	b.State = domain.BookingPaid
	p.notify(ctx, "booking.paid", b)
	if p.audit != nil {
		p.audit.LogBooking(ctx, "booking.paid", b)
	}
	p.logger.WithField("booking_id", b.ID).Info("booking paid")
	return nil
}

// reconcile handles a payment success that lost the race against expiry: the
// money moved but the seats are gone. Reported for refund, never silently
// dropped, never re-granted to another customer from here.
func (p *Processor) reconcile(ctx context.Context, b domain.Booking) error {
	current, err := p.ledger.Get(ctx, b.ID)
	if err != nil {
		return err
	}
	if current.State != domain.BookingExpired {
		// Duplicate delivery; the first one already finished the job.
		return nil
	}

	observability.Reconciliations.Inc()
	p.logger.WithField("booking_id", b.ID).
		WithField("payment_reference", b.PaymentRef).
		Warn("payment succeeded after hold expiry, refund required")
	p.notify(ctx, "booking.reconcile", map[string]any{
		"booking_id":        b.ID,
		"payment_reference": b.PaymentRef,
		"amount_cents":      b.AmountCents,
		"detected_at":       time.Now().UTC(),
	})
	return nil
}

// Expire finalizes a lapsed PENDING booking. The expiry sweeper calls this so
// expiry and failed confirmation share one rollback path.
func (p *Processor) Expire(ctx context.Context, b domain.Booking) error {
	return p.reject(ctx, b, domain.BookingExpired, "booking.expired")
}

// Cancel finalizes a user-initiated cancellation through the same release
// routine as a FAILURE payment outcome. Unlike the webhook paths it surfaces
// ErrStaleState: the caller asked for a state change and must learn the
// booking was already finalized.
func (p *Processor) Cancel(ctx context.Context, b domain.Booking) error {
	if err := p.ledger.Transition(ctx, b.ID, domain.BookingPending, domain.BookingCancelled); err != nil {
		return err
	}
	p.finalize(ctx, b, domain.BookingCancelled, "booking.cancelled")
	return nil
}

func (p *Processor) reject(ctx context.Context, b domain.Booking, to domain.BookingState, event string) error {
	err := p.ledger.Transition(ctx, b.ID, domain.BookingPending, to)
	if errors.Is(err, domain.ErrStaleState) {
		return nil
	}
	if err != nil {
		return err
	}
	p.finalize(ctx, b, to, event)
	return nil
}

// finalize is the shared tail of every non-PAID terminal transition: free the
// seats, drop the fast-path locks, notify, audit.
func (p *Processor) finalize(ctx context.Context, b domain.Booking, to domain.BookingState, event string) {
	observability.BookingsFinalized.WithLabelValues(string(to)).Inc()

	if m, err := p.seats.Get(b.ShowID); err == nil {
		if _, err := m.Release(ctx, b.ID); err != nil {
			p.logger.WithField("booking_id", b.ID).WithError(err).Error("seat release failed")
		}
	}
	if p.locks != nil {
		if err := p.locks.UnlockSeats(ctx, b.ShowID, b.Seats); err != nil {
			p.logger.WithField("booking_id", b.ID).WithError(err).Warn("seat unlock failed")
		}
	}

	b.State = to
	p.notify(ctx, event, b)
	if p.audit != nil {
		p.audit.LogBooking(ctx, event, b)
	}
	p.logger.WithField("booking_id", b.ID).WithField("state", to).Info("booking finalized")
}

func (p *Processor) notify(ctx context.Context, key string, payload any) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishJSON(ctx, key, payload); err != nil {
		p.logger.WithField("event", key).WithError(err).Warn("notification publish failed")
	}
}
