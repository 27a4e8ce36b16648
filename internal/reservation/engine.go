// Package reservation implements the hold-granting half of the booking flow:
// validate the seat request, take the seats, persist the PENDING booking, and
// hand back the payment reference the collaborator needs.
package reservation

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

// ShowStore resolves shows and their live bookings from durable storage.
type ShowStore interface {
	GetShow(ctx context.Context, id uuid.UUID) (domain.Show, error)
	ListLiveBookings(ctx context.Context, showID uuid.UUID) ([]domain.Booking, error)
}

// SeatLocker is the optional redis fast path in front of the seat map.
type SeatLocker interface {
	LockSeat(ctx context.Context, showID uuid.UUID, seat string, bookingID uuid.UUID, ttl time.Duration) (bool, error)
	UnlockSeats(ctx context.Context, showID uuid.UUID, seats []string) error
}

// Finalizer applies a terminal outcome to a booking. User cancellation rides
// the same transition+release+notify route as a FAILURE payment outcome.
type Finalizer interface {
	Cancel(ctx context.Context, b domain.Booking) error
}

type Engine struct {
	ledger ledger.Ledger
	seats  *seatmap.Registry
	shows  ShowStore
	locks  SeatLocker // nil disables the fast path
	final  Finalizer
	ttl    time.Duration
	logger observability.Logger
}

func NewEngine(l ledger.Ledger, seats *seatmap.Registry, shows ShowStore, locks SeatLocker, final Finalizer, ttl time.Duration, logger observability.Logger) *Engine {
	return &Engine{ledger: l, seats: seats, shows: shows, locks: locks, final: final, ttl: ttl, logger: logger}
}

// Reserve grants an all-or-nothing hold on seatIDs and persists the PENDING
// booking. On any failure past the hold, the hold is rolled back so no
// partial state survives.
func (e *Engine) Reserve(ctx context.Context, showID uuid.UUID, userID string, seatIDs []string) (domain.Booking, error) {
	show, err := e.shows.GetShow(ctx, showID)
	if err != nil {
		return domain.Booking{}, err
	}
	if bad, err := domain.ValidateSeatSelection(show, seatIDs); err != nil {
		return domain.Booking{}, errors.Wrapf(err, "seats %v", bad)
	}

	b := domain.NewBooking(show, userID, seatIDs, e.ttl)

	m, err := e.seatMap(ctx, show)
	if err != nil {
		return domain.Booking{}, err
	}

	if e.locks != nil {
		// Attempt every seat so a conflict names the full unavailable subset,
		// not just the first collision.
		var locked, unavailable []string
		for _, seat := range b.Seats {
			ok, err := e.locks.LockSeat(ctx, showID, seat, b.ID, e.ttl)
			if err != nil {
				_ = e.locks.UnlockSeats(ctx, showID, locked)
				return domain.Booking{}, err
			}
			if !ok {
				unavailable = append(unavailable, seat)
				continue
			}
			locked = append(locked, seat)
		}
		if len(unavailable) > 0 {
			_ = e.locks.UnlockSeats(ctx, showID, locked)
			observability.HoldConflicts.Inc()
			return domain.Booking{}, &domain.ConflictError{UnavailableSeats: unavailable}
		}
	}

	err = m.TryHold(ctx, b.Seats, b.ID, e.ttl)
	if errors.Is(err, domain.ErrConflict) {
		// The in-memory map can lag the ledger: an expiry worker or payment
		// consumer may have finalized the holding booking in another process.
		// Fold the ledger's live bookings back in and retry once.
		live, liveErr := e.shows.ListLiveBookings(ctx, showID)
		if liveErr != nil {
			e.unlock(ctx, showID, b.Seats)
			return domain.Booking{}, liveErr
		}
		if recErr := m.Reconcile(ctx, live, time.Now().UTC()); recErr != nil {
			e.unlock(ctx, showID, b.Seats)
			return domain.Booking{}, recErr
		}
		err = m.TryHold(ctx, b.Seats, b.ID, e.ttl)
	}
	if err != nil {
		e.unlock(ctx, showID, b.Seats)
		if errors.Is(err, domain.ErrConflict) {
			observability.HoldConflicts.Inc()
		}
		return domain.Booking{}, err
	}

	if err := e.ledger.Create(ctx, b); err != nil {
		if _, relErr := m.Release(ctx, b.ID); relErr != nil {
			e.logger.WithField("booking_id", b.ID).WithError(relErr).Error("rollback release failed")
		}
		e.unlock(ctx, showID, b.Seats)
		return domain.Booking{}, err
	}

	observability.HoldsGranted.Inc()
	e.logger.WithField("booking_id", b.ID).WithField("show_id", showID).Info("seats held")
	return b, nil
}

// Cancel is the user-initiated path. Ownership is checked here; the terminal
// transition, seat release, notification and audit record all come from the
// finalizer, so cancellation is indistinguishable from a FAILURE payment
// outcome downstream.
func (e *Engine) Cancel(ctx context.Context, bookingID uuid.UUID, userID string) error {
	b, err := e.ledger.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.UserID != userID {
		return domain.ErrNotFound
	}
	return e.final.Cancel(ctx, b)
}

// seatMap returns the show's seat map, rebuilding it from live bookings when
// this process has not seen the show yet (fresh start, show created by a
// peer instance).
func (e *Engine) seatMap(ctx context.Context, show domain.Show) (*seatmap.SeatMap, error) {
	if m, err := e.seats.Get(show.ID); err == nil {
		return m, nil
	}
	live, err := e.shows.ListLiveBookings(ctx, show.ID)
	if err != nil {
		return nil, err
	}
	return e.seats.Rebuild(show, live), nil
}

func (e *Engine) unlock(ctx context.Context, showID uuid.UUID, seats []string) {
	if e.locks == nil {
		return
	}
	if err := e.locks.UnlockSeats(ctx, showID, seats); err != nil {
		e.logger.WithField("show_id", showID).WithError(err).Warn("seat unlock failed")
	}
}
