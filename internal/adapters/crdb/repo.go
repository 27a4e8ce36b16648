package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lohithg21/Quickshow/internal/domain"
	"github.com/Lohithg21/Quickshow/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

// Repository is the durable side of the system: shows, the booking ledger and
// the outbox. Seat claims live in booking_seats with a partial unique index
// on (show_id, seat_id) over live rows, so the database rejects a double
// claim even if every in-process guard is bypassed.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) CreateShow(ctx context.Context, tx pgx.Tx, show domain.Show) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO shows (id, movie_id, movie_title, starts_at, price_cents, seat_rows, row_width)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, show.ID, show.MovieID, show.MovieTitle, show.StartsAt, show.PriceCents, show.Rows, show.RowWidth)
	return err
}

func (r *Repository) GetShow(ctx context.Context, id uuid.UUID) (domain.Show, error) {
	var s domain.Show
	err := r.pool.QueryRow(ctx, `
		SELECT id, movie_id, movie_title, starts_at, price_cents, seat_rows, row_width, created_at
		FROM shows WHERE id = $1
	`, id).Scan(&s.ID, &s.MovieID, &s.MovieTitle, &s.StartsAt, &s.PriceCents, &s.Rows, &s.RowWidth, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.Show{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Show{}, err
	}
	return s, nil
}

func (r *Repository) ListUpcomingShows(ctx context.Context, now time.Time) ([]domain.Show, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, movie_id, movie_title, starts_at, price_cents, seat_rows, row_width, created_at
		FROM shows WHERE starts_at >= $1 ORDER BY starts_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShows(rows)
}

func (r *Repository) ListShowsByMovie(ctx context.Context, movieID string, now time.Time) ([]domain.Show, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, movie_id, movie_title, starts_at, price_cents, seat_rows, row_width, created_at
		FROM shows WHERE movie_id = $1 AND starts_at >= $2 ORDER BY starts_at ASC
	`, movieID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShows(rows)
}

func scanShows(rows pgx.Rows) ([]domain.Show, error) {
	var shows []domain.Show
	for rows.Next() {
		var s domain.Show
		if err := rows.Scan(&s.ID, &s.MovieID, &s.MovieTitle, &s.StartsAt, &s.PriceCents, &s.Rows, &s.RowWidth, &s.CreatedAt); err != nil {
			return nil, err
		}
		shows = append(shows, s)
	}
	return shows, rows.Err()
}

// Create persists a PENDING booking and its seat claims in one serializable
// transaction. A payment-reference collision maps to ErrDuplicateReference;
// a live seat-claim collision maps to ConflictError for the colliding seat.
func (r *Repository) Create(ctx context.Context, b domain.Booking) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (id, show_id, user_id, amount_cents, state, payment_reference, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, b.ID, b.ShowID, b.UserID, b.AmountCents, b.State, b.PaymentRef, b.CreatedAt, b.ExpiresAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
				return domain.ErrDuplicateReference
			}
			return err
		}

		// Attempt every seat before failing so the conflict error names the
		// full unavailable subset; the rollback discards the rest.
		var unavailable []string
		for _, seat := range b.Seats {
			result, err := tx.Exec(ctx, `
				INSERT INTO booking_seats (booking_id, show_id, seat_id, status)
				VALUES ($1, $2, $3, 'HELD')
				ON CONFLICT (show_id, seat_id) WHERE status IN ('HELD', 'SOLD') DO NOTHING
				RETURNING booking_id
			`, b.ID, b.ShowID, seat)
			if err != nil {
				return err
			}
			if result.RowsAffected() == 0 {
				unavailable = append(unavailable, seat)
			}
		}
		if len(unavailable) > 0 {
			return &domain.ConflictError{UnavailableSeats: unavailable}
		}
		return nil
	})
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return r.getBooking(ctx, "b.id = $1", id)
}

func (r *Repository) FindByPaymentReference(ctx context.Context, ref string) (domain.Booking, error) {
	return r.getBooking(ctx, "b.payment_reference = $1", ref)
}

func (r *Repository) getBooking(ctx context.Context, where string, arg any) (domain.Booking, error) {
	var b domain.Booking
	err := r.pool.QueryRow(ctx, `
		SELECT b.id, b.show_id, b.user_id, b.amount_cents, b.state, b.payment_reference,
		       b.created_at, b.expires_at, b.finalized_at,
		       array_agg(s.seat_id ORDER BY s.seat_id)
		FROM bookings b JOIN booking_seats s ON s.booking_id = b.id
		WHERE `+where+`
		GROUP BY b.id
	`, arg).Scan(&b.ID, &b.ShowID, &b.UserID, &b.AmountCents, &b.State, &b.PaymentRef,
		&b.CreatedAt, &b.ExpiresAt, &b.FinalizedAt, &b.Seats)
	if err == pgx.ErrNoRows {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

// Transition performs the single-row compare-and-swap and moves the booking's
// seat rows in step: PAID marks them SOLD, any other terminal state releases
// them. RowsAffected 0 means another actor already finalized the booking.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to domain.BookingState) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE bookings SET state = $3, finalized_at = now()
			WHERE id = $1 AND state = $2
		`, id, from, to)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			var current domain.BookingState
			err := tx.QueryRow(ctx, `SELECT state FROM bookings WHERE id = $1`, id).Scan(&current)
			if err == pgx.ErrNoRows {
				return domain.ErrNotFound
			}
			if err != nil {
				return err
			}
			return domain.ErrStaleState
		}

		seatStatus := "RELEASED"
		if to == domain.BookingPaid {
			seatStatus = "SOLD"
		}
		_, err = tx.Exec(ctx, `
			UPDATE booking_seats SET status = $2
			WHERE booking_id = $1 AND status = 'HELD'
		`, id, seatStatus)
		return err
	})
}

func (r *Repository) FindExpiredPending(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	return r.listBookings(ctx, "b.state = 'PENDING' AND b.expires_at <= $1", now)
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	return r.listBookings(ctx, "b.user_id = $1", userID)
}

// ListLiveBookings returns the PENDING and PAID bookings of one show, used to
// rebuild the in-memory seat map on process start.
func (r *Repository) ListLiveBookings(ctx context.Context, showID uuid.UUID) ([]domain.Booking, error) {
	return r.listBookings(ctx, "b.show_id = $1 AND b.state IN ('PENDING', 'PAID')", showID)
}

func (r *Repository) listBookings(ctx context.Context, where string, arg any) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.show_id, b.user_id, b.amount_cents, b.state, b.payment_reference,
		       b.created_at, b.expires_at, b.finalized_at,
		       array_agg(s.seat_id ORDER BY s.seat_id)
		FROM bookings b JOIN booking_seats s ON s.booking_id = b.id
		WHERE `+where+`
		GROUP BY b.id
		ORDER BY b.created_at DESC
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.ShowID, &b.UserID, &b.AmountCents, &b.State, &b.PaymentRef,
			&b.CreatedAt, &b.ExpiresAt, &b.FinalizedAt, &b.Seats); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
