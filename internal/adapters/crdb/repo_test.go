package crdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Lohithg21/Quickshow/internal/adapters/crdb"
	"github.com/Lohithg21/Quickshow/internal/domain"
)

const schema = `
	CREATE DATABASE IF NOT EXISTS quickshow;
	CREATE TABLE IF NOT EXISTS quickshow.shows (
		id UUID PRIMARY KEY,
		movie_id TEXT NOT NULL,
		movie_title TEXT NOT NULL,
		starts_at TIMESTAMPTZ NOT NULL,
		price_cents INT8 NOT NULL,
		seat_rows INT NOT NULL,
		row_width INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS quickshow.bookings (
		id UUID PRIMARY KEY,
		show_id UUID NOT NULL,
		user_id TEXT NOT NULL,
		amount_cents INT8 NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('PENDING', 'PAID', 'EXPIRED', 'CANCELLED')),
		payment_reference TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		finalized_at TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS quickshow.booking_seats (
		booking_id UUID NOT NULL,
		show_id UUID NOT NULL,
		seat_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('HELD', 'SOLD', 'RELEASED')),
		PRIMARY KEY (booking_id, seat_id),
		UNIQUE INDEX live_seat_claim (show_id, seat_id) WHERE status IN ('HELD', 'SOLD')
	);
	CREATE TABLE IF NOT EXISTS quickshow.outbox (
		id UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		dedupe_key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ
	);
`

func setupRepo(t *testing.T) (*crdb.Repository, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	dsn, err := container.Endpoint(ctx, "postgresql")
	if err != nil {
		container.Terminate(ctx)
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/quickshow?sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		t.Fatal(err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatal(err)
	}

	return crdb.NewRepository(pool), func() {
		pool.Close()
		container.Terminate(ctx)
	}
}

func testShow(t *testing.T, repo *crdb.Repository) domain.Show {
	t.Helper()
	show := domain.Show{
		ID:         uuid.New(),
		MovieID:    "tt0137523",
		MovieTitle: "Fight Club",
		StartsAt:   time.Now().Add(24 * time.Hour).UTC(),
		PriceCents: 1500,
		Rows:       5,
		RowWidth:   8,
	}
	err := repo.WithTx(context.Background(), func(tx pgx.Tx) error {
		return repo.CreateShow(context.Background(), tx, show)
	})
	if err != nil {
		t.Fatal(err)
	}
	return show
}

func TestRepository_CreateRejectsLiveSeatClaim(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	show := testShow(t, repo)

	first := domain.NewBooking(show, "user-1", []string{"A1", "A2"}, 10*time.Minute)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	second := domain.NewBooking(show, "user-2", []string{"A2", "A3"}, 10*time.Minute)
	err := repo.Create(ctx, second)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) || conflict.UnavailableSeats[0] != "A2" {
		t.Errorf("expected A2 reported unavailable, got %v", err)
	}

	// A3 was rolled back with the failed insert, so a retry without A2 works.
	third := domain.NewBooking(show, "user-2", []string{"A3"}, 10*time.Minute)
	if err := repo.Create(ctx, third); err != nil {
		t.Fatalf("expected A3 free after rollback, got %v", err)
	}

	// Multiple collisions are all named, not just the first.
	fourth := domain.NewBooking(show, "user-3", []string{"A1", "A2", "A4"}, 10*time.Minute)
	err = repo.Create(ctx, fourth)
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if len(conflict.UnavailableSeats) != 2 ||
		conflict.UnavailableSeats[0] != "A1" || conflict.UnavailableSeats[1] != "A2" {
		t.Errorf("unavailable = %v, want [A1 A2]", conflict.UnavailableSeats)
	}
}

func TestRepository_TransitionCAS(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	show := testShow(t, repo)
	b := domain.NewBooking(show, "user-1", []string{"B1"}, 10*time.Minute)
	if err := repo.Create(ctx, b); err != nil {
		t.Fatal(err)
	}

	if err := repo.Transition(ctx, b.ID, domain.BookingPending, domain.BookingPaid); err != nil {
		t.Fatalf("expected transition to succeed, got %v", err)
	}

	err := repo.Transition(ctx, b.ID, domain.BookingPending, domain.BookingExpired)
	if !errors.Is(err, domain.ErrStaleState) {
		t.Fatalf("expected stale state on second finalize, got %v", err)
	}

	got, err := repo.Get(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.BookingPaid {
		t.Errorf("expected PAID, got %s", got.State)
	}
	if got.FinalizedAt == nil {
		t.Error("expected finalized_at set")
	}

	// SOLD seats still hold the live claim.
	again := domain.NewBooking(show, "user-2", []string{"B1"}, 10*time.Minute)
	if err := repo.Create(ctx, again); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected sold seat to stay claimed, got %v", err)
	}
}

func TestRepository_ExpiryReleasesSeats(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	show := testShow(t, repo)
	b := domain.NewBooking(show, "user-1", []string{"C1"}, -time.Minute)
	if err := repo.Create(ctx, b); err != nil {
		t.Fatal(err)
	}

	expired, err := repo.FindExpiredPending(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != b.ID {
		t.Fatalf("expected the lapsed booking, got %v", expired)
	}

	if err := repo.Transition(ctx, b.ID, domain.BookingPending, domain.BookingExpired); err != nil {
		t.Fatal(err)
	}

	// RELEASED rows leave the partial index, so the seat can be claimed again.
	fresh := domain.NewBooking(show, "user-2", []string{"C1"}, 10*time.Minute)
	if err := repo.Create(ctx, fresh); err != nil {
		t.Fatalf("expected released seat to be claimable, got %v", err)
	}
}

func TestRepository_DuplicatePaymentReference(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	show := testShow(t, repo)
	b := domain.NewBooking(show, "user-1", []string{"D1"}, 10*time.Minute)
	if err := repo.Create(ctx, b); err != nil {
		t.Fatal(err)
	}

	dup := domain.NewBooking(show, "user-2", []string{"D2"}, 10*time.Minute)
	dup.PaymentRef = b.PaymentRef
	if err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrDuplicateReference) {
		t.Errorf("expected duplicate reference error, got %v", err)
	}

	found, err := repo.FindByPaymentReference(ctx, b.PaymentRef)
	if err != nil {
		t.Fatal(err)
	}
	if found.ID != b.ID {
		t.Errorf("expected booking %s, got %s", b.ID, found.ID)
	}
}

func TestRepository_OutboxRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	showID := uuid.New()
	rec := crdb.NewOutboxRecord("show", showID, "show.added", []byte(`{"show_id":"`+showID.String()+`"}`))
	err := repo.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.InsertOutbox(ctx, tx, rec)
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].EventType != "show.added" {
		t.Fatalf("expected one unpublished show.added record, got %v", pending)
	}

	if err := repo.MarkPublished(ctx, pending[0].ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	pending, err = repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("expected outbox drained, got %d records", len(pending))
	}
}
