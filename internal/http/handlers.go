package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Lohithg21/Quickshow/internal/adapters/crdb"
	"github.com/Lohithg21/Quickshow/internal/adapters/mongo"
	"github.com/Lohithg21/Quickshow/internal/adapters/rabbit"
	"github.com/Lohithg21/Quickshow/internal/confirmation"
	"github.com/Lohithg21/Quickshow/internal/config"
	"github.com/Lohithg21/Quickshow/internal/domain"
	"github.com/Lohithg21/Quickshow/internal/idempotency"
	"github.com/Lohithg21/Quickshow/internal/ledger"
	"github.com/Lohithg21/Quickshow/internal/observability"
	"github.com/Lohithg21/Quickshow/internal/reservation"
	"github.com/Lohithg21/Quickshow/internal/seatmap"
)

type Handlers struct {
	cfg       *config.Config
	repo      *crdb.Repository
	ledger    ledger.Ledger
	engine    *reservation.Engine
	processor *confirmation.Processor
	seats     *seatmap.Registry
	catalog   *mongo.CatalogRepository
	audit     *mongo.AuditLogger
	idemp     *idempotency.Idempotency
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewHandlers(cfg *config.Config, repo *crdb.Repository, l ledger.Ledger, engine *reservation.Engine,
	processor *confirmation.Processor, seats *seatmap.Registry, catalog *mongo.CatalogRepository,
	audit *mongo.AuditLogger, idemp *idempotency.Idempotency, rabbitPub *rabbit.Publisher,
	logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:       cfg,
		repo:      repo,
		ledger:    l,
		engine:    engine,
		processor: processor,
		seats:     seats,
		catalog:   catalog,
		audit:     audit,
		idemp:     idemp,
		rabbitPub: rabbitPub,
		logger:    logger,
	}
}

// writeJSON returns the marshaled body so POST handlers can store it for
// idempotent replay. Payloads are fixed-shape maps of marshalable values, so
// the marshal error is not actionable.
func writeJSON(w http.ResponseWriter, status int, payload any) []byte {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func writeError(w http.ResponseWriter, err error) {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":             "seats unavailable",
			"unavailable_seats": conflict.UnavailableSeats,
		})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrSerializationFailure):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "busy, try again shortly"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	case errors.Is(err, domain.ErrStaleState):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "already finalized"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

type screeningInput struct {
	Date  string   `json:"date"`  // 2006-01-02
	Times []string `json:"times"` // 15:04
}

// CreateShow schedules screenings for a movie from the catalog. The catalog
// lookup happens first; if the movie is unknown nothing is created.
func (h *Handlers) CreateShow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MovieID    string           `json:"movie_id"`
		PriceCents int64            `json:"price_cents"`
		Rows       int              `json:"rows"`
		RowWidth   int              `json:"row_width"`
		Screenings []screeningInput `json:"screenings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Rows <= 0 {
		req.Rows = 10
	}
	if req.RowWidth <= 0 {
		req.RowWidth = 9
	}
	if req.MovieID == "" || req.PriceCents <= 0 || len(req.Screenings) == 0 || req.Rows > 26 {
		writeError(w, errors.Wrap(domain.ErrValidation, "movie_id, price_cents and screenings required"))
		return
	}

	movie, err := h.catalog.GetMovie(r.Context(), req.MovieID)
	if err != nil {
		writeError(w, err)
		return
	}

	var shows []domain.Show
	for _, sc := range req.Screenings {
		for _, t := range sc.Times {
			startsAt, err := time.Parse("2006-01-02T15:04", sc.Date+"T"+t)
			if err != nil {
				writeError(w, errors.Wrapf(domain.ErrValidation, "screening %s %s", sc.Date, t))
				return
			}
			shows = append(shows, domain.Show{
				ID:         uuid.New(),
				MovieID:    movie.ID,
				MovieTitle: movie.Title,
				StartsAt:   startsAt.UTC(),
				PriceCents: req.PriceCents,
				Rows:       req.Rows,
				RowWidth:   req.RowWidth,
			})
		}
	}

	err = h.repo.WithTx(r.Context(), func(tx pgx.Tx) error {
		for _, show := range shows {
			if err := h.repo.CreateShow(r.Context(), tx, show); err != nil {
				return err
			}
			payload, _ := json.Marshal(map[string]any{
				"show_id":     show.ID,
				"movie_title": show.MovieTitle,
				"starts_at":   show.StartsAt,
			})
			rec := crdb.NewOutboxRecord("show", show.ID, "show.added", payload)
			if err := h.repo.InsertOutbox(r.Context(), tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	ids := make([]uuid.UUID, len(shows))
	for i, show := range shows {
		h.seats.Register(show.ID, show.SeatLabels())
		ids[i] = show.ID
	}
	writeJSON(w, http.StatusCreated, map[string]any{"show_ids": ids})
}

func (h *Handlers) ListShows(w http.ResponseWriter, r *http.Request) {
	shows, err := h.repo.ListUpcomingShows(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shows": showViews(shows)})
}

// GetShow returns one show with its current seat availability.
func (h *Handlers) GetShow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	show, err := h.repo.GetShow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	seats := map[string]string{}
	if m, err := h.seats.Get(show.ID); err == nil {
		// Another process may have finalized bookings this map still carries
		// as HELD; fold the ledger back in before reporting.
		live, err := h.repo.ListLiveBookings(r.Context(), show.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := m.Reconcile(r.Context(), live, time.Now().UTC()); err != nil {
			writeError(w, err)
			return
		}
		snap, err := m.Snapshot(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		for label, v := range snap {
			seats[label] = string(v.Status)
		}
	} else {
		// Show scheduled by a peer instance; report from the ledger.
		live, err := h.repo.ListLiveBookings(r.Context(), show.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, label := range show.SeatLabels() {
			seats[label] = string(seatmap.Free)
		}
		for _, b := range live {
			status := seatmap.Held
			if b.State == domain.BookingPaid {
				status = seatmap.Sold
			}
			for _, label := range b.Seats {
				seats[label] = string(status)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"show":  showView(show),
		"seats": seats,
	})
}

// Showtimes lists a movie's upcoming screenings grouped by date.
func (h *Handlers) Showtimes(w http.ResponseWriter, r *http.Request) {
	movieID := chi.URLParam(r, "movieID")
	shows, err := h.repo.ListShowsByMovie(r.Context(), movieID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	byDate := map[string][]map[string]any{}
	for _, s := range shows {
		date := s.StartsAt.Format("2006-01-02")
		byDate[date] = append(byDate[date], map[string]any{
			"show_id": s.ID,
			"time":    s.StartsAt.Format("15:04"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"movie_id": movieID, "dates": byDate})
}

// CreateBooking reserves seats and hands back the payment reference the
// client forwards to the payment collaborator.
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		ShowID uuid.UUID `json:"show_id"`
		Seats  []string  `json:"seat_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.engine.Reserve(r.Context(), req.ShowID, userID, req.Seats)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.rabbitPub != nil {
		if err := h.rabbitPub.PublishJSON(r.Context(), "booking.created", bookingView(b)); err != nil {
			h.logger.WithField("booking_id", b.ID).WithError(err).Warn("booking.created publish failed")
		}
	}
	if h.audit != nil {
		h.audit.LogBooking(r.Context(), "booking.created", b)
	}

	data := writeJSON(w, http.StatusCreated, bookingView(b))
	if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data}); err != nil {
		h.logger.WithError(err).Warn("idempotency store failed")
	}
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	b, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingView(b))
}

func (h *Handlers) MyBookings(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return
	}
	bookings, err := h.ledger.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]map[string]any, len(bookings))
	for i, b := range bookings {
		views[i] = bookingView(b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": views})
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.engine.Cancel(r.Context(), id, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PaymentCallback receives the normalized payment event. Unknown references
// and duplicates are acknowledged with 200 so the collaborator stops
// retrying; only a malformed payload is a client error.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var ev domain.PaymentEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ev.PaymentRef == "" {
		http.Error(w, "missing payment_reference", http.StatusBadRequest)
		return
	}

	if err := h.processor.HandlePaymentEvent(r.Context(), ev); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func showView(s domain.Show) map[string]any {
	return map[string]any{
		"id":          s.ID,
		"movie_id":    s.MovieID,
		"movie_title": s.MovieTitle,
		"starts_at":   s.StartsAt.Format(time.RFC3339),
		"price_cents": s.PriceCents,
		"rows":        s.Rows,
		"row_width":   s.RowWidth,
	}
}

func showViews(shows []domain.Show) []map[string]any {
	views := make([]map[string]any, len(shows))
	for i, s := range shows {
		views[i] = showView(s)
	}
	return views
}

func bookingView(b domain.Booking) map[string]any {
	return map[string]any{
		"booking_id":        b.ID,
		"show_id":           b.ShowID,
		"seats":             b.Seats,
		"amount_cents":      b.AmountCents,
		"state":             b.State,
		"payment_reference": b.PaymentRef,
		"expires_at":        b.ExpiresAt.Format(time.RFC3339),
	}
}
