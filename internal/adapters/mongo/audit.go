package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Lohithg21/Quickshow/internal/domain"
	"github.com/Lohithg21/Quickshow/internal/observability"
)

// AuditLogger records booking lifecycle events. Writes are fire-and-forget:
// callers log failures but never fail the transactional path over them.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    string    `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action, userID string, data map[string]interface{}) {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, log); err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
	}
}

func (a *AuditLogger) LogBooking(ctx context.Context, action string, b domain.Booking) {
	a.LogEvent(ctx, action, b.UserID, map[string]interface{}{
		"booking_id":   b.ID,
		"show_id":      b.ShowID,
		"seats":        b.Seats,
		"amount_cents": b.AmountCents,
		"state":        b.State,
		"expires_at":   b.ExpiresAt.Format(time.RFC3339),
	})
}
