package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper is the short-lived seen-set for payment event ids. It is a
// defense-in-depth layer: the ledger's compare-and-swap keeps confirmation
// correct even when an event slips past this window.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{client: client, ttl: ttl}
}

// Seen records eventID and reports whether it was already present.
func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	res := d.client.SetNX(ctx, "payevt:"+eventID, 1, d.ttl)
	if err := res.Err(); err != nil {
		return false, err
	}
	return !res.Val(), nil
}
