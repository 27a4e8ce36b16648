package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the fast-path guard in front of the seat map: a SetNX lock per
// (show, seat) keeps the common double-click race off the show lock entirely.
// The seat map and the booking_seats index remain authoritative.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func seatKey(showID uuid.UUID, seat string) string {
	return "hold:" + showID.String() + ":" + seat
}

// LockSeat claims the fast-path lock for one seat. Returns false when another
// booking already holds it.
func (c *Cache) LockSeat(ctx context.Context, showID uuid.UUID, seat string, bookingID uuid.UUID, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, seatKey(showID, seat), bookingID.String(), ttl)
	return res.Val(), res.Err()
}

// UnlockSeats drops the fast-path locks, e.g. when a booking is released or
// the durable create fails after locking. Missing keys are fine; the locks
// expire on their own anyway.
func (c *Cache) UnlockSeats(ctx context.Context, showID uuid.UUID, seats []string) error {
	keys := make([]string, len(seats))
	for i, s := range seats {
		keys[i] = seatKey(showID, s)
	}
	return c.client.Del(ctx, keys...).Err()
}
