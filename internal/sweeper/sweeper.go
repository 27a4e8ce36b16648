// Package sweeper reclaims seats whose holds outlived the grace window.
// Overlapping sweeps and races with the confirmation processor are safe: the
// ledger's compare-and-swap lets exactly one actor finalize a booking, and
// seat release is idempotent.
package sweeper

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lohithg21/Quickshow/internal/confirmation"
	"github.com/Lohithg21/Quickshow/internal/ledger"
	"github.com/Lohithg21/Quickshow/internal/observability"
)

const sweepConcurrency = 4

type Sweeper struct {
	ledger    ledger.Ledger
	processor *confirmation.Processor
	logger    observability.Logger
}

func New(l ledger.Ledger, processor *confirmation.Processor, logger observability.Logger) *Sweeper {
	return &Sweeper{ledger: l, processor: processor, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.Sweep(ctx, now.UTC()); err != nil {
				s.logger.WithError(err).Error("sweep failed")
			}
		}
	}
}

// Sweep expires every PENDING booking past its deadline. A booking another
// actor finalized in the meantime is skipped without error.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() {
		observability.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	expired, err := s.ledger.FindExpiredPending(ctx, now)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, b := range expired {
		b := b
		g.Go(func() error {
			// Expire treats a booking already finalized elsewhere as a no-op.
			if err := s.processor.Expire(gctx, b); err != nil {
				s.logger.WithField("booking_id", b.ID).WithError(err).Error("expire failed")
			}
			return nil
		})
	}
	return g.Wait()
}
