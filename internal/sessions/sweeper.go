package sessions

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Sweeper deletes expired sessions on a timer, in bounded batches so a large
// backlog never turns into one unbounded delete. Safe to run alongside live
// reads and writes: it only ever touches rows already past expiry.
type Sweeper struct {
	registry Registry
	interval time.Duration
	batch    int
	clock    clockwork.Clock
	log      *zap.SugaredLogger
}

func NewSweeper(registry Registry, interval time.Duration, batch int, clock clockwork.Clock, log *zap.SugaredLogger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 500
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		batch:    batch,
		clock:    clock,
		log:      log,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n, err := s.sweepOnce(ctx); err != nil {
				s.log.Errorw("session sweep failed", "err", err)
			} else if n > 0 {
				s.log.Infow("swept expired sessions", "removed", n)
			}
		}
	}
}

// sweepOnce drains expired rows batch by batch until a batch comes back
// short, retrying each batch on transient storage errors.
func (s *Sweeper) sweepOnce(ctx context.Context) (int64, error) {
	now := s.clock.Now()

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var removed int64
		backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var sweepErr error
			removed, sweepErr = s.registry.SweepExpired(ctx, now, s.batch)
			if sweepErr != nil {
				return retry.RetryableError(sweepErr)
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		total += removed
		if removed < int64(s.batch) {
			return total, nil
		}
	}
}
