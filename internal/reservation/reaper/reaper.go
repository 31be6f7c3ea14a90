package reaper

import (
	"context"
	"time"

	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	"go.uber.org/zap"
)

// ExpiryReaper periodically releases reservations whose hold lapsed without a
// confirm or cancel. Sweeps are idempotent; running several reapers against
// the same store is safe because every transition is a compare-and-swap.
type ExpiryReaper struct {
	uc        reservation.UseCase
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewExpiryReaper(uc reservation.UseCase, logger *zap.Logger, interval time.Duration, batchSize int) *ExpiryReaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryReaper{
		uc:        uc,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (r *ExpiryReaper) Start(ctx context.Context) {
	r.logger.Info("starting expiry reaper",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping expiry reaper")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many holds it released. Failures are
// logged and swallowed; the next tick tries again.
func (r *ExpiryReaper) Sweep(ctx context.Context) int {
	expired, err := r.uc.ExpireDue(ctx, time.Now(), r.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		r.logger.Error("expiry sweep failed", zap.Error(err))
		return 0
	}
	if expired > 0 {
		r.logger.Info("expired reservations released", zap.Int("count", expired))
	}
	return expired
}
