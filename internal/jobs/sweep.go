package jobs

import (
	"context"
	"log/slog"
	"time"

	"busline/internal/service"
)

// HoldSweepJob runs the lock table expiry sweep on a fixed interval, so
// abandoned seat selections come back on the market within one tick of
// their TTL lapsing.
type HoldSweepJob struct {
	holds    *service.HoldService
	interval time.Duration
	ticker   *time.Ticker
	done     chan bool
}

func NewHoldSweepJob(holds *service.HoldService, interval time.Duration) *HoldSweepJob {
	return &HoldSweepJob{
		holds:    holds,
		interval: interval,
		done:     make(chan bool),
	}
}

// Start begins the background sweep loop.
func (j *HoldSweepJob) Start(ctx context.Context) {
	slog.Info("Starting hold sweep job", "interval", j.interval.String())

	j.ticker = time.NewTicker(j.interval)

	go func() {
		for {
			select {
			case <-j.ticker.C:
				j.sweep(ctx)
			case <-j.done:
				slog.Info("Hold sweep job stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the background job.
func (j *HoldSweepJob) Stop() {
	if j.ticker != nil {
		j.ticker.Stop()
	}
	close(j.done)
}

func (j *HoldSweepJob) sweep(ctx context.Context) {
	expired := j.holds.ExpireSweep(ctx)
	if expired > 0 {
		slog.Info("Expired seat holds released", "count", expired)
	}
	j.holds.UpdateGauges()
}
