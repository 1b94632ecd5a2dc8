// Package worker runs the periodic maintenance jobs: reclaiming expired seat
// holds and closing lapsed transfer offers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/logger"
	"github.com/iliyamo/festival-ticketing/internal/metrics"
)

// HoldReaper releases expired holds. *service.Allocator implements it.
type HoldReaper interface {
	ReapExpired(ctx context.Context) (int, error)
}

// TransferExpirer closes lapsed transfers. *service.Lifecycle implements it.
type TransferExpirer interface {
	ExpireTransfers(ctx context.Context) (int, error)
}

// Stats is a running total of work done by the reaper.
type Stats struct {
	Runs             int
	HoldsReaped      int
	TransfersExpired int
	Errors           int
	LastRun          time.Time
}

// Reaper runs both sweeps on a cron schedule. Overlapping runs are skipped.
type Reaper struct {
	holds     HoldReaper
	transfers TransferExpirer
	log       *zap.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration

	mu    sync.Mutex
	stats Stats
}

func NewReaper(h HoldReaper, t TransferExpirer, log *zap.Logger, m *metrics.Metrics) *Reaper {
	return &Reaper{holds: h, transfers: t, log: logger.OrNop(log), metrics: m, timeout: time.Minute}
}

// RunOnce performs one sweep of holds and transfers.
func (r *Reaper) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	holds, herr := r.holds.ReapExpired(ctx)
	if herr != nil {
		r.log.Error("hold reap failed", zap.Error(herr))
	}
	transfers := 0
	var terr error
	if r.transfers != nil {
		transfers, terr = r.transfers.ExpireTransfers(ctx)
		if terr != nil {
			r.log.Error("transfer expiry failed", zap.Error(terr))
		}
	}
	r.metrics.Reaped("hold", holds)
	r.metrics.Reaped("transfer", transfers)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Runs++
	r.stats.HoldsReaped += holds
	r.stats.TransfersExpired += transfers
	if herr != nil {
		r.stats.Errors++
	}
	if terr != nil {
		r.stats.Errors++
	}
	r.stats.LastRun = time.Now().UTC()
	if holds > 0 || transfers > 0 {
		r.log.Info("reaper sweep", zap.Int("holds", holds), zap.Int("transfers", transfers))
	}
}

// Stats returns a copy of the running totals.
func (r *Reaper) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run schedules RunOnce with spec (a cron expression with seconds, e.g.
// "@every 30s") and blocks until ctx is done.
func (r *Reaper) Run(ctx context.Context, spec string) error {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger{r.log}), cron.SkipIfStillRunning(cronLogger{r.log})),
	)
	if _, err := c.AddFunc(spec, func() { r.RunOnce(ctx) }); err != nil {
		return err
	}
	r.log.Info("reaper started", zap.String("schedule", spec))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.log.Info("reaper stopped")
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug(msg, zap.Any("details", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error(msg, zap.Error(err), zap.Any("details", kv))
}
