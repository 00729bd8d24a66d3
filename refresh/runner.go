// Package refresh keeps connection tokens fresh in the background. A runner
// pairs the periodic expiry sweep with a queue worker so near-expiry grants
// get renewed before callers notice.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-connections/core"
)

const (
	defaultSweepInterval = 5 * time.Minute
)

// SweeperService is the slice of the lifecycle service the runner drives.
type SweeperService interface {
	SweepExpiring(ctx context.Context, before time.Time, limit int) (core.SweepStats, error)
	RunRefreshWorker(ctx context.Context, dequeuer core.JobDequeuer) error
}

type Config struct {
	Service       SweeperService
	Dequeuer      core.JobDequeuer
	SweepInterval time.Duration
	SweepLimit    int
	Logger        core.Logger
	Now           func() time.Time
}

// Runner owns the refresh loop: every SweepInterval it enqueues refresh jobs
// for expiring connections, while a worker drains the queue concurrently.
type Runner struct {
	service       SweeperService
	dequeuer      core.JobDequeuer
	sweepInterval time.Duration
	sweepLimit    int
	logger        core.Logger
	now           func() time.Time
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("refresh: sweeper service is required")
	}
	if cfg.Dequeuer == nil {
		return nil, fmt.Errorf("refresh: job dequeuer is required")
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Runner{
		service:       cfg.Service,
		dequeuer:      cfg.Dequeuer,
		sweepInterval: interval,
		sweepLimit:    cfg.SweepLimit,
		logger:        cfg.Logger,
		now:           now,
	}, nil
}

// SweepOnce runs a single sweep cycle. The zero cutoff lets the service apply
// its configured refresh lead window.
func (r *Runner) SweepOnce(ctx context.Context) (core.SweepStats, error) {
	if r == nil || r.service == nil {
		return core.SweepStats{}, fmt.Errorf("refresh: runner is not initialized")
	}
	stats, err := r.service.SweepExpiring(ctx, time.Time{}, r.sweepLimit)
	if err != nil {
		r.logError("refresh sweep failed", "error", err.Error())
		return stats, err
	}
	r.logInfo("refresh sweep completed", "scanned", stats.Scanned, "enqueued", stats.Enqueued)
	return stats, nil
}

// Run blocks until the context ends. Sweep failures are logged and the next
// tick tries again; only a worker failure or cancellation stops the loop.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.service == nil || r.dequeuer == nil {
		return fmt.Errorf("refresh: runner is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- r.service.RunRefreshWorker(workerCtx, r.dequeuer)
	}()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	// Sweep immediately so a fresh deploy does not wait a full interval to
	// notice tokens that expired while it was down.
	if _, err := r.SweepOnce(ctx); err != nil && ctx.Err() != nil {
		return r.drainWorker(cancel, workerDone, ctx.Err())
	}

	for {
		select {
		case <-ctx.Done():
			return r.drainWorker(cancel, workerDone, ctx.Err())
		case err := <-workerDone:
			if err != nil && ctx.Err() == nil {
				r.logError("refresh worker stopped", "error", err.Error())
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.SweepOnce(ctx); err != nil && ctx.Err() != nil {
				return r.drainWorker(cancel, workerDone, ctx.Err())
			}
		}
	}
}

func (r *Runner) drainWorker(cancel context.CancelFunc, workerDone <-chan error, cause error) error {
	cancel()
	<-workerDone
	return cause
}

func (r *Runner) logInfo(message string, args ...any) {
	if r == nil || r.logger == nil {
		return
	}
	r.logger.Info(message, args...)
}

func (r *Runner) logError(message string, args ...any) {
	if r == nil || r.logger == nil {
		return
	}
	r.logger.Error(message, args...)
}
