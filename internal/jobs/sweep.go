package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
)

// Sweeper removes expired sessions. session.Manager implements it.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// SessionSweepArgs defines the job that deletes expired sessions.
type SessionSweepArgs struct{}

func (SessionSweepArgs) Kind() string { return JobKindSessionSweep }

// InsertOpts keeps at most one pending sweep in the queue.
func (SessionSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: SessionSweepMaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByPeriod: time.Minute},
	}
}

// SessionSweepWorker deletes sessions whose lifetime has elapsed. Sessions
// are also rejected on read once expired; the sweep only reclaims storage.
type SessionSweepWorker struct {
	river.WorkerDefaults[SessionSweepArgs]
	Sessions Sweeper
	Logger   *slog.Logger
}

func (SessionSweepWorker) Kind() string { return JobKindSessionSweep }

func (w SessionSweepWorker) Timeout(*river.Job[SessionSweepArgs]) time.Duration {
	return time.Minute
}

func (w SessionSweepWorker) Work(ctx context.Context, job *river.Job[SessionSweepArgs]) error {
	if w.Sessions == nil {
		return fmt.Errorf("session sweeper not configured")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	removed, err := w.Sessions.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}

	logger.Info("session sweep finished",
		"removed", removed,
		"attempt", job.Attempt,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// NewWorkers registers every worker the server runs.
func NewWorkers(sessions Sweeper, logger *slog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[SessionSweepArgs](workers, SessionSweepWorker{Sessions: sessions, Logger: logger})
	return workers
}

// RunSweeper sweeps on a ticker until ctx is done. It is used when no
// database is configured for River.
func RunSweeper(ctx context.Context, sessions Sweeper, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sessions.Sweep(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("session sweep failed")
				continue
			}
			logger.Debug().Int64("removed", removed).Msg("session sweep finished")
		}
	}
}
