package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/surveysync/surveysync-api/internal/repository"
	"github.com/surveysync/surveysync-api/internal/sync"
)

type Config struct {
	PollInterval time.Duration
	Concurrency  int
}

// Worker polls for queued jobs and executes each on its own goroutine, at
// most Concurrency runs at a time. Claiming uses FOR UPDATE SKIP LOCKED, so
// several worker processes can share one queue without double-running a job.
type Worker struct {
	cfg    Config
	jobs   repository.JobRepository
	runner *sync.Runner
	logger zerolog.Logger
}

func New(cfg Config, jobs repository.JobRepository, runner *sync.Runner, logger zerolog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{cfg: cfg, jobs: jobs, runner: runner, logger: logger}
}

// Start blocks until ctx is done, then waits for in-flight runs to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("concurrency", w.cfg.Concurrency).
		Msg("worker started, polling for sync jobs")

	grp := &errgroup.Group{}
	grp.SetLimit(w.cfg.Concurrency)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopping, waiting for in-flight runs")
			grp.Wait()
			w.logger.Info().Msg("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.dispatchReady(ctx, grp); err != nil {
				w.logger.Error().Err(err).Msg("error dispatching sync jobs")
			}
		}
	}
}

// dispatchReady claims queued jobs until the queue is empty or all worker
// slots are busy.
func (w *Worker) dispatchReady(ctx context.Context, grp *errgroup.Group) error {
	for {
		jobID, err := w.jobs.ClaimNextQueued(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to claim next queued job")
		}
		if jobID == "" {
			return nil
		}

		id := jobID
		if !grp.TryGo(func() error {
			w.execute(ctx, id)
			return nil
		}) {
			// All slots busy: the claim already marked the job running, so
			// run it inline rather than abandoning the claim.
			w.execute(ctx, id)
			return nil
		}
	}
}

func (w *Worker) execute(ctx context.Context, jobID string) {
	w.logger.Info().Str("job_id", jobID).Msg("starting sync run")
	if err := w.runner.Run(ctx, jobID); err != nil {
		if errors.Is(err, sync.ErrRunCancelled) {
			w.logger.Info().Str("job_id", jobID).Msg("sync run cancelled")
			return
		}
		// The runner has already written the terminal state.
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("sync run failed")
	}
}
