package sync

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/surveysync/surveysync-api/internal/models"
	"github.com/surveysync/surveysync-api/internal/repository"
	"github.com/surveysync/surveysync-api/internal/surveycto"
	"github.com/surveysync/surveysync-api/internal/target"
	"github.com/surveysync/surveysync-api/internal/utils"
)

// ErrRunCancelled is returned when the runner observes a cooperative cancel
// between steps. The cancel endpoint has already finalized job and progress.
var ErrRunCancelled = errors.New("sync run cancelled")

// RateLimitedError means a live cooldown exists for the job's source; the
// run failed without any call to the fetch client.
type RateLimitedError struct {
	Until time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("source is rate limited until %s", e.Until.UTC().Format(time.RFC3339))
}

// TargetConnector opens connections to the destination database.
type TargetConnector interface {
	Connect(ctx context.Context) (*sql.DB, error)
}

// Runner executes one sync job: cooldown check, fetch, column inference,
// schema reconciliation, transactional write, checkpoint advance and
// progress finalization.
type Runner struct {
	jobs        repository.JobRepository
	checkpoints repository.CheckpointRepository
	cooldowns   repository.CooldownRepository
	connections repository.ConnectionRepository
	fetcher     surveycto.Fetcher
	connector   TargetConnector
	logger      zerolog.Logger
}

func NewRunner(
	jobs repository.JobRepository,
	checkpoints repository.CheckpointRepository,
	cooldowns repository.CooldownRepository,
	connections repository.ConnectionRepository,
	fetcher surveycto.Fetcher,
	connector TargetConnector,
	logger zerolog.Logger,
) *Runner {
	return &Runner{
		jobs:        jobs,
		checkpoints: checkpoints,
		cooldowns:   cooldowns,
		connections: connections,
		fetcher:     fetcher,
		connector:   connector,
		logger:      logger,
	}
}

// Run drives one already-claimed (running) job to a terminal state. Whatever
// goes wrong inside the run body, including a panic, the deferred finalizer
// writes the failed state: a job must never stay running forever.
func (r *Runner) Run(ctx context.Context, jobID string) (runErr error) {
	log := r.logger.With().Str("job_id", jobID).Logger()

	var rowErrors []models.ProgressError
	defer func() {
		if p := recover(); p != nil {
			runErr = errors.Errorf("unexpected panic during sync run: %v", p)
		}
		if runErr == nil || errors.Is(runErr, ErrRunCancelled) {
			return
		}
		log.Error().Err(runErr).Msg("sync run failed")
		entries := append(rowErrors, models.ProgressError{
			Message:   runErr.Error(),
			Timestamp: time.Now().UTC(),
		})
		if err := r.jobs.MarkFailed(jobID, runErr.Error(), entries); err != nil {
			log.Error().Err(err).Msg("failed to record terminal job state")
		}
	}()

	job, err := r.jobs.Get(jobID)
	if err != nil {
		return errors.Wrap(err, "failed to load sync job")
	}
	source, targetKey := job.SourceKey(), job.TargetKey()

	// A live cooldown short-circuits the run before any network call.
	until, active, err := r.cooldowns.Active(source)
	if err != nil {
		return errors.Wrap(err, "failed to read cooldown")
	}
	if active {
		return &RateLimitedError{Until: until}
	}

	creds, err := r.credentials(job.Config.ConnectionID)
	if err != nil {
		return err
	}

	since, _, err := r.checkpoints.Get(source, targetKey)
	if err != nil {
		return errors.Wrap(err, "failed to read checkpoint")
	}

	// The checkpoint candidate is taken before the fetch so records arriving
	// mid-run fall into the next window instead of being skipped.
	runStart := time.Now().UTC()

	records, err := r.fetcher.FetchSubmissions(ctx, creds, job.Config.FormID, since)
	if err != nil {
		var rle *surveycto.RateLimitError
		if errors.As(err, &rle) {
			cooldownUntil := time.Now().UTC().Add(rle.RetryAfter)
			if cerr := r.cooldowns.Set(source, cooldownUntil); cerr != nil {
				log.Error().Err(cerr).Msg("failed to record cooldown")
			}
			log.Warn().Time("until", cooldownUntil).Msg("source rate limited, cooldown recorded")
		}
		return errors.Wrap(err, "fetch failed")
	}

	// An empty incremental window is success, and the checkpoint still
	// advances so the window keeps moving.
	if len(records) == 0 {
		if err := r.checkpoints.Set(source, targetKey, runStart); err != nil {
			return errors.Wrap(err, "failed to advance checkpoint")
		}
		log.Info().Msg("no new records in sync window")
		return r.complete(jobID, 0, 0, 0)
	}

	columns := observedColumns(records)
	if job.Config.Mode == models.ModeUpsert {
		if rowErrors, err = validateConflictKeys(records, columns, job.Config.ConflictColumn); err != nil {
			return err
		}
		if len(rowErrors) > 0 {
			return errors.Errorf("%d of %d records have no value for conflict column %q",
				len(rowErrors), len(records), job.Config.ConflictColumn)
		}
	}

	if cancelled, err := r.isCancelled(jobID); err != nil {
		return err
	} else if cancelled {
		log.Info().Msg("sync run cancelled before write")
		return ErrRunCancelled
	}

	inserted, updated, err := r.applyWithRetry(ctx, job, columns, records, log)
	if err != nil {
		return err
	}

	// The checkpoint advances only after the write transaction committed.
	if err := r.checkpoints.Set(source, targetKey, runStart); err != nil {
		return errors.Wrap(err, "failed to advance checkpoint")
	}

	log.Info().
		Int("processed", len(records)).
		Int("inserted", inserted).
		Int("updated", updated).
		Msg("sync run completed")
	return r.complete(jobID, len(records), inserted, updated)
}

// applyWithRetry runs reconcile+write in one transaction. A transient
// connection-class failure is retried once against a fresh connection; any
// other error aborts without the checkpoint advancing.
func (r *Runner) applyWithRetry(ctx context.Context, job *models.SyncJob, columns []string, records []surveycto.Record, log zerolog.Logger) (int, int, error) {
	db, err := r.connector.Connect(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to connect to target database")
	}

	inserted, updated, err := r.apply(ctx, db, job, columns, records)
	db.Close()
	if err == nil || !target.IsTransient(err) {
		return inserted, updated, err
	}

	log.Warn().Err(err).Msg("transient target failure, retrying write on a fresh connection")
	db, cerr := r.connector.Connect(ctx)
	if cerr != nil {
		return 0, 0, errors.Wrap(cerr, "failed to reconnect to target database")
	}
	defer db.Close()
	return r.apply(ctx, db, job, columns, records)
}

func (r *Runner) apply(ctx context.Context, db *sql.DB, job *models.SyncJob, columns []string, records []surveycto.Record) (int, int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to begin target transaction")
	}
	defer tx.Rollback()

	conflictColumn := ""
	if job.Config.Mode == models.ModeUpsert {
		conflictColumn = job.Config.ConflictColumn
	}

	reconciler := target.NewReconciler(tx)
	if err := reconciler.EnsureTarget(ctx,
		job.Config.TargetSchema, job.Config.TargetTable,
		columns, conflictColumn, job.Config.CreateTable,
	); err != nil {
		return 0, 0, err
	}

	rows := make([]target.Row, len(records))
	for i, record := range records {
		rows[i] = target.Row(record)
	}

	writer := target.NewWriter(tx)
	inserted, updated, err := writer.Write(ctx,
		job.Config.TargetSchema, job.Config.TargetTable,
		columns, rows, job.Config.Mode, conflictColumn,
	)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, errors.Wrap(err, "failed to commit write transaction")
	}
	return inserted, updated, nil
}

func (r *Runner) credentials(connectionID string) (surveycto.Credentials, error) {
	conn, err := r.connections.Get(connectionID)
	if err != nil {
		return surveycto.Credentials{}, errors.Wrap(err, "failed to load source connection")
	}
	password, err := utils.DecryptPassword(conn.PasswordEnc)
	if err != nil {
		return surveycto.Credentials{}, errors.Wrap(err, "failed to decrypt source credentials")
	}
	return surveycto.Credentials{
		ServerURL: conn.ServerURL,
		Username:  conn.Username,
		Password:  password,
	}, nil
}

func (r *Runner) complete(jobID string, processed, inserted, updated int) error {
	if err := r.jobs.MarkCompleted(jobID, processed, processed, inserted, updated); err != nil {
		return errors.Wrap(err, "failed to record completed job state")
	}
	return nil
}

func (r *Runner) isCancelled(jobID string) (bool, error) {
	status, err := r.jobs.GetStatus(jobID)
	if err != nil {
		return false, errors.Wrap(err, "failed to read job status")
	}
	return status == models.StatusCancelled, nil
}

// observedColumns is the sorted union of keys across the fetched batch. The
// column set is fixed per run from this batch, never accumulated across runs.
func observedColumns(records []surveycto.Record) []string {
	seen := make(map[string]struct{})
	for _, record := range records {
		for key := range record {
			seen[key] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns
}

// validateConflictKeys enforces the upsert preconditions before any write:
// the conflict column must appear in the observed union, and every record
// needs a usable key value.
func validateConflictKeys(records []surveycto.Record, columns []string, conflictColumn string) ([]models.ProgressError, error) {
	found := false
	for _, col := range columns {
		if col == conflictColumn {
			found = true
			break
		}
	}
	if !found {
		return nil, &target.MissingConflictColumnError{Column: conflictColumn}
	}

	var rowErrors []models.ProgressError
	now := time.Now().UTC()
	for i, record := range records {
		key, _ := target.EncodeValue(record[conflictColumn]).(string)
		if key == "" {
			rowErrors = append(rowErrors, models.ProgressError{
				RecordID:  fmt.Sprintf("record[%d]", i),
				Field:     conflictColumn,
				Message:   "missing value for conflict column",
				Timestamp: now,
			})
		}
	}
	return rowErrors, nil
}
