package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/surveysync/surveysync-api/internal/models"
)

var (
	ErrJobNotFound       = errors.New("sync job not found")
	ErrJobNotRequeueable = errors.New("sync job is queued or already running")
	ErrJobNotCancellable = errors.New("sync job is already in a terminal state")
)

type JobRepository interface {
	Create(job *models.SyncJob) (*models.SyncJob, error)
	List() ([]models.SyncJob, error)
	Get(id string) (*models.SyncJob, error)
	GetStatus(id string) (string, error)
	Delete(id string) error
	ClearTerminal() (int64, error)
	Requeue(id string) error
	Cancel(id string) error
	ClaimNextQueued(ctx context.Context) (string, error)
	SweepTerminal(olderThan time.Duration) (int64, error)

	GetProgress(id string) (*models.SyncProgress, error)
	ListProgress() ([]models.SyncProgress, error)
	MarkCompleted(id string, processed, total, inserted, updated int) error
	MarkFailed(id string, lastError string, errs []models.ProgressError) error
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

// jobColumns is the select list shared by List and Get; the last column is
// the checkpoint join for last_synced_at.
const jobColumns = `
	j.id, j.name, j.connection_id, j.form_id, j.target_schema, j.target_table,
	j.mode, j.conflict_column, j.create_table, j.status, j.last_error,
	j.created_at, j.updated_at, c.last_synced_at
`

const jobFrom = `
	FROM surveysync.sync_jobs j
	LEFT JOIN surveysync.checkpoints c
	  ON c.source = 'surveycto:' || j.form_id
	 AND c.target = 'postgres:' || j.target_schema || '.' || j.target_table
`

func (r *jobRepository) Create(job *models.SyncJob) (*models.SyncJob, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job.ID = uuid.NewString()
	job.Status = models.StatusQueued

	query := `
		INSERT INTO surveysync.sync_jobs
			(id, name, connection_id, form_id, target_schema, target_table, mode, conflict_column, create_table, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(query,
		job.ID,
		job.Name,
		job.Config.ConnectionID,
		job.Config.FormID,
		job.Config.TargetSchema,
		job.Config.TargetTable,
		string(job.Config.Mode),
		job.Config.ConflictColumn,
		job.Config.CreateTable,
		job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// One job maps to exactly one progress record, created together.
	if _, err := tx.Exec(
		"INSERT INTO surveysync.sync_progress (job_id, status) VALUES ($1, $2)",
		job.ID, models.StatusPending,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) List() ([]models.SyncJob, error) {
	query := "SELECT " + jobColumns + jobFrom + " ORDER BY j.created_at DESC"
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.SyncJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) Get(id string) (*models.SyncJob, error) {
	query := "SELECT " + jobColumns + jobFrom + " WHERE j.id = $1"
	job, err := scanJob(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *jobRepository) GetStatus(id string) (string, error) {
	var status string
	err := r.db.QueryRow("SELECT status FROM surveysync.sync_jobs WHERE id = $1", id).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrJobNotFound
		}
		return "", err
	}
	return status, nil
}

func (r *jobRepository) Delete(id string) error {
	res, err := r.db.Exec("DELETE FROM surveysync.sync_jobs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete sync job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *jobRepository) ClearTerminal() (int64, error) {
	res, err := r.db.Exec(`
		DELETE FROM surveysync.sync_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SweepTerminal removes terminal jobs whose last update is older than the
// retention window.
func (r *jobRepository) SweepTerminal(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := r.db.Exec(`
		DELETE FROM surveysync.sync_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Requeue puts a terminal job back on the queue for another run. Queued and
// running jobs are rejected so one job id never executes twice concurrently.
func (r *jobRepository) Requeue(id string) error {
	res, err := r.db.Exec(`
		UPDATE surveysync.sync_jobs
		SET status = 'queued', last_error = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('completed', 'failed', 'cancelled')
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.GetStatus(id); err != nil {
			return err
		}
		return ErrJobNotRequeueable
	}
	return nil
}

// Cancel marks a queued or running job cancelled. For a running job this is
// advisory: the runner observes it between steps, never inside a write
// transaction.
func (r *jobRepository) Cancel(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE surveysync.sync_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.GetStatus(id); err != nil {
			return err
		}
		return ErrJobNotCancellable
	}

	if _, err := tx.Exec(`
		UPDATE surveysync.sync_progress
		SET status = 'cancelled', completed_at = COALESCE(completed_at, now())
		WHERE job_id = $1
	`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// ClaimNextQueued atomically claims the oldest queued job and transitions it
// to running, resetting its progress for the new attempt. Returns an empty
// id when the queue is empty.
func (r *jobRepository) ClaimNextQueued(ctx context.Context) (string, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM surveysync.sync_jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to fetch next queued job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE surveysync.sync_jobs
		SET status = 'running', last_error = NULL, updated_at = now()
		WHERE id = $1
	`, id); err != nil {
		return "", fmt.Errorf("failed to mark job running: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE surveysync.sync_progress
		SET status = 'running',
		    processed_records = 0,
		    total_records = 0,
		    inserted_records = 0,
		    updated_records = 0,
		    errors = '[]'::jsonb,
		    started_at = now(),
		    completed_at = NULL
		WHERE job_id = $1
	`, id); err != nil {
		return "", fmt.Errorf("failed to reset progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit claim: %w", err)
	}
	return id, nil
}

func (r *jobRepository) GetProgress(id string) (*models.SyncProgress, error) {
	query := `
		SELECT job_id, status, processed_records, total_records,
		       inserted_records, updated_records, errors, started_at, completed_at
		FROM surveysync.sync_progress
		WHERE job_id = $1
	`
	progress, err := scanProgress(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return progress, nil
}

func (r *jobRepository) ListProgress() ([]models.SyncProgress, error) {
	query := `
		SELECT p.job_id, p.status, p.processed_records, p.total_records,
		       p.inserted_records, p.updated_records, p.errors, p.started_at, p.completed_at
		FROM surveysync.sync_progress p
		JOIN surveysync.sync_jobs j ON j.id = p.job_id
		ORDER BY j.created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.SyncProgress{}
	for rows.Next() {
		progress, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *progress)
	}
	return list, rows.Err()
}

// MarkCompleted finalizes a successful run. The running-status guard keeps a
// concurrent cancel from being overwritten.
func (r *jobRepository) MarkCompleted(id string, processed, total, inserted, updated int) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE surveysync.sync_jobs
		SET status = 'completed', last_error = NULL, updated_at = now()
		WHERE id = $1 AND status = 'running'
	`, id); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE surveysync.sync_progress
		SET status = 'completed',
		    processed_records = $2,
		    total_records = $3,
		    inserted_records = $4,
		    updated_records = $5,
		    completed_at = now()
		WHERE job_id = $1 AND status = 'running'
	`, id, processed, total, inserted, updated); err != nil {
		return err
	}

	return tx.Commit()
}

// MarkFailed records the terminal failure on both the job and its progress.
func (r *jobRepository) MarkFailed(id string, lastError string, errs []models.ProgressError) error {
	if errs == nil {
		errs = []models.ProgressError{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE surveysync.sync_jobs
		SET status = 'failed', last_error = NULLIF($2, ''), updated_at = now()
		WHERE id = $1 AND status = 'running'
	`, id, lastError); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE surveysync.sync_progress
		SET status = 'failed',
		    errors = errors || $2::jsonb,
		    completed_at = now()
		WHERE job_id = $1 AND status = 'running'
	`, id, string(encoded)); err != nil {
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.SyncJob, error) {
	var (
		job          models.SyncJob
		mode         string
		conflictCol  sql.NullString
		lastError    sql.NullString
		lastSyncedAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Config.ConnectionID,
		&job.Config.FormID,
		&job.Config.TargetSchema,
		&job.Config.TargetTable,
		&mode,
		&conflictCol,
		&job.Config.CreateTable,
		&job.Status,
		&lastError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&lastSyncedAt,
	); err != nil {
		return nil, err
	}
	job.Config.Mode = models.SyncMode(mode)
	if conflictCol.Valid {
		job.Config.ConflictColumn = conflictCol.String
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	if lastSyncedAt.Valid {
		job.LastSyncedAt = &lastSyncedAt.Time
	}
	return &job, nil
}

func scanProgress(row rowScanner) (*models.SyncProgress, error) {
	var (
		progress    models.SyncProgress
		errorsRaw   []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&progress.JobID,
		&progress.Status,
		&progress.ProcessedRecords,
		&progress.TotalRecords,
		&progress.InsertedRecords,
		&progress.UpdatedRecords,
		&errorsRaw,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	progress.Errors = []models.ProgressError{}
	if len(errorsRaw) > 0 {
		if err := json.Unmarshal(errorsRaw, &progress.Errors); err != nil {
			return nil, fmt.Errorf("decode progress errors: %w", err)
		}
	}
	if startedAt.Valid {
		progress.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		progress.CompletedAt = &completedAt.Time
	}
	return &progress, nil
}
