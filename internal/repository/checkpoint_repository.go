package repository

import (
	"database/sql"
	"time"
)

// CheckpointRepository stores the last successfully synced timestamp per
// (source, target) pair. Set is last-writer-wins but never moves a
// checkpoint backwards.
type CheckpointRepository interface {
	Get(source, target string) (time.Time, bool, error)
	Set(source, target string, lastSyncedAt time.Time) error
}

type checkpointRepository struct {
	db *sql.DB
}

func NewCheckpointRepository(db *sql.DB) CheckpointRepository {
	return &checkpointRepository{db: db}
}

func (r *checkpointRepository) Get(source, target string) (time.Time, bool, error) {
	var lastSyncedAt time.Time
	err := r.db.QueryRow(
		"SELECT last_synced_at FROM surveysync.checkpoints WHERE source = $1 AND target = $2",
		source, target,
	).Scan(&lastSyncedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return lastSyncedAt, true, nil
}

func (r *checkpointRepository) Set(source, target string, lastSyncedAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO surveysync.checkpoints (source, target, last_synced_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source, target)
		DO UPDATE SET last_synced_at = GREATEST(surveysync.checkpoints.last_synced_at, EXCLUDED.last_synced_at)
	`, source, target, lastSyncedAt.UTC())
	return err
}
