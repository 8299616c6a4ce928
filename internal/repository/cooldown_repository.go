package repository

import (
	"database/sql"
	"time"
)

// CooldownRepository stores server-directed "do not call before" windows per
// source. Expired entries are treated as absent and removed on read.
type CooldownRepository interface {
	Active(source string) (time.Time, bool, error)
	Set(source string, until time.Time) error
	Clear(source string) error
	PurgeExpired() (int64, error)
}

type cooldownRepository struct {
	db *sql.DB
}

func NewCooldownRepository(db *sql.DB) CooldownRepository {
	return &cooldownRepository{db: db}
}

func (r *cooldownRepository) Active(source string) (time.Time, bool, error) {
	var until time.Time
	err := r.db.QueryRow(
		"SELECT until FROM surveysync.cooldowns WHERE source = $1",
		source,
	).Scan(&until)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	if !until.After(time.Now()) {
		// Inert entry; purge it so it cannot accumulate.
		if err := r.Clear(source); err != nil {
			return time.Time{}, false, err
		}
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (r *cooldownRepository) Set(source string, until time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO surveysync.cooldowns (source, until)
		VALUES ($1, $2)
		ON CONFLICT (source) DO UPDATE SET until = EXCLUDED.until
	`, source, until.UTC())
	return err
}

func (r *cooldownRepository) Clear(source string) error {
	_, err := r.db.Exec("DELETE FROM surveysync.cooldowns WHERE source = $1", source)
	return err
}

func (r *cooldownRepository) PurgeExpired() (int64, error) {
	res, err := r.db.Exec("DELETE FROM surveysync.cooldowns WHERE until <= now()")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
