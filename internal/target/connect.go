package target

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Connector opens connections to the destination database. Transient
// failures are retried with capped exponential backoff and jitter;
// anything else fails immediately.
type Connector struct {
	dsn         string
	maxAttempts uint64
	logger      zerolog.Logger
}

func NewConnector(dsn string, maxAttempts uint64, logger zerolog.Logger) *Connector {
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	return &Connector{dsn: dsn, maxAttempts: maxAttempts, logger: logger}
}

func (c *Connector) Connect(ctx context.Context) (*sql.DB, error) {
	var db *sql.DB

	operation := func() error {
		var err error
		db, err = sql.Open("postgres", c.dsn)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err = db.PingContext(ctx); err != nil {
			db.Close()
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("target connection failed, retrying")
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, c.maxAttempts-1), ctx),
		notify)
	if err != nil {
		return nil, err
	}
	return db, nil
}
