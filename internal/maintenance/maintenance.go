package maintenance

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/surveysync/surveysync-api/internal/repository"
)

type Config struct {
	CooldownPurgeSpec string
	JobRetention      time.Duration // 0 disables the terminal-job sweep
	JobSweepSpec      string
}

// Scheduler owns the background housekeeping: purging expired cooldown
// entries and, when a retention window is configured, sweeping terminal jobs
// past that window.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

func NewScheduler(cfg Config, cooldowns repository.CooldownRepository, sweeper JobSweeper, logger zerolog.Logger) (*Scheduler, error) {
	c := cron.New()

	_, err := c.AddFunc(cfg.CooldownPurgeSpec, func() {
		purged, err := cooldowns.PurgeExpired()
		if err != nil {
			logger.Error().Err(err).Msg("cooldown purge failed")
			return
		}
		if purged > 0 {
			logger.Info().Int64("purged", purged).Msg("expired cooldowns purged")
		}
	})
	if err != nil {
		return nil, err
	}

	if cfg.JobRetention > 0 {
		_, err := c.AddFunc(cfg.JobSweepSpec, func() {
			swept, err := sweeper.SweepTerminal(cfg.JobRetention)
			if err != nil {
				logger.Error().Err(err).Msg("terminal job sweep failed")
				return
			}
			if swept > 0 {
				logger.Info().Int64("swept", swept).Msg("old terminal jobs removed")
			}
		})
		if err != nil {
			return nil, err
		}
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

// JobSweeper deletes terminal jobs older than the retention window.
type JobSweeper interface {
	SweepTerminal(olderThan time.Duration) (int64, error)
}

func (s *Scheduler) Start() {
	s.logger.Info().Msg("maintenance scheduler started")
	s.cron.Start()
}

// Stop waits for any in-flight maintenance run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("maintenance scheduler stopped")
}
