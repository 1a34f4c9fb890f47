package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Cleaner purges idle sessions on a cron schedule.
type Cleaner struct {
	service   *SQLiteService
	retention time.Duration
	schedule  string
	logger    zerolog.Logger
	cron      *cron.Cron
}

// CleanerConfig configures a session Cleaner.
type CleanerConfig struct {
	Service   *SQLiteService
	Retention time.Duration // sessions idle longer than this are removed
	Schedule  string        // cron expression, default hourly
	Logger    zerolog.Logger
}

// NewCleaner creates a cleaner; call Start to begin scheduling.
func NewCleaner(cfg CleanerConfig) (*Cleaner, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}

	return &Cleaner{
		service:   cfg.Service,
		retention: cfg.Retention,
		schedule:  cfg.Schedule,
		logger:    cfg.Logger.With().Str("component", "session-cleaner").Logger(),
		cron:      cron.New(),
	}, nil
}

// Start schedules the purge job.
func (c *Cleaner) Start() error {
	_, err := c.cron.AddFunc(c.schedule, func() {
		c.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	c.cron.Start()
	c.logger.Info().Str("schedule", c.schedule).Dur("retention", c.retention).Msg("Session cleaner started")
	return nil
}

// Stop halts scheduling; a running purge finishes.
func (c *Cleaner) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs a single purge pass.
func (c *Cleaner) RunOnce(ctx context.Context) {
	removed, err := c.service.PurgeIdle(ctx, c.retention)
	if err != nil {
		c.logger.Error().Err(err).Msg("Session purge failed")
		return
	}
	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("Idle sessions purged")
	}
}
