package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCleanupSchedule = "@daily"
	DefaultCleanupAge      = 30 * 24 * time.Hour // 30 days
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule checks a cleanup schedule expression. Standard five field
// expressions and descriptors such as "@daily" or "@every 1h" are accepted.
func ParseSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// CleanupReport summarises one cleanup pass.
type CleanupReport struct {
	Scanned int      `json:"scanned"`
	Deleted []string `json:"deleted"`
	Failed  int      `json:"failed"`
}

// Cleanup periodically deletes sessions that have not been updated for
// longer than maxAge. Deletion goes through Service.Delete, so the main
// session is never removed.
type Cleanup struct {
	service  *Service
	schedule string
	maxAge   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewCleanup creates a cleanup job. Empty schedule and zero maxAge use the
// defaults.
func NewCleanup(service *Service, schedule string, maxAge time.Duration) *Cleanup {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	if maxAge <= 0 {
		maxAge = DefaultCleanupAge
	}

	return &Cleanup{
		service:  service,
		schedule: schedule,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Start schedules the cleanup job.
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	scheduler := cron.New(cron.WithParser(scheduleParser))
	_, err := scheduler.AddFunc(c.schedule, func() {
		if _, err := c.RunNow(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to cleanup stale sessions")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", c.schedule, err)
	}

	scheduler.Start()
	c.cron = scheduler
	c.running = true

	log.Info().
		Str("schedule", c.schedule).
		Dur("max_age", c.maxAge).
		Msg("Session cleanup started")

	return nil
}

// Stop unschedules the job and waits for a running pass to finish.
func (c *Cleanup) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}

	<-c.cron.Stop().Done()
	c.cron = nil
	c.running = false

	log.Info().Msg("Session cleanup stopped")

	return nil
}

// IsRunning reports whether the job is scheduled.
func (c *Cleanup) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// RunNow performs one cleanup pass immediately.
func (c *Cleanup) RunNow(ctx context.Context) (*CleanupReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := c.now().Add(-c.maxAge).UnixMilli()
	report := &CleanupReport{Deleted: []string{}}

	for _, entry := range c.service.List(ctx) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		if entry.Key == MainKey || entry.UpdatedAt >= cutoff {
			continue
		}

		if _, err := c.service.Delete(ctx, entry.Key); err != nil {
			if errors.Is(err, ErrReservedSession) {
				continue
			}
			report.Failed++
			log.Warn().
				Str("session_key", entry.Key).
				Err(err).
				Msg("Failed to delete stale session")
			continue
		}
		report.Deleted = append(report.Deleted, entry.Key)

		log.Debug().
			Str("session_key", entry.Key).
			Int64("updated_at", entry.UpdatedAt).
			Msg("Stale session deleted")
	}

	if len(report.Deleted) > 0 {
		log.Info().
			Int("deleted", len(report.Deleted)).
			Msg("Cleaned up stale sessions")
	}

	return report, nil
}
