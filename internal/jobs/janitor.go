// Package jobs runs periodic maintenance next to the HTTP server.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/persona-engine/internal/repo"
)

// DefaultPruneSchedule removes abandoned OAuth logins every ten minutes.
const DefaultPruneSchedule = "@every 10m"

// Janitor prunes expired OAuth login state on a cron schedule.
type Janitor struct {
	db   *gorm.DB
	cron *cron.Cron
	now  func() time.Time
}

// NewJanitor registers the prune job. schedule uses robfig/cron syntax; an
// empty schedule means DefaultPruneSchedule.
func NewJanitor(db *gorm.DB, schedule string) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	j := &Janitor{
		db:   db,
		cron: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		now:  time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.PruneOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return j, nil
}

// Start runs the scheduler in its own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
	log.Info().Int("jobs", len(j.cron.Entries())).Msg("janitor started")
}

// Stop halts the scheduler and waits for a running job, or for ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PruneOnce deletes expired OAuth states and returns how many were removed.
func (j *Janitor) PruneOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := repo.PruneExpiredOAuthStates(ctx, j.db, j.now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("prune expired oauth states failed")
		return 0
	}
	if n > 0 {
		log.Info().Int64("removed", n).Msg("pruned expired oauth states")
	}
	return n
}
