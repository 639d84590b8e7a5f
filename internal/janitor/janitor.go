// Package janitor runs scheduled housekeeping: expired stream topics,
// overdue interactions, orphaned sandboxes and dead-lettered tasks.
package janitor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/progrunhq/progrun/internal/interaction"
	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/stream"
	"github.com/progrunhq/progrun/internal/taskqueue"
)

// Sandboxes older than this with no live process are considered orphaned.
const sandboxMaxAge = 24 * time.Hour

// Janitor schedules the background cleanup jobs
type Janitor struct {
	cron         *cron.Cron
	hub          *stream.Hub
	interactions *interaction.Manager
	deadLetter   *taskqueue.RedisQueue
	sandboxRoot  string
	log          logger.Logger
}

// New creates a janitor. Hub, interactions and deadLetter may be nil;
// their jobs are skipped.
func New(hub *stream.Hub, interactions *interaction.Manager, deadLetter *taskqueue.RedisQueue, sandboxRoot string, log logger.Logger) *Janitor {
	return &Janitor{
		cron:         cron.New(),
		hub:          hub,
		interactions: interactions,
		deadLetter:   deadLetter,
		sandboxRoot:  sandboxRoot,
		log:          log,
	}
}

// Start registers the jobs and starts the scheduler
func (j *Janitor) Start() error {
	if j.hub != nil {
		if _, err := j.cron.AddFunc("@every 1m", j.sweepStreams); err != nil {
			return err
		}
	}
	if j.interactions != nil {
		if _, err := j.cron.AddFunc("@every 30s", j.sweepInteractions); err != nil {
			return err
		}
	}
	if j.sandboxRoot != "" {
		if _, err := j.cron.AddFunc("@hourly", j.sweepSandboxes); err != nil {
			return err
		}
	}
	if j.deadLetter != nil {
		if _, err := j.cron.AddFunc("@every 5m", j.reprocessDeadLetter); err != nil {
			return err
		}
	}

	j.cron.Start()
	j.log.Info("janitor started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) sweepStreams() {
	if removed := j.hub.SweepExpired(); removed > 0 {
		j.log.Debug("swept expired stream topics", "removed", removed)
	}
}

func (j *Janitor) sweepInteractions() {
	if expired := j.interactions.SweepExpired(); expired > 0 {
		j.log.Info("expired overdue interactions", "count", expired)
	}
}

// sweepSandboxes removes sandbox directories left behind by crashed runs
func (j *Janitor) sweepSandboxes() {
	entries, err := os.ReadDir(j.sandboxRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			j.log.Warn("failed to read sandbox root", "error", err)
		}
		return
	}

	cutoff := time.Now().Add(-sandboxMaxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.sandboxRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.log.Warn("failed to remove orphaned sandbox", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		j.log.Info("removed orphaned sandboxes", "count", removed)
	}
}

func (j *Janitor) reprocessDeadLetter() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.deadLetter.ReprocessDeadLetter(ctx, 50)
	if err != nil {
		j.log.Warn("dead-letter reprocessing failed", "error", err)
		return
	}
	if count > 0 {
		j.log.Info("reprocessed dead-lettered tasks", "count", count)
	}
}
