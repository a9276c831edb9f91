package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type staleRestoreReleaser interface {
	ReleaseStaleRestores(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RestoreJanitor periodically frees restore guards left behind by crashed restores.
type RestoreJanitor struct {
	releaser   staleRestoreReleaser
	schedule   string
	staleAfter time.Duration
	timeout    time.Duration
	logger     *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewRestoreJanitor constructs a janitor running on a standard cron schedule or descriptor
// such as "@every 10m".
func NewRestoreJanitor(releaser staleRestoreReleaser, schedule string, staleAfter time.Duration, logger *zap.Logger) *RestoreJanitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = "@every 10m"
	}
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &RestoreJanitor{
		releaser:   releaser,
		schedule:   schedule,
		staleAfter: staleAfter,
		timeout:    30 * time.Second,
		logger:     logger,
	}
}

// Start registers the job and starts the scheduler.
func (j *RestoreJanitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, j.tick); err != nil {
		return fmt.Errorf("schedule restore janitor %q: %w", j.schedule, err)
	}
	c.Start()
	j.cron = c
	j.logger.Info("restore janitor started", zap.String("schedule", j.schedule), zap.Duration("stale_after", j.staleAfter))
	return nil
}

// Stop halts the scheduler and waits for a running tick.
func (j *RestoreJanitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// RunOnce releases guards older than the configured age.
func (j *RestoreJanitor) RunOnce(ctx context.Context) (int64, error) {
	return j.releaser.ReleaseStaleRestores(ctx, j.staleAfter)
}

func (j *RestoreJanitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	released, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("restore janitor run failed", zap.Error(err))
		return
	}
	j.logger.Debug("restore janitor run finished", zap.Int64("released", released))
}
