package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/survey-archive-api/internal/models"
	appErrors "github.com/noah-isme/survey-archive-api/pkg/errors"
	"github.com/noah-isme/survey-archive-api/pkg/jobs"
	"github.com/noah-isme/survey-archive-api/pkg/middleware/requestid"
)

// JobTypeRestore tags restore jobs on the queue.
const JobTypeRestore = "restore"

type restorePayload struct {
	Archive   *models.Archive
	Actor     models.JWTClaims
	Alias     string
	RequestID string
}

type restoreQueue interface {
	Start(ctx context.Context)
	Stop()
	Enqueue(job jobs.Job) (string, error)
}

// RestoreDispatcher runs restores on background workers so a request can return 202 while
// large imports finish.
type RestoreDispatcher struct {
	archives *ArchiveService
	queue    restoreQueue
	logger   *zap.Logger
}

// NewRestoreDispatcher builds the dispatcher and its queue. Restores run once; a failed
// restore has already released its guard and can be requested again. Restores still queued
// at shutdown release their guard instead of waiting for the janitor.
func NewRestoreDispatcher(archives *ArchiveService, cfg jobs.QueueConfig, logger *zap.Logger) *RestoreDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &RestoreDispatcher{archives: archives, logger: logger}
	cfg.OnDiscard = d.discard
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	d.queue = jobs.NewQueue(JobTypeRestore, d.handle, cfg)
	return d
}

// Start launches the restore workers.
func (d *RestoreDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for running restores to return.
func (d *RestoreDispatcher) Stop() {
	d.queue.Stop()
}

// RestoreAsync checks access, acquires the restore guard, and queues the rest of the restore.
// Guard conflicts are reported synchronously.
func (d *RestoreDispatcher) RestoreAsync(ctx context.Context, id int64, actor *models.JWTClaims, alias string) (string, error) {
	archive, err := d.archives.GetForActor(ctx, id, actor)
	if err != nil {
		return "", err
	}
	if err := d.archives.MarkRestoring(ctx, archive); err != nil {
		d.archives.metrics.RecordArchiveOperation(operationRestore, OutcomeRejected)
		return "", err
	}

	reqID := requestid.FromContext(ctx)
	jobID, err := d.queue.Enqueue(jobs.Job{
		Type: JobTypeRestore,
		Payload: restorePayload{
			Archive:   archive,
			Actor:     *actor,
			Alias:     alias,
			RequestID: reqID,
		},
	})
	if err != nil {
		if releaseErr := d.archives.UnmarkRestoring(ctx, archive); releaseErr != nil {
			d.logger.Error("failed to release restore guard after enqueue failure", zap.Int64("archive_id", archive.ID), zap.Error(releaseErr))
		}
		return "", appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "restore queue unavailable")
	}
	d.logger.Info("restore queued", zap.Int64("archive_id", archive.ID), zap.String("job_id", jobID), zap.String("request_id", reqID))
	return jobID, nil
}

func (d *RestoreDispatcher) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(restorePayload)
	if !ok || payload.Archive == nil {
		return fmt.Errorf("unexpected restore payload %T", job.Payload)
	}
	actor := payload.Actor
	if payload.RequestID != "" {
		ctx = requestid.WithID(ctx, payload.RequestID)
	}
	fields := []zap.Field{zap.String("job_id", job.ID), zap.String("request_id", payload.RequestID)}
	survey, err := d.archives.restoreHeld(ctx, payload.Archive, &actor, payload.Alias)
	if err != nil {
		// Outcome and guard release are handled by restoreHeld.
		d.logger.Warn("queued restore did not complete", append(fields, zap.Int64("archive_id", payload.Archive.ID), zap.Error(err))...)
		return nil
	}
	d.logger.Info("queued restore completed", append(fields, zap.Int64("survey_id", survey.ID))...)
	return nil
}

func (d *RestoreDispatcher) discard(job jobs.Job) {
	payload, ok := job.Payload.(restorePayload)
	if !ok || payload.Archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.archives.UnmarkRestoring(ctx, payload.Archive); err != nil {
		d.logger.Error("failed to release guard of discarded restore", zap.String("job_id", job.ID), zap.Int64("archive_id", payload.Archive.ID), zap.Error(err))
		return
	}
	d.logger.Info("queued restore discarded at shutdown", zap.String("job_id", job.ID), zap.Int64("archive_id", payload.Archive.ID), zap.String("request_id", payload.RequestID))
}
