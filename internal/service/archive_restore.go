package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/survey-archive-api/internal/models"
	"github.com/noah-isme/survey-archive-api/internal/repository"
	appErrors "github.com/noah-isme/survey-archive-api/pkg/errors"
	"github.com/noah-isme/survey-archive-api/pkg/logger"
)

// MarkRestoring acquires the restore guard of archive. It fails with ErrRestoreInProgress
// when another restore holds it.
func (s *ArchiveService) MarkRestoring(ctx context.Context, archive *models.Archive) error {
	if archive == nil || archive.ID == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "archive id is required")
	}
	now := s.now().UTC()
	if err := s.store.BeginRestore(ctx, archive.ID, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyRestoring):
			return appErrors.Clone(appErrors.ErrRestoreInProgress, fmt.Sprintf("The survey is already being restored: %s", archive.SurveyTitle))
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "archive not found")
		default:
			return persistenceError(err, "failed to mark archive restoring")
		}
	}
	archive.Restoring = true
	archive.RestoringSince = &now
	s.cache.InvalidateUser(ctx, archive.UserID)
	return nil
}

// UnmarkRestoring releases the restore guard of archive.
func (s *ArchiveService) UnmarkRestoring(ctx context.Context, archive *models.Archive) error {
	if archive == nil || archive.ID == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "archive id is required")
	}
	if err := s.store.EndRestore(ctx, archive.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "archive not found")
		}
		return persistenceError(err, "failed to unmark archive restoring")
	}
	archive.Restoring = false
	archive.RestoringSince = nil
	s.cache.InvalidateUser(ctx, archive.UserID)
	return nil
}

// Restore brings archive back as a live survey under alias, or under its own shortname when
// alias is empty. On success the archive record and its files are gone; on failure the
// archive is left as it was and can be restored again.
func (s *ArchiveService) Restore(ctx context.Context, archive *models.Archive, actor *models.JWTClaims, alias string) (*models.Survey, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if archive == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "archive is required")
	}
	if err := s.MarkRestoring(ctx, archive); err != nil {
		s.metrics.RecordArchiveOperation(operationRestore, OutcomeRejected)
		return nil, err
	}
	return s.restoreHeld(ctx, archive, actor, alias)
}

// RestoreByID loads archive id, checks actor may restore it, and restores it.
func (s *ArchiveService) RestoreByID(ctx context.Context, id int64, actor *models.JWTClaims, alias string) (*models.Survey, error) {
	archive, err := s.GetForActor(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return s.Restore(ctx, archive, actor, alias)
}

// restoreHeld runs the restore with the guard already acquired. Every outcome that keeps
// the archive releases the guard.
func (s *ArchiveService) restoreHeld(ctx context.Context, archive *models.Archive, actor *models.JWTClaims, alias string) (survey *models.Survey, err error) {
	fields := logger.ArchiveFields(archive.ID, archive.SurveyUID, archive.SurveyShortname)
	consumed := false
	defer func() {
		switch {
		case err == nil:
			s.metrics.RecordArchiveOperation(operationRestore, OutcomeSuccess)
		case appErrors.IsRestoreError(err):
			s.metrics.RecordArchiveOperation(operationRestore, OutcomeRejected)
			s.logger.Info("restore rejected", append(fields, zap.Error(err))...)
		default:
			s.metrics.RecordArchiveOperation(operationRestore, OutcomeFailure)
			s.logger.Error("restore failed", append(fields, zap.Error(err))...)
		}
		if consumed {
			return
		}
		// Detached so a cancelled request still frees the guard.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if releaseErr := s.UnmarkRestoring(releaseCtx, archive); releaseErr != nil {
			s.logger.Error("failed to release restore guard", append(fields, zap.Error(releaseErr))...)
		}
	}()

	path, err := s.files.ResolveRawFile(archive.SurveyUID)
	if err != nil || !s.files.Exists(path) {
		return nil, appErrors.Clone(appErrors.ErrRestoreFileMissing,
			fmt.Sprintf("The survey could not be imported as the file does not exist: %s", archive.SurveyTitle))
	}

	bundle, err := s.decodeRawFile(path)
	if err != nil || bundle == nil || bundle.Survey == nil {
		restoreErr := appErrors.Clone(appErrors.ErrRestoreImportFailed,
			fmt.Sprintf("The survey could not be imported: %s", archive.SurveyTitle))
		restoreErr.Err = err
		return nil, restoreErr
	}

	alias = strings.TrimSpace(alias)
	target := strings.TrimSpace(bundle.Survey.Shortname)
	if alias != "" {
		target = alias
	}
	if target == "" {
		return nil, appErrors.Clone(appErrors.ErrRestoreImportFailed,
			fmt.Sprintf("The survey could not be imported: %s", archive.SurveyTitle))
	}

	existing, err := s.surveys.GetSurvey(ctx, target, true)
	if err != nil {
		return nil, persistenceError(err, "failed to look up survey")
	}

	var restoredID int64
	switch {
	case existing != nil && existing.IsDeleted:
		// The live row outlived the archive; bring it back instead of importing a copy.
		if err := s.surveys.UnmarkAsArchived(ctx, existing.UniqueID); err != nil {
			return nil, persistenceError(err, "failed to unmark survey archived")
		}
		restoredID = existing.ID
	case existing != nil:
		return nil, appErrors.Clone(appErrors.ErrAliasConflict,
			fmt.Sprintf("A survey with this alias already exists and cannot be imported: %s", target))
	default:
		if alias != "" {
			bundle.Rename(alias)
		}
		id, err := s.surveys.ImportSurvey(ctx, bundle, actor.UserID)
		if err != nil {
			return nil, persistenceError(err, "failed to import survey")
		}
		restoredID = id
	}

	// The survey is live again; finish on a context the caller can no longer cancel so the
	// archive record cannot outlive the import.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Delete(ctx, archive); err != nil {
		return nil, persistenceError(err, "failed to delete restored archive")
	}
	consumed = true
	s.deleteFiles(archive)
	s.cache.InvalidateUser(ctx, archive.UserID)

	restored, err := s.surveys.GetByID(ctx, restoredID)
	if err != nil {
		return nil, persistenceError(err, "failed to load restored survey")
	}
	if restored == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "restored survey not found")
	}

	s.emitAudit(ctx, models.AuditActionRestoreSurvey, actor, archive, map[string]interface{}{
		"surveyUid": archive.SurveyUID,
		"surveyId":  restored.ID,
		"shortname": restored.Shortname,
	})
	s.logger.Info("survey restored", append(fields, zap.Int64("survey_id", restored.ID), zap.String("restored_shortname", restored.Shortname))...)
	return restored, nil
}

func (s *ArchiveService) decodeRawFile(path string) (*models.SurveyBundle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw export: %w", err)
	}
	defer file.Close() //nolint:errcheck
	return s.codecs.Survey.Decode(file)
}

// ReleaseStaleRestores frees restore guards held for longer than olderThan.
func (s *ArchiveService) ReleaseStaleRestores(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	released, err := s.store.ReleaseStaleRestores(ctx, cutoff)
	if err != nil {
		return 0, persistenceError(err, "failed to release stale restores")
	}
	s.metrics.RecordReleasedRestores(released)
	if released > 0 {
		s.logger.Warn("released stale restore guards", zap.Int64("released", released), zap.Time("cutoff", cutoff))
	}
	return released, nil
}
