package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/survey-archive-api/internal/models"
	"github.com/noah-isme/survey-archive-api/internal/repository"
	appErrors "github.com/noah-isme/survey-archive-api/pkg/errors"
	"github.com/noah-isme/survey-archive-api/pkg/export"
	"github.com/noah-isme/survey-archive-api/pkg/logger"
	"github.com/noah-isme/survey-archive-api/pkg/middleware/requestid"
	"github.com/noah-isme/survey-archive-api/pkg/storage"
	"github.com/noah-isme/survey-archive-api/pkg/textutil"
)

const (
	maxArchiveTitle = 250
	titleEllipsis   = "..."
)

// Operation labels for archive_operations_total.
const (
	operationArchive = "archive"
	operationRestore = "restore"
	operationPurge   = "purge"
)

type archiveStore interface {
	Add(ctx context.Context, archive *models.Archive) error
	AddIfNoneActive(ctx context.Context, archive *models.Archive) error
	Update(ctx context.Context, archive *models.Archive) error
	Delete(ctx context.Context, archive *models.Archive) error
	Get(ctx context.Context, id int64) (*models.Archive, error)
	GetAllArchives(ctx context.Context, filter models.ArchiveFilter, page, rowsPerPage int, includingErrors bool) ([]models.Archive, error)
	GetNumberOfArchives(ctx context.Context, userID int64) (int, error)
	GetActiveArchive(ctx context.Context, shortname string) (*models.Archive, error)
	GetArchive(ctx context.Context, userID int64, shortname string) (*models.Archive, error)
	GetSurveyUIDForArchivedSurveyShortname(ctx context.Context, shortname string) (string, error)
	GetArchivesForUser(ctx context.Context, userID int64) ([]models.Archive, error)
	BeginRestore(ctx context.Context, id int64, now time.Time) error
	EndRestore(ctx context.Context, id int64) error
	ReleaseStaleRestores(ctx context.Context, cutoff time.Time) (int64, error)
}

type archiveFiles interface {
	ResolveRawFile(surveyUID string) (string, error)
	Exists(path string) bool
	DeleteAll(surveyUID string) error
	EnsureFolder(surveyUID string) error
	Write(surveyUID string, kind storage.ArchiveFileKind, r io.Reader) (string, error)
	Open(surveyUID string, kind storage.ArchiveFileKind) (*os.File, error)
}

type surveyStore interface {
	GetSurvey(ctx context.Context, shortname string, includeDeleted bool) (*models.Survey, error)
	GetByID(ctx context.Context, id int64) (*models.Survey, error)
	MarkAsArchived(ctx context.Context, surveyUID string) error
	UnmarkAsArchived(ctx context.Context, surveyUID string) error
	LoadBundle(ctx context.Context, surveyUID string) (*models.SurveyBundle, error)
	ImportSurvey(ctx context.Context, bundle *models.SurveyBundle, actorID int64) (int64, error)
}

type answerCounter interface {
	CountPublishedAnswerSets(ctx context.Context, shortname, surveyUID string) (int, error)
}

type surveyCodec interface {
	Encode(w io.Writer, bundle *models.SurveyBundle) error
	Decode(r io.Reader) (*models.SurveyBundle, error)
}

type coverSheetRenderer interface {
	Render(w io.Writer, doc export.Document) error
}

type listingRenderer interface {
	Render(w io.Writer, data export.Dataset) error
}

type archiveFileSigner interface {
	Generate(archiveID int64, kind storage.ArchiveFileKind) (string, time.Time, error)
	Parse(token string) (int64, storage.ArchiveFileKind, time.Time, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ArchiveCodecs groups the serialisers the lifecycle uses for archive files and listings.
type ArchiveCodecs struct {
	Survey  surveyCodec
	Cover   coverSheetRenderer
	Listing listingRenderer
}

// ArchiveServiceConfig holds presentation settings.
type ArchiveServiceConfig struct {
	APIPrefix string
}

// ArchiveDownload bundles an opened archive file for streaming.
type ArchiveDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// ArchiveLookup answers which archive state a shortname is in.
type ArchiveLookup struct {
	Shortname string          `json:"shortname"`
	SurveyUID string          `json:"surveyUid,omitempty"`
	Active    *models.Archive `json:"active,omitempty"`
	Mine      *models.Archive `json:"mine,omitempty"`
}

// ArchiveService is the archive lifecycle controller: it moves surveys into archives and
// back, and keeps archive records consistent with their file sets.
type ArchiveService struct {
	store   archiveStore
	files   archiveFiles
	surveys surveyStore
	answers answerCounter
	codecs  ArchiveCodecs
	signer  archiveFileSigner
	audit   auditLogger
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	cfg     ArchiveServiceConfig
	now     func() time.Time
}

// NewArchiveService constructs the service with defaults.
func NewArchiveService(store archiveStore, files archiveFiles, surveys surveyStore, answers answerCounter, codecs ArchiveCodecs, signer archiveFileSigner, audit auditLogger, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg ArchiveServiceConfig) *ArchiveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if codecs.Survey == nil {
		codecs.Survey = export.NewSurveyCodec()
	}
	if codecs.Cover == nil {
		codecs.Cover = export.NewPDFExporter()
	}
	if codecs.Listing == nil {
		codecs.Listing = export.NewCSVExporter()
	}
	return &ArchiveService{
		store:   store,
		files:   files,
		surveys: surveys,
		answers: answers,
		codecs:  codecs,
		signer:  signer,
		audit:   audit,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Add inserts or updates an archive record.
func (s *ArchiveService) Add(ctx context.Context, archive *models.Archive) error {
	if archive == nil {
		return appErrors.Clone(appErrors.ErrValidation, "archive is required")
	}
	if err := s.store.Add(ctx, archive); err != nil {
		return persistenceError(err, "failed to save archive")
	}
	s.cache.InvalidateUser(ctx, archive.UserID)
	return nil
}

// Update persists every field of an archive loaded earlier.
func (s *ArchiveService) Update(ctx context.Context, archive *models.Archive) error {
	if archive == nil || archive.ID == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "archive id is required")
	}
	if err := s.store.Update(ctx, archive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "archive not found")
		}
		return persistenceError(err, "failed to update archive")
	}
	s.cache.InvalidateUser(ctx, archive.UserID)
	return nil
}

// Get returns the archive with id.
func (s *ArchiveService) Get(ctx context.Context, id int64) (*models.Archive, error) {
	archive, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, persistenceError(err, "failed to load archive")
	}
	if archive == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "archive not found")
	}
	return archive, nil
}

// GetForActor returns the archive if actor owns it or administers archives.
func (s *ArchiveService) GetForActor(ctx context.Context, id int64, actor *models.JWTClaims) (*models.Archive, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	archive, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ensureAccess(archive, actor); err != nil {
		return nil, err
	}
	return archive, nil
}

// GetAllArchives returns one page of archives matching filter.
func (s *ArchiveService) GetAllArchives(ctx context.Context, filter models.ArchiveFilter, page, rowsPerPage int, includingErrors bool) ([]models.Archive, error) {
	archives, err := s.store.GetAllArchives(ctx, filter, page, rowsPerPage, includingErrors)
	if err != nil {
		if errors.Is(err, repository.ErrUnsupportedSortKey) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported sort key")
		}
		return nil, persistenceError(err, "failed to list archives")
	}
	if archives == nil {
		archives = []models.Archive{}
	}
	return archives, nil
}

// ExportArchives writes the filtered page as CSV.
func (s *ArchiveService) ExportArchives(ctx context.Context, w io.Writer, filter models.ArchiveFilter, page, rowsPerPage int, includingErrors bool) error {
	archives, err := s.GetAllArchives(ctx, filter, page, rowsPerPage, includingErrors)
	if err != nil {
		return err
	}
	data := export.Dataset{Headers: []string{"ID", "Survey UID", "Shortname", "Title", "Owner", "Languages", "User", "Replies", "Created", "Archived", "Finished", "Error"}}
	for _, a := range archives {
		errText := ""
		if a.Error != nil {
			errText = *a.Error
		}
		data.Append(
			strconv.FormatInt(a.ID, 10),
			a.SurveyUID,
			a.SurveyShortname,
			a.SurveyTitle,
			a.Owner,
			a.Languages,
			strconv.FormatInt(a.UserID, 10),
			strconv.Itoa(a.Replies),
			a.Created.UTC().Format(time.RFC3339),
			a.Archived.UTC().Format(time.RFC3339),
			strconv.FormatBool(a.Finished),
			errText,
		)
	}
	if err := s.codecs.Listing.Render(w, data); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render archive export")
	}
	return nil
}

// GetNumberOfArchives counts every archive of userID.
func (s *ArchiveService) GetNumberOfArchives(ctx context.Context, userID int64) (int, error) {
	var count int
	if s.cache.Get(ctx, userCountKey(userID), &count) {
		return count, nil
	}
	count, err := s.store.GetNumberOfArchives(ctx, userID)
	if err != nil {
		return 0, persistenceError(err, "failed to count archives")
	}
	s.cache.Set(ctx, userCountKey(userID), count)
	return count, nil
}

// GetActiveArchive returns the in-progress archive of shortname, or nil.
func (s *ArchiveService) GetActiveArchive(ctx context.Context, shortname string) (*models.Archive, error) {
	archive, err := s.store.GetActiveArchive(ctx, shortname)
	if err != nil {
		return nil, persistenceError(err, "failed to load active archive")
	}
	return archive, nil
}

// GetArchive returns the finished archive of userID for shortname, or nil.
func (s *ArchiveService) GetArchive(ctx context.Context, userID int64, shortname string) (*models.Archive, error) {
	archive, err := s.store.GetArchive(ctx, userID, shortname)
	if err != nil {
		return nil, persistenceError(err, "failed to load archive")
	}
	return archive, nil
}

// GetSurveyUIDForArchivedSurveyShortname returns the survey UID archived under shortname, or "".
func (s *ArchiveService) GetSurveyUIDForArchivedSurveyShortname(ctx context.Context, shortname string) (string, error) {
	uid, err := s.store.GetSurveyUIDForArchivedSurveyShortname(ctx, shortname)
	if err != nil {
		return "", persistenceError(err, "failed to look up archived survey")
	}
	return uid, nil
}

// GetArchivesForUser returns every finished archive of userID.
func (s *ArchiveService) GetArchivesForUser(ctx context.Context, userID int64) ([]models.Archive, error) {
	var archives []models.Archive
	if s.cache.Get(ctx, userListKey(userID), &archives) {
		return archives, nil
	}
	archives, err := s.store.GetArchivesForUser(ctx, userID)
	if err != nil {
		return nil, persistenceError(err, "failed to list archives")
	}
	if archives == nil {
		archives = []models.Archive{}
	}
	s.cache.Set(ctx, userListKey(userID), archives)
	return archives, nil
}

// Lookup combines the shortname lookups used by survey management screens.
func (s *ArchiveService) Lookup(ctx context.Context, shortname string, actor *models.JWTClaims) (*ArchiveLookup, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	shortname = strings.TrimSpace(shortname)
	if shortname == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "shortname is required")
	}
	uid, err := s.GetSurveyUIDForArchivedSurveyShortname(ctx, shortname)
	if err != nil {
		return nil, err
	}
	active, err := s.GetActiveArchive(ctx, shortname)
	if err != nil {
		return nil, err
	}
	mine, err := s.GetArchive(ctx, actor.UserID, shortname)
	if err != nil {
		return nil, err
	}
	return &ArchiveLookup{Shortname: shortname, SurveyUID: uid, Active: active, Mine: mine}, nil
}

// ArchiveSurveyByShortname archives the live survey named shortname on behalf of actor.
func (s *ArchiveService) ArchiveSurveyByShortname(ctx context.Context, shortname string, actor *models.JWTClaims) (*models.Archive, error) {
	survey, err := s.surveys.GetSurvey(ctx, shortname, false)
	if err != nil {
		return nil, persistenceError(err, "failed to load survey")
	}
	if survey == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "survey not found")
	}
	return s.ArchiveSurvey(ctx, survey, actor)
}

// ArchiveSurvey snapshots survey into a new archive, writes its files and marks the survey
// archived. Only admins may archive; the acting admin owns the record. A failure after the
// record exists removes the record and any written files.
func (s *ArchiveService) ArchiveSurvey(ctx context.Context, survey *models.Survey, actor *models.JWTClaims) (*models.Archive, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may archive surveys")
	}
	if survey == nil || survey.UniqueID == "" || survey.Shortname == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "survey is required")
	}

	replies, err := s.answers.CountPublishedAnswerSets(ctx, survey.Shortname, survey.UniqueID)
	if err != nil {
		s.metrics.RecordArchiveOperation(operationArchive, OutcomeFailure)
		return nil, persistenceError(err, "failed to count published answers")
	}

	archive := s.snapshot(survey, actor.UserID, replies)
	log := s.logger.With(zap.String("survey_uid", archive.SurveyUID), zap.String("shortname", archive.SurveyShortname))
	log.Info("archiving survey", zap.Int64("survey_id", survey.ID))

	if err := s.store.AddIfNoneActive(ctx, archive); err != nil {
		if errors.Is(err, repository.ErrActiveArchiveExists) {
			s.metrics.RecordArchiveOperation(operationArchive, OutcomeRejected)
			return nil, appErrors.Clone(appErrors.ErrArchiveInProgress, fmt.Sprintf("an archive for %s is already in progress", survey.Shortname))
		}
		s.metrics.RecordArchiveOperation(operationArchive, OutcomeFailure)
		return nil, persistenceError(err, "failed to create archive")
	}

	if err := s.writeArchiveFiles(ctx, archive); err != nil {
		s.discard(ctx, archive, err)
		s.metrics.RecordArchiveOperation(operationArchive, OutcomeFailure)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export survey")
	}

	archive.Finished = true
	if err := s.store.Update(ctx, archive); err != nil {
		s.discard(ctx, archive, err)
		s.metrics.RecordArchiveOperation(operationArchive, OutcomeFailure)
		return nil, persistenceError(err, "failed to finish archive")
	}
	if err := s.surveys.MarkAsArchived(ctx, archive.SurveyUID); err != nil {
		s.discard(ctx, archive, err)
		s.metrics.RecordArchiveOperation(operationArchive, OutcomeFailure)
		return nil, persistenceError(err, "failed to mark survey archived")
	}

	s.cache.InvalidateUser(ctx, archive.UserID)
	s.metrics.RecordArchiveOperation(operationArchive, OutcomeSuccess)
	s.emitAudit(ctx, models.AuditActionArchiveSurvey, actor, archive, map[string]interface{}{
		"surveyUid": archive.SurveyUID,
		"shortname": archive.SurveyShortname,
		"replies":   archive.Replies,
	})
	log.Info("survey archived", zap.Int64("archive_id", archive.ID))
	return archive, nil
}

func (s *ArchiveService) snapshot(survey *models.Survey, userID int64, replies int) *models.Archive {
	title := strings.ReplaceAll(textutil.StripHTML(survey.Title), `"`, "'")
	title = textutil.Truncate(title, maxArchiveTitle, titleEllipsis)

	return &models.Archive{
		SurveyUID:              survey.UniqueID,
		SurveyTitle:            title,
		SurveyShortname:        survey.Shortname,
		Owner:                  survey.OwnerName,
		Languages:              strings.Join(survey.Translations, ""),
		UserID:                 userID,
		Replies:                replies,
		SurveyHasUploadedFiles: survey.HasUploadElement,
		Created:                survey.Created,
		Archived:               s.now().UTC(),
	}
}

// writeArchiveFiles stores the raw export and the cover sheet in the archive folder.
func (s *ArchiveService) writeArchiveFiles(ctx context.Context, archive *models.Archive) error {
	bundle, err := s.surveys.LoadBundle(ctx, archive.SurveyUID)
	if err != nil {
		return err
	}
	if bundle == nil {
		return fmt.Errorf("survey %s has no definition to export", archive.SurveyUID)
	}
	if err := s.files.EnsureFolder(archive.SurveyUID); err != nil {
		return err
	}

	var raw bytes.Buffer
	if err := s.codecs.Survey.Encode(&raw, bundle); err != nil {
		return fmt.Errorf("encode survey: %w", err)
	}
	if _, err := s.files.Write(archive.SurveyUID, storage.KindRaw, &raw); err != nil {
		return err
	}

	var cover bytes.Buffer
	if err := s.codecs.Cover.Render(&cover, coverSheet(archive)); err != nil {
		return fmt.Errorf("render cover sheet: %w", err)
	}
	if _, err := s.files.Write(archive.SurveyUID, storage.KindPDF, &cover); err != nil {
		return err
	}
	return nil
}

func coverSheet(archive *models.Archive) export.Document {
	data := export.Dataset{Headers: []string{"Field", "Value"}}
	data.Append("Shortname", archive.SurveyShortname)
	data.Append("Survey UID", archive.SurveyUID)
	data.Append("Owner", archive.Owner)
	data.Append("Languages", archive.Languages)
	data.Append("Replies", strconv.Itoa(archive.Replies))
	data.Append("Uploaded files", strconv.FormatBool(archive.SurveyHasUploadedFiles))
	data.Append("Created", archive.Created.UTC().Format(time.RFC3339))
	data.Append("Archived", archive.Archived.UTC().Format(time.RFC3339))
	return export.Document{Title: archive.SurveyTitle, Subtitle: "Survey archive", Data: data}
}

// discard removes a half-built archive. If the record cannot be deleted it is flagged with
// cause so it drops out of normal listings.
func (s *ArchiveService) discard(ctx context.Context, archive *models.Archive, cause error) {
	fields := logger.ArchiveFields(archive.ID, archive.SurveyUID, archive.SurveyShortname)
	s.logger.Error("archiving failed", append(fields, zap.Error(cause))...)

	if err := s.store.Delete(ctx, archive); err != nil {
		s.logger.Error("failed to delete incomplete archive", append(fields, zap.Error(err))...)
		msg := cause.Error()
		archive.Error = &msg
		archive.Finished = false
		if err := s.store.Update(ctx, archive); err != nil {
			s.logger.Error("failed to flag incomplete archive", append(fields, zap.Error(err))...)
		}
	}
	s.deleteFiles(archive)
}

// Delete purges an archive: the record first, then every file of its file set.
func (s *ArchiveService) Delete(ctx context.Context, archive *models.Archive, actor *models.JWTClaims) error {
	if archive == nil {
		return appErrors.Clone(appErrors.ErrValidation, "archive is required")
	}
	if err := s.store.Delete(ctx, archive); err != nil {
		s.metrics.RecordArchiveOperation(operationPurge, OutcomeFailure)
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "archive not found")
		}
		return persistenceError(err, "failed to delete archive")
	}
	s.deleteFiles(archive)
	s.cache.InvalidateUser(ctx, archive.UserID)
	s.metrics.RecordArchiveOperation(operationPurge, OutcomeSuccess)
	s.emitAudit(ctx, models.AuditActionPurgeArchive, actor, archive, map[string]interface{}{"surveyUid": archive.SurveyUID})
	s.logger.Info("archive purged", logger.ArchiveFields(archive.ID, archive.SurveyUID, archive.SurveyShortname)...)
	return nil
}

// Purge loads and deletes the archive with id. Only super administrators may purge.
func (s *ArchiveService) Purge(ctx context.Context, id int64, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleSuperAdmin {
		return appErrors.ErrForbidden
	}
	archive, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.Delete(ctx, archive, actor)
}

// deleteFiles sweeps the file set of archive. Failures are logged, never returned.
func (s *ArchiveService) deleteFiles(archive *models.Archive) {
	err := s.files.DeleteAll(archive.SurveyUID)
	if err == nil {
		return
	}
	failures := storage.CleanupFailures(err)
	paths := make([]string, 0, len(failures))
	for _, f := range failures {
		paths = append(paths, f.Path)
	}
	s.metrics.RecordCleanupFailures(len(failures))
	fields := logger.ArchiveFields(archive.ID, archive.SurveyUID, archive.SurveyShortname)
	s.logger.Warn("archive files left behind", append(fields, zap.Strings("paths", paths), zap.Error(err))...)
}

// GetDownloadURL returns a signed link to one file of an archive.
func (s *ArchiveService) GetDownloadURL(ctx context.Context, id int64, kind storage.ArchiveFileKind, actor *models.JWTClaims) (string, time.Time, error) {
	if s.signer == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	if _, ok := kind.Suffix(); !ok {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrValidation, "unknown archive file kind")
	}
	archive, err := s.GetForActor(ctx, id, actor)
	if err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := s.signer.Generate(archive.ID, kind)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s/archives/%d/files/%s/download?token=%s", base, archive.ID, kind, token), expiresAt, nil
}

// Download validates token and opens the requested archive file.
func (s *ArchiveService) Download(ctx context.Context, id int64, kind storage.ArchiveFileKind, token string, actor *models.JWTClaims) (*ArchiveDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	archive, err := s.GetForActor(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	tokenID, tokenKind, expiresAt, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if tokenID != archive.ID || tokenKind != kind {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.files.Open(archive.SurveyUID, kind)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "archive file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open archive file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read archive metadata")
	}
	return &ArchiveDownload{
		File:      file,
		Filename:  downloadName(archive, kind),
		MimeType:  mimeType(kind),
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

func downloadName(archive *models.Archive, kind storage.ArchiveFileKind) string {
	switch kind {
	case storage.KindRaw:
		return archive.SurveyShortname + ".json"
	case storage.KindPDF:
		return archive.SurveyShortname + ".pdf"
	}
	suffix, _ := kind.Suffix()
	return archive.SurveyShortname + "-" + suffix
}

func mimeType(kind storage.ArchiveFileKind) string {
	switch kind {
	case storage.KindRaw:
		return "application/json"
	case storage.KindPDF, storage.KindStatisticsPDF:
		return "application/pdf"
	case storage.KindStatisticsXLS, storage.KindResultsXLS:
		return "application/vnd.ms-excel"
	default:
		return "application/zip"
	}
}

func ensureAccess(archive *models.Archive, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.IsAdmin() || archive.UserID == actor.UserID {
		return nil
	}
	return appErrors.ErrForbidden
}

func persistenceError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, message)
}

func (s *ArchiveService) emitAudit(ctx context.Context, action string, actor *models.JWTClaims, archive *models.Archive, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		ID:        newAuditID(),
		Action:    action,
		Resource:  models.AuditResourceArchive,
		IPAddress: "system",
		UserAgent: "archive-service",
		CreatedAt: s.now().UTC(),
	}
	if actor != nil {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if archive != nil {
		resourceID := strconv.FormatInt(archive.ID, 10)
		entry.ResourceID = &resourceID
	}
	if reqID := requestid.FromContext(ctx); reqID != "" {
		tagged := make(map[string]interface{}, len(values)+1)
		for k, v := range values {
			tagged[k] = v
		}
		tagged["requestId"] = reqID
		values = tagged
	}
	if payload, err := marshalAuditValues(values); err == nil {
		entry.NewValues = payload
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to create archive audit", zap.String("action", action), zap.Error(err))
	}
}

func newAuditID() string {
	return uuid.NewString()
}

func marshalAuditValues(values map[string]interface{}) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}
