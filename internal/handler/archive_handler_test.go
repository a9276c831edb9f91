package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/survey-archive-api/internal/middleware"
	"github.com/noah-isme/survey-archive-api/internal/models"
	"github.com/noah-isme/survey-archive-api/internal/service"
	appErrors "github.com/noah-isme/survey-archive-api/pkg/errors"
	"github.com/noah-isme/survey-archive-api/pkg/storage"
)

type fakeArchiveSrv struct {
	archive    *models.Archive
	survey     *models.Survey
	err        error
	lastFilter models.ArchiveFilter
	lastPage   int
	lastRows   int
	lastAlias  string
	lastUserID int64
	lastKind   storage.ArchiveFileKind
	download   *service.ArchiveDownload
}

func (f *fakeArchiveSrv) GetForActor(ctx context.Context, id int64, actor *models.JWTClaims) (*models.Archive, error) {
	return f.archive, f.err
}

func (f *fakeArchiveSrv) GetAllArchives(ctx context.Context, filter models.ArchiveFilter, page, rowsPerPage int, includingErrors bool) ([]models.Archive, error) {
	f.lastFilter, f.lastPage, f.lastRows = filter, page, rowsPerPage
	if f.err != nil {
		return nil, f.err
	}
	return []models.Archive{{ID: 1}}, nil
}

func (f *fakeArchiveSrv) ExportArchives(ctx context.Context, w io.Writer, filter models.ArchiveFilter, page, rowsPerPage int, includingErrors bool) error {
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, "ID\n1\n")
	return err
}

func (f *fakeArchiveSrv) GetNumberOfArchives(ctx context.Context, userID int64) (int, error) {
	f.lastUserID = userID
	return 4, f.err
}

func (f *fakeArchiveSrv) GetArchivesForUser(ctx context.Context, userID int64) ([]models.Archive, error) {
	f.lastUserID = userID
	return []models.Archive{}, f.err
}

func (f *fakeArchiveSrv) Lookup(ctx context.Context, shortname string, actor *models.JWTClaims) (*service.ArchiveLookup, error) {
	return &service.ArchiveLookup{Shortname: shortname}, f.err
}

func (f *fakeArchiveSrv) ArchiveSurveyByShortname(ctx context.Context, shortname string, actor *models.JWTClaims) (*models.Archive, error) {
	return f.archive, f.err
}

func (f *fakeArchiveSrv) RestoreByID(ctx context.Context, id int64, actor *models.JWTClaims, alias string) (*models.Survey, error) {
	f.lastAlias = alias
	return f.survey, f.err
}

func (f *fakeArchiveSrv) Purge(ctx context.Context, id int64, actor *models.JWTClaims) error {
	return f.err
}

func (f *fakeArchiveSrv) GetDownloadURL(ctx context.Context, id int64, kind storage.ArchiveFileKind, actor *models.JWTClaims) (string, time.Time, error) {
	f.lastKind = kind
	return "/api/v1/archives/1/files/raw/download?token=t", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), f.err
}

func (f *fakeArchiveSrv) Download(ctx context.Context, id int64, kind storage.ArchiveFileKind, token string, actor *models.JWTClaims) (*service.ArchiveDownload, error) {
	return f.download, f.err
}

type fakeDispatcher struct {
	jobID string
	err   error
	calls int
}

func (d *fakeDispatcher) RestoreAsync(ctx context.Context, id int64, actor *models.JWTClaims, alias string) (string, error) {
	d.calls++
	return d.jobID, d.err
}

type responseEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newArchiveTestContext(method, target string, body io.Reader, claims *models.JWTClaims, params ...gin.Param) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, body)
	if body != nil {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	c.Params = params
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

var (
	userClaims  = &models.JWTClaims{UserID: 7, Role: models.RoleUser}
	adminClaims = &models.JWTClaims{UserID: 1, Role: models.RoleAdmin}
)

func TestArchiveHandlerListBuildsFilter(t *testing.T) {
	srv := &fakeArchiveSrv{}
	handler := NewArchiveHandler(srv, nil, nil)
	c, rec := newArchiveTestContext(http.MethodGet,
		"/archives?shortname=+survey+&finished=true&createdTo=2024-03-01&sort=title&order=desc&page=2&rows=25", nil, adminClaims)

	handler.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "survey", srv.lastFilter.Shortname)
	require.NotNil(t, srv.lastFilter.Finished)
	assert.True(t, *srv.lastFilter.Finished)
	require.NotNil(t, srv.lastFilter.CreatedTo)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *srv.lastFilter.CreatedTo)
	assert.Equal(t, "title", srv.lastFilter.SortKey)
	assert.Equal(t, 2, srv.lastPage)
	assert.Equal(t, 25, srv.lastRows)
}

func TestArchiveHandlerListRejectsBadDate(t *testing.T) {
	handler := NewArchiveHandler(&fakeArchiveSrv{}, nil, nil)
	c, rec := newArchiveTestContext(http.MethodGet, "/archives?createdFrom=01-03-2024", nil, adminClaims)

	handler.List(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveHandlerListSurfacesSortError(t *testing.T) {
	srv := &fakeArchiveSrv{err: appErrors.Clone(appErrors.ErrValidation, "unsupported sort key")}
	handler := NewArchiveHandler(srv, nil, nil)
	c, rec := newArchiveTestContext(http.MethodGet, "/archives?sort=nope", nil, adminClaims)

	handler.List(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeEnvelope(t, rec).Error.Code)
}

func TestArchiveHandlerExportWritesCSV(t *testing.T) {
	handler := NewArchiveHandler(&fakeArchiveSrv{}, nil, nil)
	c, rec := newArchiveTestContext(http.MethodGet, "/archives/export", nil, adminClaims)

	handler.Export(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, "ID\n1\n", rec.Body.String())
}

func TestArchiveHandlerCountForOtherUserRequiresAdmin(t *testing.T) {
	srv := &fakeArchiveSrv{}
	handler := NewArchiveHandler(srv, nil, nil)

	c, rec := newArchiveTestContext(http.MethodGet, "/archives/count?userId=9", nil, userClaims)
	handler.Count(c)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	c, rec = newArchiveTestContext(http.MethodGet, "/archives/count?userId=9", nil, adminClaims)
	handler.Count(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 9, srv.lastUserID)

	c, rec = newArchiveTestContext(http.MethodGet, "/archives/count", nil, userClaims)
	handler.Count(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, srv.lastUserID)
}

func TestArchiveHandlerGetRejectsBadID(t *testing.T) {
	handler := NewArchiveHandler(&fakeArchiveSrv{}, nil, nil)
	c, rec := newArchiveTestContext(http.MethodGet, "/archives/abc", nil, userClaims, gin.Param{Key: "id", Value: "abc"})

	handler.Get(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveHandlerRequiresClaims(t *testing.T) {
	handler := NewArchiveHandler(&fakeArchiveSrv{}, nil, nil)
	c, rec := newArchiveTestContext(http.MethodGet, "/archives/mine", nil, nil)

	handler.Mine(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestArchiveHandlerRestoreSync(t *testing.T) {
	srv := &fakeArchiveSrv{survey: &models.Survey{ID: 42, Shortname: "copy"}}
	handler := NewArchiveHandler(srv, &fakeDispatcher{}, nil)
	c, rec := newArchiveTestContext(http.MethodPost, "/archives/5/restore",
		strings.NewReader(`{"alias":"copy"}`), userClaims, gin.Param{Key: "id", Value: "5"})

	handler.Restore(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "copy", srv.lastAlias)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"id":42`)
}

func TestArchiveHandlerRestoreWithoutBody(t *testing.T) {
	srv := &fakeArchiveSrv{survey: &models.Survey{ID: 1}}
	handler := NewArchiveHandler(srv, nil, nil)
	c, rec := newArchiveTestContext(http.MethodPost, "/archives/5/restore", nil, userClaims, gin.Param{Key: "id", Value: "5"})

	handler.Restore(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, srv.lastAlias)
}

func TestArchiveHandlerRestoreAsync(t *testing.T) {
	dispatcher := &fakeDispatcher{jobID: "job-1"}
	handler := NewArchiveHandler(&fakeArchiveSrv{}, dispatcher, nil)
	c, rec := newArchiveTestContext(http.MethodPost, "/archives/5/restore",
		strings.NewReader(`{"async":true}`), userClaims, gin.Param{Key: "id", Value: "5"})

	handler.Restore(c)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, dispatcher.calls)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"jobId":"job-1"`)
}

func TestArchiveHandlerRestoreConflict(t *testing.T) {
	srv := &fakeArchiveSrv{err: appErrors.Clone(appErrors.ErrAliasConflict, "A survey with this alias already exists and cannot be imported: s1")}
	handler := NewArchiveHandler(srv, nil, nil)
	c, rec := newArchiveTestContext(http.MethodPost, "/archives/5/restore", nil, userClaims, gin.Param{Key: "id", Value: "5"})

	handler.Restore(c)

	require.Equal(t, http.StatusConflict, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, appErrors.ErrAliasConflict.Code, envelope.Error.Code)
	assert.Equal(t, "A survey with this alias already exists and cannot be imported: s1", envelope.Error.Message)
}

func TestArchiveHandlerFileURL(t *testing.T) {
	srv := &fakeArchiveSrv{}
	handler := NewArchiveHandler(srv, nil, nil)
	c, rec := newArchiveTestContext(http.MethodGet, "/archives/1/files/pdf", nil, userClaims,
		gin.Param{Key: "id", Value: "1"}, gin.Param{Key: "kind", Value: "pdf"})

	handler.FileURL(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.KindPDF, srv.lastKind)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"expiresAt":"2024-01-01T00:00:00Z"`)
}

func TestArchiveHandlerDownloadStreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw")
	require.NoError(t, os.WriteFile(path, []byte(`{"survey":{}}`), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	srv := &fakeArchiveSrv{download: &service.ArchiveDownload{File: file, Filename: "s1.json", MimeType: "application/json", SizeBytes: 13}}
	handler := NewArchiveHandler(srv, nil, nil)
	c, rec := newArchiveTestContext(http.MethodGet, "/archives/1/files/raw/download?token=abc", nil, userClaims,
		gin.Param{Key: "id", Value: "1"}, gin.Param{Key: "kind", Value: "raw"})

	handler.Download(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="s1.json"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, `{"survey":{}}`, rec.Body.String())
}

func TestArchiveHandlerDownloadRequiresToken(t *testing.T) {
	handler := NewArchiveHandler(&fakeArchiveSrv{}, nil, nil)
	c, rec := newArchiveTestContext(http.MethodGet, "/archives/1/files/raw/download", nil, userClaims,
		gin.Param{Key: "id", Value: "1"}, gin.Param{Key: "kind", Value: "raw"})

	handler.Download(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveHandlerArchiveSurvey(t *testing.T) {
	srv := &fakeArchiveSrv{archive: &models.Archive{ID: 3, SurveyShortname: "s1"}}
	handler := NewArchiveHandler(srv, nil, nil)
	c, rec := newArchiveTestContext(http.MethodPost, "/surveys/s1/archive", nil, userClaims, gin.Param{Key: "shortname", Value: "s1"})

	handler.ArchiveSurvey(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestArchiveHandlerArchiveSurveyInProgress(t *testing.T) {
	srv := &fakeArchiveSrv{err: appErrors.ErrArchiveInProgress}
	handler := NewArchiveHandler(srv, nil, nil)
	c, rec := newArchiveTestContext(http.MethodPost, "/surveys/s1/archive", nil, userClaims, gin.Param{Key: "shortname", Value: "s1"})

	handler.ArchiveSurvey(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestArchiveHandlerPurge(t *testing.T) {
	handler := NewArchiveHandler(&fakeArchiveSrv{}, nil, nil)
	c, _ := newArchiveTestContext(http.MethodDelete, "/archives/1", nil, adminClaims, gin.Param{Key: "id", Value: "1"})

	handler.Purge(c)

	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
}
