package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/survey-archive-api/internal/dto"
	"github.com/noah-isme/survey-archive-api/internal/models"
	"github.com/noah-isme/survey-archive-api/internal/service"
	appErrors "github.com/noah-isme/survey-archive-api/pkg/errors"
	"github.com/noah-isme/survey-archive-api/pkg/response"
	"github.com/noah-isme/survey-archive-api/pkg/storage"
)

const dateLayout = "2006-01-02"

type archiveService interface {
	GetForActor(ctx context.Context, id int64, actor *models.JWTClaims) (*models.Archive, error)
	GetAllArchives(ctx context.Context, filter models.ArchiveFilter, page, rowsPerPage int, includingErrors bool) ([]models.Archive, error)
	ExportArchives(ctx context.Context, w io.Writer, filter models.ArchiveFilter, page, rowsPerPage int, includingErrors bool) error
	GetNumberOfArchives(ctx context.Context, userID int64) (int, error)
	GetArchivesForUser(ctx context.Context, userID int64) ([]models.Archive, error)
	Lookup(ctx context.Context, shortname string, actor *models.JWTClaims) (*service.ArchiveLookup, error)
	ArchiveSurveyByShortname(ctx context.Context, shortname string, actor *models.JWTClaims) (*models.Archive, error)
	RestoreByID(ctx context.Context, id int64, actor *models.JWTClaims, alias string) (*models.Survey, error)
	Purge(ctx context.Context, id int64, actor *models.JWTClaims) error
	GetDownloadURL(ctx context.Context, id int64, kind storage.ArchiveFileKind, actor *models.JWTClaims) (string, time.Time, error)
	Download(ctx context.Context, id int64, kind storage.ArchiveFileKind, token string, actor *models.JWTClaims) (*service.ArchiveDownload, error)
}

type restoreDispatcher interface {
	RestoreAsync(ctx context.Context, id int64, actor *models.JWTClaims, alias string) (string, error)
}

// ArchiveHandler manages archive HTTP endpoints.
type ArchiveHandler struct {
	service    archiveService
	dispatcher restoreDispatcher
	validate   *validator.Validate
}

// NewArchiveHandler constructs the handler. A nil dispatcher makes every restore synchronous.
func NewArchiveHandler(service archiveService, dispatcher restoreDispatcher, validate *validator.Validate) *ArchiveHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &ArchiveHandler{service: service, dispatcher: dispatcher, validate: validate}
}

// List godoc
// @Summary List archives
// @Tags Archives
// @Produce json
// @Param uid query string false "Survey UID contains"
// @Param userId query int false "Archiving user"
// @Param finished query bool false "Only finished archives"
// @Param shortname query string false "Shortname contains"
// @Param title query string false "Title contains"
// @Param owner query string false "Owner contains"
// @Param createdFrom query string false "Created on or after (YYYY-MM-DD)"
// @Param createdTo query string false "Created on or before (YYYY-MM-DD)"
// @Param archivedFrom query string false "Archived on or after (YYYY-MM-DD)"
// @Param archivedTo query string false "Archived on or before (YYYY-MM-DD)"
// @Param sort query string false "Sort key"
// @Param order query string false "asc or desc"
// @Param page query int false "Page"
// @Param rows query int false "Rows per page"
// @Param includeErrors query bool false "Include failed archives"
// @Success 200 {object} response.Envelope
// @Router /archives [get]
func (h *ArchiveHandler) List(c *gin.Context) {
	query, filter, ok := h.bindListQuery(c)
	if !ok {
		return
	}
	archives, err := h.service.GetAllArchives(c.Request.Context(), filter, query.Page, query.Rows, query.IncludeErrors)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, archives, &models.Pagination{Page: pageOrDefault(query.Page), PageSize: rowsOrDefault(query.Rows)})
}

// Export godoc
// @Summary Export archives as CSV
// @Tags Archives
// @Produce text/csv
// @Success 200 {file} binary
// @Router /archives/export [get]
func (h *ArchiveHandler) Export(c *gin.Context) {
	query, filter, ok := h.bindListQuery(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.service.ExportArchives(c.Request.Context(), &buf, filter, query.Page, query.Rows, query.IncludeErrors); err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="archives.csv"`)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Mine godoc
// @Summary List the caller's archives
// @Tags Archives
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /archives/mine [get]
func (h *ArchiveHandler) Mine(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	archives, err := h.service.GetArchivesForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, archives, nil)
}

// Count godoc
// @Summary Count archives of a user
// @Tags Archives
// @Produce json
// @Param userId query int false "User, defaults to the caller"
// @Success 200 {object} response.Envelope
// @Router /archives/count [get]
func (h *ArchiveHandler) Count(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	userID := claims.UserID
	if raw := strings.TrimSpace(c.Query("userId")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid userId"))
			return
		}
		if parsed != claims.UserID && !claims.IsAdmin() {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
		userID = parsed
	}
	count, err := h.service.GetNumberOfArchives(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ArchiveCountResponse{UserID: userID, Count: count}, nil)
}

// Lookup godoc
// @Summary Archive state of a shortname
// @Tags Archives
// @Produce json
// @Param shortname query string true "Survey shortname"
// @Success 200 {object} response.Envelope
// @Router /archives/lookup [get]
func (h *ArchiveHandler) Lookup(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	lookup, err := h.service.Lookup(c.Request.Context(), c.Query("shortname"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lookup, nil)
}

// Get godoc
// @Summary Get archive metadata
// @Tags Archives
// @Produce json
// @Param id path int true "Archive ID"
// @Success 200 {object} response.Envelope
// @Router /archives/{id} [get]
func (h *ArchiveHandler) Get(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := archiveID(c)
	if !ok {
		return
	}
	archive, err := h.service.GetForActor(c.Request.Context(), id, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, archive, nil)
}

// Purge godoc
// @Summary Delete an archive and its files
// @Tags Archives
// @Param id path int true "Archive ID"
// @Success 204
// @Router /archives/{id} [delete]
func (h *ArchiveHandler) Purge(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := archiveID(c)
	if !ok {
		return
	}
	if err := h.service.Purge(c.Request.Context(), id, claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Restore godoc
// @Summary Restore an archived survey
// @Tags Archives
// @Accept json
// @Produce json
// @Param id path int true "Archive ID"
// @Param payload body dto.RestoreArchiveRequest false "Alias and mode"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /archives/{id}/restore [post]
func (h *ArchiveHandler) Restore(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := archiveID(c)
	if !ok {
		return
	}
	var req dto.RestoreArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid restore payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid restore payload"))
		return
	}

	if req.Async && h.dispatcher != nil {
		jobID, err := h.dispatcher.RestoreAsync(c.Request.Context(), id, claims, req.Alias)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, dto.RestoreQueuedResponse{JobID: jobID, ArchiveID: id})
		return
	}

	survey, err := h.service.RestoreByID(c.Request.Context(), id, claims, req.Alias)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.RestoreArchiveResponse{Survey: survey}, nil)
}

// FileURL godoc
// @Summary Signed download link for an archive file
// @Tags Archives
// @Produce json
// @Param id path int true "Archive ID"
// @Param kind path string true "raw, pdf, statistics-pdf, statistics-xls, results-xls, results-zip, results-xls-zip"
// @Success 200 {object} response.Envelope
// @Router /archives/{id}/files/{kind} [get]
func (h *ArchiveHandler) FileURL(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := archiveID(c)
	if !ok {
		return
	}
	url, expiresAt, err := h.service.GetDownloadURL(c.Request.Context(), id, storage.ArchiveFileKind(c.Param("kind")), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ArchiveFileURLResponse{URL: url, ExpiresAt: expiresAt.UTC().Format(time.RFC3339)}, nil)
}

// Download godoc
// @Summary Download an archive file via signed token
// @Tags Archives
// @Produce octet-stream
// @Param id path int true "Archive ID"
// @Param kind path string true "File kind"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /archives/{id}/files/{kind}/download [get]
func (h *ArchiveHandler) Download(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := archiveID(c)
	if !ok {
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.Download(c.Request.Context(), id, storage.ArchiveFileKind(c.Param("kind")), token, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, result.MimeType, result.File, nil)
}

// ArchiveSurvey godoc
// @Summary Archive a live survey (admins only)
// @Tags Archives
// @Produce json
// @Param shortname path string true "Survey shortname"
// @Success 201 {object} response.Envelope
// @Router /surveys/{shortname}/archive [post]
func (h *ArchiveHandler) ArchiveSurvey(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	shortname := strings.TrimSpace(c.Param("shortname"))
	if shortname == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "shortname is required"))
		return
	}
	archive, err := h.service.ArchiveSurveyByShortname(c.Request.Context(), shortname, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, archive, nil)
}

func (h *ArchiveHandler) bindListQuery(c *gin.Context) (dto.ArchiveListQuery, models.ArchiveFilter, bool) {
	var query dto.ArchiveListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return query, models.ArchiveFilter{}, false
	}
	if err := h.validate.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query parameters"))
		return query, models.ArchiveFilter{}, false
	}
	filter := models.ArchiveFilter{
		UniqueID:     strings.TrimSpace(query.UniqueID),
		UserID:       query.UserID,
		Finished:     query.Finished,
		Shortname:    strings.TrimSpace(query.Shortname),
		Title:        strings.TrimSpace(query.Title),
		Owner:        strings.TrimSpace(query.Owner),
		CreatedFrom:  parseDate(query.CreatedFrom),
		CreatedTo:    parseDate(query.CreatedTo),
		ArchivedFrom: parseDate(query.ArchivedFrom),
		ArchivedTo:   parseDate(query.ArchivedTo),
		SortKey:      query.Sort,
		SortOrder:    query.Order,
	}
	return query, filter, true
}

// parseDate expects input already validated against dateLayout.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil
	}
	return &parsed
}

func archiveID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid archive id"))
		return 0, false
	}
	return id, true
}

func pageOrDefault(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func rowsOrDefault(rows int) int {
	if rows < 1 {
		return 10
	}
	return rows
}
