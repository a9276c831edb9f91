package bootstrap

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/survey-archive-api/internal/models"
	"github.com/noah-isme/survey-archive-api/internal/repository"
	"github.com/noah-isme/survey-archive-api/internal/service"
	"github.com/noah-isme/survey-archive-api/pkg/config"
)

func newTestRouter(t *testing.T, env string) (http.Handler, sqlmock.Sqlmock, *service.AuthService) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	auth := service.NewAuthService(service.AuthConfig{AccessTokenSecret: "secret", Issuer: "survey-archive"})
	s := &Services{
		DB:        sqlx.NewDb(db, "sqlmock"),
		CacheRepo: repository.NewCacheRepository(nil, zap.NewNop()),
		Metrics:   service.NewMetricsService(),
		Auth:      auth,
		Logger:    zap.NewNop(),
	}
	cfg := &config.Config{Env: env, APIPrefix: "/api/v1"}
	return NewRouter(cfg, s), mock, auth
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndMetrics(t *testing.T) {
	r, _, _ := newTestRouter(t, config.EnvProduction)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/docs/index.html", "").Code)
}

func TestRouterReadyReportsDatabase(t *testing.T) {
	r, mock, _ := newTestRouter(t, config.EnvProduction)

	mock.ExpectPing()
	rec := serve(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	rec = serve(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterArchivesRequireToken(t *testing.T) {
	r, _, _ := newTestRouter(t, config.EnvProduction)

	rec := serve(r, http.MethodGet, "/api/v1/archives/mine", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterAdminRoutesRejectUsers(t *testing.T) {
	r, _, auth := newTestRouter(t, config.EnvProduction)

	token, _, err := auth.GenerateToken(7, models.RoleUser, "jane@example.com", "Jane Doe")
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/api/v1/archives", token).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/api/v1/archives/export", token).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodDelete, "/api/v1/archives/5", token).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/api/v1/surveys/feedback/archive", token).Code)
}
