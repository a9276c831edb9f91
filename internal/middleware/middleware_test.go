package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/survey-archive-api/internal/models"
	appErrors "github.com/noah-isme/survey-archive-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
	token  string
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != v.token {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return a.err
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/archives/:id/files/:kind/download", handlers...)
	return r
}

func serve(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/archives/5/files/raw/download", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func ok(c *gin.Context) { c.Status(http.StatusOK) }

func TestJWTRejectsMissingAndMalformedHeaders(t *testing.T) {
	r := newRouter(JWT(validatorStub{token: "good", claims: &models.JWTClaims{UserID: 1}}), ok)

	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer bad").Code)
	assert.Equal(t, http.StatusOK, serve(r, "bearer good").Code)
}

func TestRequireRoles(t *testing.T) {
	admin := validatorStub{token: "admin", claims: &models.JWTClaims{UserID: 1, Role: models.RoleAdmin}}
	user := validatorStub{token: "user", claims: &models.JWTClaims{UserID: 2, Role: models.RoleUser}}

	r := newRouter(JWT(admin), RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), ok)
	assert.Equal(t, http.StatusOK, serve(r, "Bearer admin").Code)

	r = newRouter(JWT(user), RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), ok)
	assert.Equal(t, http.StatusForbidden, serve(r, "Bearer user").Code)

	r = newRouter(RequireRoles(models.RoleAdmin), ok)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
}

func TestAuditRecordsSuccessfulDownloads(t *testing.T) {
	writer := &auditStub{}
	validator := validatorStub{token: "t", claims: &models.JWTClaims{UserID: 9, Role: models.RoleUser}}
	r := newRouter(JWT(validator), Audit(writer, models.AuditActionDownloadFile, "archive", nil), ok)

	require.Equal(t, http.StatusOK, serve(r, "Bearer t").Code)
	require.Len(t, writer.logs, 1)
	entry := writer.logs[0]
	assert.Equal(t, models.AuditActionDownloadFile, entry.Action)
	require.NotNil(t, entry.UserID)
	assert.EqualValues(t, 9, *entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "5", *entry.ResourceID)
	assert.Contains(t, string(entry.NewValues), `"kind":"raw"`)
}

func TestAuditSkipsFailuresAndSwallowsWriteErrors(t *testing.T) {
	writer := &auditStub{err: errors.New("db down")}
	failing := func(c *gin.Context) { c.Status(http.StatusNotFound) }
	r := newRouter(Audit(writer, models.AuditActionDownloadFile, "archive", nil), failing)
	assert.Equal(t, http.StatusNotFound, serve(r, "").Code)
	assert.Empty(t, writer.logs)

	r = newRouter(Audit(writer, models.AuditActionDownloadFile, "archive", nil), ok)
	assert.Equal(t, http.StatusOK, serve(r, "").Code)
	assert.Len(t, writer.logs, 1)
}

type observerStub struct {
	routes   []string
	statuses []int
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.routes = append(o.routes, method+" "+path)
	o.statuses = append(o.statuses, status)
}

func TestMetricsUsesRouteTemplates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	r := gin.New()
	r.Use(Metrics(observer, "/metrics"))
	r.GET("/archives/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/archives/5", "/archives/6", "/metrics", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, []string{"GET /archives/:id", "GET /archives/:id", "GET unmatched"}, observer.routes)
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusNotFound}, observer.statuses)
}
