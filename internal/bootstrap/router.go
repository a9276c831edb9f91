package bootstrap

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/survey-archive-api/api/swagger"
	"github.com/noah-isme/survey-archive-api/internal/handler"
	"github.com/noah-isme/survey-archive-api/internal/middleware"
	"github.com/noah-isme/survey-archive-api/internal/models"
	"github.com/noah-isme/survey-archive-api/pkg/config"
	"github.com/noah-isme/survey-archive-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/survey-archive-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/survey-archive-api/pkg/middleware/requestid"
)

// NewRouter mounts the archive API, observability endpoints and, outside production, the docs.
func NewRouter(cfg *config.Config, s *Services) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(s.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(s.Metrics, "/metrics", "/health"))

	metricsHandler := handler.NewMetricsHandler(s.Metrics, map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return s.DB.PingContext(ctx) },
		"cache":    s.CacheRepo.Ping,
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	archiveHandler := handler.NewArchiveHandler(s.Archives, s.Dispatcher, validator.New())
	adminOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(s.Auth))

	archives := api.Group("/archives")
	archives.GET("", adminOnly, archiveHandler.List)
	archives.GET("/export", adminOnly, archiveHandler.Export)
	archives.GET("/mine", archiveHandler.Mine)
	archives.GET("/count", archiveHandler.Count)
	archives.GET("/lookup", archiveHandler.Lookup)
	archives.GET("/:id", archiveHandler.Get)
	archives.DELETE("/:id", middleware.RequireRoles(models.RoleSuperAdmin), archiveHandler.Purge)
	archives.POST("/:id/restore", archiveHandler.Restore)
	archives.GET("/:id/files/:kind", archiveHandler.FileURL)
	archives.GET("/:id/files/:kind/download",
		middleware.Audit(s.AuditRepo, models.AuditActionDownloadFile, models.AuditResourceArchive, s.Logger),
		archiveHandler.Download)

	api.POST("/surveys/:shortname/archive", adminOnly, archiveHandler.ArchiveSurvey)

	return r
}
