package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/survey-archive-api/internal/repository"
	"github.com/noah-isme/survey-archive-api/internal/service"
	"github.com/noah-isme/survey-archive-api/pkg/cache"
	"github.com/noah-isme/survey-archive-api/pkg/config"
	"github.com/noah-isme/survey-archive-api/pkg/database"
	"github.com/noah-isme/survey-archive-api/pkg/jobs"
	"github.com/noah-isme/survey-archive-api/pkg/storage"
)

// Services holds everything the server and archivectl share.
type Services struct {
	DB          *sqlx.DB
	Redis       *redis.Client
	CacheRepo   *repository.CacheRepository
	AuditRepo   *repository.AuditRepository
	Metrics     *service.MetricsService
	Auth        *service.AuthService
	Archives    *service.ArchiveService
	Dispatcher  *service.RestoreDispatcher
	Janitor     *service.RestoreJanitor
	FileSet     *storage.ArchiveFileSet
	Logger      *zap.Logger
	restoreStop context.CancelFunc
}

// New connects to PostgreSQL and Redis and builds the archive services. Background workers
// are not started; call StartWorkers for that.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		// Archive reads work without the cache.
		logger.Warn("redis unavailable, archive cache disabled", zap.Error(err))
		redisClient = nil
	}

	metrics := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logger)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Archives.CacheTTL, logger, cacheRepo.Enabled())

	archiveRepo := repository.NewArchiveRepository(db, logger)
	surveyRepo := repository.NewSurveyRepository(db)
	answerRepo := repository.NewAnswerRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	fileSet := storage.NewArchiveFileSet(cfg.Archives.Dir, cfg.Archives.LegacyDir)
	signer := storage.NewSignedURLSigner(cfg.Archives.SignedURLSecret, cfg.Archives.SignedURLTTL)

	archives := service.NewArchiveService(
		archiveRepo,
		fileSet,
		surveyRepo,
		answerRepo,
		service.ArchiveCodecs{},
		signer,
		auditRepo,
		cacheSvc,
		metrics,
		logger.Named("archives"),
		service.ArchiveServiceConfig{APIPrefix: cfg.APIPrefix},
	)

	dispatcher := service.NewRestoreDispatcher(archives, jobs.QueueConfig{
		Workers:    cfg.Restore.Workers,
		BufferSize: cfg.Restore.QueueSize,
		Logger:     logger.Named("restore-queue"),
	}, logger.Named("restore"))

	janitor := service.NewRestoreJanitor(archives, cfg.Restore.JanitorSchedule, cfg.Restore.StaleAfter, logger.Named("janitor"))

	auth := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            "survey-archive",
	})

	return &Services{
		DB:         db,
		Redis:      redisClient,
		CacheRepo:  cacheRepo,
		AuditRepo:  auditRepo,
		Metrics:    metrics,
		Auth:       auth,
		Archives:   archives,
		Dispatcher: dispatcher,
		Janitor:    janitor,
		FileSet:    fileSet,
		Logger:     logger,
	}, nil
}

// StartWorkers launches the restore queue and the stale-restore janitor. Queued restores do
// not inherit the cancellation of ctx; Close waits for them before cancelling.
func (s *Services) StartWorkers(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.restoreStop = cancel
	s.Dispatcher.Start(workerCtx)
	if err := s.Janitor.Start(); err != nil {
		return err
	}
	return nil
}

// Close stops workers and releases connections.
func (s *Services) Close() error {
	if s.Janitor != nil {
		s.Janitor.Stop()
	}
	if s.Dispatcher != nil {
		s.Dispatcher.Stop()
	}
	if s.restoreStop != nil {
		s.restoreStop()
	}
	var err error
	if s.CacheRepo != nil {
		err = multierr.Append(err, s.CacheRepo.Close())
	}
	if s.DB != nil {
		err = multierr.Append(err, s.DB.Close())
	}
	return err
}
