package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-discipline-api/api/swagger"
	"github.com/noah-isme/sma-discipline-api/internal/handler"
	"github.com/noah-isme/sma-discipline-api/internal/middleware"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/repository"
	"github.com/noah-isme/sma-discipline-api/internal/service"
	"github.com/noah-isme/sma-discipline-api/pkg/cache"
	"github.com/noah-isme/sma-discipline-api/pkg/config"
	"github.com/noah-isme/sma-discipline-api/pkg/database"
	"github.com/noah-isme/sma-discipline-api/pkg/jobs"
	"github.com/noah-isme/sma-discipline-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-discipline-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-discipline-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-discipline-api/pkg/storage"
)

// @title SMA Discipline API
// @version 1.0.0
// @description Student disciplinary status, violation ledger and notification service
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		client, redisErr := cache.NewRedis(ctx, cfg.Redis)
		if redisErr != nil {
			logr.Warn("redis unavailable, rule cache disabled", zap.Error(redisErr))
		} else {
			defer client.Close() //nolint:errcheck
			cacheRepo = repository.NewCacheRepository(client, logr)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Rules.CacheTTL, logr, cfg.Rules.CacheEnabled && cacheRepo != nil)

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	violationRepo := repository.NewViolationRepository(db)
	appealRepo := repository.NewAppealRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	historyRepo := repository.NewStatusHistoryRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	announcementRepo := repository.NewAnnouncementRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	defaults := models.ThresholdSettings{
		ProbationAt:     cfg.Discipline.DefaultProbationAt,
		ExpulsionRiskAt: cfg.Discipline.DefaultExpulsionRiskAt,
	}

	notificationSvc := service.NewNotificationService(notificationRepo, userRepo, metrics, logr, service.NotificationConfig{
		Concurrency: cfg.Notifications.FanoutConcurrency,
		Dedupe:      cfg.Notifications.Dedupe,
		Retention:   cfg.Notifications.RetentionPeriod,
	})
	identities := service.NewAccountIdentityProvider(userRepo, logr)
	statusSvc := service.NewStatusService(studentRepo, settingsRepo, historyRepo, defaults, metrics, logr)
	ruleSvc := service.NewRuleService(ruleRepo, cacheSvc, validate, logr)
	violationSvc := service.NewViolationService(db, violationRepo, studentRepo, ruleSvc, statusSvc, notificationSvc, validate, metrics, logr)
	appealSvc := service.NewAppealService(db, appealRepo, violationRepo, studentRepo, violationSvc, notificationSvc, validate, logr)
	settingsSvc := service.NewSettingsService(db, settingsRepo, statusSvc, notificationSvc, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, historyRepo, identities, validate, logr)
	deletionSvc := service.NewStudentDeletionService(db, studentRepo, service.DeletionDependents{
		Appeals:       appealRepo,
		Violations:    violationRepo,
		History:       historyRepo,
		Audit:         auditRepo,
		Notifications: notificationRepo,
	}, identities, notificationSvc, validate, metrics, logr, cfg.Deletion.IdentityConcurrency)
	announcementSvc := service.NewAnnouncementService(announcementRepo, studentRepo, notificationSvc, validate, logr)
	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	evidenceStore, err := storage.NewLocalStorage(cfg.Evidence.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare evidence storage", zap.Error(err))
	}
	evidenceSvc := service.NewEvidenceService(evidenceStore, storage.NewSignedURLSigner(cfg.Evidence.SignedURLSecret, cfg.Evidence.SignedURLTTL), logr, service.EvidenceConfig{
		MaxFileSize:  cfg.Evidence.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Evidence.AllowedMIMEs,
		APIPrefix:    cfg.APIPrefix,
	})

	reconcileWorker := service.NewReconcileWorker(violationSvc, logr)
	reconcileQueue := jobs.NewQueue("reconcile", reconcileWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reconcile.Workers,
		MaxRetries: cfg.Reconcile.Retries,
		RetryDelay: cfg.Reconcile.RetryDelay,
		Logger:     logr,
		OnExhausted: func(job jobs.Job, jobErr error) {
			metrics.RecordConsistencyWarning("reconcile")
			logr.Error("reconcile job exhausted", zap.String("job_id", job.ID), zap.Error(jobErr))
		},
	})
	reconcileQueue.Start(ctx)
	defer reconcileQueue.Stop()
	scheduler := service.NewReconcileScheduler(studentRepo, reconcileQueue, logr)

	go notificationSvc.RunRetention(ctx, cfg.Notifications.CleanupInterval)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	health := handler.NewHealthHandler(metrics, db)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handlers := handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Rules:         handler.NewRuleHandler(ruleSvc),
		Violations:    handler.NewViolationHandler(violationSvc),
		Appeals:       handler.NewAppealHandler(appealSvc),
		Students:      handler.NewStudentHandler(studentSvc, deletionSvc, violationSvc, scheduler),
		Settings:      handler.NewSettingsHandler(settingsSvc),
		Announcements: handler.NewAnnouncementHandler(announcementSvc),
		Notifications: handler.NewNotificationHandler(notificationSvc),
		Evidence:      handler.NewEvidenceHandler(evidenceSvc, cfg.Evidence.MaxFileSizeBytes),
	}
	handlers.Register(r.Group(cfg.APIPrefix), authSvc, auditRepo, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
