package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/prime-exam-api/api/swagger"
	"github.com/noah-isme/prime-exam-api/internal/handler"
	"github.com/noah-isme/prime-exam-api/internal/middleware"
	"github.com/noah-isme/prime-exam-api/internal/models"
	"github.com/noah-isme/prime-exam-api/internal/repository"
	"github.com/noah-isme/prime-exam-api/internal/service"
	"github.com/noah-isme/prime-exam-api/pkg/cache"
	"github.com/noah-isme/prime-exam-api/pkg/config"
	"github.com/noah-isme/prime-exam-api/pkg/database"
	"github.com/noah-isme/prime-exam-api/pkg/jobs"
	"github.com/noah-isme/prime-exam-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/prime-exam-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/prime-exam-api/pkg/middleware/requestid"
	"github.com/noah-isme/prime-exam-api/pkg/storage"
)

// @title Prime Exam API
// @version 0.1.0
// @description Mock exam scoring and statistics platform
// @BasePath /api/v1
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, result caching disabled", "error", err)
		redisClient = nil
	}

	examRepo := repository.NewExamRepository(db)
	problemRepo := repository.NewProblemRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	answerRepo := repository.NewAnswerRepository(db)
	scoreRepo := repository.NewScoreRepository(db)
	rankRepo := repository.NewRankRepository(db)
	statsRepo := repository.NewStatisticsRepository(db)
	distributionRepo := repository.NewDistributionRepository(db)
	userRepo := repository.NewUserRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, studentRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "prime-exam-api",
	})

	scoringSvc := service.NewScoringService(problemRepo, answerRepo, scoreRepo, logr)
	rankSvc := service.NewRankService(scoreRepo, studentRepo, rankRepo, logr)
	statisticsSvc := service.NewStatisticsService(scoreRepo, studentRepo, statsRepo, logr)
	distributionSvc := service.NewDistributionService(distributionRepo, answerRepo, problemRepo, rankSvc, logr)

	examSvc := service.NewExamService(examRepo, problemRepo, studentRepo, scoringSvc, rankSvc, statisticsSvc, distributionSvc, cfg.Scoring, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, scoreRepo, rankRepo, statsRepo, cacheRepo, cfg.Stats.CacheTTL, validate, logr)
	answerSvc := service.NewAnswerService(answerRepo, studentRepo, problemRepo, examSvc, scoringSvc, rankSvc, distributionSvc, statisticsSvc, validate, logr)

	examSvc.AttachResultInvalidator(studentSvc)
	answerSvc.AttachResultInvalidator(studentSvc)
	answerSvc.AttachMetrics(metricsSvc)
	studentSvc.AttachMetrics(metricsSvc)

	observed := func(h jobs.Handler) jobs.Handler {
		return func(ctx context.Context, job jobs.Job) error {
			start := time.Now()
			err := h(ctx, job)
			metricsSvc.ObserveJob(job.Type, err, time.Since(start))
			return err
		}
	}

	rescoreQueue := jobs.NewQueue("rescore", observed(examSvc.RescoreJobHandler()), jobs.QueueConfig{
		Workers:    1,
		BufferSize: 16,
		MaxRetries: 1,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})
	examSvc.AttachQueue(rescoreQueue)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rescoreQueue.Start(rootCtx)
	defer rescoreQueue.Stop()

	var reportSvc *service.ReportService
	if cfg.Reports.Enabled {
		fileStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exportSvc := service.NewExportService(service.ExportSources{
			Exams:         examRepo,
			Students:      studentRepo,
			Scores:        scoreRepo,
			Ranks:         rankRepo,
			Statistics:    statsRepo,
			Problems:      problemRepo,
			Distributions: distributionRepo,
		}, fileStore, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Reports.SignedURLTTL,
		}, logr, nil, nil, nil)

		reportWorker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
		reportQueue := jobs.NewQueue("reports", observed(reportWorker.Handle), jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			BufferSize: 64,
			MaxRetries: 1,
			RetryDelay: 10 * time.Second,
			Logger:     logr,
		})
		reportSvc = service.NewReportService(reportRepo, reportQueue, exportSvc, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: time.Hour,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})

		reportQueue.Start(rootCtx)
		defer reportQueue.Stop()
		reportSvc.RecoverPendingJobs(rootCtx)
		reportSvc.StartCleanup(rootCtx)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	registerRoutes(r, cfg, routeDeps{
		metrics:      handler.NewMetricsHandler(metricsSvc),
		auth:         handler.NewAuthHandler(authSvc),
		exams:        handler.NewExamHandler(examSvc),
		students:     handler.NewStudentHandler(studentSvc, rankSvc),
		answers:      handler.NewAnswerHandler(answerSvc),
		statistics:   handler.NewStatisticsHandler(examSvc, statisticsSvc, rankSvc),
		distribution: handler.NewDistributionHandler(examSvc, distributionSvc),
		reports:      newReportRoutes(reportSvc),
		authGuard:    middleware.JWT(authSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}

type routeDeps struct {
	metrics      *handler.MetricsHandler
	auth         *handler.AuthHandler
	exams        *handler.ExamHandler
	students     *handler.StudentHandler
	answers      *handler.AnswerHandler
	statistics   *handler.StatisticsHandler
	distribution *handler.DistributionHandler
	reports      *handler.ReportHandler
	authGuard    gin.HandlerFunc
}

func newReportRoutes(reports *service.ReportService) *handler.ReportHandler {
	if reports == nil {
		return nil
	}
	return handler.NewReportHandler(reports)
}

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Health)
	r.GET("/metrics", deps.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	adminOnly := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleOperator)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", deps.auth.Login)
	auth.POST("/refresh", deps.auth.Refresh)
	auth.POST("/verify", deps.auth.Verify)
	auth.POST("/logout", deps.authGuard, deps.auth.Logout)
	auth.GET("/me", deps.authGuard, deps.auth.Me)

	exams := api.Group("/exams")
	exams.GET("", deps.exams.List)
	exams.GET("/:id", deps.exams.Get)
	exams.GET("/:id/statistics", deps.statistics.Get)
	exams.POST("", deps.authGuard, adminOnly, deps.exams.Create)
	exams.PUT("/:id/answers", deps.authGuard, adminOnly, deps.exams.UpsertAnswerKey)
	exams.POST("/:id/answers/import", deps.authGuard, adminOnly, deps.exams.ImportAnswerKey)
	exams.POST("/:id/publish", deps.authGuard, adminOnly, deps.exams.Publish)
	exams.POST("/:id/prediction", deps.authGuard, adminOnly, deps.exams.SetPrediction)
	exams.POST("/:id/rescore", deps.authGuard, adminOnly, deps.exams.Rescore)
	exams.POST("/:id/statistics/refresh", deps.authGuard, staff, deps.statistics.Refresh)
	exams.POST("/:id/ranks/refresh", deps.authGuard, staff, deps.statistics.RefreshRanks)
	exams.POST("/:id/distribution/rebuild", deps.authGuard, staff, deps.distribution.Rebuild)

	students := api.Group("/students")
	students.POST("", deps.students.Register)
	students.GET("", deps.authGuard, staff, deps.students.List)
	students.GET("/:id", deps.authGuard, staff, deps.students.Get)
	students.GET("/:id/result", deps.students.Result)
	students.GET("/:id/ranks", deps.students.Ranks)

	answers := api.Group("/answers")
	answers.PUT("", deps.answers.Upsert)
	answers.POST("/confirm", deps.answers.Confirm)
	answers.GET("", deps.answers.SubjectAnswers)

	api.GET("/problems/:id/distribution", deps.distribution.Problem)

	if deps.reports != nil {
		reports := api.Group("/reports")
		reports.POST("", deps.authGuard, staff, deps.reports.Create)
		reports.GET("/:id", deps.authGuard, staff, deps.reports.Status)
		reports.GET("/download/:token", deps.reports.Download)
	}
}
