package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/campus-portal-api/api/swagger"
	"github.com/noah-isme/campus-portal-api/internal/handler"
	"github.com/noah-isme/campus-portal-api/internal/middleware"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/internal/service"
	"github.com/noah-isme/campus-portal-api/pkg/cache"
	"github.com/noah-isme/campus-portal-api/pkg/config"
	"github.com/noah-isme/campus-portal-api/pkg/database"
	"github.com/noah-isme/campus-portal-api/pkg/export"
	"github.com/noah-isme/campus-portal-api/pkg/jobs"
	"github.com/noah-isme/campus-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/campus-portal-api/pkg/storage"
	"github.com/noah-isme/campus-portal-api/pkg/webpush"
	"github.com/noah-isme/campus-portal-api/pkg/whatsapp"
)

// @title Campus Portal API
// @version 1.0.0
// @description Approval workflows and parent notification dispatch for the campus portal.
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database unavailable", "error", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		logr.Sugar().Fatalw("schema migration failed", "error", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, unread counters will not be cached", "error", err)
		redisClient = nil
	}

	a, err := build(ctx, cfg, db, redisClient, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to wire application", "error", err)
	}
	defer a.pruneQueue.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env,
			"whatsapp", cfg.WhatsApp.Enabled, "push", cfg.Push.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
	logr.Sugar().Infow("server stopped")
}

type app struct {
	router     *gin.Engine
	pruneQueue *jobs.Queue
}

func build(ctx context.Context, cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) (*app, error) {
	validate := validator.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	leaveRepo := repository.NewLeaveRepository(db)
	marksheetRepo := repository.NewMarksheetRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	pushRepo := repository.NewPushSubscriptionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Notifications.UnreadCacheTTL, logr, redisClient != nil)

	pushEnabled := cfg.Push.Enabled && cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != ""
	if cfg.Push.Enabled && !pushEnabled {
		logr.Warn("web push enabled without VAPID keys; push delivery is off")
	}
	pushSvc := service.NewPushService(pushRepo, webpush.NewSender(cfg.Push), pushEnabled, metrics, logr)
	pruneQueue := jobs.NewQueue(service.JobTypePushPrune, pushSvc.HandlePrune, jobs.QueueConfig{
		Workers:    cfg.Push.PruneWorkers,
		BufferSize: 256,
		MaxRetries: 2,
		RetryDelay: time.Second,
		Logger:     logr,
	})
	pruneQueue.Start(ctx)
	pushSvc.AttachPruneQueue(pruneQueue)

	notificationSvc := service.NewNotificationService(notificationRepo, pushSvc, cacheSvc, cfg.Notifications.UnreadCacheTTL, metrics, logr)

	whatsappSvc := service.NewWhatsAppService(whatsapp.NewClient(cfg.WhatsApp), cfg.WhatsApp, cfg.Env == config.EnvProduction, metrics, logr)

	letterStore, err := storage.NewLocalStorage(cfg.Letters.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("letter storage: %w", err)
	}
	letterSvc := service.NewLetterService(letterStore, storage.NewSignedURLSigner(cfg.Letters.SignedURLSecret, cfg.Letters.SignedURLTTL), export.NewPDFRenderer(), service.LetterConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		APIPrefix:     cfg.APIPrefix,
		Institution:   cfg.Letters.Institution,
		RetainFor:     cfg.Letters.SignedURLTTL,
	}, logr)
	go letterSvc.RunCleanup(ctx, cfg.Letters.CleanupInterval)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	approvalSvc := service.NewApprovalService(approvalRepo, userRepo, notificationSvc, validate, metrics, logr, service.ApprovalConfig{
		FirstYearDepartment: cfg.Workflow.FirstYearDepartment,
	})
	leaveSvc := service.NewLeaveService(leaveRepo, studentRepo, userRepo, notificationSvc, whatsappSvc, letterSvc, validate, metrics, logr).
		WithLocation(cfg.Location)
	marksheetSvc := service.NewMarksheetService(marksheetRepo, studentRepo, userRepo, notificationSvc, whatsappSvc, letterSvc, validate, metrics, logr)

	checks := map[string]handler.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, 2*time.Second))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	approvalHandler := handler.NewApprovalHandler(approvalSvc)
	leaveHandler := handler.NewLeaveHandler(leaveSvc)
	marksheetHandler := handler.NewMarksheetHandler(marksheetSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	pushHandler := handler.NewPushHandler(pushSvc)
	letterHandler := handler.NewLetterHandler(letterSvc)

	api := r.Group("/" + strings.Trim(cfg.APIPrefix, "/"))
	api.Use(middleware.WithResponseMeta())

	api.POST("/auth/login", authHandler.Login)
	api.POST("/approvals", approvalHandler.Signup)
	api.GET("/letters/:token", letterHandler.Download)
	api.GET("/push/public-key", pushHandler.PublicKey)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)

	approvers := secured.Group("/approvals")
	approvers.Use(middleware.RequireRoles(models.RoleHOD, models.RoleAdmin))
	approvers.GET("", approvalHandler.List)
	approvers.GET("/:id", approvalHandler.Get)
	approvers.POST("/:id/decision", approvalHandler.Decide)

	leaves := secured.Group("/leaves")
	leaves.POST("", middleware.RequireRoles(models.RoleStudent), leaveHandler.Create)
	leaves.GET("", leaveHandler.List)
	leaves.GET("/:id", leaveHandler.Get)
	// Per-action roles live in the workflow table; confirm-arrival is student-only.
	leaves.PATCH("/:id", leaveHandler.Transition)
	leaves.DELETE("/:id", leaveHandler.Delete)

	marksheets := secured.Group("/marksheets")
	marksheets.POST("", middleware.RequireRoles(models.RoleStaff, models.RoleHOD, models.RoleAdmin), marksheetHandler.Create)
	marksheets.GET("", marksheetHandler.List)
	marksheets.GET("/:id", marksheetHandler.Get)
	marksheets.PATCH("/:id", middleware.RequireRoles(models.RoleStaff, models.RoleHOD, models.RoleAdmin), marksheetHandler.Transition)

	notifications := secured.Group("/notifications")
	notifications.GET("", notificationHandler.List)
	notifications.GET("/unread-count", notificationHandler.UnreadCount)
	notifications.PATCH("/read-all", notificationHandler.MarkAllRead)
	notifications.PATCH("/:id/read", notificationHandler.MarkRead)

	push := secured.Group("/push")
	push.POST("/subscribe", middleware.Audit(userRepo, models.AuditActionPushSubscribe, "push_subscription"), pushHandler.Subscribe)
	push.POST("/deactivate", middleware.Audit(userRepo, models.AuditActionPushDeactivate, "push_subscription"), pushHandler.Deactivate)

	return &app{router: r, pruneQueue: pruneQueue}, nil
}
