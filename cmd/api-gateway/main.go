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
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/noah-isme/studyplan-api/api/swagger"
	"github.com/noah-isme/studyplan-api/internal/handler"
	internalmiddleware "github.com/noah-isme/studyplan-api/internal/middleware"
	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/internal/repository"
	"github.com/noah-isme/studyplan-api/internal/service"
	"github.com/noah-isme/studyplan-api/pkg/cache"
	"github.com/noah-isme/studyplan-api/pkg/clock"
	"github.com/noah-isme/studyplan-api/pkg/config"
	"github.com/noah-isme/studyplan-api/pkg/database"
	"github.com/noah-isme/studyplan-api/pkg/jobs"
	"github.com/noah-isme/studyplan-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/studyplan-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/studyplan-api/pkg/middleware/requestid"
	"github.com/noah-isme/studyplan-api/pkg/tracing"
)

// @title Study Plan Reschedule API
// @version 1.0.0
// @description Preview, commit and roll back plan-group reschedules.
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

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.Env, logr)
	if err != nil {
		logr.Fatal("failed to init tracing", zap.Error(err))
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	readiness := map[string]handler.Pinger{"postgres": db}

	var cacheSvc *service.CacheService
	if cfg.Reschedule.PreviewCacheEnable {
		redisClient, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, preview cache disabled", zap.Error(err))
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Reschedule.PreviewCacheTTL, logr, true)
			readiness["redis"] = handler.PingFunc(cacheRepo.Ping)
		}
	}

	clk := clock.NewReal(cfg.Timezone)
	app := buildApp(db, cacheSvc, metricsSvc, clk, cfg, logr)

	queue := jobs.NewQueue("housekeeping", jobs.QueueConfig{Workers: 1, MaxRetries: 1, Logger: logr})
	queue.Register(service.HousekeepingJobType, app.housekeeper.Handle)
	queue.Start(ctx)
	queue.Every(ctx, cfg.Reschedule.SweepInterval, service.HousekeepingJobType)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/health", "/ready", "/metrics"))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), app)

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
		logr.Error("http shutdown", zap.Error(err))
	}
	queue.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logr.Error("tracing shutdown", zap.Error(err))
	}
}

type application struct {
	auth        *service.AuthService
	reschedule  *handler.RescheduleHandler
	wizard      *handler.WizardHandler
	catalog     *handler.CatalogHandler
	housekeeper *service.Housekeeper
}

func buildApp(db *sqlx.DB, cacheSvc *service.CacheService, metricsSvc *service.MetricsService, clk clock.Clock, cfg *config.Config, logr *zap.Logger) *application {
	groupRepo := repository.NewPlanGroupRepository(db)
	contentRepo := repository.NewPlanContentRepository(db)
	planRepo := repository.NewStudentPlanRepository(db)
	historyRepo := repository.NewPlanHistoryRepository(db)
	logRepo := repository.NewRescheduleLogRepository(db)
	catalogRepo := repository.NewContentCatalogRepository(db)

	opts := []service.RescheduleServiceOption{
		service.WithMetrics(metricsSvc),
		service.WithCatalog(catalogRepo),
	}
	if cacheSvc != nil {
		opts = append(opts, service.WithCache(cacheSvc))
	}
	rescheduleSvc := service.NewRescheduleService(groupRepo, contentRepo, planRepo, historyRepo, logRepo, db, clk, logr,
		service.RescheduleConfig{
			ProposalTTL:     cfg.Reschedule.ProposalTTL,
			RollbackWindow:  cfg.Reschedule.RollbackWindow,
			MaxDailyHours:   cfg.Reschedule.MaxDailyHours,
			PreviewCacheTTL: cfg.Reschedule.PreviewCacheTTL,
			InsertBatchSize: cfg.Reschedule.InsertBatchSize,
		}, opts...)

	catalogSvc := service.NewCatalogService(catalogRepo, logr)
	wizardSvc := service.NewWizardService(rescheduleSvc, catalogSvc, clk, logr, cfg.Reschedule.SessionTTL)
	exportSvc := service.NewExportService(rescheduleSvc, clk, logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})

	validate := validator.New()
	return &application{
		auth:        authSvc,
		reschedule:  handler.NewRescheduleHandler(rescheduleSvc, exportSvc, validate, cfg.Reschedule.MaxDailyHours),
		wizard:      handler.NewWizardHandler(wizardSvc, validate),
		catalog:     handler.NewCatalogHandler(catalogSvc),
		housekeeper: service.NewHousekeeper(rescheduleSvc, wizardSvc, metricsSvc, logr),
	}
}

func registerRoutes(api *gin.RouterGroup, app *application) {
	api.Use(internalmiddleware.JWT(app.auth))
	api.Use(internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleTeacher, models.RoleStudent))

	rh := app.reschedule
	api.POST("/reschedule/batch/preview", rh.PreviewBatch)
	api.POST("/reschedule/batch/apply", rh.ApplyBatch)
	api.POST("/reschedule/conflicts", rh.DetectConflicts)
	api.POST("/reschedule/proposals/:token/commit", rh.Commit)
	api.GET("/reschedule/proposals/:token/export", rh.Export)
	api.POST("/reschedule/logs/:logId/rollback", rh.Rollback)

	groups := api.Group("/plan-groups/:id/reschedule")
	groups.GET("/contents", rh.Contents)
	groups.POST("/preview", rh.Preview)
	groups.POST("/proposals", rh.Propose)
	groups.POST("/execute", rh.Execute)
	groups.GET("/logs", rh.Logs)
	groups.POST("/sessions", app.wizard.Create)

	wh := app.wizard
	sessions := api.Group("/reschedule/sessions/:sid")
	sessions.GET("", wh.Get)
	sessions.DELETE("", wh.Abandon)
	sessions.PUT("/selection", wh.Select)
	sessions.PUT("/adjustments/:contentId", wh.SetAdjustment)
	sessions.DELETE("/adjustments/:contentId", wh.RemoveAdjustment)
	sessions.POST("/batch", wh.Batch)
	sessions.PUT("/placement", wh.Placement)
	sessions.POST("/advance", wh.Advance)
	sessions.POST("/back", wh.Back)
	sessions.POST("/preview", wh.Preview)
	sessions.POST("/propose", wh.Propose)

	api.GET("/catalog/:type/:id", app.catalog.Get)
}
