package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/campus-counseling-api/api/swagger"
	"github.com/noah-isme/campus-counseling-api/internal/handler"
	"github.com/noah-isme/campus-counseling-api/internal/middleware"
	"github.com/noah-isme/campus-counseling-api/internal/models"
	"github.com/noah-isme/campus-counseling-api/internal/repository"
	"github.com/noah-isme/campus-counseling-api/internal/service"
	"github.com/noah-isme/campus-counseling-api/pkg/cache"
	"github.com/noah-isme/campus-counseling-api/pkg/config"
	"github.com/noah-isme/campus-counseling-api/pkg/database"
	"github.com/noah-isme/campus-counseling-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-counseling-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-counseling-api/pkg/middleware/requestid"
)

// @title Campus Counseling API
// @version 1.0.0
// @description Appointment scheduling and status engine for the campus counseling platform
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appointmentRepo := repository.NewAppointmentRepository(db)
	followUpRepo := repository.NewFollowUpRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(cfg.JWT)
	availabilitySvc := service.NewAvailabilityService(availabilityRepo, logr)
	notificationSvc := service.NewNotificationService(service.NewLogSink(logr), metricsSvc, cfg.Notifications, logr)
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	schedulingSvc := service.NewSchedulingService(db, appointmentRepo, followUpRepo, availabilitySvc,
		notificationSvc, auditRepo, cacheRepo, metricsSvc, cfg.Scheduling, cfg.Cache, logr)
	appointmentSvc := service.NewAppointmentService(appointmentRepo, followUpRepo, auditRepo,
		notificationSvc, cacheRepo, metricsSvc, logr)

	appointmentHandler := handler.NewAppointmentHandler(schedulingSvc, appointmentSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))
	{
		appointments := api.Group("/appointments")
		appointments.POST("", middleware.RequireRoles(models.RoleStudent), appointmentHandler.Create)
		appointments.GET("", appointmentHandler.List)
		appointments.GET("/:id", appointmentHandler.Get)
		appointments.POST("/:id/approve", middleware.RequireRoles(models.RoleAdmin, models.RoleCounselor), appointmentHandler.Approve)
		appointments.POST("/:id/reject", middleware.RequireRoles(models.RoleAdmin, models.RoleCounselor), appointmentHandler.Reject)
		appointments.POST("/:id/complete", middleware.RequireRoles(models.RoleAdmin, models.RoleCounselor), appointmentHandler.Complete)
		appointments.POST("/:id/cancel", middleware.RequireRoles(models.RoleAdmin, models.RoleCounselor), appointmentHandler.Cancel)
		appointments.POST("/:id/follow-ups", middleware.RequireRoles(models.RoleAdmin, models.RoleCounselor), appointmentHandler.CreateFollowUp)
		appointments.GET("/:id/follow-ups", appointmentHandler.ListFollowUps)

		followUps := api.Group("/follow-ups")
		followUps.GET("/:id", appointmentHandler.GetFollowUp)
		followUps.POST("/:id/:action", middleware.RequireRoles(models.RoleAdmin, models.RoleCounselor), appointmentHandler.TransitionFollowUp)

		api.GET("/counselors/:id/availability",
			middleware.Audit(auditRepo, "AVAILABILITY_VIEW", "availability"),
			availabilityHandler.List)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
