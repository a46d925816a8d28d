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

	_ "github.com/beanbrew/coffeeshop-api/api/swagger"
	"github.com/beanbrew/coffeeshop-api/internal/handler"
	"github.com/beanbrew/coffeeshop-api/internal/middleware"
	"github.com/beanbrew/coffeeshop-api/internal/models"
	"github.com/beanbrew/coffeeshop-api/internal/repository"
	"github.com/beanbrew/coffeeshop-api/internal/service"
	"github.com/beanbrew/coffeeshop-api/pkg/cache"
	"github.com/beanbrew/coffeeshop-api/pkg/config"
	"github.com/beanbrew/coffeeshop-api/pkg/database"
	"github.com/beanbrew/coffeeshop-api/pkg/hash"
	"github.com/beanbrew/coffeeshop-api/pkg/jobs"
	"github.com/beanbrew/coffeeshop-api/pkg/logger"
	"github.com/beanbrew/coffeeshop-api/pkg/mailer"
	corsmiddleware "github.com/beanbrew/coffeeshop-api/pkg/middleware/cors"
	reqidmiddleware "github.com/beanbrew/coffeeshop-api/pkg/middleware/requestid"
	"github.com/beanbrew/coffeeshop-api/pkg/token"
)

// @title Coffee Shop API
// @version 1.0.0
// @description Authentication and account lifecycle service
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := database.RunMigrations(database.URL(cfg.Database)); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
		logr.Info("database migrations applied")
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The API works without Redis; only the rate limiter degrades.
		logr.Sugar().Warnw("redis unavailable, rate limiting disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	metricsSvc := service.NewMetricsService()

	validate := validator.New()
	if err := service.RegisterValidations(validate); err != nil {
		logr.Sugar().Fatalw("failed to register validations", "error", err)
	}

	issuer := token.New(cfg.JWT)
	hasher := hash.New(cfg.Hash)

	var mail mailer.Mailer = mailer.Nop{}
	if cfg.Email.VerificationEnabled {
		mail = mailer.NewSMTP(cfg.SMTP)
	}

	emailQueue := jobs.NewQueue("emails", func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(service.VerificationEmailPayload)
		if !ok {
			return fmt.Errorf("unexpected payload type for job %s", job.ID)
		}
		return mail.SendVerificationEmail(ctx, payload.Email, payload.VerificationURL)
	}, jobs.QueueConfig{
		Workers:    2,
		MaxRetries: cfg.Cleanup.MaxRetries,
		RetryDelay: cfg.Cleanup.RetryBaseDelay,
		Logger:     logr,
	})
	emailQueue.Start(ctx)
	defer emailQueue.Stop()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	authSvc := service.NewAuthService(userRepo, tokenRepo, hasher, issuer, emailQueue, validate, logr, service.AuthConfig{
		VerificationEnabled: cfg.Email.VerificationEnabled,
		VerificationTTL:     cfg.Email.VerificationTTL,
		FrontendURL:         cfg.Email.FrontendURL,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	retentionSvc := service.NewRetentionService(userRepo, tokenRepo, metricsSvc, logr, service.RetentionConfig{
		UnverifiedMaxAge: cfg.Cleanup.UnverifiedMaxAge,
		BatchSize:        cfg.Cleanup.BatchSize,
	})

	scheduler := jobs.NewScheduler(jobs.SchedulerConfig{
		MaxRetries: cfg.Cleanup.MaxRetries,
		RetryDelay: cfg.Cleanup.RetryBaseDelay,
		Logger:     logr,
	})
	if err := retentionSvc.RegisterJobs(scheduler, cfg.Cleanup); err != nil {
		logr.Sugar().Fatalw("failed to register retention jobs", "error", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	authHandler := handler.NewAuthHandler(authSvc, metricsSvc)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/stats", metricsHandler.Stats)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.Use(middleware.RateLimit(redisClient, cfg.RateLimit, metricsSvc, logr))
	auth.POST("/signup", authHandler.Signup)
	auth.POST("/verify-email", authHandler.VerifyEmail)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	users := api.Group("/users")
	users.Use(middleware.JWT(authSvc))
	users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
	users.GET("/:id", middleware.RBAC("ADMIN", "SELF"), userHandler.Get)
	users.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
	users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)

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

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
