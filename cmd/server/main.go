package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appcredit "github.com/tallydash/backend/internal/application/credit"
	domaincredit "github.com/tallydash/backend/internal/domain/credit"
	"github.com/tallydash/backend/internal/infrastructure/auth"
	"github.com/tallydash/backend/internal/infrastructure/cache"
	"github.com/tallydash/backend/internal/infrastructure/config"
	"github.com/tallydash/backend/internal/infrastructure/logger"
	"github.com/tallydash/backend/internal/infrastructure/persistence"
	"github.com/tallydash/backend/internal/infrastructure/scheduler"
	"github.com/tallydash/backend/internal/interfaces/http/handler"
	"github.com/tallydash/backend/internal/interfaces/http/middleware"
	"github.com/tallydash/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Tally Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database
	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Memo store: Redis when reachable, in-process fallback otherwise. The
	// memo is a throttle, so degrading to per-instance state is acceptable.
	var memo domaincredit.MemoStore
	redisMemo, err := cache.NewRedisMemoStore(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, using in-memory credit memo store", zap.Error(err))
		inmem := cache.NewInMemoryMemoStore()
		defer inmem.Close()
		memo = inmem
	} else {
		defer redisMemo.Close()
		memo = redisMemo
	}

	// Repositories and the credit service
	tenantRepo := persistence.NewGormTenantRepository(db.DB)
	userRepo := persistence.NewGormUserRepository(db.DB)
	clock := domaincredit.SystemClock{}

	creditService := appcredit.NewService(tenantRepo, userRepo, memo, clock, log,
		appcredit.Config{LowCreditThreshold: cfg.Credit.LowCreditThreshold})

	// Scheduler
	creditScheduler := scheduler.NewCreditScheduler(creditService, clock, log,
		scheduler.CreditSchedulerConfig{
			Enabled:        cfg.Scheduler.Enabled,
			TickInterval:   cfg.Scheduler.TickInterval,
			HourlyInterval: cfg.Scheduler.HourlyInterval,
			MidnightWindow: cfg.Scheduler.MidnightWindow,
			PassTimeout:    10 * time.Minute,
		})
	if err := creditScheduler.Start(context.Background()); err != nil {
		log.Fatal("Failed to start credit scheduler", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.StopTimeout)
		defer cancel()
		if err := creditScheduler.Stop(stopCtx); err != nil {
			log.Error("Error stopping credit scheduler", zap.Error(err))
		}
	}()

	// HTTP engine and middleware chain
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))

	jwtService := auth.NewJWTService(cfg.JWT)
	engine.Use(middleware.JWTAuthMiddleware(jwtService))
	engine.Use(middleware.CreditCheckMiddleware(middleware.CreditCheckConfig{
		Deductor:          creditService,
		Memo:              memo,
		MemoTTL:           cfg.Credit.MemoTTL,
		Logger:            log,
		TrustTenantHeader: cfg.App.Env != "production",
	}))
	warningCfg := middleware.DefaultCreditWarningConfig(creditService)
	warningCfg.Logger = log
	warningCfg.TrustTenantHeader = cfg.App.Env != "production"
	engine.Use(middleware.CreditWarningMiddleware(warningCfg))

	// Routes
	systemHandler := handler.NewSystemHandler(db)
	creditHandler := handler.NewCreditHandler(creditService, log)

	router.NewRouter(engine).
		Register(systemHandler).
		Register(creditHandler).
		Setup()
	engine.GET("/health", systemHandler.Health)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
