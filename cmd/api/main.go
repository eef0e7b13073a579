package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/linkresolver/internal/auth"
	"github.com/SergeiKhy/linkresolver/internal/codegen"
	"github.com/SergeiKhy/linkresolver/internal/config"
	"github.com/SergeiKhy/linkresolver/internal/entitlement"
	"github.com/SergeiKhy/linkresolver/internal/handler"
	"github.com/SergeiKhy/linkresolver/internal/middleware"
	"github.com/SergeiKhy/linkresolver/internal/repository"
	"github.com/SergeiKhy/linkresolver/internal/service"
	"github.com/SergeiKhy/linkresolver/internal/telemetry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	var logger *zap.Logger
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Трейсы: без OTEL_EXPORTER_OTLP_ENDPOINT экспорт отключён
	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.Tracing)
	if err != nil {
		logger.Fatal("Failed to setup tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error("Failed to flush traces", zap.Error(err))
		}
	}()

	// Подключение к БД (postgres)
	db, err := repository.NewPostgresDB(cfg.DB)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	cancelMigrate()

	linkRepo := repository.NewLinkRepository(db)
	dependencies := map[string]handler.Pinger{"postgres": db}

	// Redis необязателен: без него нет кэша и тарифов от биллинга
	var cacheRepo repository.CacheRepository = repository.NopCache{}
	var tierStore entitlement.TierStore
	if cfg.Redis.Enabled() {
		redis, err := repository.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()
		logger.Info("Connected to Redis")

		cacheRepo = repository.NewCacheRepository(redis, cfg.Redis.CacheTTL, cfg.Redis.TombstoneTTL)
		tierStore = entitlement.NewRedisTierStore(redis)
		dependencies["redis"] = redis
	} else {
		logger.Warn("REDIS_HOST is empty, cache and external entitlements are disabled")
	}

	// Инициализация сервисов
	entitlements := entitlement.NewService(cfg.Quota, tierStore, logger)
	linkService := service.NewLinkService(linkRepo, cacheRepo, entitlements, codegen.New(), logger,
		service.WithReservedCodes(handler.ReservedCodes()...),
	)

	// Worker pool счётчика переходов
	visits := service.NewVisitRecorder(linkRepo, service.VisitRecorderConfig{
		Workers: cfg.Visits.Workers,
		Buffer:  cfg.Visits.Buffer,
		Timeout: cfg.Visits.Timeout,
	}, logger)
	visits.Start()

	resolver := service.NewResolver(linkRepo, cacheRepo, visits, cfg.App.LookupTimeout, logger)

	// Инициализация middleware
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})
	defer rateLimiter.Stop()

	errs := handler.NewErrorWriter(cfg.IsProduction(), cfg.App.ConcealForeignLinks, logger)

	// Настройка роутера
	router := handler.NewRouter(handler.RouterDeps{
		Redirects:   handler.NewRedirectHandler(resolver, cfg.App.FallbackURL, cfg.App.RedirectStatus, logger),
		Links:       handler.NewLinkHandler(linkService, cfg.App.BaseURL, errs, logger),
		Health:      handler.NewHealthHandler(visits, dependencies),
		Auth:        middleware.NewAuth(auth.NewVerifier(cfg.Auth.JWTSecret)),
		RateLimiter: rateLimiter,
		Logger:      logger,
		ServiceName: cfg.Tracing.ServiceName,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск в горутине
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.App.Port), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// После остановки HTTP новых переходов нет: дописываем буфер до закрытия БД
	visits.Stop()

	logger.Info("Server exited")
}
