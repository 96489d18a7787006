package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"webability/analytics/background"
	"webability/analytics/config"
	"webability/analytics/database"
	"webability/analytics/handlers"
	"webability/analytics/logging"
	"webability/analytics/metrics"
	"webability/analytics/middleware"
	"webability/analytics/pagecache"
	"webability/analytics/store"
	"webability/analytics/widget"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Relational store (sites, visitors, impressions) ---
	dbClient, err := database.NewPostgresDB(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize PostgreSQL database", zap.Error(err))
	}
	defer dbClient.Close()

	// --- Columnar store (visitors, impressions) ---
	chClient, err := database.NewClickHouseDB(cfg.ClickHouse, logger)
	if err != nil {
		logger.Fatal("Failed to initialize ClickHouse database", zap.Error(err))
	}
	defer chClient.Close()

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := chClient.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		logger.Fatal("Failed to apply ClickHouse schema", zap.Error(err))
	}
	cancelSchema()

	// --- Page cache ---
	pageDB, err := database.NewPageCacheDB(cfg.PageCache.DatabaseURL, cfg.PageCache.AuthToken, logger)
	if err != nil {
		logger.Fatal("Failed to initialize page cache database", zap.Error(err))
	}
	defer pageDB.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engineOpts := []pagecache.Option{pagecache.WithMetrics(m)}
	healthChecks := map[string]handlers.Pinger{
		"postgres":   dbClient.DB.PingContext,
		"clickhouse": chClient.Conn.Ping,
		"page_cache": pageDB.PingContext,
	}
	if cfg.PageCache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.PageCache.RedisURL)
		if err != nil {
			logger.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		engineOpts = append(engineOpts, pagecache.WithHTMLCache(pagecache.NewRedisHTMLCache(rdb, cfg.PageCache.HTMLTTL)))
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("Page HTML cache enabled", zap.Duration("ttl", cfg.PageCache.HTMLTTL))
	}

	// --- Stores and services ---
	relational := store.NewRelationalStore(dbClient.DB)
	columnar := store.NewColumnarStore(chClient)
	coordinator := store.NewCoordinator(relational, columnar, relational, config.EnvFlags{}, logger, m)
	engine := pagecache.NewEngine(pageDB, logger, engineOpts...)

	runner := background.NewRunner(cfg.BackgroundWorkers, cfg.BackgroundQueue, logger, m)
	checker := widget.NewChecker(cfg.Widget.BaseURL, cfg.Widget.Timeout, cfg.Widget.Attempts, logger)
	onboarder := background.NewOnboarder(runner, checker, background.LogNotifier{Log: logger})

	// --- Handlers ---
	analyticsHandlers := handlers.NewAnalyticsHandlers(coordinator, logger)
	pageCacheHandlers := handlers.NewPageCacheHandlers(engine, logger)
	siteHandlers := handlers.NewSiteHandlers(coordinator, onboarder, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORSMiddleware(cfg.FEOrigin))

	r.GET("/health", handlers.Health(healthChecks))
	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	{
		// Widget endpoints (no authentication required)
		api.POST("/impressions", analyticsHandlers.RecordImpression)
		api.POST("/impressions/:id/interaction", analyticsHandlers.RecordInteraction)
		api.POST("/impressions/:id/profile-counts", analyticsHandlers.AddProfileCounts)

		protected := api.Group("/")
		protected.Use(middleware.AuthRequired([]byte(cfg.JWTSecret), logger))
		{
			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/impressions", analyticsHandlers.GetImpressions)
				statsGroup.GET("/engagement", analyticsHandlers.GetEngagement)
				statsGroup.GET("/visitors", analyticsHandlers.GetVisitors)
			}

			protected.GET("/page-cache", pageCacheHandlers.GetPageHTML)
			protected.POST("/sites/onboard", siteHandlers.Onboard)

			protected.PATCH("/visitors/geo", analyticsHandlers.UpdateVisitorGeo)
			protected.DELETE("/visitors/:id", analyticsHandlers.DeleteVisitor)
			protected.DELETE("/visitors", analyticsHandlers.DeleteVisitorsByIP)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("API server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := runner.Shutdown(ctx); err != nil {
		logger.Warn("Background tasks did not finish", zap.Error(err))
	}

	logger.Info("Server exiting.")
}
