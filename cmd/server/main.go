package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/council/common/id"
	"basegraph.app/council/common/logger"
	"basegraph.app/council/common/otel"
	"basegraph.app/council/core/config"
	"basegraph.app/council/internal/app"
	"basegraph.app/council/internal/http/middleware"
	httprouter "basegraph.app/council/internal/http/router"
	"basegraph.app/council/internal/metrics"
	"basegraph.app/council/internal/queue"
	"basegraph.app/council/internal/service"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// slog is not configured until the logger is set up below
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "council starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"backends", len(cfg.Backends),
		"dispatch", cfg.Council.Dispatch,
		"status_store", cfg.Council.StatusStore)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Council.StatusStore == config.StatusStoreRedis || cfg.Council.Dispatch == config.DispatchQueue {
		redisClient, err = app.ConnectRedis(ctx, cfg.Pipeline.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)
	}

	registry, err := app.NewRegistry(cfg.Council, redisClient)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create status registry", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	var (
		dispatcher service.Dispatcher
		inline     *service.InlineDispatcher
		catalog    service.ModelCatalog
	)

	switch cfg.Council.Dispatch {
	case config.DispatchQueue:
		producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, nil)
		dispatcher = service.NewQueueDispatcher(producer)
		catalog = backendCatalog(cfg)
	default:
		sink, closeSink, err := app.NewAuditSink(ctx, cfg)
		if err != nil {
			slog.ErrorContext(ctx, "failed to create audit sink", "error", err)
			os.Exit(1)
		}
		defer closeSink()

		c, err := app.NewCouncil(cfg, registry, sink, m)
		if err != nil {
			slog.ErrorContext(ctx, "failed to build council", "error", err)
			os.Exit(1)
		}
		inline = service.NewInlineDispatcher(c.Engine, cfg.Council.MaxConcurrentSessions)
		dispatcher = inline
		catalog = c.Gateway
	}

	deliberations := service.NewDeliberationService(catalog, registry, dispatcher, service.DeliberationOptions{
		Quorum: cfg.Council.Quorum,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, deliberations, m)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if inline != nil {
		waitForDeliberations(shutdownCtx, inline, cfg.Council.EffectiveSessionTimeout())
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// waitForDeliberations lets in-flight sessions reach a terminal state, up to
// one session deadline.
func waitForDeliberations(ctx context.Context, d *service.InlineDispatcher, limit time.Duration) {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	slog.InfoContext(ctx, "waiting for in-flight deliberations", "limit", limit)
	select {
	case <-done:
	case <-time.After(limit):
		slog.WarnContext(ctx, "in-flight deliberations did not finish before shutdown")
	}
}

func setupRouter(cfg config.Config, deliberations service.DeliberationService, m *metrics.Metrics) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health", "/metrics", "/deliberations/:id"))

	httprouter.SetupRoutes(router, httprouter.RouterConfig{
		Deliberations:   deliberations,
		Metrics:         m.Handler(),
		TraceHeaderName: cfg.Pipeline.TraceHeaderName,
	})

	return router
}

// backendCatalog validates requests against the roster without building
// provider clients; in queue mode only workers call the backends.
type backendCatalog config.Config

func (c backendCatalog) Has(modelID string) bool {
	return config.Config(c).HasBackend(modelID)
}

const banner = `
 ██████╗ ██████╗ ██╗   ██╗███╗   ██╗ ██████╗██╗██╗
██╔════╝██╔═══██╗██║   ██║████╗  ██║██╔════╝██║██║
██║     ██║   ██║██║   ██║██╔██╗ ██║██║     ██║██║
██║     ██║   ██║██║   ██║██║╚██╗██║██║     ██║██║
╚██████╗╚██████╔╝╚██████╔╝██║ ╚████║╚██████╗██║███████╗
 ╚═════╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═══╝ ╚═════╝╚═╝╚══════╝
`
