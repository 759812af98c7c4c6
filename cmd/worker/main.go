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

	"basegraph.app/council/common/id"
	"basegraph.app/council/common/logger"
	"basegraph.app/council/common/otel"
	"basegraph.app/council/core/config"
	"basegraph.app/council/internal/app"
	"basegraph.app/council/internal/metrics"
	"basegraph.app/council/internal/queue"
	"basegraph.app/council/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "council worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer,
		"backends", len(cfg.Backends))

	// Initialize snowflake ID generator (use different node ID than server)
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	redisClient, err := app.ConnectRedis(ctx, cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	registry, err := app.NewRegistry(cfg.Council, redisClient)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create status registry", "error", err)
		os.Exit(1)
	}

	sink, closeSink, err := app.NewAuditSink(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create audit sink", "error", err)
		os.Exit(1)
	}
	defer closeSink()

	m := metrics.New()
	c, err := app.NewCouncil(cfg, registry, sink, m)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build council", "error", err)
		os.Exit(1)
	}

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    1, // One deliberation at a time per consumer
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, c.Engine, registry, worker.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})

	// A pending task is stale once it has been idle longer than a full session.
	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   cfg.Council.EffectiveSessionTimeout() + time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	probe := gin.New()
	probe.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	probe.GET("/metrics", gin.WrapH(m.Handler()))
	probeServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           probe,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := probeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "probe server error", "error", err)
		}
	}()

	slog.InfoContext(ctx, "worker initialized and running", "probe_port", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	// A running deliberation may need up to one session deadline to finish.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Council.EffectiveSessionTimeout()+30*time.Second)
	defer cancel()

	reclaimer.Stop()

	if err := probeServer.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "probe server shutdown error", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-stopped:
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 ██████╗ ██████╗ ██╗   ██╗███╗   ██╗ ██████╗██╗██╗         ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██╔════╝██╔═══██╗██║   ██║████╗  ██║██╔════╝██║██║         ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██║     ██║   ██║██║   ██║██╔██╗ ██║██║     ██║██║         ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║     ██║   ██║██║   ██║██║╚██╗██║██║     ██║██║         ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
╚██████╗╚██████╔╝╚██████╔╝██║ ╚████║╚██████╗██║███████╗    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
 ╚═════╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═══╝ ╚═════╝╚═╝╚══════╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
