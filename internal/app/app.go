// Package app wires the deliberation runtime from configuration. The API
// server and the worker build the same engine; only dispatch differs.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/council/core/config"
	"basegraph.app/council/core/db"
	"basegraph.app/council/internal/council"
	"basegraph.app/council/internal/gateway"
	"basegraph.app/council/internal/metrics"
	"basegraph.app/council/internal/session"
	"basegraph.app/council/internal/store"
)

type Council struct {
	Gateway  *gateway.Registry
	Engine   *council.Engine
	Registry session.Registry
	Metrics  *metrics.Metrics
}

// ConnectRedis parses the URL and pings the server.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func NewRegistry(cfg config.CouncilConfig, redisClient *redis.Client) (session.Registry, error) {
	switch cfg.StatusStore {
	case config.StatusStoreMemory:
		return session.NewMemoryRegistry(cfg.StatusTTL), nil
	case config.StatusStoreRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis status store requires a redis client")
		}
		return session.NewRedisRegistry(redisClient, cfg.StatusTTL), nil
	default:
		return nil, fmt.Errorf("unsupported status store: %s", cfg.StatusStore)
	}
}

// NewAuditSink returns a nil sink for AuditSinkNone. The returned close
// function is always safe to call.
func NewAuditSink(ctx context.Context, cfg config.Config) (council.AuditSink, func(), error) {
	noop := func() {}

	switch cfg.Council.AuditSink {
	case config.AuditSinkNone:
		slog.WarnContext(ctx, "audit sink disabled, deliberations will not be recorded")
		return nil, noop, nil
	case config.AuditSinkFile:
		fileStore, err := store.NewFileAuditStore(cfg.Council.AuditDir)
		if err != nil {
			return nil, noop, err
		}
		slog.InfoContext(ctx, "recording audit trails to files", "dir", cfg.Council.AuditDir)
		return fileStore, noop, nil
	case config.AuditSinkPostgres:
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			return nil, noop, fmt.Errorf("connecting to database: %w", err)
		}
		slog.InfoContext(ctx, "database connected")
		return store.NewAuditStore(database), database.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported audit sink: %s", cfg.Council.AuditSink)
	}
}

func NewCouncil(cfg config.Config, registry session.Registry, sink council.AuditSink, m *metrics.Metrics) (*Council, error) {
	policy, err := council.PolicyByName(cfg.Council.BordaPolicy)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.FromConfig(cfg, m)
	if err != nil {
		return nil, fmt.Errorf("building gateway: %w", err)
	}

	engine := council.NewEngine(gw, registry, sink, council.Options{
		Quorum:           cfg.Council.Quorum,
		SessionTimeout:   cfg.Council.EffectiveSessionTimeout(),
		MaxParallelCalls: cfg.Council.MaxParallelCalls,
		ChairmanModel:    cfg.Council.ChairmanModel,
		Policy:           policy,
		AuditTimeout:     cfg.Council.AuditTimeout,
		Metrics:          m,
	})

	return &Council{
		Gateway:  gw,
		Engine:   engine,
		Registry: registry,
		Metrics:  m,
	}, nil
}
