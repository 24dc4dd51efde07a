package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/retro/internal/config"
	"github.com/dyluth/retro/internal/engine"
	"github.com/dyluth/retro/internal/index"
	"github.com/dyluth/retro/internal/logging"
	"github.com/dyluth/retro/internal/printer"
	"github.com/dyluth/retro/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// backend is everything a command needs to work with boards.
type backend struct {
	cfg      *config.RetroConfig
	logger   *zap.Logger
	store    store.Store
	redis    *store.RedisStore // nil for the in-memory store
	index    *index.SQLIndex   // nil when no index is configured
	engine   *engine.Engine
	registry *prometheus.Registry
}

// loadConfig reads the configured file and applies the --log-level override.
func loadConfig() (*config.RetroConfig, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Check %s, or remove it to run with defaults", configPath)},
		)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// openBackend connects the store, index and engine described by cfg.
// Commands other than serve need state shared with a server, so they pass
// requireShared to refuse the in-memory store.
func openBackend(ctx context.Context, cfg *config.RetroConfig, logger *zap.Logger, requireShared bool) (*backend, error) {
	if requireShared && !cfg.UsesRedis() {
		return nil, printer.Error(
			"no shared store configured",
			"This command works on boards stored in Redis, but no redis.url is configured.",
			[]string{
				"Add a redis section to retro.yml:\n  redis:\n    url: redis://localhost:6379/0",
				"Or set RETRO_REDIS_URL=redis://localhost:6379/0",
			},
		)
	}

	b := &backend{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	b.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := store.Options{
		Logger:  logger,
		Metrics: store.NewMetrics(b.registry),
		LockTTL: cfg.Locks.TTL,
	}

	if cfg.Index.Path != "" {
		idx, err := index.Open(cfg.Index.Path, logger)
		if err != nil {
			return nil, printer.ErrorWithContext(
				"failed to open board index",
				err.Error(),
				map[string]string{"path": cfg.Index.Path},
				[]string{"Check the directory exists and is writable, or unset index.path"},
			)
		}
		b.index = idx
		opts.Index = idx
	}

	if cfg.UsesRedis() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opts.MaxRetries = cfg.Redis.MaxRetries

		var ropts []store.RedisOption
		if cfg.Redis.KeyspaceNotifications {
			ropts = append(ropts, store.WithKeyspaceNotifications())
		}
		rs, err := store.NewRedisStore(redisOpts, cfg.Instance, opts, ropts...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create Redis store: %w", err)
		}
		b.redis = rs
		b.store = rs

		if err := rs.Ping(ctx); err != nil {
			b.Close()
			return nil, printer.ErrorWithContext(
				"Redis connection failed",
				fmt.Sprintf("Could not connect to Redis at %s", redisOpts.Addr),
				map[string]string{"instance": cfg.Instance},
				[]string{"Check the Redis server is running and redis.url is correct"},
			)
		}
	} else {
		b.store = store.NewMemStore(opts)
	}

	engineOpts := []engine.Option{
		engine.WithTemplates(cfg.Templates),
		engine.WithLogger(logger),
	}
	if b.index != nil {
		engineOpts = append(engineOpts, engine.WithIndex(b.index))
	}
	b.engine = engine.New(b.store, engineOpts...)
	return b, nil
}

// Close releases the store and index.
func (b *backend) Close() {
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	if b.index != nil {
		if err := b.index.Close(); err != nil {
			b.logger.Warn("failed to close index", zap.Error(err))
		}
	}
}

// openCLIBackend loads configuration and opens a Redis-backed backend with
// a console logger, for the board, node and watch commands.
func openCLIBackend(ctx context.Context) (*backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if logLevel == "" {
		// Keep command output clean unless asked.
		level = "warn"
	}
	logger, err := logging.NewConsoleLogger(level)
	if err != nil {
		return nil, err
	}
	return openBackend(ctx, cfg, logger, true)
}
