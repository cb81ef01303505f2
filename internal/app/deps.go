package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"embed-service/internal/cache"
	"embed-service/internal/config"
	"embed-service/internal/embeddings"
	"embed-service/internal/inference"
	"embed-service/internal/logger"
	"embed-service/internal/metrics"
	"embed-service/internal/queue"
	"embed-service/internal/service"
)

// Deps bundles the runtime dependencies of the embedding server.
type Deps struct {
	Config  config.Config
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Runtime embeddings.Runtime
	Cache   cache.Cache
	Service *service.Service
	// NATS is nil when NATS_URL is empty.
	NATS  *nats.Conn
	Queue *queue.Server
	// Device is the device the model actually runs on.
	Device string
}

// Build loads env, config, the model and shared components.
func Build(ctx context.Context) (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return Deps{}, err
	}
	log := logger.New(cfg.LogLevel)
	m := metrics.New()

	log.Info("loading model", "model", cfg.ModelName, "device", cfg.Device)
	rt, err := inference.Load(ctx, inference.Options{
		ModelName:   cfg.ModelName,
		ModelDir:    cfg.ModelDir,
		ModelFile:   cfg.ModelFile,
		OutputName:  cfg.OutputName,
		Device:      cfg.Device,
		LibraryPath: cfg.ORTLibraryPath,
		HFToken:     cfg.HFToken,
		CacheDir:    cfg.HFCacheDir,
	}, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to load model: %w", err)
	}

	c, err := buildCache(cfg, log)
	if err != nil {
		_ = rt.Close()
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}

	computer := embeddings.NewComputer(rt, embeddings.WithMaxTokens(cfg.MaxInputLength))
	svc := service.New(computer, ServiceOptions(cfg, c, m, log))

	deps := Deps{
		Config:  cfg,
		Log:     log,
		Metrics: m,
		Runtime: rt,
		Cache:   c,
		Service: svc,
		Device:  rt.Device(),
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("embedder"))
		if err != nil {
			deps.Close()
			return Deps{}, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS transport", "url", cfg.NATSURL)
		deps.NATS = nc
		deps.Queue = queue.NewNATS(log, nc, svc, cfg.NATSSubject, cfg.NATSQueueGroup)
	}
	return deps, nil
}

// ServiceOptions maps configuration onto service options.
func ServiceOptions(cfg config.Config, c cache.Cache, m *metrics.Metrics, log *slog.Logger) service.Options {
	return service.Options{
		Model:          cfg.ModelName,
		MaxBatchSize:   cfg.MaxBatchSize,
		Concurrency:    cfg.BatchConcurrency,
		HonorNormalize: cfg.HonorNormalizeFlag,
		Cache:          c,
		CacheTTL:       cfg.CacheTTLDuration(),
		Metrics:        m,
		Log:            log,
	}
}

// Close releases the NATS connection, the cache and the model.
func (d Deps) Close() {
	if d.NATS != nil {
		d.NATS.Close()
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			d.Log.Warn("failed to close cache", "err", err)
		}
	}
	if d.Runtime != nil {
		if err := d.Runtime.Close(); err != nil {
			d.Log.Warn("failed to release model", "err", err)
		}
	}
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "", "none":
		return cache.NewNoOpCache(), nil
	case "memory":
		log.Info("using in-memory cache", "size", cfg.CacheSize, "ttl", cfg.CacheTTLDuration())
		return cache.NewMemoryCache(cfg.CacheSize, cfg.CacheTTLDuration()), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required when CACHE_PROVIDER=redis")
		}
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		log.Info("using Redis cache", "addr", cfg.RedisAddr)
		return c, nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: none, memory, redis)", cfg.CacheProvider)
	}
}
