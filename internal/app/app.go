// Package app is the composition root: it builds the clients, the session
// store, the locker and the upload service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uploads/internal/awsclient"
	"github.com/prn-tf/alexander-uploads/internal/config"
	"github.com/prn-tf/alexander-uploads/internal/handler"
	"github.com/prn-tf/alexander-uploads/internal/lock"
	"github.com/prn-tf/alexander-uploads/internal/metrics"
	"github.com/prn-tf/alexander-uploads/internal/repository"
	"github.com/prn-tf/alexander-uploads/internal/repository/dynamo"
	"github.com/prn-tf/alexander-uploads/internal/repository/postgres"
	"github.com/prn-tf/alexander-uploads/internal/repository/sqlite"
	"github.com/prn-tf/alexander-uploads/internal/service"
	s3store "github.com/prn-tf/alexander-uploads/internal/storage/s3"
	"github.com/prn-tf/alexander-uploads/internal/uploader"
	"github.com/prn-tf/alexander-uploads/internal/validator"
)

// App holds the wired service graph of one process.
type App struct {
	Config   *config.Config
	AWS      *awsclient.Clients
	Storage  *s3store.Backend
	Store    *repository.Store
	Locker   lock.Locker
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Service  *service.UploadService

	redis  *redis.Client
	logger zerolog.Logger
}

// New builds the service graph. Clients are created once and injected.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	clients, err := awsclient.New(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		AWS:     clients,
		Storage: s3store.NewBackend(clients.S3, logger),
		logger:  logger.With().Str("component", "app").Logger(),
	}

	a.Store, err = OpenStore(ctx, cfg, clients, a.Storage, logger)
	if err != nil {
		return nil, err
	}

	a.Locker, a.redis, err = NewLocker(ctx, cfg)
	if err != nil {
		_ = a.Store.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = metrics.New(a.Registry)
	}

	a.Service = NewUploadService(cfg, a.Storage, a.Store.Sessions, a.Locker, a.Metrics, logger)

	a.logger.Info().
		Str("sessions_backend", string(a.Store.Backend)).
		Str("lock_backend", cfg.Lock.Backend).
		Str("bucket", cfg.Storage.Bucket).
		Msg("service graph ready")

	return a, nil
}

// NewUploadService wires the validators, strategies and factories around
// the given backend and store.
func NewUploadService(
	cfg *config.Config,
	backend *s3store.Backend,
	sessions repository.SessionRepository,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *service.UploadService {
	strategyConfig := uploader.Config{
		Bucket:           cfg.Storage.Bucket,
		PutURLExpiry:     cfg.Uploads.PutURLExpiry,
		PartURLExpiry:    cfg.Uploads.PartURLExpiry,
		VerifySinglePart: cfg.Uploads.VerifySinglePart,
		NewID:            uploader.NewSessionID,
	}

	single := uploader.NewSinglePartUploader(backend, strategyConfig, logger)
	multi := uploader.NewMultipartUploader(backend, strategyConfig, logger)
	downloader := uploader.NewPresignDownloader(backend, cfg.Storage.Bucket, cfg.Uploads.GetURLExpiry, logger)

	return service.NewUploadService(service.Dependencies{
		UploadValidators:   validator.DefaultUploadValidators(cfg.Uploads.MaxSizeBytes, cfg.Uploads.AllowedContentTypes),
		DownloadValidators: validator.DefaultDownloadValidators(),
		Uploaders:          uploader.NewUploaderFactory(single, multi, cfg.Uploads.MultipartThreshold),
		Downloaders:        uploader.NewDownloaderFactory(downloader),
		Sessions:           sessions,
		Aborter:            backend,
		Locker:             locker,
		Metrics:            m,
	}, service.Config{
		LockTTL:          cfg.Lock.TTL,
		PlanRetries:      cfg.Uploads.PlanRetries,
		OperationTimeout: cfg.Uploads.OperationTimeout,
	}, logger)
}

// OpenStore opens the configured session store. aborter reaches storage on
// AbortMultipart and may be nil.
func OpenStore(ctx context.Context, cfg *config.Config, clients *awsclient.Clients, aborter repository.MultipartAborter, logger zerolog.Logger) (*repository.Store, error) {
	backend, err := repository.ParseBackend(cfg.Sessions.Backend)
	if err != nil {
		return nil, err
	}

	opts := repository.Options{
		Retention: cfg.Sessions.Retention,
		Aborter:   aborter,
	}

	switch backend {
	case repository.BackendDynamo:
		if clients == nil {
			return nil, errors.New("dynamo session backend requires AWS clients")
		}
		return &repository.Store{
			Backend:  backend,
			Sessions: dynamo.NewSessionRepository(clients.DynamoDB, cfg.Sessions.Table, opts, logger),
		}, nil

	case repository.BackendSQLite:
		db, err := sqlite.NewDB(ctx, sqliteConfig(cfg.SQLite), logger)
		if err != nil {
			return nil, err
		}
		// The embedded store is private to the process, so it migrates itself.
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &repository.Store{
			Backend:  backend,
			Sessions: sqlite.NewSessionRepository(db, opts, logger),
			Database: db,
		}, nil

	default:
		db, err := postgres.NewDB(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		return &repository.Store{
			Backend:  backend,
			Sessions: postgres.NewSessionRepository(db, opts, logger),
			Database: db,
		}, nil
	}
}

// sqliteConfig overlays the configured values on the package defaults.
func sqliteConfig(c config.SQLiteConfig) sqlite.Config {
	cfg := sqlite.DefaultConfig(c.Path)
	if c.JournalMode != "" {
		cfg.JournalMode = c.JournalMode
	}
	if c.BusyTimeout > 0 {
		cfg.BusyTimeout = c.BusyTimeout
	}
	if c.CacheSize != 0 {
		cfg.CacheSize = c.CacheSize
	}
	if c.SynchronousMode != "" {
		cfg.SynchronousMode = c.SynchronousMode
	}
	return cfg
}

// NewLocker builds the configured session locker. The Redis client is
// returned so the caller can close it; it is nil for other backends.
func NewLocker(ctx context.Context, cfg *config.Config) (lock.Locker, *redis.Client, error) {
	switch cfg.Lock.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr(), err)
		}
		return lock.NewRedisLocker(client), client, nil
	case "none":
		return lock.NewNoOpLocker(), nil, nil
	default:
		return lock.NewMemoryLocker(), nil, nil
	}
}

// Checks returns the readiness probes of the wired dependencies.
func (a *App) Checks() map[string]handler.CheckFunc {
	checks := map[string]handler.CheckFunc{
		"sessions": a.Store.Sessions.Ping,
		"storage": func(ctx context.Context) error {
			return a.Storage.HealthCheck(ctx, a.Config.Storage.Bucket)
		},
	}
	if a.redis != nil {
		checks["lock"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases the store connection and the Redis client.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
