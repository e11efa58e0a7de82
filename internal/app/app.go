// Package app holds the startup wiring shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/estate-geolayers/internal/blob"
	"github.com/mohammed-shakir/estate-geolayers/internal/blob/fsstore"
	"github.com/mohammed-shakir/estate-geolayers/internal/blob/s3store"
	"github.com/mohammed-shakir/estate-geolayers/internal/cache"
	"github.com/mohammed-shakir/estate-geolayers/internal/cache/keyindex"
	"github.com/mohammed-shakir/estate-geolayers/internal/cache/redisstore"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/config"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/health"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/observability"
	"github.com/mohammed-shakir/estate-geolayers/internal/crs"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer/gormrepo"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer/memrepo"
	"github.com/mohammed-shakir/estate-geolayers/internal/logger"
	"github.com/mohammed-shakir/estate-geolayers/internal/metrics"
	"github.com/mohammed-shakir/estate-geolayers/internal/proj"
)

// Logger builds the process logger for component.
func Logger(cfg config.Config, component string, out io.Writer) (zerolog.Logger, *slog.Logger) {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   component,
		Component: component,
	}, out)
	return zl, logger.NewSlog(&zl)
}

// Metrics creates the process registry and points the shared collectors at
// it. With metrics disabled the collectors are left unregistered.
func Metrics(cfg config.Config, service, version string) *metrics.Provider {
	p := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Addr:    cfg.MetricsAddr,
		Path:    cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:   version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.SetService(service)
	observability.Init(p.Registerer(), cfg.MetricsEnabled)
	observability.ExposeBuildInfo(version)
	return p
}

// OpenLayers returns the configured layer repository and a closer for it.
func OpenLayers(ctx context.Context, cfg config.Config) (layer.Repository, func() error, error) {
	switch cfg.LayerStore {
	case "memory":
		return memrepo.New(), func() error { return nil }, nil
	case "postgres", "":
		db, err := gormrepo.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("postgres handle: %w", err)
		}
		repo := gormrepo.New(db)
		if err := repo.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return repo, sqlDB.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown LAYER_STORE %q", cfg.LayerStore)
	}
}

// OpenBlob returns the configured file store.
func OpenBlob(ctx context.Context, cfg config.Config) (blob.Store, error) {
	switch cfg.BlobDriver {
	case "memory":
		return blob.NewMemory(), nil
	case "s3":
		return s3store.Connect(ctx, s3store.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	case "fs", "":
		return fsstore.New(cfg.BlobRoot)
	default:
		return nil, fmt.Errorf("unknown BLOB_DRIVER %q", cfg.BlobDriver)
	}
}

// Registry returns the built-in projections plus CRS_DEFINITIONS.
func Registry(cfg config.Config) (*proj.Registry, error) {
	reg := proj.NewRegistry()
	var errs []error
	for code, def := range cfg.CRSDefinitions {
		if err := reg.Define(crs.Parse(code), def); err != nil {
			errs = append(errs, err)
		}
	}
	return reg, errors.Join(errs...)
}

// ViewCache is the derived-view cache together with what the binary needs
// to report on and release it.
type ViewCache struct {
	*cache.Views
	Ready health.ReadinessReporter
	Close func() error
}

// OpenViewCache connects the shared Redis tier. When Redis cannot be
// reached at startup the cache runs on the local tier only.
func OpenViewCache(ctx context.Context, cfg config.Config, log *slog.Logger) (*ViewCache, error) {
	opts := cache.ViewsOptions{
		Logger:      log,
		LocalSize:   cfg.CacheLocalSize,
		LocalMaxAge: cfg.CacheLocalMaxAge,
		OpTimeout:   cfg.CacheOpTimeout,
	}
	if cfg.RedisAddr == "" {
		return localOnly(opts)
	}

	cli, err := redisstore.New(ctx, cfg.RedisAddr,
		redisstore.WithDialTimeout(2*time.Second),
		redisstore.WithReadTimeout(cfg.CacheOpTimeout),
		redisstore.WithWriteTimeout(cfg.CacheOpTimeout),
	)
	if err != nil {
		log.Warn("redis unavailable, caching locally only", "addr", cfg.RedisAddr, "err", err)
		return localOnly(opts)
	}

	v, err := cache.NewViews(cli, keyindex.NewRedisIndex(cli), opts)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	ready := health.ReadinessFunc(func() (bool, []int32) {
		pctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return cli.Ping(pctx) == nil, nil
	})
	return &ViewCache{Views: v, Ready: ready, Close: cli.Close}, nil
}

func localOnly(opts cache.ViewsOptions) (*ViewCache, error) {
	v, err := cache.NewViews(nil, nil, opts)
	if err != nil {
		return nil, err
	}
	return &ViewCache{
		Views: v,
		Ready: health.ReadinessFunc(func() (bool, []int32) { return true, nil }),
		Close: func() error { return nil },
	}, nil
}
