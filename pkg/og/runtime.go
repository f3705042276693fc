package og

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/og/pkg/config"
	"github.com/platinummonkey/og/pkg/observability"
	"github.com/platinummonkey/og/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Runtime is a Service together with the connections it was built on
type Runtime struct {
	Service *Service
	DB      *sql.DB
	Redis   *redis.Client
}

// Open connects to the configured database and Redis, loads og.settings and
// builds a Service. Redis is optional and skipped when caching is disabled.
func Open(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger logrus.FieldLogger) (*Runtime, error) {
	db, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Storage.CacheEnabled {
		rdb, err = storage.OpenRedis(ctx, cfg.Storage)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	settings := config.NewSettingsStore(cfg.Groups.SettingsPath, logger)
	if err := settings.Load(); err != nil {
		db.Close()
		if rdb != nil {
			rdb.Close()
		}
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	svc := NewService(ServiceOptions{
		DB:            db,
		Driver:        cfg.Storage.Driver,
		Settings:      settings,
		Redis:         rdb,
		SnapshotTTL:   cfg.Storage.CacheTTL["snapshot"],
		RoleCacheSize: cfg.Storage.RoleCacheSize,
		RoleCacheTTL:  cfg.Storage.CacheTTL["role"],
		Metrics:       metrics,
		Logger:        logger,
	})
	return &Runtime{Service: svc, DB: db, Redis: rdb}, nil
}

// Close releases the connections. Connections the runtime was not given are
// skipped.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	return errors.Join(errs...)
}
