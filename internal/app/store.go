package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congo-pay/billpay/internal/config"
	"github.com/congo-pay/billpay/internal/infra"
	"github.com/congo-pay/billpay/internal/kvstore"
)

// OpenStore opens the configured backend and migrates legacy keys into the
// current schema. The returned close function releases any connection.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (kvstore.Store, func(), error) {
	store, closeFn, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := kvstore.Migrate(ctx, store); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Info("store ready", slog.String("backend", cfg.StoreBackend))
	return store, closeFn, nil
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (kvstore.Store, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return kvstore.NewMemory(), noop, nil
	case config.StoreFile:
		store, err := kvstore.OpenFile(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case config.StoreRedis:
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName)
		if err != nil {
			return nil, nil, err
		}
		return kvstore.NewRedis(client), func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}, nil
	case config.StorePostgres:
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store, err := kvstore.NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
