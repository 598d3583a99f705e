package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/application/usecases"
	"github.com/example/quickdrop-slots/internal/config"
	"github.com/example/quickdrop-slots/internal/db"
	"github.com/example/quickdrop-slots/internal/domain/push"
	"github.com/example/quickdrop-slots/internal/infrastructure/quickdrop"
	"github.com/example/quickdrop-slots/internal/infrastructure/redisbus"
	"github.com/example/quickdrop-slots/internal/infrastructure/ws"
	"github.com/example/quickdrop-slots/internal/logger"
)

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(cfg)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

func openDB(ctx context.Context, cfg config.Config) (*db.DB, error) {
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return d, nil
}

func newBackend(cfg config.Config) *quickdrop.Client {
	return quickdrop.New(cfg.QuickDrop.APIURL, quickdrop.Credentials{
		ClientKey: cfg.QuickDrop.ClientKey,
		Token:     cfg.QuickDrop.Token,
	}, cfg.QuickDrop.Timeout)
}

// hoursSource puts the Redis hours cache in front of the backend when Redis
// answers; otherwise the backend is used directly.
func hoursSource(ctx context.Context, cfg config.Config, backend *quickdrop.Client, log *zap.Logger) (usecases.HoursSource, func()) {
	client, err := redisbus.NewClient(ctx, redisbus.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("redis unavailable; business hours are not cached", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		return backend, func() {}
	}
	cache := redisbus.NewHoursCache(client, backend, cfg.Redis.HoursCacheTTL, log.Named("hours_cache"))
	return cache, func() { _ = client.Close() }
}

// pushChannel builds the live-update channel selected by PUSH_BACKEND.
func pushChannel(ctx context.Context, cfg config.Config, log *zap.Logger) (push.Channel, func(), error) {
	switch cfg.Push.Backend {
	case config.PushRedis:
		client, err := redisbus.NewClient(ctx, redisbus.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return redisbus.NewBus(client, log.Named("push")), func() { _ = client.Close() }, nil
	default:
		opts := []ws.Option{ws.WithLogger(log.Named("push"))}
		if cfg.Push.Reconnect {
			opts = append(opts, ws.WithReconnect(500*time.Millisecond, cfg.Push.ReconnectMax))
		}
		return ws.New(cfg.QuickDrop.WSURL, opts...), func() {}, nil
	}
}
