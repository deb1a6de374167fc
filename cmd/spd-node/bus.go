package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-ims-packets/internal/bus"
	"github.com/kstaniek/go-ims-packets/internal/hub"
)

// startBus attaches the configured hub observers. The returned cleanup closes
// their connections once the observers have stopped.
func startBus(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	run := func(fn func()) {
		wg.Add(1)
		go func() { defer wg.Done(); fn() }()
	}
	if cfg.logPackets {
		run(func() { bus.LogTap(ctx, h) })
	}
	if cfg.natsURL != "" {
		nc, err := bus.ConnectNATS(cfg.natsURL, "spd-node")
		if err != nil {
			return cleanup, fmt.Errorf("nats connect: %w", err)
		}
		closers = append(closers, func() { _ = nc.Drain() })
		pub := bus.NewPublisher(nc, cfg.natsPrefix)
		l.Info("nats_connected", "url", cfg.natsURL, "prefix", cfg.natsPrefix)
		run(func() { pub.Run(ctx, h) })
	}
	if cfg.redisAddr != "" {
		rdb := bus.NewRedisClient(cfg.redisAddr, cfg.redisPassword, cfg.redisDB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			cleanup()
			return func() {}, fmt.Errorf("redis ping: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		shadow := bus.NewShadow(rdb, cfg.redisTTL)
		l.Info("redis_connected", "addr", cfg.redisAddr, "ttl", cfg.redisTTL.String())
		run(func() { shadow.Run(ctx, h) })
	}
	return cleanup, nil
}
