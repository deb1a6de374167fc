package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"packets_rx", snap.PacketsRx,
					"packets_tx", snap.PacketsTx,
					"framing", snap.Framing,
					"stall_resets", snap.StallResets,
					"unsupported", snap.Unsupported,
					"ports", snap.Ports,
					"hub_drops", snap.HubDrops,
					"bus_published", snap.BusPublished,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
