// Package bus forwards hub packet records to external systems: NATS for
// live streams, Redis for the last-seen state of every port, and the log.
package bus

import (
	"context"

	"github.com/kstaniek/go-ims-packets/internal/hub"
	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
)

// drain attaches an observer named name to h and hands every record to fn
// until ctx is done or the hub kicks the observer.
func drain(ctx context.Context, h *hub.Hub, name, errLabel string, fn func(context.Context, hub.Record) error) {
	c := h.NewClient(name)
	defer h.Remove(c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Closed:
			return
		case r := <-c.Out:
			if err := fn(ctx, r); err != nil {
				metrics.IncError(errLabel)
				logging.L().Warn("bus_forward_error", "sink", name, "port", r.Port, "error", err)
				continue
			}
			metrics.IncBusPublished(name)
		}
	}
}

// LogTap logs every record at debug level.
func LogTap(ctx context.Context, h *hub.Hub) {
	drain(ctx, h, "log", "log", func(_ context.Context, r hub.Record) error {
		logging.L().Debug("packet", "port", r.Port, "dir", string(r.Dir), "name", r.Packet.Name,
			"type", r.Packet.Type.String(), "option", r.Packet.Option, "payload", r.Packet.Payload)
		return nil
	})
}
