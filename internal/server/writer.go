package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

// startWriter returns the Sink for a connection. Packets are written by one
// goroutine; a write error closes the connection, which ends the reader and
// so the port.
func (s *Server) startWriter(ctx context.Context, conn net.Conn, logger *slog.Logger) *transport.WriterSink {
	hooks := transport.Hooks{
		OnError: func(err error) {
			wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.setError(wrap)
			logger.Warn("client_write_error", "error", wrap)
			_ = conn.Close()
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrTxOverflow)
			logger.Debug("client_tx_overflow")
			return ErrTxOverflow
		},
	}
	return transport.NewWriterSink(ctx, conn, s.txBuffer, hooks)
}
