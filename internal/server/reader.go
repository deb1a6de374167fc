package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

// connReader refreshes the read deadline before every read. Any read error
// ends the stream: an idle client past the deadline, a reset peer or a
// closed socket all surface to the pump as io.EOF.
type connReader struct {
	s        *Server
	conn     net.Conn
	deadline time.Duration
	logger   *slog.Logger
}

func (r *connReader) Read(p []byte) (int, error) {
	_ = r.conn.SetReadDeadline(time.Now().Add(r.deadline))
	n, err := r.conn.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	var ne net.Error
	switch {
	case errors.Is(err, net.ErrClosed):
	case errors.As(err, &ne) && ne.Timeout():
		r.logger.Info("client_idle_timeout", "deadline", r.deadline.String())
	default:
		wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
		metrics.IncError(mapErrToMetric(wrap))
		r.s.setError(wrap)
		r.logger.Warn("client_read_error", "error", wrap)
	}
	return n, io.EOF
}

// startReader pumps the connection into a non-blocking Source for the port.
func (s *Server) startReader(ctx context.Context, conn net.Conn, logger *slog.Logger) *transport.Pump {
	r := &connReader{s: s, conn: conn, deadline: s.readDeadline, logger: logger}
	return transport.NewPump(ctx, r, transport.WithReadSize(s.readSize))
}
