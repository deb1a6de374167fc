package serial

import (
	"context"
	"errors"

	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// TXWriter funnels all serial writes through one goroutine. It is the Sink of
// a serial packet port.
type TXWriter struct{ *transport.WriterSink }

// NewTXWriter creates a serial TXWriter queueing at most buf packets.
func NewTXWriter(parent context.Context, sp Port, buf int) *TXWriter {
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{transport.NewWriterSink(parent, sp, buf, hooks)}
}

// NewRXPump exposes the serial port as a non-blocking Source. Read timeouts
// on an idle line surface as io.EOF from tarm/serial and are retried.
func NewRXPump(ctx context.Context, sp Port) *transport.Pump {
	return transport.NewPump(ctx, sp,
		transport.WithReadSize(256),
		transport.WithRetryEOF(),
		transport.WithErrorHook(func(err error) {
			metrics.IncError(metrics.ErrSerialRead)
			logging.L().Warn("serial_read_error", "error", err)
		}))
}
