// Package transport adapts byte streams to the non-blocking contract the
// packet service loop depends on: sources are polled, never read blocking,
// and sinks accept a whole packet without waiting for the device.
package transport

import (
	"bytes"
	"context"
	"io"
)

// Source yields inbound bytes without blocking. ok is false when nothing is
// available right now; that is not an error. A terminal condition (stream
// closed) is reported as io.EOF.
type Source interface {
	TryReadByte() (b byte, ok bool, err error)
}

// Sink accepts one serialized packet. p is only valid for the duration of the
// call; implementations that defer the write must copy it.
type Sink interface {
	WritePacket(p []byte) error
}

// WriterSink turns any io.Writer into a Sink by funnelling copies of each
// packet through an AsyncTx.
type WriterSink struct{ base *AsyncTx[[]byte] }

// NewWriterSink starts the write goroutine. buf bounds the number of packets
// queued before hooks.OnDrop fires.
func NewWriterSink(parent context.Context, w io.Writer, buf int, hooks Hooks) *WriterSink {
	send := func(p []byte) error {
		_, err := w.Write(p)
		return err
	}
	return &WriterSink{base: NewAsyncTx(parent, buf, send, hooks)}
}

func (s *WriterSink) WritePacket(p []byte) error { return s.base.Send(bytes.Clone(p)) }

// Pending is the number of packets waiting for the writer.
func (s *WriterSink) Pending() int { return s.base.Pending() }

// Close stops the writer goroutine.
func (s *WriterSink) Close() { s.base.Close() }

// Compile-time assertions for the concrete adapters.
var (
	_ Source = (*Pump)(nil)
	_ Source = (*Buffer)(nil)
	_ Sink   = (*Buffer)(nil)
	_ Sink   = (*WriterSink)(nil)
)
