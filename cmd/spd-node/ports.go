package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kstaniek/go-ims-packets/internal/codec"
	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/node"
	"github.com/kstaniek/go-ims-packets/internal/port"
	"github.com/kstaniek/go-ims-packets/internal/serial"
	"github.com/kstaniek/go-ims-packets/internal/spd"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

const txQueueSize = 64 // packets queued per sink before writes drop

var errConsoleOverflow = errors.New("console tx overflow")

// Hooks for tests.
var (
	openSerialPort           = serial.Open
	stdout         io.Writer = os.Stdout
	stdinFD                  = func() int { return int(os.Stdin.Fd()) }
)

// endpoint is the transport side of one port.
type endpoint struct {
	src   transport.Source
	dst   transport.Sink
	close func()
}

// initPorts opens every configured port and returns them with a cleanup that
// releases their devices.
func initPorts(ctx context.Context, cfg *appConfig, api *node.API, l *slog.Logger) ([]*port.Port, func(), error) {
	var ports []*port.Port
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	for _, ps := range cfg.portSpecs() {
		ep, err := openEndpoint(ctx, cfg, ps, l)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("port %s: %w", ps.Name, err)
		}
		closers = append(closers, ep.close)
		p, err := newPort(cfg.sizing, ps, ep.src, ep.dst, api)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("port %s: %w", ps.Name, err)
		}
		ports = append(ports, p)
	}
	return ports, cleanup, nil
}

func openEndpoint(ctx context.Context, cfg *appConfig, ps portSpec, l *slog.Logger) (endpoint, error) {
	switch ps.Kind {
	case kindSerial:
		sp, err := openSerialPort(ps.Device, ps.Baud, cfg.serialReadTO)
		if err != nil {
			return endpoint{}, fmt.Errorf("open serial: %w", err)
		}
		l.Info("serial_open", "port", ps.Name, "device", ps.Device, "baud", ps.Baud)
		w := serial.NewTXWriter(ctx, sp, txQueueSize)
		return endpoint{
			src:   serial.NewRXPump(ctx, sp),
			dst:   w,
			close: func() { _ = sp.Close(); w.Close() },
		}, nil
	case kindStdio:
		src, err := transport.NewFDSource(stdinFD())
		if err != nil {
			return endpoint{}, err
		}
		w := consoleSink(ctx)
		return endpoint{src: src, dst: w, close: w.Close}, nil
	case kindFile:
		data, err := os.ReadFile(ps.Device)
		if err != nil {
			return endpoint{}, err
		}
		l.Info("file_replay", "port", ps.Name, "path", ps.Device, "bytes", len(data))
		src := transport.NewBuffer(data)
		src.CloseInput()
		w := consoleSink(ctx)
		return endpoint{src: src, dst: w, close: w.Close}, nil
	}
	return endpoint{}, fmt.Errorf("invalid kind %q", ps.Kind)
}

func consoleSink(ctx context.Context) *transport.WriterSink {
	return transport.NewWriterSink(ctx, stdout, txQueueSize, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrConsoleWrite)
			logging.L().Error("console_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrTxOverflow)
			return errConsoleOverflow
		},
	})
}

// newPort builds the packet port for ps on top of an endpoint. Inbound and
// outbound interfaces get separate codecs of the same shape.
func newPort(s spd.Sizing, ps portSpec, src transport.Source, dst transport.Sink, api *node.API) (*port.Port, error) {
	ws, err := parseWire(ps.Wire, ps.TokenWidth, ps.ByteOrder)
	if err != nil {
		return nil, err
	}
	role, err := port.ParseRole(ps.Role)
	if err != nil {
		return nil, err
	}
	inCodec, err := codec.New(ws.mode, s, ws.width, ws.order)
	if err != nil {
		return nil, err
	}
	outCodec, _ := codec.New(ws.mode, s, ws.width, ws.order)
	reqs, err := pollRequests(api.Registry(), ps.Poll, role)
	if err != nil {
		return nil, err
	}
	opts := []port.Option{
		port.WithRole(role),
		port.WithQueueDepth(ps.QueueDepth),
		port.WithPoll(reqs...),
	}
	if ps.CyclesToReset != nil {
		opts = append(opts, port.WithCyclesToReset(*ps.CyclesToReset))
	}
	if ps.Async {
		opts = append(opts, port.WithAsync())
	}
	in := port.NewInterface(inCodec, port.WithSource(src))
	out := port.NewInterface(outCodec, port.WithSink(dst))
	return port.New(ps.Name, in, out, api, opts...), nil
}
