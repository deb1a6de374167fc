package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/codec"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/node"
	"github.com/kstaniek/go-ims-packets/internal/port"
	"github.com/kstaniek/go-ims-packets/internal/spd"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

func asciiFactory(d port.Dispatcher) PortFactory {
	return func(name string, src transport.Source, dst transport.Sink) (*port.Port, error) {
		s := spd.DefaultSizing()
		in := port.NewInterface(codec.NewASCII(s), port.WithSource(src))
		out := port.NewInterface(codec.NewASCII(s), port.WithSink(dst))
		return port.New(name, in, out, d), nil
	}
}

// startNode runs a node with a TCP server in front of it.
func startNode(t *testing.T, ctx context.Context, opts ...ServerOption) (*Server, *node.Node) {
	t.Helper()
	n := node.New()
	api := node.NewAPI(nil, node.WithVersion(node.Version{Major: 1, Minor: 2, Build: 3}))
	opts = append([]ServerOption{WithPortTable(n), WithPortFactory(asciiFactory(api))}, opts...)
	srv := NewServer(opts...)
	go func() { _ = n.Run(ctx) }()
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}
	return srv, n
}

func dial(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func readLine(t *testing.T, r *bufio.Reader, c net.Conn) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	s, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v (partial %q)", err, s)
	}
	return s
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestSmokeVersionExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, n := startNode(t, ctx)
	c := dial(t, ctx, srv.Addr())
	defer c.Close()
	r := bufio.NewReader(c)

	before := metrics.Snap()
	if _, err := c.Write([]byte("VERSION:4:0:0;\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readLine(t, r, c); got != "VERSION:8:4:0:1:2:3:0;\n" {
		t.Fatalf("reply %q", got)
	}
	// split across writes
	for _, chunk := range []string{"VERS", "ION:4:0", ":0;\n"} {
		_, _ = c.Write([]byte(chunk))
		time.Sleep(5 * time.Millisecond)
	}
	if got := readLine(t, r, c); got != "VERSION:8:4:0:1:2:3:0;\n" {
		t.Fatalf("chunked reply %q", got)
	}
	if _, err := c.Write([]byte("NOPE:4:0:0;\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readLine(t, r, c); got != "HDRPACK:4:6:-1;\n" {
		t.Fatalf("error reply %q", got)
	}
	after := metrics.Snap()
	if after.PacketsRx < before.PacketsRx+3 || after.PacketsTx < before.PacketsTx+3 {
		t.Fatalf("metrics not updated: %+v -> %+v", before, after)
	}
	if len(n.Ports()) != 1 {
		t.Fatalf("ports %d", len(n.Ports()))
	}
}

func TestSmokeDisconnectRemovesPort(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, n := startNode(t, ctx)
	c := dial(t, ctx, srv.Addr())
	if !waitFor(func() bool { return len(n.Ports()) == 1 }) {
		t.Fatalf("port not added")
	}
	_ = c.Close()
	if !waitFor(func() bool { return len(n.Ports()) == 0 && srv.Clients() == 0 }) {
		t.Fatalf("port not removed: ports=%d clients=%d", len(n.Ports()), srv.Clients())
	}
}

func TestSmokeMaxClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, _ := startNode(t, ctx, WithMaxClients(1))
	c1 := dial(t, ctx, srv.Addr())
	defer c1.Close()
	if !waitFor(func() bool { return srv.Clients() == 1 }) {
		t.Fatalf("first client not registered")
	}
	c2 := dial(t, ctx, srv.Addr())
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := c2.Read(buf); err == nil || isTimeout(err) {
		t.Fatalf("expected rejected connection to be closed, got %v", err)
	}
}

func TestSmokeIdleTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv, n := startNode(t, ctx, WithReadDeadline(50*time.Millisecond))
	c := dial(t, ctx, srv.Addr())
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := c.Read(buf); err == nil || isTimeout(err) {
		t.Fatalf("expected idle client to be closed, got %v", err)
	}
	if !waitFor(func() bool { return len(n.Ports()) == 0 }) {
		t.Fatalf("idle port not removed")
	}
}

// TestGracefulShutdown ensures Shutdown closes listener and active clients.
func TestGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	srv, _ := startNode(t, ctx)
	c1 := dial(t, ctx, srv.Addr())
	c2 := dial(t, ctx, srv.Addr())
	defer c1.Close()
	defer c2.Close()
	waitFor(func() bool { return srv.Clients() == 2 })
	sdCtx, sdCancel := context.WithTimeout(context.Background(), time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown err: %v", err)
	}
	buf := make([]byte, 8)
	for _, c := range []net.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		if _, err := c.Read(buf); err == nil {
			t.Fatalf("expected read to fail after shutdown")
		}
	}
}

func TestServeNeedsPortTable(t *testing.T) {
	srv := NewServer()
	if err := srv.Serve(context.Background()); !errors.Is(err, ErrListen) {
		t.Fatalf("got %v", err)
	}
}

func TestMapErrToMetric(t *testing.T) {
	cases := map[error]string{
		ErrConnRead:         metrics.ErrTCPRead,
		ErrConnWrite:        metrics.ErrTCPWrite,
		ErrListen:           metrics.ErrTCPRead,
		ErrAddPort:          "add_port",
		ErrContext:          "context",
		errors.New("other"): "other",
	}
	for err, want := range cases {
		if got := mapErrToMetric(err); got != want {
			t.Fatalf("%v: got %q want %q", err, got, want)
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
