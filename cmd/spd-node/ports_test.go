package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/node"
	"github.com/kstaniek/go-ims-packets/internal/port"
	"github.com/kstaniek/go-ims-packets/internal/serial"
)

// fakeSerialPort implements serial.Port for tests.
type fakeSerialPort struct {
	mu     sync.Mutex
	reads  [][]byte
	idx    int
	writes bytes.Buffer
	closed bool
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.idx >= len(f.reads) {
		f.mu.Unlock()
		// idle line: tarm/serial reports a read timeout as EOF
		time.Sleep(5 * time.Millisecond)
		return 0, io.EOF
	}
	chunk := f.reads[f.idx]
	f.idx++
	f.mu.Unlock()
	return copy(p, chunk), nil
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes.Write(p)
}

func (f *fakeSerialPort) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSerialPort) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes.String()
}

// syncBuffer is a goroutine-safe console replacement.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// runUntil drives n until cond holds or a second passes.
func runUntil(n *node.Node, cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n.Loop()
		n.ServiceAsyncPorts()
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

const devVersionReply = "VERSION:8:4:0:0:0:0:1;\n"

func TestSerialResponderPort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &fakeSerialPort{reads: [][]byte{[]byte("VERS"), []byte("ION:4:0:0;\n")}}
	openSerialPort = func(name string, baud int, to time.Duration) (serial.Port, error) {
		if name != "/dev/fake" || baud != 9600 {
			t.Errorf("open %s %d", name, baud)
		}
		return fake, nil
	}
	defer func() { openSerialPort = serial.Open }()

	cfg := defaultConfig()
	cfg.serialDev = "/dev/fake"
	cfg.baud = 9600
	api := node.NewAPI(nil, node.WithVersion(nodeVersion(version)))
	ports, cleanup, err := initPorts(ctx, cfg, api, logging.Discard())
	if err != nil {
		t.Fatalf("initPorts: %v", err)
	}
	if len(ports) != 1 || ports[0].Name() != "uart0" || ports[0].Role() != port.Responder {
		t.Fatalf("ports %v", ports)
	}
	n := node.New(node.WithLogger(logging.Discard()))
	_ = n.AddPort(ports[0])
	if !runUntil(n, func() bool { return fake.written() == devVersionReply }) {
		t.Fatalf("serial reply %q", fake.written())
	}
	cleanup()
	fake.mu.Lock()
	closed := fake.closed
	fake.mu.Unlock()
	if !closed {
		t.Fatalf("cleanup did not close the device")
	}
}

func TestFileReplayPort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	stdout = out
	defer func() { stdout = os.Stdout }()

	path := filepath.Join(t.TempDir(), "capture.txt")
	if err := os.WriteFile(path, []byte("VERSION:4:0:0;\nFOO:4:0:0;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := defaultConfig()
	cfg.ports = []portSpec{{Name: "replay", Kind: kindFile, Device: path, Async: true}}
	api := node.NewAPI(nil, node.WithVersion(nodeVersion(version)))
	ports, cleanup, err := initPorts(ctx, cfg, api, logging.Discard())
	if err != nil {
		t.Fatalf("initPorts: %v", err)
	}
	defer cleanup()
	if !ports[0].IsAsync() {
		t.Fatalf("async flag lost")
	}
	n := node.New(node.WithLogger(logging.Discard()))
	_ = n.AddPort(ports[0])
	want := devVersionReply + "HDRPACK:4:6:-1;\n"
	if !runUntil(n, func() bool { return out.String() == want && len(n.Ports()) == 0 }) {
		t.Fatalf("replay output %q ports %d", out.String(), len(n.Ports()))
	}
}

func TestInitPortsErrors(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.ports = []portSpec{{Name: "missing", Kind: kindFile, Device: filepath.Join(t.TempDir(), "nope")}}
	if _, _, err := initPorts(ctx, cfg, node.NewAPI(nil), logging.Discard()); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected file error, got %v", err)
	}
	cfg.ports = []portSpec{{Name: "s", Kind: kindStdio, Poll: []string{"NOPE"}}}
	stdinFD = func() int { return 0 }
	defer func() { stdinFD = func() int { return int(os.Stdin.Fd()) } }()
	if _, _, err := initPorts(ctx, cfg, node.NewAPI(nil), logging.Discard()); err == nil {
		t.Fatalf("expected unknown poll packet error")
	}
}

func TestTCPPortFactory(t *testing.T) {
	cfg := defaultConfig()
	cfg.wire = "binary"
	cfg.tokenWidth = 2
	p, err := tcpPortFactory(cfg, node.NewAPI(nil))("tcp-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "tcp-1" || p.Role() != port.Responder || p.Input().Mode().String() != "binary" {
		t.Fatalf("port %s %v", p.Name(), p.Role())
	}
}
