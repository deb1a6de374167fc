package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/port"
)

const DefaultCycle = time.Millisecond

var ErrDuplicatePort = errors.New("node: duplicate port name")

// Node owns the port table and drives every synchronous port once per cycle.
// Ports may be added and removed from any goroutine; servicing happens on the
// goroutine calling Loop or Run.
type Node struct {
	mu     sync.Mutex
	ports  []*port.Port
	cycle  time.Duration
	custom func()
	log    *slog.Logger
}

type Option func(*Node)

func WithCycle(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.cycle = d
		}
	}
}

// WithCustomLoop installs application work run at the start of every cycle.
func WithCustomLoop(fn func()) Option { return func(n *Node) { n.custom = fn } }

func WithLogger(l *slog.Logger) Option { return func(n *Node) { n.log = l } }

func New(opts ...Option) *Node {
	n := &Node{cycle: DefaultCycle}
	for _, o := range opts {
		o(n)
	}
	if n.log == nil {
		n.log = logging.L()
	}
	return n
}

func (n *Node) AddPort(p *port.Port) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, q := range n.ports {
		if q.Name() == p.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicatePort, p.Name())
		}
	}
	n.ports = append(n.ports, p)
	metrics.SetPorts(len(n.ports))
	n.log.Info("port_added", "port", p.Name(), "role", p.Role().String(), "async", p.IsAsync())
	return nil
}

// RemovePort drops the named port. It reports whether the port existed.
func (n *Node) RemovePort(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, p := range n.ports {
		if p.Name() == name {
			n.ports = append(n.ports[:i], n.ports[i+1:]...)
			metrics.SetPorts(len(n.ports))
			return true
		}
	}
	return false
}

func (n *Node) Port(name string) (*port.Port, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.ports {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Ports returns a copy of the port table.
func (n *Node) Ports() []*port.Port {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*port.Port(nil), n.ports...)
}

// Loop runs one cycle: the custom hook, then every synchronous port.
func (n *Node) Loop() {
	if n.custom != nil {
		n.custom()
	}
	n.ServiceSynchronousPorts()
}

func (n *Node) ServiceSynchronousPorts() {
	for _, p := range n.Ports() {
		if !p.IsAsync() {
			n.service(p)
		}
	}
}

// ServiceAsyncPorts services the ports Loop skips. Scheduling them is left
// to the caller.
func (n *Node) ServiceAsyncPorts() {
	for _, p := range n.Ports() {
		if p.IsAsync() {
			n.service(p)
		}
	}
}

func (n *Node) service(p *port.Port) {
	if err := p.Service(); err != nil {
		n.log.Error("port_dropped", "port", p.Name(), "error", err)
		n.RemovePort(p.Name())
		return
	}
	if p.Closed() {
		n.log.Info("port_closed", "port", p.Name())
		n.RemovePort(p.Name())
	}
}

// Run calls Loop every cycle until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	t := time.NewTicker(n.cycle)
	defer t.Stop()
	n.log.Info("node_started", "cycle", n.cycle.String(), "ports", len(n.Ports()))
	for {
		select {
		case <-ctx.Done():
			n.log.Info("node_stopped")
			return nil
		case <-t.C:
			n.Loop()
		}
	}
}
