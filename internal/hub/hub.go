package hub

import (
	"sync"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/packet"
)

const defaultOutBuf = 64

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// ParsePolicy maps "drop" and "kick" to a policy.
func ParsePolicy(s string) (BackpressurePolicy, bool) {
	switch s {
	case "drop", "":
		return PolicyDrop, true
	case "kick":
		return PolicyKick, true
	}
	return PolicyDrop, false
}

type Direction string

const (
	DirRx Direction = "rx"
	DirTx Direction = "tx"
)

// Record is one packet seen by a port, as published to observers.
type Record struct {
	Port   string         `json:"port"`
	Dir    Direction      `json:"dir"`
	At     time.Time      `json:"at"`
	Packet packet.Summary `json:"packet"`
}

type Client struct {
	Name      string
	Out       chan Record
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// NewClient creates and registers an observer sized by OutBufSize.
func (h *Hub) NewClient(name string) *Client {
	n := h.OutBufSize
	if n <= 0 {
		n = defaultOutBuf
	}
	c := &Client{Name: name, Out: make(chan Record, n), Closed: make(chan struct{})}
	h.Add(c)
	return c
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("observers_first_attached", "observer", c.Name)
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("observers_last_detached")
	}
}

// Broadcast hands a record to every observer without blocking, honoring the
// backpressure policy for observers whose queue is full.
func (h *Hub) Broadcast(r Record) {
	clients := h.Snapshot()
	if len(clients) == 0 {
		return
	}
	metrics.SetBroadcastFanout(len(clients))
	max, sum := 0, 0
	for _, c := range clients {
		l := len(c.Out)
		if l > max {
			max = l
		}
		sum += l
	}
	metrics.SetQueueDepth(max, sum/len(clients))
	for _, c := range clients {
		select {
		case <-c.Closed:
			continue
		default:
		}
		select {
		case c.Out <- r:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				logging.L().Warn("observer_kicked", "observer", c.Name)
				h.Remove(c)
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
