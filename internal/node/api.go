package node

import (
	"sync"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/hub"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/port"
)

// Handler consumes a resolved inbound packet.
type Handler func(p *port.Port, v packet.View)

// Packager fills the payload of an outbound packet. The header is already
// written when it runs.
type Packager func(p *port.Port, v packet.View, r port.Request) error

// Version is the payload of a VERSION packet.
type Version struct {
	Major, Minor, Build, DevFlag uint32
}

// API is the node's dispatcher. It resolves packets against a registry and
// routes them to per-ID handlers and packagers, with built-in behavior for
// VERSION and HDRPACK.
type API struct {
	reg       *packet.Registry
	hub       *hub.Hub
	local     Version
	handlers  map[int]Handler
	packagers map[int]Packager

	mu    sync.RWMutex
	peers map[string]Version
}

type APIOption func(*API)

// WithHub broadcasts every received and sent packet to h.
func WithHub(h *hub.Hub) APIOption { return func(a *API) { a.hub = h } }

// WithVersion sets the version this node reports.
func WithVersion(v Version) APIOption { return func(a *API) { a.local = v } }

func NewAPI(reg *packet.Registry, opts ...APIOption) *API {
	if reg == nil {
		reg = packet.DefaultRegistry()
	}
	a := &API{
		reg:       reg,
		handlers:  map[int]Handler{},
		packagers: map[int]Packager{},
		peers:     map[string]Version{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *API) Registry() *packet.Registry { return a.reg }

// Handle installs h for packets with the given ID, replacing the default.
// Not safe to call while ports are being serviced.
func (a *API) Handle(id int, h Handler) { a.handlers[id] = h }

// Package installs fn for outbound packets with the given ID.
func (a *API) Package(id int, fn Packager) { a.packagers[id] = fn }

// PeerVersion returns the last VERSION reply received on the named port.
func (a *API) PeerVersion(portName string) (Version, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.peers[portName]
	return v, ok
}

// OnReceive dispatches an inbound packet. A responder always ends up with a
// reply queued; requests nothing answers are acknowledged with HDRPACK.
func (a *API) OnReceive(p *port.Port, v packet.View) {
	queued := p.QueueLen()
	a.dispatch(p, v)
	if p.Role() == port.Responder && p.QueueLen() == queued {
		_ = p.Enqueue(packet.HDRPACK.ID, packet.ResponseHeaderOnly, 0)
	}
}

func (a *API) dispatch(p *port.Port, v packet.View) {
	rv, err := a.reg.Resolve(v)
	a.observe(p, hub.DirRx, rv, p.Input().Tokens())
	if err != nil {
		id := -1
		if rv.Mode() == packet.Binary {
			if n, err := packet.Get[int64](rv.As(nil), packet.IdxID); err == nil {
				id = int(n)
			}
		}
		a.unsupported(p, id, "unknown packet", err)
		return
	}
	d := rv.Descriptor()
	typ, err := rv.Type()
	if err != nil || !p.Role().Accepts(typ) {
		a.unsupported(p, d.ID, "type not accepted", err)
		return
	}
	if h, ok := a.handlers[d.ID]; ok {
		h(p, rv)
		return
	}
	switch d {
	case packet.VERSION:
		a.handleVersion(p, rv, typ)
	case packet.HDRPACK:
		switch typ {
		case packet.ReadComplete:
			_ = p.Enqueue(packet.HDRPACK.ID, packet.ResponseHeaderOnly, 0)
		case packet.ResponseHeaderOnly:
			opt, _ := rv.Option()
			p.Logger().Debug("peer_header_reply", "option", opt)
		}
	default:
		if typ == packet.ReadComplete || typ == packet.ReadTokenAt {
			a.unsupported(p, d.ID, "no handler", nil)
		}
	}
}

func (a *API) handleVersion(p *port.Port, v packet.View, typ packet.Type) {
	switch typ {
	case packet.ReadComplete:
		_ = p.Enqueue(packet.VERSION.ID, packet.ResponseComplete, 0)
	case packet.ResponseComplete:
		var pv Version
		pv.Major, _ = packet.GetField[uint32](v, "Major")
		pv.Minor, _ = packet.GetField[uint32](v, "Minor")
		pv.Build, _ = packet.GetField[uint32](v, "Build")
		pv.DevFlag, _ = packet.GetField[uint32](v, "DevFlag")
		a.mu.Lock()
		a.peers[p.Name()] = pv
		a.mu.Unlock()
		p.Logger().Info("peer_version", "major", pv.Major, "minor", pv.Minor, "build", pv.Build)
	}
}

// unsupported counts the packet and, on a responder, queues an HDRPACK
// error reply carrying the offending ID in Option.
func (a *API) unsupported(p *port.Port, id int, reason string, err error) {
	metrics.IncUnsupported()
	p.Logger().Debug("packet_unsupported", "id", id, "reason", reason, "error", err)
	if p.Role() == port.Responder {
		_ = p.Enqueue(packet.HDRPACK.ID, packet.ResponseHeaderOnly, int64(id))
	}
}

func (a *API) PrepareSend(p *port.Port, v packet.View) bool {
	r, ok := p.Dequeue()
	if !ok {
		if p.Role() != port.Sender && p.Role() != port.FullCyclic {
			return false
		}
		if r, ok = p.NextPoll(); !ok {
			return false
		}
	}
	d, ok := a.reg.ByID(r.ID)
	if !ok {
		p.Logger().Warn("package_unknown_id", "id", r.ID)
		return a.errorReply(p, v, r.ID)
	}
	v = v.As(d)
	v.Clear()
	if err := v.WriteHeader(r.Type, r.Option); err != nil {
		p.Logger().Warn("package_header_failed", "packet", d.Name, "error", err)
		return a.errorReply(p, v, r.ID)
	}
	if err := a.pack(p, v, r); err != nil {
		p.Logger().Warn("package_failed", "packet", d.Name, "error", err)
		return a.errorReply(p, v, r.ID)
	}
	a.observe(p, hub.DirTx, v, 0)
	return true
}

// errorReply replaces a reply that could not be packaged with an HDRPACK
// carrying the failed ID. Only responders owe a reply.
func (a *API) errorReply(p *port.Port, v packet.View, id int) bool {
	if p.Role() != port.Responder {
		return false
	}
	metrics.IncUnsupported()
	v = v.As(packet.HDRPACK)
	v.Clear()
	if err := v.WriteHeader(packet.ResponseHeaderOnly, int64(id)); err != nil {
		return false
	}
	a.observe(p, hub.DirTx, v, 0)
	return true
}

func (a *API) pack(p *port.Port, v packet.View, r port.Request) error {
	if r.Type == packet.ReadComplete || r.Type == packet.ResponseHeaderOnly {
		return HeaderOnly(v)
	}
	if fn, ok := a.packagers[r.ID]; ok {
		return fn(p, v, r)
	}
	if v.Descriptor() == packet.VERSION {
		for _, f := range []struct {
			name string
			val  uint32
		}{{"Major", a.local.Major}, {"Minor", a.local.Minor}, {"Build", a.local.Build}, {"DevFlag", a.local.DevFlag}} {
			if err := packet.SetField(v, f.name, f.val); err != nil {
				return err
			}
		}
	}
	return nil
}

// HeaderOnly shrinks the Length header of v to the four header tokens.
func HeaderOnly(v packet.View) error {
	if v.Mode() == packet.ASCII {
		return packet.Set(v, packet.IdxLength, int64(4))
	}
	return packet.Set(v, packet.IdxLength, int64(4*int(v.Width())))
}

func (a *API) observe(p *port.Port, dir hub.Direction, v packet.View, tokens int) {
	if a.hub == nil || a.hub.Count() == 0 {
		return
	}
	a.hub.Broadcast(hub.Record{Port: p.Name(), Dir: dir, At: time.Now(), Packet: packet.Summarize(v, tokens)})
}

var _ port.Dispatcher = (*API)(nil)
