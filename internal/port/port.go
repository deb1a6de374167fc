package port

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kstaniek/go-ims-packets/internal/codec"
	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/packet"
)

const (
	DefaultQueueDepth    = 8
	DefaultCyclesToReset = 1000
)

// ErrFaulted marks a port taken out of service after a buffer bounds
// violation. The node drops faulted ports.
var ErrFaulted = errors.New("port: faulted")

// ErrStall is logged when a waiting port exhausts its idle cycle budget.
var ErrStall = errors.New("port: idle cycle budget exceeded")

// Role decides which side of an exchange a port initiates.
type Role int

const (
	Responder Role = iota
	Sender
	FullCyclic
	FileSystem
)

var roleNames = [...]string{"responder", "sender", "fullcyclic", "filesystem"}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range roleNames {
		if s == n {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown port role %q", s)
}

// Accepts reports whether a port of this role handles inbound packets of
// type t. Responders take requests and senders take responses. A file
// system port only accepts writes.
func (r Role) Accepts(t packet.Type) bool {
	switch r {
	case Responder:
		return t >= packet.ReadComplete && t <= packet.WriteTokenAt
	case Sender:
		return t >= packet.ResponseComplete && t <= packet.ResponseHeaderOnly
	case FullCyclic:
		return t == packet.FullCyclicPartner
	case FileSystem:
		return t == packet.WriteComplete || t == packet.WriteTokenAt
	}
	return false
}

type State int

const (
	StateInit State = iota
	StateReading
	StateHandling
	StateSending
	StateSent
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReading:
		return "reading"
	case StateHandling:
		return "handling"
	case StateSending:
		return "sending"
	case StateSent:
		return "sent"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Dispatcher is the application side of a port. OnReceive sees every
// completed inbound packet. PrepareSend fills the outbound view and reports
// whether there is something to send this cycle.
type Dispatcher interface {
	OnReceive(p *Port, v packet.View)
	PrepareSend(p *Port, v packet.View) bool
}

// Stats are owned by the goroutine servicing the port.
type Stats struct {
	Rx, Tx      uint64
	Framing     uint64
	Stalls      uint64
	SendErrors  uint64
	BytesRx     uint64
	BytesTx     uint64
	QueueDrops  uint64
	SourceError error
}

// Port is one endpoint of the node: an inbound and an outbound interface,
// a role, and the state machine that alternates reading and sending.
type Port struct {
	name  string
	role  Role
	in    *Interface
	out   *Interface
	disp  Dispatcher
	async bool

	state         State
	idle          int
	cyclesToReset int
	queue         *Queue
	poll          []Request
	pollNext      int
	fault         error
	stats         Stats
	log           *slog.Logger
}

type Option func(*Port)

func WithRole(r Role) Option { return func(p *Port) { p.role = r } }

// WithAsync marks the port as serviced outside the synchronous node loop.
func WithAsync() Option { return func(p *Port) { p.async = true } }

// WithCyclesToReset sets how many empty read cycles a waiting port tolerates
// before it gives up on the exchange. Zero disables the reset.
func WithCyclesToReset(n int) Option { return func(p *Port) { p.cyclesToReset = n } }

func WithQueueDepth(n int) Option { return func(p *Port) { p.queue = NewQueue(n) } }

// WithPoll installs the requests a sender cycles through when its queue is empty.
func WithPoll(reqs ...Request) Option {
	return func(p *Port) { p.poll = append([]Request(nil), reqs...) }
}

func WithLogger(l *slog.Logger) Option { return func(p *Port) { p.log = l } }

// New builds a port. in and out must not share a codec: the inbound packet
// stays readable while the reply is assembled.
func New(name string, in, out *Interface, d Dispatcher, opts ...Option) *Port {
	p := &Port{
		name:          name,
		in:            in,
		out:           out,
		disp:          d,
		cyclesToReset: DefaultCyclesToReset,
		queue:         NewQueue(DefaultQueueDepth),
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = logging.L()
	}
	p.log = p.log.With("port", name, "role", p.role.String())
	return p
}

func (p *Port) Name() string         { return p.name }
func (p *Port) Role() Role           { return p.role }
func (p *Port) State() State         { return p.state }
func (p *Port) IsAsync() bool        { return p.async }
func (p *Port) Input() *Interface    { return p.in }
func (p *Port) Output() *Interface   { return p.out }
func (p *Port) Stats() Stats         { return p.stats }
func (p *Port) Fault() error         { return p.fault }
func (p *Port) Logger() *slog.Logger { return p.log }
func (p *Port) QueueLen() int        { return p.queue.Len() }

// Closed reports that the inbound source has ended.
func (p *Port) Closed() bool { return p.in != nil && p.in.Closed() }

// Enqueue schedules a packet for sending.
func (p *Port) Enqueue(id int, t packet.Type, option int64) error {
	err := p.queue.Enqueue(Request{ID: id, Type: t, Option: option})
	if errors.Is(err, ErrQueueFull) {
		p.stats.QueueDrops++
		metrics.IncQueueDrop()
		p.log.Warn("port_queue_full", "id", id, "type", t.String())
	}
	return err
}

func (p *Port) Peek() (Request, bool)    { return p.queue.Peek() }
func (p *Port) Dequeue() (Request, bool) { return p.queue.Dequeue() }

// NextPoll returns the next entry of the poll list, round robin.
func (p *Port) NextPoll() (Request, bool) {
	if len(p.poll) == 0 {
		return Request{}, false
	}
	r := p.poll[p.pollNext%len(p.poll)]
	p.pollNext++
	return r, true
}

// StartRead arms a file system port to receive packets until it has been
// idle for the cycle budget.
func (p *Port) StartRead() {
	p.in.Reset()
	p.idle = 0
	p.setState(StateReading)
}

// StartWrite arms a file system port to drain its queue.
func (p *Port) StartWrite() { p.setState(StateSending) }

func (p *Port) setState(s State) {
	if p.state != s {
		p.log.Debug("port_state", "from", p.state.String(), "to", s.String())
	}
	p.state = s
}

// Service runs one cycle of the port. Recoverable conditions (framing,
// stalls, send failures) are counted and logged. Only a fault is returned.
func (p *Port) Service() error {
	if p.fault != nil {
		return fmt.Errorf("%w: %v", ErrFaulted, p.fault)
	}
	switch p.role {
	case FullCyclic:
		return p.serviceFullCyclic()
	case FileSystem:
		return p.serviceFileSystem()
	}
	return p.serviceExchange()
}

func (p *Port) serviceExchange() error {
	switch p.state {
	case StateInit:
		if p.role == Sender {
			p.setState(StateHandling)
		} else {
			p.setState(StateReading)
		}
		return nil
	case StateReading:
		done, err := p.read()
		if err != nil {
			return p.readFailed(err)
		}
		if !done {
			p.idle++
			if p.role == Sender && p.cyclesToReset > 0 && p.idle > p.cyclesToReset {
				p.stall()
			}
			return nil
		}
		p.idle = 0
		p.receive()
		p.setState(StateHandling)
		fallthrough
	case StateHandling:
		if !p.disp.PrepareSend(p, p.out.View()) {
			return nil
		}
		p.setState(StateSending)
		fallthrough
	case StateSending:
		sent, err := p.send()
		if !sent {
			p.setState(StateInit)
			return err
		}
		p.setState(StateSent)
	case StateSent:
		p.setState(StateReading)
	}
	return nil
}

// Full cyclic partners read and write every cycle without taking turns.
func (p *Port) serviceFullCyclic() error {
	p.setState(StateReading)
	done, err := p.read()
	if err != nil {
		if ferr := p.readFailed(err); ferr != nil {
			return ferr
		}
	} else if done {
		p.receive()
	}
	if p.disp.PrepareSend(p, p.out.View()) {
		_, err := p.send()
		return err
	}
	return nil
}

// File system ports read until the idle budget runs out and write until the
// queue is empty.
func (p *Port) serviceFileSystem() error {
	switch p.state {
	case StateReading:
		done, err := p.read()
		if err != nil {
			return p.readFailed(err)
		}
		if done {
			p.idle = 0
			p.receive()
			return nil
		}
		p.idle++
		if p.cyclesToReset > 0 && p.idle > p.cyclesToReset {
			p.stall()
			p.setState(StateInit)
		}
	case StateSending:
		if p.queue.Len() == 0 {
			p.setState(StateInit)
			return nil
		}
		if p.disp.PrepareSend(p, p.out.View()) {
			_, err := p.send()
			return err
		}
	}
	return nil
}

func (p *Port) read() (bool, error) {
	done, n, err := p.in.Poll()
	if n > 0 {
		p.stats.BytesRx += uint64(n)
		metrics.AddBytesRx(n)
	}
	return done, err
}

func (p *Port) receive() {
	p.stats.Rx++
	metrics.IncRx(p.name)
	p.disp.OnReceive(p, p.in.View())
}

func (p *Port) stall() {
	p.idle = 0
	p.stats.Stalls++
	p.in.Reset()
	metrics.IncStallReset()
	p.log.Info("port_stall_reset", "cycles", p.cyclesToReset, "error", ErrStall)
	p.setState(StateInit)
}

func (p *Port) readFailed(err error) error {
	switch {
	case errors.Is(err, codec.ErrBufferBounds):
		return p.faulted(err)
	case errors.Is(err, codec.ErrFraming):
		// The codec has already reset itself.
		p.stats.Framing++
		metrics.IncFraming(p.name)
		p.log.Debug("port_framing_error", "error", err)
		p.setState(StateInit)
		return nil
	default:
		p.stats.SourceError = err
		metrics.IncError(metrics.ErrSourceRead)
		p.log.Warn("port_source_closed", "error", err)
		return nil
	}
}

func (p *Port) faulted(err error) error {
	p.fault = err
	metrics.IncPortFault()
	metrics.IncError(metrics.ErrBufferBounds)
	p.log.Error("port_fault", "error", err)
	return fmt.Errorf("%w: %v", ErrFaulted, err)
}

// send encodes and writes the outbound packet. sent is false when nothing
// reached the sink; err is only set for a fault.
func (p *Port) send() (sent bool, err error) {
	n, err := p.out.Send()
	if err == nil {
		p.stats.Tx++
		p.stats.BytesTx += uint64(n)
		metrics.IncTx(p.name)
		metrics.AddBytesTx(n)
		return true, nil
	}
	p.stats.SendErrors++
	switch {
	case errors.Is(err, codec.ErrBufferBounds):
		return false, p.faulted(err)
	case errors.Is(err, codec.ErrSizeMismatch):
		metrics.IncSizeMismatch()
	case errors.Is(err, codec.ErrMalformedPacket):
		metrics.IncError(metrics.ErrEncode)
	}
	p.log.Warn("port_send_failed", "error", err)
	return false, nil
}
