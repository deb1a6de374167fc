package port

import (
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-ims-packets/internal/codec"
	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

const defaultReadBudget = 64

var (
	// ErrSource wraps a terminal read error from the transport.
	ErrSource = errors.New("port: source error")
	// ErrNoSink reports an interface without a writable transport.
	ErrNoSink = errors.New("port: no sink")
)

// Interface pairs one codec and its buffer with the transport handles it
// reads from and writes to.
type Interface struct {
	codec  codec.Codec
	src    transport.Source
	dst    transport.Sink
	budget int
	closed bool
}

type InterfaceOption func(*Interface)

func WithSource(s transport.Source) InterfaceOption { return func(i *Interface) { i.src = s } }
func WithSink(s transport.Sink) InterfaceOption     { return func(i *Interface) { i.dst = s } }

// WithReadBudget caps the bytes consumed per service cycle.
func WithReadBudget(n int) InterfaceOption {
	return func(i *Interface) {
		if n > 0 {
			i.budget = n
		}
	}
}

func NewInterface(c codec.Codec, opts ...InterfaceOption) *Interface {
	i := &Interface{codec: c, budget: defaultReadBudget}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Interface) Codec() codec.Codec       { return i.codec }
func (i *Interface) View() packet.View        { return i.codec.View() }
func (i *Interface) Mode() packet.Mode        { return i.codec.Mode() }
func (i *Interface) Tokens() int              { return i.codec.Tokens() }
func (i *Interface) Source() transport.Source { return i.src }
func (i *Interface) Sink() transport.Sink     { return i.dst }

// Closed reports that the source has ended.
func (i *Interface) Closed() bool { return i.closed }

// Reset returns the codec to its initial progress state.
func (i *Interface) Reset() { i.codec.Reset() }

// Poll performs read steps until a packet completes, the source has nothing
// more right now, or the read budget is spent. It never blocks. n is the
// number of bytes consumed.
func (i *Interface) Poll() (done bool, n int, err error) {
	if i.src == nil || i.closed {
		return false, 0, nil
	}
	for n < i.budget {
		b, ok, rerr := i.src.TryReadByte()
		if rerr != nil {
			i.closed = true
			if errors.Is(rerr, io.EOF) {
				return false, n, nil
			}
			return false, n, fmt.Errorf("%w: %v", ErrSource, rerr)
		}
		if !ok {
			return false, n, nil
		}
		n++
		if err := i.codec.Append(b); err != nil {
			return false, n, err
		}
		done, err := i.codec.TryComplete()
		if err != nil || done {
			return done, n, err
		}
	}
	return false, n, nil
}

// Send encodes the buffer and hands the wire bytes to the sink. The buffer is
// cleared afterwards whether or not the write succeeded, ready for the next
// packet.
func (i *Interface) Send() (int, error) {
	defer i.codec.Clear()
	if i.dst == nil {
		return 0, ErrNoSink
	}
	n, err := i.codec.Encode()
	if err != nil {
		return 0, err
	}
	if err := i.dst.WritePacket(i.codec.Wire()); err != nil {
		return 0, err
	}
	return n, nil
}
