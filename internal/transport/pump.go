package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

const (
	defaultPumpReadSize = 4096
	defaultPumpDepth    = 64
	rxBackoffMin        = 20 * time.Millisecond
	rxBackoffMax        = 500 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// Pump reads a blocking io.Reader on its own goroutine and exposes the bytes
// as a non-blocking Source. Chunks travel through a bounded channel, so a
// stalled consumer back-pressures the reader instead of growing memory.
type Pump struct {
	ch       chan []byte
	cur      []byte
	off      int
	done     chan struct{}
	mu       sync.Mutex
	err      error
	readSize int
	depth    int
	retryEOF bool
	onError  func(error)
	onRead   func(int)
}

// PumpOption configures a Pump.
type PumpOption func(*Pump)

// WithReadSize sets the per-Read buffer size.
func WithReadSize(n int) PumpOption {
	return func(p *Pump) {
		if n > 0 {
			p.readSize = n
		}
	}
}

// WithDepth sets how many chunks may wait for the consumer.
func WithDepth(n int) PumpOption {
	return func(p *Pump) {
		if n > 0 {
			p.depth = n
		}
	}
}

// WithRetryEOF treats io.EOF as a read timeout instead of end of stream.
// Serial drivers report an idle line that way.
func WithRetryEOF() PumpOption { return func(p *Pump) { p.retryEOF = true } }

// WithErrorHook is called for every transient read error before backing off.
func WithErrorHook(fn func(error)) PumpOption { return func(p *Pump) { p.onError = fn } }

// WithReadHook is called with the size of every non-empty read.
func WithReadHook(fn func(int)) PumpOption { return func(p *Pump) { p.onRead = fn } }

// NewPump starts reading r until ctx is done or r fails permanently.
func NewPump(ctx context.Context, r io.Reader, opts ...PumpOption) *Pump {
	p := &Pump{readSize: defaultPumpReadSize, depth: defaultPumpDepth, done: make(chan struct{})}
	for _, o := range opts {
		o(p)
	}
	p.ch = make(chan []byte, p.depth)
	go p.loop(ctx, r)
	return p
}

func (p *Pump) loop(ctx context.Context, r io.Reader) {
	defer close(p.done)
	defer close(p.ch)
	backoff := rxBackoffMin
	for {
		if ctx.Err() != nil {
			p.setErr(io.EOF)
			return
		}
		buf := make([]byte, p.readSize)
		n, err := r.Read(buf)
		if n > 0 {
			if p.onRead != nil {
				p.onRead(n)
			}
			select {
			case p.ch <- buf[:n]:
			case <-ctx.Done():
				p.setErr(io.EOF)
				return
			}
			backoff = rxBackoffMin
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			p.setErr(io.EOF)
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if p.retryEOF {
				continue
			}
			p.setErr(io.EOF)
			return
		}
		var perr *os.PathError
		if errors.As(err, &perr) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			p.setErr(err)
			return
		}
		if p.onError != nil {
			p.onError(err)
		}
		sleepFn(backoff)
		backoff *= 2
		if backoff > rxBackoffMax {
			backoff = rxBackoffMax
		}
	}
}

func (p *Pump) setErr(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// Err is the terminal error once the reader goroutine has exited.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed when the reader goroutine exits.
func (p *Pump) Done() <-chan struct{} { return p.done }

// TryReadByte returns the next buffered byte without blocking. After the
// reader exits and every byte is consumed it returns the terminal error.
func (p *Pump) TryReadByte() (byte, bool, error) {
	for p.off >= len(p.cur) {
		select {
		case c, ok := <-p.ch:
			if !ok {
				err := p.Err()
				if err == nil {
					err = io.EOF
				}
				return 0, false, err
			}
			p.cur, p.off = c, 0
		default:
			return 0, false, nil
		}
	}
	b := p.cur[p.off]
	p.off++
	return b, true, nil
}
