package transport

import (
	"bytes"
	"io"
	"sync"
)

// Buffer is an in-memory Source and Sink. Input is fed explicitly, written
// packets are recorded. Used for file replay and tests.
type Buffer struct {
	mu      sync.Mutex
	in      []byte
	out     [][]byte
	closed  bool
	failErr error
}

// NewBuffer returns a Buffer preloaded with in.
func NewBuffer(in []byte) *Buffer { return &Buffer{in: bytes.Clone(in)} }

// Feed appends more input.
func (b *Buffer) Feed(p []byte) {
	b.mu.Lock()
	b.in = append(b.in, p...)
	b.mu.Unlock()
}

// CloseInput marks the input ended; once drained TryReadByte reports io.EOF.
func (b *Buffer) CloseInput() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// FailWrites makes every later WritePacket return err.
func (b *Buffer) FailWrites(err error) {
	b.mu.Lock()
	b.failErr = err
	b.mu.Unlock()
}

func (b *Buffer) TryReadByte() (byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.in) == 0 {
		if b.closed {
			return 0, false, io.EOF
		}
		return 0, false, nil
	}
	c := b.in[0]
	b.in = b.in[1:]
	return c, true, nil
}

// Pending is the number of unread input bytes.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.in)
}

func (b *Buffer) WritePacket(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		return b.failErr
	}
	b.out = append(b.out, bytes.Clone(p))
	return nil
}

// Written returns copies of every packet written so far.
func (b *Buffer) Written() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.out))
	for i, p := range b.out {
		out[i] = bytes.Clone(p)
	}
	return out
}
