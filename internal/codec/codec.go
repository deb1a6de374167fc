// Package codec implements the incremental packet codecs. A codec assembles
// one packet from bytes appended one at a time and never blocks; progress is
// carried between calls so a packet may straddle any number of service cycles.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/spd"
)

var (
	// ErrFraming reports a malformed inbound sequence. The codec has already
	// reset when this is returned.
	ErrFraming = errors.New("codec: framing error")
	// ErrSizeMismatch reports an outbound Length that cannot describe a packet.
	ErrSizeMismatch = errors.New("codec: size mismatch")
	// ErrBufferBounds reports an attempt to index past the fixed buffer.
	ErrBufferBounds = errors.New("codec: buffer bounds")
	// ErrMalformedPacket reports an outbound buffer that cannot be serialized.
	ErrMalformedPacket = errors.New("codec: malformed packet")
)

// Codec is the per-interface incremental state machine.
type Codec interface {
	// Append stores one inbound byte at the current index.
	Append(b byte) error
	// TryComplete evaluates the bytes appended so far. It returns true once
	// per complete packet; the packet stays in the buffer until the next
	// Append starts another one.
	TryComplete() (bool, error)
	// Encode prepares the buffer for transmission and returns the wire size.
	Encode() (int, error)
	// Wire is the serialized packet after a successful Encode.
	Wire() []byte
	// View is the packet view bound to the codec buffer.
	View() packet.View
	// Tokens is the token count of the last completed packet.
	Tokens() int
	// Reset returns progress state to initial values, keeping buffer contents.
	Reset()
	// Clear zeroes the buffer and resets.
	Clear()
	Progress() Progress
	Mode() packet.Mode
}

// Progress is a snapshot of codec indices.
type Progress struct {
	Index  int // next byte/char position
	Last   int // index observed by the previous TryComplete
	Token  int // token being assembled
	Length int // captured Length header, binary only
}

// New builds a codec for the given wire mode. w and order only apply to
// binary codecs.
func New(m packet.Mode, s spd.Sizing, w spd.Width, order binary.ByteOrder) (Codec, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch m {
	case packet.ASCII:
		return NewASCII(s), nil
	case packet.Binary:
		if !w.Valid() {
			return nil, fmt.Errorf("%w: %d", spd.ErrWidth, w)
		}
		return NewBinary(s, w, order), nil
	}
	return nil, fmt.Errorf("unknown wire mode %v", m)
}
