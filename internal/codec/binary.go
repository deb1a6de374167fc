package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/spd"
)

// Binary decodes and encodes fixed-width token packets. Completion is driven
// by the Length header, which holds the total byte count.
type Binary struct {
	buf    *spd.Bytes
	w      int
	index  int
	last   int
	token  int
	length int
	tokens int
	wire   int
}

// NewBinary allocates a codec for s.TokenCount tokens of width w. A nil
// order means little-endian.
func NewBinary(s spd.Sizing, w spd.Width, order binary.ByteOrder) *Binary {
	return &Binary{buf: spd.NewBytes(s.TokenCount, w, order), w: int(w)}
}

func (c *Binary) Mode() packet.Mode { return packet.Binary }
func (c *Binary) View() packet.View { return packet.Bind(nil, c.buf) }
func (c *Binary) Tokens() int       { return c.tokens }
func (c *Binary) Wire() []byte      { return c.buf.Raw()[:c.wire] }

func (c *Binary) Progress() Progress {
	return Progress{Index: c.index, Last: c.last, Token: c.token, Length: c.length}
}

func (c *Binary) Reset() {
	c.index, c.last, c.token, c.length = 0, 0, 0, 0
}

func (c *Binary) Clear() {
	c.buf.Clear()
	c.Reset()
	c.wire = 0
}

func (c *Binary) Append(b byte) error {
	if c.index >= c.buf.Len() {
		return fmt.Errorf("%w: byte %d of %d", ErrBufferBounds, c.index, c.buf.Len())
	}
	if c.index == 0 {
		// a shorter packet must not inherit the previous payload
		c.buf.Clear()
	}
	if err := c.buf.SetByte(c.index, b); err != nil {
		return fmt.Errorf("%w: %v", ErrBufferBounds, err)
	}
	c.index++
	return nil
}

func (c *Binary) TryComplete() (bool, error) {
	if c.index == c.last || c.index%c.w != 0 {
		return false, nil
	}
	c.last = c.index
	c.token = c.index / c.w
	if c.token == packet.IdxLength+1 {
		n, err := packet.Get[int64](c.View(), packet.IdxLength)
		if err != nil {
			c.Reset()
			return false, fmt.Errorf("%w: %v", ErrFraming, err)
		}
		if err := c.checkLength(n); err != nil {
			c.Reset()
			return false, fmt.Errorf("%w: %v", ErrFraming, err)
		}
		c.length = int(n)
	}
	if c.length > 0 && c.index == c.length {
		c.tokens = c.length / c.w
		c.Reset()
		return true, nil
	}
	return false, nil
}

func (c *Binary) checkLength(n int64) error {
	switch {
	case n < int64(spd.HeaderTokens*c.w):
		return fmt.Errorf("length %d shorter than header", n)
	case n%int64(c.w) != 0:
		return fmt.Errorf("length %d not a multiple of width %d", n, c.w)
	case n > int64(c.buf.Len()):
		return fmt.Errorf("length %d exceeds capacity %d", n, c.buf.Len())
	}
	return nil
}

// Encode is a pass-through: the dispatcher wrote tokens in wire order. Only
// the Length header is validated.
func (c *Binary) Encode() (int, error) {
	c.wire = 0
	n, err := packet.Get[int64](c.View(), packet.IdxLength)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSizeMismatch, err)
	}
	if err := c.checkLength(n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSizeMismatch, err)
	}
	c.wire = int(n)
	return c.wire, nil
}
