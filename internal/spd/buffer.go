package spd

import (
	"encoding/binary"
	"fmt"
)

// Bytes is a fixed-capacity binary token buffer. It is allocated once and
// reused for the life of an interface.
type Bytes struct {
	b     []byte
	w     Width
	order binary.ByteOrder
}

// NewBytes allocates count tokens of width w. A nil order means little-endian.
func NewBytes(count int, w Width, order binary.ByteOrder) *Bytes {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Bytes{b: make([]byte, count*int(w)), w: w, order: order}
}

func (b *Bytes) Width() Width            { return b.w }
func (b *Bytes) Order() binary.ByteOrder { return b.order }
func (b *Bytes) Len() int                { return len(b.b) }
func (b *Bytes) Tokens() int             { return len(b.b) / int(b.w) }
func (b *Bytes) Raw() []byte             { return b.b }
func (b *Bytes) Clear()                  { clear(b.b) }
func (b *Bytes) inRange(i, n int) bool   { return i >= 0 && i+n <= len(b.b) }

func (b *Bytes) tokenRange(i int) (int, bool) {
	return i * int(b.w), i >= 0 && i < b.Tokens()
}

// SetByte writes raw byte i.
func (b *Bytes) SetByte(i int, v byte) error {
	if !b.inRange(i, 1) {
		return fmt.Errorf("%w: byte %d of %d", ErrOutOfRange, i, len(b.b))
	}
	b.b[i] = v
	return nil
}

// Token reads token i.
func (b *Bytes) Token(i int) (Token, error) {
	off, ok := b.tokenRange(i)
	if !ok {
		return Token{}, fmt.Errorf("%w: token %d of %d", ErrOutOfRange, i, b.Tokens())
	}
	p := b.b[off : off+int(b.w)]
	var v uint64
	switch b.w {
	case W1:
		v = uint64(p[0])
	case W2:
		v = uint64(b.order.Uint16(p))
	case W4:
		v = uint64(b.order.Uint32(p))
	case W8:
		v = b.order.Uint64(p)
	}
	return Token{W: b.w, Bits: v}, nil
}

// PutToken writes token i. The token is truncated to the buffer width.
func (b *Bytes) PutToken(i int, t Token) error {
	off, ok := b.tokenRange(i)
	if !ok {
		return fmt.Errorf("%w: token %d of %d", ErrOutOfRange, i, b.Tokens())
	}
	p := b.b[off : off+int(b.w)]
	v := t.Bits & b.w.mask()
	switch b.w {
	case W1:
		p[0] = byte(v)
	case W2:
		b.order.PutUint16(p, uint16(v))
	case W4:
		b.order.PutUint32(p, uint32(v))
	case W8:
		b.order.PutUint64(p, v)
	}
	return nil
}

// Chars is a fixed-capacity ASCII token buffer of fixed-width slots.
type Chars struct {
	c []byte
	s Sizing
}

// NewChars allocates a buffer of s.CharCount() characters.
func NewChars(s Sizing) *Chars { return &Chars{c: make([]byte, s.CharCount()), s: s} }

func (c *Chars) Sizing() Sizing { return c.s }
func (c *Chars) Len() int       { return len(c.c) }
func (c *Chars) Raw() []byte    { return c.c }
func (c *Chars) Clear()         { clear(c.c) }

// SetByte writes raw character i.
func (c *Chars) SetByte(i int, v byte) error {
	if i < 0 || i >= len(c.c) {
		return fmt.Errorf("%w: char %d of %d", ErrOutOfRange, i, len(c.c))
	}
	c.c[i] = v
	return nil
}

func (c *Chars) slot(i int) ([]byte, error) {
	if i < 0 || i >= c.s.TokenCount {
		return nil, fmt.Errorf("%w: slot %d of %d", ErrOutOfRange, i, c.s.TokenCount)
	}
	return c.c[c.s.SlotStart(i):c.s.SlotEnd(i)], nil
}

// Text returns slot i up to its first zero.
func (c *Chars) Text(i int) (string, error) {
	p, err := c.slot(i)
	if err != nil {
		return "", err
	}
	for j, ch := range p {
		if ch == 0 {
			return string(p[:j]), nil
		}
	}
	return string(p), nil
}

// SetText stores s in slot i and zero-fills the rest. One character of every
// slot is reserved for the terminating zero.
func (c *Chars) SetText(i int, s string) error {
	p, err := c.slot(i)
	if err != nil {
		return err
	}
	if len(s) > len(p)-1 {
		return fmt.Errorf("%w: %q exceeds %d chars in slot %d", ErrFieldOverflow, s, len(p)-1, i)
	}
	n := copy(p, s)
	clear(p[n:])
	return nil
}

// ParseByteOrder accepts "little"/"le" and "big"/"be". Empty means little.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch s {
	case "", "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", s)
}
