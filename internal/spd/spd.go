// Package spd holds the serial parameter data (SPD) primitives shared by every
// node: token widths, token values, ecosystem sizing and the fixed-capacity
// buffers packets are laid over.
package spd

import (
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

var (
	// ErrOutOfRange reports an index outside a fixed buffer.
	ErrOutOfRange = errors.New("spd: index out of range")
	// ErrFieldOverflow reports text that does not fit its fixed slot.
	ErrFieldOverflow = errors.New("spd: field overflow")
	// ErrWidth reports an unsupported token width or view.
	ErrWidth = errors.New("spd: unsupported width")
)

// Width is the byte width of one token.
type Width int

const (
	W1 Width = 1
	W2 Width = 2
	W4 Width = 4
	W8 Width = 8
)

// Valid reports whether w is one of 1, 2, 4 or 8.
func (w Width) Valid() bool {
	switch w {
	case W1, W2, W4, W8:
		return true
	}
	return false
}

// Bits returns the width in bits.
func (w Width) Bits() int { return int(w) * 8 }

// ParseWidth validates an integer width.
func ParseWidth(n int) (Width, error) {
	w := Width(n)
	if !w.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrWidth, n)
	}
	return w, nil
}

func (w Width) mask() uint64 {
	if w == W8 {
		return math.MaxUint64
	}
	return (uint64(1) << w.Bits()) - 1
}

// Token is one SPD value of fixed width. Bits holds the raw little end of the
// value; higher bits are always zero.
type Token struct {
	W    Width
	Bits uint64
}

// Uint reinterprets the token as unsigned.
func (t Token) Uint() uint64 { return t.Bits & t.W.mask() }

// Int reinterprets the token as two's complement signed.
func (t Token) Int() int64 {
	v := t.Uint()
	if t.W == W8 {
		return int64(v)
	}
	shift := 64 - t.W.Bits()
	return int64(v<<shift) >> shift
}

// Float reinterprets the token as an IEEE float of matching width. One-byte
// tokens have no float view.
func (t Token) Float() (float64, error) {
	switch t.W {
	case W2:
		return float64(float16.Frombits(uint16(t.Uint())).Float32()), nil
	case W4:
		return float64(math.Float32frombits(uint32(t.Uint()))), nil
	case W8:
		return math.Float64frombits(t.Uint()), nil
	}
	return 0, fmt.Errorf("%w: no float view for %d-byte token", ErrWidth, t.W)
}

// FromUint truncates v to width w.
func FromUint(w Width, v uint64) Token { return Token{W: w, Bits: v & w.mask()} }

// FromInt stores v in two's complement truncated to width w.
func FromInt(w Width, v int64) Token { return Token{W: w, Bits: uint64(v) & w.mask()} }

// FromFloat stores v as an IEEE float of width w.
func FromFloat(w Width, v float64) (Token, error) {
	switch w {
	case W2:
		return Token{W: w, Bits: uint64(float16.Fromfloat32(float32(v)).Bits())}, nil
	case W4:
		return Token{W: w, Bits: uint64(math.Float32bits(float32(v)))}, nil
	case W8:
		return Token{W: w, Bits: math.Float64bits(v)}, nil
	}
	return Token{}, fmt.Errorf("%w: no float view for %d-byte token", ErrWidth, w)
}
