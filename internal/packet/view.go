// Package packet is the packet data model: a descriptor-driven view laid over
// a token buffer owned by someone else, plus the built-in packet catalog.
package packet

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/kstaniek/go-ims-packets/internal/spd"
)

var (
	ErrUnbound     = errors.New("packet: view not bound to a buffer")
	ErrMode        = errors.New("packet: operation not valid for wire mode")
	ErrFieldFormat = errors.New("packet: malformed field text")
	ErrUnknownID   = errors.New("packet: unknown packet id")
	ErrNoField     = errors.New("packet: no such field")
)

// Mode is the wire mode a view is bound in.
type Mode int

const (
	Binary Mode = iota
	ASCII
)

func (m Mode) String() string {
	if m == ASCII {
		return "ascii"
	}
	return "binary"
}

// ParseMode accepts "binary" or "ascii".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "binary":
		return Binary, nil
	case "ascii":
		return ASCII, nil
	}
	return 0, fmt.Errorf("unknown wire mode %q", s)
}

// View overlays a descriptor on a token buffer. It never owns the buffer and
// is cheap to copy; rebinding with As changes the packet kind without
// touching the bytes.
type View struct {
	desc *Descriptor
	bin  *spd.Bytes
	txt  *spd.Chars
}

// Bind lays d over a binary buffer.
func Bind(d *Descriptor, b *spd.Bytes) View { return View{desc: d, bin: b} }

// BindChars lays d over an ASCII buffer.
func BindChars(d *Descriptor, c *spd.Chars) View { return View{desc: d, txt: c} }

// As returns a view of the same buffer under another descriptor.
func (v View) As(d *Descriptor) View { v.desc = d; return v }

func (v View) Descriptor() *Descriptor { return v.desc }
func (v View) Bytes() *spd.Bytes       { return v.bin }
func (v View) Chars() *spd.Chars       { return v.txt }
func (v View) Bound() bool             { return v.bin != nil || v.txt != nil }

func (v View) Mode() Mode {
	if v.txt != nil {
		return ASCII
	}
	return Binary
}

// Width is the token width of a binary view; ASCII views report 0.
func (v View) Width() spd.Width {
	if v.bin != nil {
		return v.bin.Width()
	}
	return 0
}

// Capacity is the number of token slots in the bound buffer.
func (v View) Capacity() int {
	switch {
	case v.bin != nil:
		return v.bin.Tokens()
	case v.txt != nil:
		return v.txt.Sizing().TokenCount
	}
	return 0
}

// Clear zeroes the whole bound buffer.
func (v View) Clear() {
	switch {
	case v.bin != nil:
		v.bin.Clear()
	case v.txt != nil:
		v.txt.Clear()
	}
}

func (v View) checkIndex(i int) error {
	if !v.Bound() {
		return ErrUnbound
	}
	limit := v.Capacity()
	if v.desc != nil && v.desc.Tokens < limit {
		limit = v.desc.Tokens
	}
	if i < 0 || i >= limit {
		return fmt.Errorf("%w: token %d of %d", spd.ErrOutOfRange, i, limit)
	}
	return nil
}

// Text returns the text of ASCII slot i.
func (v View) Text(i int) (string, error) {
	if v.txt == nil {
		return "", ErrMode
	}
	if err := v.checkIndex(i); err != nil {
		return "", err
	}
	return v.txt.Text(i)
}

// SetText writes the text of ASCII slot i.
func (v View) SetText(i int, s string) error {
	if v.txt == nil {
		return ErrMode
	}
	if err := v.checkIndex(i); err != nil {
		return err
	}
	return v.txt.SetText(i, s)
}

// IDString is the identifier text of an ASCII packet, or the descriptor name
// of a binary one.
func (v View) IDString() string {
	if v.txt != nil {
		s, _ := v.txt.Text(IdxID)
		return s
	}
	if v.desc != nil {
		return v.desc.Name
	}
	return ""
}

// IDEquals reports whether the buffer holds a packet of kind d. ASCII
// identifiers compare case-sensitively.
func (v View) IDEquals(d *Descriptor) bool {
	if d == nil || !v.Bound() {
		return false
	}
	if v.txt != nil {
		return v.IDString() == d.Name
	}
	id, err := Get[uint64](v, IdxID)
	return err == nil && id == uint64(d.ID)
}

// ID returns the numeric packet ID. ASCII packets carry only a name, so the
// view's descriptor must match it.
func (v View) ID() (int, error) {
	if v.txt != nil {
		if v.desc != nil && v.IDString() == v.desc.Name {
			return v.desc.ID, nil
		}
		return 0, fmt.Errorf("%w: %q", ErrUnknownID, v.IDString())
	}
	id, err := Get[uint64](v, IdxID)
	return int(id), err
}

// Length is the raw Length header: total bytes for binary, token count for ASCII.
func (v View) Length() (int, error) {
	n, err := Get[int64](v, IdxLength)
	return int(n), err
}

// TokenCount converts the Length header to a token count.
func (v View) TokenCount() (int, error) {
	n, err := v.Length()
	if err != nil {
		return 0, err
	}
	if v.bin != nil {
		return n / int(v.bin.Width()), nil
	}
	return n, nil
}

func (v View) Type() (Type, error) {
	n, err := Get[int64](v, IdxType)
	return Type(n), err
}

func (v View) Option() (int64, error) { return Get[int64](v, IdxOption) }

// WriteHeader fills all four header tokens from the descriptor.
func (v View) WriteHeader(t Type, option int64) error {
	if v.desc == nil {
		return ErrUnknownID
	}
	if v.txt != nil {
		if err := v.SetText(IdxID, v.desc.Name); err != nil {
			return err
		}
		if err := Set(v, IdxLength, int64(v.desc.Tokens)); err != nil {
			return err
		}
	} else {
		if err := Set(v, IdxID, uint64(v.desc.ID)); err != nil {
			return err
		}
		if err := Set(v, IdxLength, int64(v.desc.Tokens*int(v.bin.Width()))); err != nil {
			return err
		}
	}
	if err := Set(v, IdxType, int64(t)); err != nil {
		return err
	}
	return Set(v, IdxOption, option)
}

// Number is the set of Go types a token can be read as or written from.
type Number interface {
	int | int8 | int16 | int32 | int64 |
		uint | uint8 | uint16 | uint32 | uint64 |
		float32 | float64
}

func kindOf[T Number]() Kind {
	var z T
	switch any(z).(type) {
	case float32, float64:
		return KindFloat
	case uint, uint8, uint16, uint32, uint64:
		return KindUint
	}
	return KindInt
}

// Get reads token i as T.
func Get[T Number](v View, i int) (T, error) {
	if err := v.checkIndex(i); err != nil {
		return 0, err
	}
	if v.txt != nil {
		return parseText[T](v.txt, i)
	}
	tok, err := v.bin.Token(i)
	if err != nil {
		return 0, err
	}
	switch kindOf[T]() {
	case KindFloat:
		f, err := tok.Float()
		return T(f), err
	case KindUint:
		return T(tok.Uint()), nil
	}
	return T(tok.Int()), nil
}

// Set writes x into token i.
func Set[T Number](v View, i int, x T) error {
	if err := v.checkIndex(i); err != nil {
		return err
	}
	if v.txt != nil {
		return v.txt.SetText(i, formatText(x, v.txt.Sizing().CharsPerToken-1))
	}
	w := v.bin.Width()
	var tok spd.Token
	switch kindOf[T]() {
	case KindFloat:
		t, err := spd.FromFloat(w, float64(x))
		if err != nil {
			return err
		}
		tok = t
	case KindUint:
		tok = spd.FromUint(w, uint64(x))
	default:
		tok = spd.FromInt(w, int64(x))
	}
	return v.bin.PutToken(i, tok)
}

// GetField reads a named payload field.
func GetField[T Number](v View, name string) (T, error) {
	if v.desc == nil {
		return 0, ErrUnknownID
	}
	f, ok := v.desc.Field(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrNoField, v.desc.Name, name)
	}
	return Get[T](v, f.Index)
}

// SetField writes a named payload field.
func SetField[T Number](v View, name string, x T) error {
	if v.desc == nil {
		return ErrUnknownID
	}
	f, ok := v.desc.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrNoField, v.desc.Name, name)
	}
	return Set(v, f.Index, x)
}

func parseText[T Number](c *spd.Chars, i int) (T, error) {
	s, err := c.Text(i)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	switch kindOf[T]() {
	case KindFloat:
		if !IsNumberString(s) {
			return 0, fmt.Errorf("%w: %q", ErrFieldFormat, s)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrFieldFormat, err)
		}
		return T(f), nil
	case KindUint:
		if !IsUnsignedString(s) {
			return 0, fmt.Errorf("%w: %q", ErrFieldFormat, s)
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrFieldFormat, err)
		}
		return T(n), nil
	}
	if !IsIntegerString(s) {
		return 0, fmt.Errorf("%w: %q", ErrFieldFormat, s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFieldFormat, err)
	}
	return T(n), nil
}

// formatText renders x in at most max characters where the value allows;
// floats lose precision before they overflow the slot.
func formatText[T Number](x T, max int) string {
	switch v := any(x).(type) {
	case float32:
		return fitFloat(float64(v), 32, max)
	case float64:
		return fitFloat(v, 64, max)
	}
	if kindOf[T]() == KindUint {
		return strconv.FormatUint(uint64(x), 10)
	}
	return strconv.FormatInt(int64(x), 10)
}

func fitFloat(f float64, bits, max int) string {
	s := strconv.FormatFloat(f, 'g', -1, bits)
	for prec := max; len(s) > max && prec > 0; prec-- {
		s = strconv.FormatFloat(f, 'g', prec, bits)
	}
	return s
}
