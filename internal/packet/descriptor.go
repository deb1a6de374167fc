package packet

import (
	"fmt"

	"github.com/kstaniek/go-ims-packets/internal/spd"
)

// Header token positions, fixed for every packet kind.
const (
	IdxID = iota
	IdxLength
	IdxType
	IdxOption
	IdxPayload
)

// Kind selects how a payload token is interpreted.
type Kind int

const (
	KindInt Kind = iota
	KindUint
	KindFloat
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	}
	return "int"
}

// Field names one payload token.
type Field struct {
	Name  string
	Index int
	Kind  Kind
}

// Descriptor is everything that distinguishes one packet kind from another.
type Descriptor struct {
	ID     int
	Name   string
	Tokens int
	Fields []Field
}

// Field looks up a payload field by name.
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldAt returns the payload field at token index i, if named.
func (d *Descriptor) FieldAt(i int) (Field, bool) {
	for _, f := range d.Fields {
		if f.Index == i {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks the descriptor against the buffer sizing.
func (d *Descriptor) Validate(s spd.Sizing) error {
	if d.Tokens < spd.HeaderTokens || d.Tokens > s.TokenCount {
		return fmt.Errorf("packet %s: token count %d outside [%d,%d]", d.Name, d.Tokens, spd.HeaderTokens, s.TokenCount)
	}
	if d.Name == "" || len(d.Name) > s.CharsPerID-1 || !IsASCIIString(d.Name) {
		return fmt.Errorf("packet %d: invalid name %q", d.ID, d.Name)
	}
	if d.ID < 0 {
		return fmt.Errorf("packet %s: negative id", d.Name)
	}
	for _, f := range d.Fields {
		if f.Index < IdxPayload || f.Index >= d.Tokens {
			return fmt.Errorf("packet %s: field %s index %d outside payload", d.Name, f.Name, f.Index)
		}
	}
	return nil
}
