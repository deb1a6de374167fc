package packet

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the header Type token.
type Type int

const (
	ReadComplete Type = iota
	ReadTokenAt
	WriteComplete
	WriteTokenAt
	ResponseComplete
	ResponseTokenAt
	ResponseHeaderOnly
	FullCyclicPartner
)

var typeNames = [...]string{
	ReadComplete:       "ReadComplete",
	ReadTokenAt:        "ReadTokenAt",
	WriteComplete:      "WriteComplete",
	WriteTokenAt:       "WriteTokenAt",
	ResponseComplete:   "ResponseComplete",
	ResponseTokenAt:    "ResponseTokenAt",
	ResponseHeaderOnly: "ResponseHeaderOnly",
	FullCyclicPartner:  "FullCyclicPartner",
}

func (t Type) Valid() bool { return t >= ReadComplete && t <= FullCyclicPartner }

func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// ParseType accepts a type name (case-insensitive) or its number.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if t := Type(n); t.Valid() {
			return t, nil
		}
		return 0, fmt.Errorf("packet type %d out of range", n)
	}
	for i, name := range typeNames {
		if strings.EqualFold(name, s) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown packet type %q", s)
}

// MarshalText renders the type name, used by the JSON and YAML outputs.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
