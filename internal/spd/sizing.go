package spd

import (
	"errors"
	"fmt"
)

// Ecosystem defaults shared by every node on a link.
const (
	DefaultTokenCount    = 32
	DefaultCharsPerToken = 10
	DefaultCharsPerID    = 32

	// HeaderTokens is the fixed header: Identifier, Length, Type, Option.
	HeaderTokens = 4
)

// Sizing carries the buffer capacity parameters. Every node talking to each
// other must agree on them.
type Sizing struct {
	TokenCount    int `toml:"token_count"`
	CharsPerToken int `toml:"chars_per_token"`
	CharsPerID    int `toml:"chars_per_id"`
}

// DefaultSizing returns the ecosystem sizing.
func DefaultSizing() Sizing {
	return Sizing{
		TokenCount:    DefaultTokenCount,
		CharsPerToken: DefaultCharsPerToken,
		CharsPerID:    DefaultCharsPerID,
	}
}

// Validate checks the parameters can hold at least a header packet.
func (s Sizing) Validate() error {
	if s.TokenCount < HeaderTokens {
		return fmt.Errorf("token count %d below header size %d", s.TokenCount, HeaderTokens)
	}
	// a slot needs one text char plus room for the delimiter
	if s.CharsPerToken < 2 || s.CharsPerID < 2 {
		return errors.New("chars per token/id must be >= 2")
	}
	return nil
}

// CharCount is the total ASCII buffer capacity.
func (s Sizing) CharCount() int { return (s.TokenCount-1)*s.CharsPerToken + s.CharsPerID }

// ByteCount is the binary buffer capacity for width w.
func (s Sizing) ByteCount(w Width) int { return s.TokenCount * int(w) }

// SlotStart is the first character of token slot i in an ASCII buffer.
// Slot 0 holds the identifier string.
func (s Sizing) SlotStart(i int) int {
	if i <= 0 {
		return 0
	}
	return s.CharsPerID + (i-1)*s.CharsPerToken
}

// SlotEnd is one past the last character of slot i.
func (s Sizing) SlotEnd(i int) int { return s.SlotStart(i + 1) }
