package codec

import (
	"fmt"
	"strconv"

	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/spd"
)

const (
	Delimiter  = ':'
	Terminator = ';'
)

// ASCII decodes and encodes delimited text packets. Every token occupies a
// fixed-width slot in the buffer; the wire form is compacted.
type ASCII struct {
	buf      *spd.Chars
	s        spd.Sizing
	index    int
	last     int
	token    int
	tokens   int
	wire     int
	lineFeed bool
}

// ASCIIOption configures an ASCII codec.
type ASCIIOption func(*ASCII)

// WithoutLineFeed drops the line feed normally emitted after the terminator.
func WithoutLineFeed() ASCIIOption { return func(c *ASCII) { c.lineFeed = false } }

func NewASCII(s spd.Sizing, opts ...ASCIIOption) *ASCII {
	c := &ASCII{buf: spd.NewChars(s), s: s, lineFeed: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *ASCII) Mode() packet.Mode { return packet.ASCII }
func (c *ASCII) View() packet.View { return packet.BindChars(nil, c.buf) }
func (c *ASCII) Tokens() int       { return c.tokens }
func (c *ASCII) Wire() []byte      { return c.buf.Raw()[:c.wire] }

func (c *ASCII) Progress() Progress {
	return Progress{Index: c.index, Last: c.last, Token: c.token}
}

func (c *ASCII) Reset() {
	c.index, c.last, c.token = 0, 0, 0
}

func (c *ASCII) Clear() {
	c.buf.Clear()
	c.Reset()
	c.wire = 0
}

func (c *ASCII) idle() bool { return c.index == 0 && c.token == 0 }

func (c *ASCII) Append(ch byte) error {
	if c.idle() {
		// line endings trailing the previous packet
		if ch == '\n' || ch == '\r' {
			return nil
		}
		c.buf.Clear()
	}
	if c.index >= c.buf.Len() {
		return fmt.Errorf("%w: char %d of %d", ErrBufferBounds, c.index, c.buf.Len())
	}
	if err := c.buf.SetByte(c.index, ch); err != nil {
		return fmt.Errorf("%w: %v", ErrBufferBounds, err)
	}
	c.index++
	return nil
}

// fail discards the packet in progress. The next character starts a new one.
func (c *ASCII) fail(format string, args ...any) (bool, error) {
	c.Reset()
	return false, fmt.Errorf("%w: "+format, append([]any{ErrFraming}, args...)...)
}

func (c *ASCII) TryComplete() (bool, error) {
	if c.index == c.last {
		return false, nil
	}
	raw := c.buf.Raw()
	pos := c.index - 1
	ch := raw[pos]
	switch {
	case ch == Delimiter || ch == Terminator:
		c.token++
		next := min(c.s.SlotStart(c.token), len(raw))
		if pos > next {
			return c.fail("delimiter at %d past slot end %d", pos, next)
		}
		clear(raw[pos:next])
		if ch == Terminator && c.token >= spd.HeaderTokens {
			c.tokens = c.token
			c.Reset()
			return true, nil
		}
		if c.token >= c.s.TokenCount {
			return c.fail("more than %d tokens", c.s.TokenCount)
		}
		c.index = next
	case !packet.IsPrintable(ch):
		return c.fail("invalid char %#x at %d", ch, pos)
	case c.index >= c.s.SlotEnd(c.token):
		return c.fail("token %d overflows its %d-char slot", c.token, c.s.SlotEnd(c.token)-c.s.SlotStart(c.token))
	}
	c.last = c.index
	return false, nil
}

// Encode compacts the fixed-width slots in place into the wire form
// ID:LEN:TYPE:OPTION:...; and returns its size. The Length slot decides how
// many tokens are emitted.
func (c *ASCII) Encode() (int, error) {
	c.wire = 0
	raw := c.buf.Raw()
	if raw[0] == 0 {
		return 0, fmt.Errorf("%w: empty identifier", ErrMalformedPacket)
	}
	last := -1
	count := c.s.TokenCount
	for i := 0; i < c.s.TokenCount; i++ {
		start, end := c.s.SlotStart(i), c.s.SlotEnd(i)
		first := last + 1
		j := start
		for ; j < end && raw[j] != 0; j++ {
			last++
			raw[last] = raw[j]
		}
		if j == end {
			return 0, fmt.Errorf("%w: slot %d has no terminating zero", ErrMalformedPacket, i)
		}
		if i == packet.IdxLength {
			txt := string(raw[first : last+1])
			n, err := strconv.Atoi(txt)
			if err != nil || !packet.IsUnsignedString(txt) {
				return 0, fmt.Errorf("%w: length %q", ErrSizeMismatch, txt)
			}
			if n < spd.HeaderTokens || n > c.s.TokenCount {
				return 0, fmt.Errorf("%w: length %d outside [%d,%d]", ErrSizeMismatch, n, spd.HeaderTokens, c.s.TokenCount)
			}
			count = n
		}
		if i == count-1 {
			tail := 1
			if c.lineFeed {
				tail++
			}
			if last+tail >= len(raw) {
				return 0, fmt.Errorf("%w: no room for terminator", ErrBufferBounds)
			}
			last++
			raw[last] = Terminator
			if c.lineFeed {
				last++
				raw[last] = '\n'
			}
			c.wire = last + 1
			return c.wire, nil
		}
		last++
		raw[last] = Delimiter
	}
	return 0, fmt.Errorf("%w: no terminator written", ErrSizeMismatch)
}
