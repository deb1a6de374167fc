package codec

import (
	"errors"
	"strings"
	"testing"

	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/spd"
)

func TestASCIIScenarioB(t *testing.T) {
	c := NewASCII(spd.DefaultSizing())
	in := "VERSION:4:1:2:3:4;\n"
	done, errs := feed(t, c, []byte(in))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if len(done) != 1 || done[0] != strings.IndexByte(in, ';')+1 {
		t.Fatalf("completion at %v", done)
	}
	v := c.View()
	if v.IDString() != "VERSION" {
		t.Fatalf("id %q", v.IDString())
	}
	typ, _ := v.Type()
	opt, _ := v.Option()
	n, _ := v.Length()
	p0, _ := packet.Get[int](v, 4)
	p1, _ := packet.Get[int](v, 5)
	if n != 4 || typ != packet.ReadTokenAt || opt != 2 || p0 != 3 || p1 != 4 {
		t.Fatalf("fields len=%d type=%v opt=%d p=%d,%d", n, typ, opt, p0, p1)
	}
	if c.Tokens() != 6 {
		t.Fatalf("tokens=%d", c.Tokens())
	}
	if c.Progress() != (Progress{}) {
		t.Fatalf("codec not back to initial state: %+v", c.Progress())
	}
}

func TestASCIIScenarioC(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"controlCharNoTerminator", "VER\x01HDRPACK:4:6:0;"},
		{"lineFeedMidPacket", "VERSION:4\nHDRPACK:4:6:0;"},
		{"controlCharThenLineEnd", "VERSION:8:1:\x01\r\nHDRPACK:4:6:0;\n"},
	}
	for _, tc := range tests {
		c := NewASCII(spd.DefaultSizing())
		done, errs := feed(t, c, []byte(tc.in))
		if len(errs) != 1 || !errors.Is(errs[0], ErrFraming) {
			t.Fatalf("%s: expected one framing error got %v", tc.name, errs)
		}
		if len(done) != 1 || done[0] != strings.LastIndexByte(tc.in, ';')+1 {
			t.Fatalf("%s: expected one completion at the last terminator, got %v", tc.name, done)
		}
		v := c.View()
		typ, _ := v.Type()
		if v.IDString() != "HDRPACK" || typ != packet.ResponseHeaderOnly {
			t.Fatalf("%s: got id=%q type=%v", tc.name, v.IDString(), typ)
		}
		// nothing from the rejected packet survives
		if s, _ := v.Text(4); s != "" {
			t.Fatalf("%s: residual payload %q", tc.name, s)
		}
	}
}

func TestASCIIFramingCases(t *testing.T) {
	small := spd.Sizing{TokenCount: 4, CharsPerToken: 4, CharsPerID: 8}
	tests := []struct {
		name string
		s    spd.Sizing
		in   string
	}{
		{"carriageReturnMidPacket", spd.DefaultSizing(), "VER\rSION:4:0:0;"},
		{"highBit", spd.DefaultSizing(), "VERSION:4:\xff"},
		{"idOverflow", small, "ABCDEFGH:"},
		{"tokenOverflow", small, "A:1234:"},
		{"tooManyTokens", small, "A:1:2:3:4;"},
	}
	for _, tc := range tests {
		c := NewASCII(tc.s)
		done, errs := feed(t, c, []byte(tc.in))
		if len(done) != 0 || len(errs) != 1 || !errors.Is(errs[0], ErrFraming) {
			t.Fatalf("%s: done=%v errs=%v", tc.name, done, errs)
		}
	}
}

func TestASCIIMinimumHeader(t *testing.T) {
	c := NewASCII(spd.DefaultSizing())
	in := "A;1;2:3;"
	done, errs := feed(t, c, []byte(in))
	if len(errs) != 0 || len(done) != 1 || done[0] != len(in) {
		t.Fatalf("done=%v errs=%v", done, errs)
	}
	if c.Tokens() != spd.HeaderTokens {
		t.Fatalf("tokens=%d", c.Tokens())
	}
}

func TestASCIILineEndingsBetweenPackets(t *testing.T) {
	c := NewASCII(spd.DefaultSizing())
	done, errs := feed(t, c, []byte("\r\n\nHDRPACK:4:6:0;\r\n\r\nHDRPACK:4:6:1;"))
	if len(errs) != 0 || len(done) != 2 {
		t.Fatalf("done=%v errs=%v", done, errs)
	}
	if opt, _ := c.View().Option(); opt != 1 {
		t.Fatalf("option=%d", opt)
	}
}

func TestASCIIEncodeCompaction(t *testing.T) {
	c := NewASCII(spd.DefaultSizing())
	got := string(encodeVersion(t, c, packet.ReadComplete, 1, 2, 3, 0))
	if got != "VERSION:8:0:0:1:2:3:0;\n" {
		t.Fatalf("wire %q", got)
	}
	c2 := NewASCII(spd.DefaultSizing(), WithoutLineFeed())
	got = string(encodeVersion(t, c2, packet.ReadComplete, 10, 20, 30, 1))
	if got != "VERSION:8:0:0:10:20:30:1;" {
		t.Fatalf("wire %q", got)
	}
}

func TestASCIIEncodeLengthLimitsTokens(t *testing.T) {
	c := NewASCII(spd.DefaultSizing())
	v := c.View()
	_ = v.SetText(0, "VERSION")
	for i, s := range []string{"5", "1", "0", "7", "8", "9"} {
		_ = v.SetText(i+1, s)
	}
	n, err := c.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if got := string(c.Wire()); got != "VERSION:5:1:0:7;\n" || n != len(got) {
		t.Fatalf("wire %q n=%d", got, n)
	}
}

func TestASCIIScenarioD(t *testing.T) {
	for _, length := range []string{"3", "", "x", "99"} {
		c := NewASCII(spd.DefaultSizing())
		v := c.View()
		_ = v.SetText(0, "VERSION")
		_ = v.SetText(1, length)
		_ = v.SetText(2, "0")
		_ = v.SetText(3, "0")
		if _, err := c.Encode(); !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("length %q: expected ErrSizeMismatch got %v", length, err)
		}
		if len(c.Wire()) != 0 {
			t.Fatalf("length %q: wire must be empty", length)
		}
	}
	c := NewASCII(spd.DefaultSizing())
	if _, err := c.Encode(); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("empty buffer: expected ErrMalformedPacket got %v", err)
	}
}

func TestASCIIEncodeFullBuffer(t *testing.T) {
	s := spd.Sizing{TokenCount: 4, CharsPerToken: 3, CharsPerID: 3}
	c := NewASCII(s)
	v := c.View()
	for i, txt := range []string{"AB", "04", "12", "34"} {
		if err := v.SetText(i, txt); err != nil {
			t.Fatal(err)
		}
	}
	// AB:04:12:34;\n needs 13 chars, capacity is 12
	if _, err := c.Encode(); !errors.Is(err, ErrBufferBounds) {
		t.Fatalf("expected ErrBufferBounds got %v", err)
	}
	c = NewASCII(s, WithoutLineFeed())
	v = c.View()
	for i, txt := range []string{"AB", "04", "12", "34"} {
		_ = v.SetText(i, txt)
	}
	if _, err := c.Encode(); err != nil || string(c.Wire()) != "AB:04:12:34;" {
		t.Fatalf("wire %q err %v", c.Wire(), err)
	}
}

func TestRoundTrip(t *testing.T) {
	mk := map[string]func() Codec{
		"ascii":  func() Codec { return NewASCII(spd.DefaultSizing()) },
		"bin-w1": func() Codec { return NewBinary(spd.DefaultSizing(), spd.W1, nil) },
		"bin-w2": func() Codec { return NewBinary(spd.DefaultSizing(), spd.W2, nil) },
		"bin-w8": func() Codec { return NewBinary(spd.DefaultSizing(), spd.W8, nil) },
	}
	vals := [][]uint32{{0, 0, 0, 0}, {1, 2, 3, 1}, {99, 100, 127, 0}}
	for name, newCodec := range mk {
		for _, typ := range []packet.Type{packet.ReadComplete, packet.ResponseComplete, packet.FullCyclicPartner} {
			for _, want := range vals {
				wire := encodeVersion(t, newCodec(), typ, want...)
				dec := newCodec()
				done, errs := feed(t, dec, wire)
				if len(done) != 1 || len(errs) != 0 {
					t.Fatalf("%s: done=%v errs=%v", name, done, errs)
				}
				v, err := packet.DefaultRegistry().Resolve(dec.View())
				if err != nil || v.Descriptor() != packet.VERSION {
					t.Fatalf("%s: resolve %v", name, err)
				}
				gotType, _ := v.Type()
				if gotType != typ {
					t.Fatalf("%s: type %v want %v", name, gotType, typ)
				}
				for i, f := range []string{"Major", "Minor", "Build", "DevFlag"} {
					got, err := packet.GetField[uint32](v, f)
					if err != nil || got != want[i] {
						t.Fatalf("%s: %s=%d want %d (%v)", name, f, got, want[i], err)
					}
				}
			}
		}
	}
}
