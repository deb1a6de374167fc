package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/codec"
	"github.com/kstaniek/go-ims-packets/internal/hub"
	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/port"
	"github.com/kstaniek/go-ims-packets/internal/spd"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

func asciiPort(name string, buf *transport.Buffer, d port.Dispatcher, opts ...port.Option) *port.Port {
	s := spd.DefaultSizing()
	in := port.NewInterface(codec.NewASCII(s), port.WithSource(buf))
	out := port.NewInterface(codec.NewASCII(s), port.WithSink(buf))
	return port.New(name, in, out, d, opts...)
}

func binaryPort(name string, buf *transport.Buffer, d port.Dispatcher, opts ...port.Option) *port.Port {
	s := spd.DefaultSizing()
	in := port.NewInterface(codec.NewBinary(s, spd.W4, nil), port.WithSource(buf))
	out := port.NewInterface(codec.NewBinary(s, spd.W4, nil), port.WithSink(buf))
	return port.New(name, in, out, d, opts...)
}

func loop(n *Node, cycles int) {
	for i := 0; i < cycles; i++ {
		n.Loop()
	}
}

func written(buf *transport.Buffer) []string {
	var out []string
	for _, p := range buf.Written() {
		out = append(out, string(p))
	}
	return out
}

func TestVersionRequestGetsReply(t *testing.T) {
	api := NewAPI(nil, WithVersion(Version{Major: 1, Minor: 2, Build: 3}))
	n := New()
	buf := transport.NewBuffer([]byte("VERSION:4:0:0;\r\n"))
	if err := n.AddPort(asciiPort("console", buf, api)); err != nil {
		t.Fatal(err)
	}
	loop(n, 2)
	got := written(buf)
	if len(got) != 1 || got[0] != "VERSION:8:4:0:1:2:3:0;\n" {
		t.Fatalf("written %q", got)
	}
}

func TestResponderRejects(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"unknown name", "FOO:4:0:7;", "HDRPACK:4:6:-1;\n"},
		{"wrong type", "VERSION:4:4:0;", "HDRPACK:4:6:1;\n"},
		{"header ping acknowledged", "HDRPACK:4:0:0;", "HDRPACK:4:6:0;\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			n := New()
			buf := transport.NewBuffer([]byte(c.in))
			_ = n.AddPort(asciiPort("p", buf, NewAPI(nil)))
			loop(n, 2)
			got := written(buf)
			if len(got) != 1 || got[0] != c.want {
				t.Fatalf("written %q want %q", got, c.want)
			}
		})
	}
}

func TestBinaryUnknownIDRepliesWithOption(t *testing.T) {
	s := spd.DefaultSizing()
	req := spd.NewBytes(s.TokenCount, spd.W4, nil)
	v := packet.Bind(nil, req)
	_ = packet.Set(v, packet.IdxID, uint32(9))
	_ = packet.Set(v, packet.IdxLength, uint32(16))
	buf := transport.NewBuffer(req.Raw()[:16])
	n := New()
	_ = n.AddPort(binaryPort("bin", buf, NewAPI(nil)))
	loop(n, 2)
	out := buf.Written()
	if len(out) != 1 || len(out[0]) != 16 {
		t.Fatalf("written %v", out)
	}
	reply := spd.NewBytes(s.TokenCount, spd.W4, nil)
	for i, b := range out[0] {
		_ = reply.SetByte(i, b)
	}
	rv := packet.Bind(packet.HDRPACK, reply)
	typ, _ := rv.Type()
	opt, _ := rv.Option()
	id, _ := rv.ID()
	if id != 0 || typ != packet.ResponseHeaderOnly || opt != 9 {
		t.Fatalf("reply id=%d type=%v option=%d", id, typ, opt)
	}
}

func TestSenderPollStoresPeerVersion(t *testing.T) {
	api := NewAPI(nil)
	n := New()
	buf := transport.NewBuffer(nil)
	_ = n.AddPort(asciiPort("uart0", buf, api,
		port.WithRole(port.Sender),
		port.WithPoll(port.Request{ID: packet.VERSION.ID, Type: packet.ReadComplete})))
	loop(n, 3)
	if got := written(buf); len(got) != 1 || got[0] != "VERSION:4:0:0;\n" {
		t.Fatalf("request %q", got)
	}
	buf.Feed([]byte("VERSION:8:4:0:2:5:7:1;\n"))
	loop(n, 1)
	v, ok := api.PeerVersion("uart0")
	if !ok || v != (Version{Major: 2, Minor: 5, Build: 7, DevFlag: 1}) {
		t.Fatalf("peer version %+v %v", v, ok)
	}
}

func TestCustomHandlerAndPackager(t *testing.T) {
	temp := &packet.Descriptor{ID: 7, Name: "TEMP", Tokens: 5, Fields: []packet.Field{
		{Name: "Celsius", Index: 4, Kind: packet.KindFloat},
	}}
	reg := packet.DefaultRegistry()
	if err := reg.Register(temp); err != nil {
		t.Fatal(err)
	}
	api := NewAPI(reg)
	api.Handle(temp.ID, func(p *port.Port, v packet.View) {
		_ = p.Enqueue(temp.ID, packet.ResponseComplete, 0)
	})
	api.Package(temp.ID, func(_ *port.Port, v packet.View, _ port.Request) error {
		return packet.SetField(v, "Celsius", 21.5)
	})
	n := New()
	buf := transport.NewBuffer([]byte("TEMP:4:0:0;"))
	_ = n.AddPort(asciiPort("p", buf, api))
	loop(n, 2)
	if got := written(buf); len(got) != 1 || got[0] != "TEMP:5:4:0:21.5;\n" {
		t.Fatalf("written %q", got)
	}
}

func TestResponderAcknowledgesWriteThenKeepsReading(t *testing.T) {
	n := New()
	buf := transport.NewBuffer([]byte("VERSION:8:2:0:1:2:3:0;VERSION:4:0:0;"))
	p := asciiPort("p", buf, NewAPI(nil))
	_ = n.AddPort(p)
	loop(n, 6)
	got := written(buf)
	if len(got) != 2 || got[0] != "HDRPACK:4:6:0;\n" || got[1] != "VERSION:8:4:0:0:0:0:0;\n" {
		t.Fatalf("written %q", got)
	}
	if p.State() != port.StateReading {
		t.Fatalf("state %v", p.State())
	}
}

func TestResponderPackagerErrorRepliesWithHeader(t *testing.T) {
	temp := &packet.Descriptor{ID: 7, Name: "TEMP", Tokens: 5}
	reg := packet.DefaultRegistry()
	if err := reg.Register(temp); err != nil {
		t.Fatal(err)
	}
	api := NewAPI(reg)
	api.Handle(temp.ID, func(p *port.Port, _ packet.View) {
		_ = p.Enqueue(temp.ID, packet.ResponseComplete, 0)
	})
	api.Package(temp.ID, func(*port.Port, packet.View, port.Request) error {
		return errors.New("sensor offline")
	})
	n := New()
	buf := transport.NewBuffer([]byte("TEMP:4:0:0;TEMP:4:0:0;"))
	_ = n.AddPort(asciiPort("p", buf, api))
	loop(n, 6)
	got := written(buf)
	if len(got) != 2 || got[0] != "HDRPACK:4:6:7;\n" || got[1] != got[0] {
		t.Fatalf("written %q", got)
	}
}

func TestHubSeesRxAndTx(t *testing.T) {
	h := hub.New()
	c := h.NewClient("test")
	defer h.Remove(c)
	n := New()
	buf := transport.NewBuffer([]byte("VERSION:4:0:0;"))
	_ = n.AddPort(asciiPort("p", buf, NewAPI(nil, WithHub(h))))
	loop(n, 2)
	if len(c.Out) != 2 {
		t.Fatalf("records %d", len(c.Out))
	}
	rx, tx := <-c.Out, <-c.Out
	if rx.Dir != hub.DirRx || rx.Packet.Name != "VERSION" || rx.Packet.Type != packet.ReadComplete {
		t.Fatalf("rx record %+v", rx)
	}
	if tx.Dir != hub.DirTx || tx.Packet.Fields["Major"] != "0" || len(tx.Packet.Payload) != 4 {
		t.Fatalf("tx record %+v", tx)
	}
}

func TestAsyncPortsSkippedByLoop(t *testing.T) {
	n := New()
	buf := transport.NewBuffer([]byte("VERSION:4:0:0;"))
	p := asciiPort("async", buf, NewAPI(nil), port.WithAsync())
	_ = n.AddPort(p)
	loop(n, 5)
	if p.State() != port.StateInit || len(buf.Written()) != 0 {
		t.Fatalf("async port serviced by Loop: %v", p.State())
	}
	n.ServiceAsyncPorts()
	n.ServiceAsyncPorts()
	if len(buf.Written()) != 1 {
		t.Fatalf("async port not serviced")
	}
}

type boundsCodec struct{ codec.Codec }

func (boundsCodec) Append(byte) error { return codec.ErrBufferBounds }

func TestFaultedAndClosedPortsDropped(t *testing.T) {
	n := New()
	bad := transport.NewBuffer([]byte("x"))
	in := port.NewInterface(boundsCodec{codec.NewASCII(spd.DefaultSizing())}, port.WithSource(bad))
	out := port.NewInterface(codec.NewASCII(spd.DefaultSizing()), port.WithSink(bad))
	_ = n.AddPort(port.New("bad", in, out, NewAPI(nil)))

	eof := transport.NewBuffer(nil)
	eof.CloseInput()
	_ = n.AddPort(asciiPort("eof", eof, NewAPI(nil)))

	_ = n.AddPort(asciiPort("ok", transport.NewBuffer(nil), NewAPI(nil)))
	loop(n, 3)
	ports := n.Ports()
	if len(ports) != 1 || ports[0].Name() != "ok" {
		t.Fatalf("ports left %d", len(ports))
	}
}

func TestDuplicatePort(t *testing.T) {
	n := New()
	_ = n.AddPort(asciiPort("a", transport.NewBuffer(nil), NewAPI(nil)))
	if err := n.AddPort(asciiPort("a", transport.NewBuffer(nil), NewAPI(nil))); !errors.Is(err, ErrDuplicatePort) {
		t.Fatalf("got %v", err)
	}
	if !n.RemovePort("a") || n.RemovePort("a") {
		t.Fatalf("remove semantics")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 100)
	n := New(WithCycle(time.Millisecond), WithCustomLoop(func() {
		select {
		case calls <- struct{}{}:
		default:
		}
	}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatalf("custom loop never ran")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return")
	}
}
