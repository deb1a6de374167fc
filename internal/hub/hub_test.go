package hub

import (
	"testing"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/packet"
)

func rec(port string) Record {
	return Record{Port: port, Dir: DirRx, At: time.Now(), Packet: packet.Summary{Name: "VERSION", ID: 1}}
}

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	h.OutBufSize = 4
	cl := h.NewClient("slow")
	defer h.Remove(cl)

	// nobody reads cl.Out
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(rec("uart0"))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan Record, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan Record, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	for i := 0; i < 10; i++ {
		h.Broadcast(rec("tcp"))
	}
	if len(fast.Out) != 10 {
		t.Fatalf("fast observer got %d records", len(fast.Out))
	}
	if len(slow.Out) != 1 || h.Count() != 2 {
		t.Fatalf("slow len=%d count=%d", len(slow.Out), h.Count())
	}
}

func TestHub_PolicyKickRemovesSlowObserver(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	h.OutBufSize = 1
	c := h.NewClient("slow")
	h.Broadcast(rec("a"))
	h.Broadcast(rec("a"))
	select {
	case <-c.Closed:
	default:
		t.Fatalf("slow observer not closed")
	}
	if h.Count() != 0 {
		t.Fatalf("count=%d", h.Count())
	}
	h.Remove(c)
}

func TestParsePolicy(t *testing.T) {
	if p, ok := ParsePolicy("kick"); !ok || p != PolicyKick {
		t.Fatalf("kick: %v %v", p, ok)
	}
	if _, ok := ParsePolicy("block"); ok {
		t.Fatalf("block must be rejected")
	}
}
