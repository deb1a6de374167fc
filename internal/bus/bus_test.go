package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/hub"
	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/redis/go-redis/v9"
)

type fakeConn struct {
	mu   sync.Mutex
	subs []string
	data [][]byte
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subs = append(f.subs, subject)
	f.data = append(f.data, data)
	return nil
}

func (f *fakeConn) count() int { f.mu.Lock(); defer f.mu.Unlock(); return len(f.subs) }

func record() hub.Record {
	return hub.Record{
		Port:   "tcp-1",
		Dir:    hub.DirRx,
		At:     time.UnixMilli(1700000000000),
		Packet: packet.Summary{Name: "VERSION", ID: 1, Type: packet.ResponseComplete, Payload: []string{"1", "2"}},
	}
}

func TestPublisherSubjectAndPayload(t *testing.T) {
	fc := &fakeConn{}
	p := NewPublisher(fc, "")
	if err := p.Publish(record()); err != nil {
		t.Fatal(err)
	}
	if fc.subs[0] != "spd.tcp-1.VERSION" {
		t.Fatalf("subject %q", fc.subs[0])
	}
	var got hub.Record
	if err := json.Unmarshal(fc.data[0], &got); err != nil {
		t.Fatal(err)
	}
	if got.Packet.Name != "VERSION" || got.Packet.Type != packet.ResponseComplete {
		t.Fatalf("decoded %+v", got)
	}
	r := record()
	r.Port = "uart.0 *"
	if s := p.Subject(r); s != "spd.uart_0__.VERSION" {
		t.Fatalf("sanitized subject %q", s)
	}
}

func TestPublisherRunDrainsHub(t *testing.T) {
	h := hub.New()
	fc := &fakeConn{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { NewPublisher(fc, "x").Run(ctx, h); close(done) }()
	deadline := time.Now().Add(time.Second)
	for h.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.Broadcast(record())
	for fc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if fc.count() != 1 || h.Count() != 0 {
		t.Fatalf("published %d, observers left %d", fc.count(), h.Count())
	}
}

type fakeRedis struct {
	key    string
	fields []interface{}
	ttl    time.Duration
	err    error
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.key, f.fields = key, values
	return redis.NewIntResult(int64(len(values)/2), f.err)
}

func (f *fakeRedis) Expire(_ context.Context, _ string, d time.Duration) *redis.BoolCmd {
	f.ttl = d
	return redis.NewBoolResult(true, nil)
}

func TestShadowWrite(t *testing.T) {
	fr := &fakeRedis{}
	s := NewShadow(fr, time.Hour)
	if err := s.Write(context.Background(), record()); err != nil {
		t.Fatal(err)
	}
	if fr.key != "spd:port:tcp-1" || fr.ttl != time.Hour {
		t.Fatalf("key %q ttl %v", fr.key, fr.ttl)
	}
	m := map[string]interface{}{}
	for i := 0; i+1 < len(fr.fields); i += 2 {
		m[fr.fields[i].(string)] = fr.fields[i+1]
	}
	if m["packet"] != "VERSION" || m["payload"] != "1,2" || m["type"] != "ResponseComplete" {
		t.Fatalf("fields %v", m)
	}

	fr = &fakeRedis{err: errors.New("down")}
	if err := NewShadow(fr, time.Hour).Write(context.Background(), record()); err == nil {
		t.Fatalf("expected error")
	}
	if fr.ttl != 0 {
		t.Fatalf("expire must not run after a failed HSet")
	}
}
