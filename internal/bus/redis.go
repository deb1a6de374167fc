package bus

import (
	"context"
	"strings"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/hub"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const DefaultShadowTTL = 24 * time.Hour

// Cmdable is the subset of redis.Cmdable the shadow writes with.
type Cmdable interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Shadow keeps the last packet seen on every port in a Redis hash.
type Shadow struct {
	rdb Cmdable
	ttl time.Duration
}

func NewShadow(rdb Cmdable, ttl time.Duration) *Shadow {
	return &Shadow{rdb: rdb, ttl: ttl}
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func ShadowKey(port string) string { return "spd:port:" + port }

func (s *Shadow) Write(ctx context.Context, r hub.Record) error {
	key := ShadowKey(r.Port)
	err := s.rdb.HSet(ctx, key,
		"packet", r.Packet.Name,
		"id", r.Packet.ID,
		"dir", string(r.Dir),
		"type", r.Packet.Type.String(),
		"option", r.Packet.Option,
		"payload", strings.Join(r.Packet.Payload, ","),
		"ts", r.At.UnixMilli(),
	).Err()
	if err != nil {
		return err
	}
	if s.ttl > 0 {
		return s.rdb.Expire(ctx, key, s.ttl).Err()
	}
	return nil
}

// Run mirrors hub records into Redis until ctx is done.
func (s *Shadow) Run(ctx context.Context, h *hub.Hub) {
	drain(ctx, h, "redis", metrics.ErrRedisWrite, s.Write)
}
