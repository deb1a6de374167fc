package bus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/hub"
	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "spd"

// Conn is the publishing side of *nats.Conn.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends records as JSON on <prefix>.<port>.<packet>.
type Publisher struct {
	conn   Conn
	prefix string
}

func NewPublisher(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// ConnectNATS dials url and keeps reconnecting for the life of the process.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.L().Warn("nats_disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.L().Info("nats_reconnected", "url", c.ConnectedUrl())
		}))
}

// subjectToken makes s safe as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

func (p *Publisher) Subject(r hub.Record) string {
	return p.prefix + "." + subjectToken(r.Port) + "." + subjectToken(r.Packet.Name)
}

func (p *Publisher) Publish(r hub.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(r), data)
}

// Run forwards hub records until ctx is done.
func (p *Publisher) Run(ctx context.Context, h *hub.Hub) {
	drain(ctx, h, "nats", metrics.ErrNATSPublish, func(_ context.Context, r hub.Record) error {
		return p.Publish(r)
	})
}
