package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/nats-io/nats.go"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
)

// NATSPublisher publishes JSON-encoded events to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("coinfox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.conn.Publish(topic, data)
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	return nil
}

// NewPublisherFromEnv connects to NATS_URL, or returns a NoopPublisher when
// it is unset or unreachable.
func NewPublisherFromEnv() Publisher {
	url := env.GetEnv("NATS_URL", "")
	if url == "" {
		log.Info("[Events] NATS_URL not set, domain events disabled")
		return &NoopPublisher{}
	}
	pub, err := NewNATSPublisher(url)
	if err != nil {
		log.Warnf("[Events] %v; domain events disabled", err)
		return &NoopPublisher{}
	}
	log.Infof("[Events] publishing to %s", url)
	return pub
}
