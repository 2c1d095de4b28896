package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestPublisherImplementations(t *testing.T) {
	var _ Publisher = (*NoopPublisher)(nil)
	var _ Publisher = (*NATSPublisher)(nil)
}

func TestNoopPublisher(t *testing.T) {
	pub := &NoopPublisher{}
	assert.NoError(t, pub.Publish(context.Background(), TopicPurchaseCredited, PurchaseCredited{}))
	assert.NoError(t, pub.Close())
}

func TestNATSPublisherDeliversPurchaseCredited(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(TopicPurchaseCredited, ch)
	require.NoError(t, err)
	defer sub.Unsubscribe() //nolint:errcheck
	require.NoError(t, nc.Flush())

	event := PurchaseCredited{EventID: "evt_1", UserID: "u1", Coins: 100, Amount: "50.00", NewBalance: 100}
	require.NoError(t, pub.Publish(context.Background(), TopicPurchaseCredited, event))
	require.NoError(t, pub.conn.Flush())

	select {
	case msg := <-ch:
		var got PurchaseCredited
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "evt_1", got.EventID)
		assert.Equal(t, int64(100), got.Coins)
		assert.Equal(t, "50.00", got.Amount)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisherHonoursCancelledContext(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	require.NoError(t, err)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, TopicPurchaseCredited, PurchaseCredited{}), context.Canceled)
}

func TestNewPublisherFromEnvFallsBackToNoop(t *testing.T) {
	t.Setenv("NATS_URL", "")
	env.Env = map[string]string{}
	defer func() { env.Env = nil }()

	_, ok := NewPublisherFromEnv().(*NoopPublisher)
	assert.True(t, ok)
}
