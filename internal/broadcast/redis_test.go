package broadcast

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return "redis://" + endpoint
}

func TestRedisRelay(t *testing.T) {
	url := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	relay := NewRelay(client, DefaultChannel, hub, zerolog.Nop())
	go func() { _ = relay.Run(ctx) }()

	publisher := NewRedisPublisher(client, DefaultChannel)
	// the subscription may not be confirmed yet, publish until the relay delivers
	received := make(chan Message, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if json.Unmarshal(data, &msg) == nil {
			received <- msg
		}
	}()

	require.Eventually(t, func() bool {
		_ = publisher.Publish(ctx, EventWalletRenamed, map[string]string{"username": "degen"})
		select {
		case msg := <-received:
			assert.Equal(t, EventWalletRenamed, msg.Event)
			assert.JSONEq(t, `{"username":"degen"}`, string(msg.Data))
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestRelay_DeliverRunsHandlers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	relay := NewRelay(nil, DefaultChannel, hub, zerolog.Nop())
	var trades []string
	relay.Handle(EventNewTrade, func(_ context.Context, data json.RawMessage) {
		trades = append(trades, string(data))
	})

	payload, err := Encode(EventNewTrade, map[string]string{"contract_address": "0xc1"})
	require.NoError(t, err)
	relay.deliver(context.Background(), payload)

	other, err := Encode(EventWalletRenamed, map[string]string{"username": "degen"})
	require.NoError(t, err)
	relay.deliver(context.Background(), other)
	relay.deliver(context.Background(), []byte("not json"))

	require.Len(t, trades, 1)
	assert.JSONEq(t, `{"contract_address":"0xc1"}`, trades[0])

	// local clients still receive every relayed payload
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(data))
}
