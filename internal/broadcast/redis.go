package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/xtrntr/memestream/internal/logger"
	"github.com/xtrntr/memestream/internal/metrics"
)

// DefaultChannel is the pub/sub channel shared by all server instances
const DefaultChannel = "memestream:events"

// NewRedisClient connects to redisURL and checks the connection
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisPublisher publishes events to a Redis channel so every instance's
// Relay can deliver them to its local clients
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher on channel
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends the encoded event to the channel
func (p *RedisPublisher) Publish(ctx context.Context, event string, payload any) error {
	data, err := Encode(event, payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}
	metrics.RecordPublish(event, "redis")
	return nil
}

// EventHandler reacts to an event relayed from another instance
type EventHandler func(ctx context.Context, data json.RawMessage)

// Relay forwards messages from a Redis channel to a local hub and to any
// handlers registered for the message's event
type Relay struct {
	client   *redis.Client
	channel  string
	hub      *Hub
	handlers map[string][]EventHandler
	logger   zerolog.Logger
}

// NewRelay creates a relay from channel to hub
func NewRelay(client *redis.Client, channel string, hub *Hub, log zerolog.Logger) *Relay {
	return &Relay{
		client:   client,
		channel:  channel,
		hub:      hub,
		handlers: make(map[string][]EventHandler),
		logger:   logger.WithComponent(log, "redis_relay"),
	}
}

// Handle registers fn for event. Handlers must be registered before Run.
func (r *Relay) Handle(event string, fn EventHandler) {
	r.handlers[event] = append(r.handlers[event], fn)
}

// Run subscribes and forwards until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("Relaying events from Redis")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, []byte(msg.Payload))
		}
	}
}

func (r *Relay) deliver(ctx context.Context, payload []byte) {
	r.hub.Broadcast(payload)

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to decode relayed event")
		return
	}
	for _, fn := range r.handlers[msg.Event] {
		fn(ctx, msg.Data)
	}
}
