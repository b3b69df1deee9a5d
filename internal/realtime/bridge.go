package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/chat"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

const publishTimeout = 2 * time.Second

// Envelope carries one delivery between instances.
type Envelope struct {
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// PubSub is the subset of the Redis store the bridge needs.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (*redis.PubSub, error)
}

// Bridge implements chat.Sink across instances. Deliveries are published to
// Redis and every instance, including the sender, replays them into its hub.
type Bridge struct {
	pubsub PubSub
	hub    *Hub
	logger zerolog.Logger
}

// NewBridge creates a bridge publishing through ps and delivering into hub.
func NewBridge(ps PubSub, hub *Hub, logger zerolog.Logger) *Bridge {
	return &Bridge{
		pubsub: ps,
		hub:    hub,
		logger: logger.With().Str("component", "bridge").Logger(),
	}
}

// DeliverToUser publishes a delivery to every connection of username.
func (b *Bridge) DeliverToUser(username string, p chat.Payload) error {
	return b.publish(channelUser, username, p)
}

// DeliverToTopic publishes a delivery to every subscriber of topic.
func (b *Bridge) DeliverToTopic(topic string, p chat.Payload) error {
	return b.publish(channelTopic, topic, p)
}

// DeliverToPublic publishes a delivery to every connection.
func (b *Bridge) DeliverToPublic(p chat.Payload) error {
	return b.publish(channelTopic, chat.PublicTopic, p)
}

func (b *Bridge) publish(channel, target string, p chat.Payload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{
		ID:      ulid.Make().String(),
		Channel: channel,
		Target:  target,
		Payload: payload,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return b.pubsub.Publish(ctx, store.DeliveryChannel, data)
}

// Run replays published deliveries into the local hub until ctx is done.
// ready, when non-nil, is closed once the subscription is active.
func (b *Bridge) Run(ctx context.Context, ready chan<- struct{}) error {
	sub, err := b.pubsub.Subscribe(ctx, store.DeliveryChannel)
	if err != nil {
		return err
	}
	defer sub.Close()

	if ready != nil {
		close(ready)
	}
	b.logger.Info().Str("channel", store.DeliveryChannel).Msg("fan-out bridge subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.replay(msg.Payload)
		}
	}
}

func (b *Bridge) replay(raw string) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Warn().Err(err).Msg("discarding malformed envelope")
		return
	}
	if env.Channel != channelUser && env.Channel != channelTopic {
		b.logger.Warn().Str("envelope_id", env.ID).Str("channel", env.Channel).Msg("discarding envelope for unknown channel")
		return
	}

	if err := b.hub.deliver(env.Channel, env.Target, env.Payload); err != nil {
		b.logger.Debug().
			Err(err).
			Str("envelope_id", env.ID).
			Str(env.Channel, env.Target).
			Msg("no local recipients")
	}
}
