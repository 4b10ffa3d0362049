// README: Redis Pub/Sub transport so every API instance fans events out to its own sockets.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "dispatch:events:"

type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.redis.Publish(ctx, channelPrefix+evt.Topic, b).Err()
}

// Relay subscribes to every event channel and hands raw messages to the hub until ctx ends.
func Relay(ctx context.Context, client *redis.Client, hub *Hub, log zerolog.Logger) error {
	ps := client.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", channelPrefix, err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, channelPrefix)
			n := hub.Deliver(topic, []byte(msg.Payload))
			log.Debug().Str("topic", topic).Int("subscribers", n).Msg("relayed event")
		}
	}
}
