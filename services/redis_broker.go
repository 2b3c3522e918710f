package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisChannelPrefix namespaces the pub/sub channels used for fan-out
const RedisChannelPrefix = "kafuffle:channel:"

// RedisBroker relays events between API instances. Publish sends to Redis;
// Run receives from Redis and hands events to the local hub, so an event
// published on any instance reaches websocket clients on every instance.
type RedisBroker struct {
	client *redis.Client
	local  *Hub
}

// NewRedisBroker creates a broker delivering into local
func NewRedisBroker(client *redis.Client, local *Hub) *RedisBroker {
	return &RedisBroker{client: client, local: local}
}

// RedisChannel returns the pub/sub channel for a message channel
func RedisChannel(channelID uint) string {
	return fmt.Sprintf("%s%d", RedisChannelPrefix, channelID)
}

// Publish sends evt to Redis. If Redis is unreachable the event is delivered
// locally only, so clients on this instance still see it.
func (b *RedisBroker) Publish(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("Failed to encode realtime event %s on channel %d: %v", evt.Type, evt.ChannelID, err)
		return
	}

	if err := b.client.Publish(context.Background(), RedisChannel(evt.ChannelID), payload).Err(); err != nil {
		log.Printf("Failed to publish realtime event to redis, delivering locally: %v", err)
		b.local.Publish(evt)
	}
}

// Run relays events from Redis into the local hub until ctx is cancelled.
// ready, if non-nil, is closed once the subscription is confirmed.
func (b *RedisBroker) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := b.client.PSubscribe(ctx, RedisChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to realtime events: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Printf("Dropping malformed realtime event on %s: %v", msg.Channel, err)
				continue
			}
			b.local.Publish(evt)
		}
	}
}
