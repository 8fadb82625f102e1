package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// fanoutChannel is the Redis pub/sub channel shared by all relay instances.
const fanoutChannel = "hywiz:relay:deltas"

// fanoutMessage is the envelope published for each delta. Instance lets
// subscribers drop their own publications.
type fanoutMessage struct {
	Instance string `json:"instance"`
	Room     string `json:"room"`
	Delta    []byte `json:"delta"`
}

// Fanout bridges room deltas across relay instances through Redis pub/sub,
// so sessions of the same document land on any instance behind a load
// balancer and still see each other.
type Fanout struct {
	client *redis.Client
}

// NewFanout connects to Redis and verifies the connection.
func NewFanout(redisURL string) (*Fanout, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Fanout{client: client}, nil
}

// NewFanoutWithClient creates a fanout from an existing Redis client.
func NewFanoutWithClient(client *redis.Client) *Fanout {
	return &Fanout{client: client}
}

// Publish sends a delta to the other relay instances. Failures are logged
// and dropped; local room members were already served.
func (f *Fanout) Publish(ctx context.Context, instanceID, room string, delta []byte) {
	payload, err := json.Marshal(fanoutMessage{Instance: instanceID, Room: room, Delta: delta})
	if err != nil {
		log.Printf("relay: marshal fanout message: %v", err)
		return
	}
	if err := f.client.Publish(ctx, fanoutChannel, payload).Err(); err != nil {
		log.Printf("relay: publish fanout message: %v", err)
	}
}

// Subscribe delivers deltas published by other instances to fn. It blocks
// until the Redis subscription ends and should be run in a goroutine.
func (f *Fanout) Subscribe(instanceID string, fn func(room string, delta []byte)) {
	pubsub := f.client.Subscribe(context.Background(), fanoutChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var m fanoutMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			log.Printf("relay: bad fanout message: %v", err)
			continue
		}
		if m.Instance == instanceID {
			continue
		}
		fn(m.Room, m.Delta)
	}
}

// Close closes the Redis connection.
func (f *Fanout) Close() error {
	return f.client.Close()
}
