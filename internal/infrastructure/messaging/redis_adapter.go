package messaging

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter adapts a go-redis client to the RedisClient interface
// used by RedisEventBus.
type GoRedisAdapter struct {
	client *redis.Client
}

// NewGoRedisAdapter wraps an existing go-redis client.
func NewGoRedisAdapter(client *redis.Client) *GoRedisAdapter {
	return &GoRedisAdapter{client: client}
}

// Publish implements RedisClient.
func (a *GoRedisAdapter) Publish(ctx context.Context, channel string, message interface{}) error {
	return a.client.Publish(ctx, channel, message).Err()
}

// Subscribe implements RedisClient. The returned channel closes when ctx is
// cancelled or the underlying subscription ends.
func (a *GoRedisAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	sub := a.client.Subscribe(ctx, channels...)

	// Fail fast if the subscription cannot be established.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}
			}
		}
	}()

	return out, nil
}

// Close implements RedisClient. The wrapped client is shared with the cache
// layer, so closing the adapter does not close the connection.
func (a *GoRedisAdapter) Close() error {
	return nil
}
