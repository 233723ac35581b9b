package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisInvalidator publishes revoked lookup fragments to every instance
// listening on channel.
type RedisInvalidator struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisInvalidator(client redis.UniversalClient, channel string) *RedisInvalidator {
	return &RedisInvalidator{client: client, channel: channel}
}

func (p *RedisInvalidator) Invalidate(ctx context.Context, lookup string) error {
	return p.client.Publish(ctx, p.channel, lookup).Err()
}

// Subscriber evicts entries from an IdentityCache as invalidations arrive.
type Subscriber struct {
	cache  *IdentityCache
	pubsub *redis.PubSub
}

// Subscribe waits for the subscription to be confirmed before returning, so
// no invalidation published afterwards can be missed.
func Subscribe(ctx context.Context, client redis.UniversalClient, channel string, c *IdentityCache) (*Subscriber, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	s := &Subscriber{cache: c, pubsub: pubsub}
	go s.run()
	return s, nil
}

func (s *Subscriber) run() {
	for msg := range s.pubsub.Channel() {
		if msg.Payload == "" {
			continue
		}
		s.cache.Invalidate(msg.Payload)
		logrus.WithField("key_lookup", msg.Payload).Debug("Identity cache entry invalidated")
	}
}

func (s *Subscriber) Close() error {
	return s.pubsub.Close()
}
