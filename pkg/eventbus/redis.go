package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisBroker struct {
	client        redis.UniversalClient
	channelPrefix string
	lastPrefix    string
}

func NewRedisBroker(client redis.UniversalClient, channelPrefix, lastPrefix string) *RedisBroker {
	return &RedisBroker{client: client, channelPrefix: channelPrefix, lastPrefix: lastPrefix}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, b.channelPrefix+channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channelPrefix+channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{pubsub: pubsub, messages: make(chan []byte), done: make(chan struct{})}
	go sub.forward()
	return sub, nil
}

func (b *RedisBroker) SetLast(ctx context.Context, channel string, payload []byte, ttl time.Duration) error {
	return b.client.Set(ctx, b.lastPrefix+channel, payload, ttl).Err()
}

func (b *RedisBroker) GetLast(ctx context.Context, channel string) ([]byte, bool, error) {
	payload, err := b.client.Get(ctx, b.lastPrefix+channel).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (b *RedisBroker) ClearLast(ctx context.Context, channel string) error {
	return b.client.Del(ctx, b.lastPrefix+channel).Err()
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) forward() {
	defer close(s.messages)
	for msg := range s.pubsub.Channel() {
		select {
		case s.messages <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.messages
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
