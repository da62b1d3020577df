package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSubscriber receives status notifications from Redis pub/sub. Messages
// are JSON envelopes; only those whose event matches are handed on.
type RedisSubscriber struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisSubscriber(client *redis.Client, logger *zap.Logger) *RedisSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSubscriber{client: client, logger: logger}
}

func (s *RedisSubscriber) Subscribe(channel, event string, handler func(payload []byte)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no notification is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range pubsub.Channel() {
			s.deliver(channel, event, []byte(msg.Payload), handler)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := pubsub.Close(); err != nil {
				s.logger.Debug("Close pubsub failed", zap.String("channel", channel), zap.Error(err))
			}
			wg.Wait()
		})
	}, nil
}

func (s *RedisSubscriber) deliver(channel, event string, raw []byte, handler func(payload []byte)) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		s.logger.Warn("Dropping malformed notification", zap.String("channel", channel), zap.Error(err))
		return
	}
	if env.Event != event {
		return
	}
	handler(env.Data)
}
