package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	connectTimeout = 5 * time.Second
)

// RedisOptions selects the Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisBroker implements MessageBroker using Redis pub/sub
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroker connects to Redis and checks the connection with a ping.
func NewRedisBroker(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisBroker{client: client, logger: logger.Named("redis")}, nil
}

// Client returns the underlying Redis client.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

func retryPolicy(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(initialBackoff),
				backoff.WithMaxInterval(maxBackoff),
			),
			maxRetries,
		),
		ctx,
	)
}

// Publish sends a message to the specified channel with retry capability
func (b *RedisBroker) Publish(ctx context.Context, channel string, message Message) error {
	operation := func() error {
		return b.client.Publish(ctx, channel, message).Err()
	}

	return backoff.RetryNotify(operation, retryPolicy(ctx), func(err error, d time.Duration) {
		b.logger.Warn("retrying redis publish",
			zap.String("channel", channel), zap.Duration("next_attempt", d), zap.Error(err))
	})
}

// Subscribe starts listening for messages on the specified channel. The
// returned channel is closed when ctx is done or the subscription ends.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	var pubsub *redis.PubSub
	operation := func() error {
		ps := b.client.Subscribe(ctx, channel)
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			return err
		}
		pubsub = ps
		return nil
	}
	if err := backoff.RetryNotify(operation, retryPolicy(ctx), func(err error, d time.Duration) {
		b.logger.Warn("retrying redis subscribe",
			zap.String("channel", channel), zap.Duration("next_attempt", d), zap.Error(err))
	}); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	messages := make(chan Message)

	go func() {
		defer pubsub.Close()
		defer close(messages)

		msgChan := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					return
				}

				var message Message
				if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
					b.logger.Warn("message decode error", zap.String("channel", channel), zap.Error(err))
					continue
				}

				select {
				case messages <- message:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return messages, nil
}

// Close cleans up resources
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
