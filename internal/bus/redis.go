package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fullsend/fullsend/internal/metrics"
)

// RedisBus implements Bus over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(cfg *RedisConfig, logger *slog.Logger) (*RedisBus, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := &redis.Options{
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{client: client, logger: logger}, nil
}

// NewRedisBusFromClient wraps an existing Redis client.
func NewRedisBusFromClient(client *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: client, logger: logger}
}

// Client exposes the underlying Redis client so a service can share one
// connection pool between the bus and the store.
func (b *RedisBus) Client() *redis.Client {
	return b.client
}

// Publish sends a payload to a channel. Zero subscribers is success.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.BusPublishErrors.WithLabelValues(channel).Inc()
		return fmt.Errorf("publish %s: %w", channel, err)
	}

	metrics.BusMessagesPublished.WithLabelValues(channel).Inc()
	return nil
}

// Subscribe starts a background receive loop for the named channels. The
// loop reconnects with capped exponential backoff on connection loss and
// never crashes the owning process; messages in flight during an outage are
// lost.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func(), error) {
	if len(channels) == 0 {
		return nil, nil, errors.New("no channels given")
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Message, 256)

	go b.receiveLoop(subCtx, channels, out)

	cleanup := func() {
		cancel()
	}
	return out, cleanup, nil
}

func (b *RedisBus) receiveLoop(ctx context.Context, channels []string, out chan<- Message) {
	defer close(out)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := b.client.Subscribe(ctx, channels...)

		// Wait for the subscription to be confirmed so callers observe
		// "messages published after subscription only" deterministically.
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("bus subscribe failed, retrying",
				slog.Any("error", err),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		b.logger.Info("bus subscribed", slog.Any("channels", channels))

		ch := pubsub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					// Connection dropped; reconnect with backoff.
					break recv
				}
				metrics.BusMessagesReceived.WithLabelValues(msg.Channel).Inc()
				select {
				case out <- Message{Channel: msg.Channel, Data: []byte(msg.Payload)}:
				case <-ctx.Done():
					pubsub.Close()
					return
				}
			}
		}

		pubsub.Close()
		b.logger.Warn("bus connection lost, reconnecting",
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Close closes the Redis connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

func marshalPayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// Ensure RedisBus implements Bus
var _ Bus = (*RedisBus)(nil)
