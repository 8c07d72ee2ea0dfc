package fabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis pub/sub transport
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisTransport uses Redis PUBLISH/SUBSCRIBE channels as topics
type RedisTransport struct {
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string][]*redis.PubSub

	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewRedisTransport connects to Redis and verifies the connection
func NewRedisTransport(cfg RedisConfig, logger *zap.Logger) (*RedisTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger.Info("Redis transport connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port))

	return &RedisTransport{
		client: client,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string][]*redis.PubSub),
		logger: logger,
	}, nil
}

// Publish sends payload to the channel named topic
func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if t.ctx.Err() != nil {
		return ErrTransportClosed
	}
	if err := t.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection for topic
func (t *RedisTransport) Subscribe(topic string, handler Handler) error {
	if t.ctx.Err() != nil {
		return ErrTransportClosed
	}

	ps := t.client.Subscribe(t.ctx, topic)

	ctx, cancel := context.WithTimeout(t.ctx, 5*time.Second)
	defer cancel()
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	t.mu.Lock()
	t.subs[topic] = append(t.subs[topic], ps)
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for msg := range ps.Channel() {
			t.dispatch(topic, handler, []byte(msg.Payload))
		}
	}()
	return nil
}

// Unsubscribe closes every pub/sub connection for topic
func (t *RedisTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	subs := t.subs[topic]
	delete(t.subs, topic)
	t.mu.Unlock()

	var firstErr error
	for _, ps := range subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
		}
	}
	return firstErr
}

// Close drops all subscriptions and the client
func (t *RedisTransport) Close() error {
	if t.ctx.Err() != nil {
		return nil
	}

	t.mu.Lock()
	all := t.subs
	t.subs = make(map[string][]*redis.PubSub)
	t.mu.Unlock()

	for _, subs := range all {
		for _, ps := range subs {
			_ = ps.Close()
		}
	}
	t.cancel()
	t.wg.Wait()

	return t.client.Close()
}

func (t *RedisTransport) dispatch(topic string, h Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Subscriber handler panic recovered",
				zap.String("topic", topic),
				zap.Any("panic", r))
		}
	}()
	h(payload)
}
