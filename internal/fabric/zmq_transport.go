package fabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// ZMQConfig configures the ZeroMQ PUB/SUB transport
type ZMQConfig struct {
	// ListenEndpoint is where this node's PUB socket binds, e.g. tcp://0.0.0.0:5555
	ListenEndpoint string
	// ConnectEndpoints are the PUB sockets this node subscribes to, its own included
	ConnectEndpoints []string
}

// ZMQTransport publishes on a PUB socket and receives on a SUB socket connected
// to every configured publisher. Messages are two frames: topic and payload.
type ZMQTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	pub   zmq4.Socket
	sub   zmq4.Socket
	pubMu sync.Mutex

	mu       sync.RWMutex
	handlers map[string][]Handler

	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewZMQTransport binds the publisher, connects the subscriber and starts receiving
func NewZMQTransport(cfg ZMQConfig, logger *zap.Logger) (*ZMQTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	pub := zmq4.NewPub(ctx)
	if err := pub.Listen(cfg.ListenEndpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to bind publisher on %s: %w", cfg.ListenEndpoint, err)
	}

	sub := zmq4.NewSub(ctx)
	for _, ep := range cfg.ConnectEndpoints {
		if err := sub.Dial(ep); err != nil {
			_ = pub.Close()
			cancel()
			return nil, fmt.Errorf("failed to connect subscriber to %s: %w", ep, err)
		}
	}

	t := &ZMQTransport{
		ctx:      ctx,
		cancel:   cancel,
		pub:      pub,
		sub:      sub,
		handlers: make(map[string][]Handler),
		logger:   logger,
	}

	t.wg.Add(1)
	go t.receiveLoop()

	logger.Info("ZeroMQ transport started",
		zap.String("listen", cfg.ListenEndpoint),
		zap.Strings("connect", cfg.ConnectEndpoints))

	return t, nil
}

// Publish sends payload on topic
func (t *ZMQTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.ctx.Err() != nil {
		return ErrTransportClosed
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	if err := t.pub.Send(zmq4.NewMsgFrom([]byte(topic), payload)); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}

// Subscribe adds a socket filter for topic and registers handler
func (t *ZMQTransport) Subscribe(topic string, handler Handler) error {
	if t.ctx.Err() != nil {
		return ErrTransportClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.handlers[topic]; !ok {
		if err := t.sub.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	t.handlers[topic] = append(t.handlers[topic], handler)
	return nil
}

// Unsubscribe removes the socket filter and handlers for topic
func (t *ZMQTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.handlers[topic]; !ok {
		return nil
	}
	delete(t.handlers, topic)
	if err := t.sub.SetOption(zmq4.OptionUnsubscribe, topic); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
	}
	return nil
}

// Close shuts down both sockets and waits for the receive loop
func (t *ZMQTransport) Close() error {
	if t.ctx.Err() != nil {
		return nil
	}
	t.cancel()

	var firstErr error
	if err := t.sub.Close(); err != nil {
		firstErr = err
	}
	if err := t.pub.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	t.wg.Wait()

	t.logger.Info("ZeroMQ transport stopped")
	return firstErr
}

func (t *ZMQTransport) receiveLoop() {
	defer t.wg.Done()

	for {
		msg, err := t.sub.Recv()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Warn("Failed to receive message", zap.Error(err))
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if len(msg.Frames) < 2 {
			continue
		}
		topic := string(msg.Frames[0])

		// SUB filters are prefix matches, dispatch only on the exact topic.
		t.mu.RLock()
		handlers := append([]Handler(nil), t.handlers[topic]...)
		t.mu.RUnlock()

		for _, h := range handlers {
			t.dispatch(topic, h, msg.Frames[1])
		}
	}
}

func (t *ZMQTransport) dispatch(topic string, h Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Subscriber handler panic recovered",
				zap.String("topic", topic),
				zap.Any("panic", r))
		}
	}()
	h(payload)
}
