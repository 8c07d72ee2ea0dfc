package fabric

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultBufferSize = 256

// MemoryTransport delivers messages between subscribers inside one process.
// Every subscription has its own buffered queue; a full queue drops the message.
type MemoryTransport struct {
	mu         sync.RWMutex
	subs       map[string][]*memorySubscription
	bufferSize int
	closed     bool
	dropped    uint64
	wg         sync.WaitGroup
	logger     *zap.Logger
}

type memorySubscription struct {
	topic   string
	queue   chan []byte
	done    chan struct{}
	handler Handler
}

// NewMemoryTransport creates an in-process transport
func NewMemoryTransport(bufferSize int, logger *zap.Logger) *MemoryTransport {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryTransport{
		subs:       make(map[string][]*memorySubscription),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Publish enqueues payload for every current subscriber of topic
func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrTransportClosed
	}

	for _, sub := range t.subs[topic] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case sub.queue <- msg:
		default:
			atomic.AddUint64(&t.dropped, 1)
			t.logger.Warn("Subscriber queue full, dropping message",
				zap.String("topic", topic))
		}
	}
	return nil
}

// Subscribe registers handler for topic. Several handlers may share a topic.
func (t *MemoryTransport) Subscribe(topic string, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}

	sub := &memorySubscription{
		topic:   topic,
		queue:   make(chan []byte, t.bufferSize),
		done:    make(chan struct{}),
		handler: handler,
	}
	t.subs[topic] = append(t.subs[topic], sub)

	t.wg.Add(1)
	go t.deliver(sub)
	return nil
}

// Unsubscribe removes every handler registered for topic
func (t *MemoryTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	subs := t.subs[topic]
	delete(t.subs, topic)
	t.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	return nil
}

// Close stops all deliveries and waits for the delivery goroutines
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	all := t.subs
	t.subs = make(map[string][]*memorySubscription)
	t.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	t.wg.Wait()
	return nil
}

// Dropped returns the number of messages dropped on full queues
func (t *MemoryTransport) Dropped() uint64 {
	return atomic.LoadUint64(&t.dropped)
}

func (t *MemoryTransport) deliver(sub *memorySubscription) {
	defer t.wg.Done()

	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.queue:
			t.invoke(sub, msg)
		}
	}
}

func (t *MemoryTransport) invoke(sub *memorySubscription, msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Subscriber handler panic recovered",
				zap.String("topic", sub.topic),
				zap.Any("panic", r))
		}
	}()
	sub.handler(msg)
}
