package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/metrics"
	"github.com/Alfredo-rv/SAAI/internal/model"
)

// Statistics summarizes what this node has published on the fabric
type Statistics struct {
	TotalEvents      uint64            `json:"total_events"`
	EventsByType     map[string]uint64 `json:"events_by_type"`
	AverageLatencyMs float64           `json:"average_latency_ms"`
	ErrorCount       uint64            `json:"error_count"`
}

// Fabric publishes model.Event envelopes over a Transport and keeps delivery statistics
type Fabric struct {
	transport Transport
	source    string
	metrics   *metrics.Metrics
	logger    *zap.Logger

	statsMu sync.Mutex
	stats   Statistics
}

// NewFabric creates a fabric over transport. source is stamped on events that have none.
func NewFabric(transport Transport, source string, m *metrics.Metrics, logger *zap.Logger) *Fabric {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fabric{
		transport: transport,
		source:    source,
		metrics:   m,
		logger:    logger.Named("fabric"),
		stats:     Statistics{EventsByType: make(map[string]uint64)},
	}
}

// PublishEvent fills in missing envelope fields, encodes the event and publishes it on its topic
func (f *Fabric) PublishEvent(ctx context.Context, evt model.Event) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Source == "" {
		evt.Source = f.source
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.Priority == "" {
		evt.Priority = model.PriorityNormal
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := TopicForEvent(evt.Type)
	start := time.Now()
	err = f.transport.Publish(ctx, topic, data)
	elapsed := time.Since(start)

	f.record(string(evt.Type), elapsed, err)
	if err != nil {
		f.logger.Warn("Failed to publish event",
			zap.String("event_type", string(evt.Type)),
			zap.String("topic", topic),
			zap.Error(err))
		return err
	}
	return nil
}

// Publish sends a raw payload on topic, bypassing the event envelope
func (f *Fabric) Publish(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	err := f.transport.Publish(ctx, topic, payload)
	f.record(topic, time.Since(start), err)
	return err
}

// Subscribe registers a raw payload handler for topic
func (f *Fabric) Subscribe(topic string, handler Handler) error {
	if err := f.transport.Subscribe(topic, handler); err != nil {
		f.metrics.RecordFabricError("subscribe")
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

// SubscribeEvents registers a handler that receives decoded events.
// Payloads that are not events are logged and skipped.
func (f *Fabric) SubscribeEvents(topic string, handler func(model.Event)) error {
	return f.Subscribe(topic, func(payload []byte) {
		var evt model.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			f.logger.Warn("Discarding undecodable event",
				zap.String("topic", topic),
				zap.Error(err))
			return
		}
		handler(evt)
	})
}

// Unsubscribe removes every handler for topic
func (f *Fabric) Unsubscribe(topic string) error {
	return f.transport.Unsubscribe(topic)
}

// Statistics returns a copy of the publish statistics
func (f *Fabric) Statistics() Statistics {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()

	byType := make(map[string]uint64, len(f.stats.EventsByType))
	for k, v := range f.stats.EventsByType {
		byType[k] = v
	}
	out := f.stats
	out.EventsByType = byType
	return out
}

// AverageLatencyMs returns the running mean publish latency
func (f *Fabric) AverageLatencyMs() float64 {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats.AverageLatencyMs
}

// Close closes the underlying transport
func (f *Fabric) Close() error {
	return f.transport.Close()
}

func (f *Fabric) record(kind string, elapsed time.Duration, err error) {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()

	if err != nil {
		f.stats.ErrorCount++
		f.metrics.RecordFabricError("publish")
		return
	}

	f.stats.TotalEvents++
	f.stats.EventsByType[kind]++
	ms := float64(elapsed) / float64(time.Millisecond)
	n := float64(f.stats.TotalEvents)
	f.stats.AverageLatencyMs = (f.stats.AverageLatencyMs*(n-1) + ms) / n
	f.metrics.RecordFabricEvent(kind, elapsed.Seconds())
}
