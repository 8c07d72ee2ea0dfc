// Package cores holds the host-backed domain replicas: OS, hardware,
// network and security.
package cores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/nanocore"
)

// base carries what every domain replica shares: identity, lifecycle
// state, the error counter and access to the fabric.
type base struct {
	coreType model.CoreType
	id       string
	index    int
	bus      nanocore.Bus
	logger   *zap.Logger
	started  time.Time

	errorCount atomic.Uint64

	stateMu sync.RWMutex
	state   model.CoreState

	self *process.Process

	publishEvery time.Duration
	lastPublish  time.Time
}

func newBase(coreType model.CoreType, index int, bus nanocore.Bus, publishEvery time.Duration, logger *zap.Logger) *base {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publishEvery <= 0 {
		publishEvery = time.Second
	}
	id := uuid.New().String()
	return &base{
		coreType:     coreType,
		id:           id,
		index:        index,
		bus:          bus,
		logger:       logger.With(zap.String("core_type", string(coreType)), zap.String("instance_id", id)),
		state:        model.CoreStateInitializing,
		publishEvery: publishEvery,
	}
}

func (b *base) CoreType() model.CoreType { return b.coreType }

func (b *base) InstanceID() string { return b.id }

func (b *base) setState(s model.CoreState) {
	b.stateMu.Lock()
	b.state = s
	b.stateMu.Unlock()
}

func (b *base) currentState() model.CoreState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

// start opens the handle used for self resource accounting
func (b *base) start(ctx context.Context) error {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("failed to open own process: %w", err)
	}
	b.self = proc
	b.started = time.Now()
	b.setState(model.CoreStateRunning)
	return nil
}

func (b *base) recordError(op string, err error) {
	n := b.errorCount.Add(1)
	b.logger.Warn("Domain operation failed",
		zap.String("operation", op),
		zap.Uint64("error_count", n),
		zap.Error(err))
}

// due reports whether periodic publication should happen now
func (b *base) due() bool {
	if time.Since(b.lastPublish) < b.publishEvery {
		return false
	}
	b.lastPublish = time.Now()
	return true
}

// health builds a snapshot with the process's own CPU and memory usage
func (b *base) health(ctx context.Context, state model.CoreState) *model.CoreHealth {
	h := &model.CoreHealth{
		CoreType:      b.coreType,
		InstanceID:    b.id,
		State:         state,
		LastHeartbeat: time.Now().UTC(),
		ErrorCount:    b.errorCount.Load(),
	}
	if !b.started.IsZero() {
		h.UptimeSeconds = uint64(time.Since(b.started).Seconds())
	}
	if b.self != nil {
		if cpu, err := b.self.CPUPercentWithContext(ctx); err == nil {
			h.CPUUsage = cpu
		}
		if mem, err := b.self.MemoryPercentWithContext(ctx); err == nil {
			h.MemoryUsage = float64(mem)
		}
	}
	return h
}

// publish sends v as JSON on a raw fabric topic
func (b *base) publish(ctx context.Context, topic string, v any) error {
	if b.bus == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.bus.Publish(ctx, topic, payload)
}

// alert publishes v as a typed event
func (b *base) alert(ctx context.Context, eventType model.EventType, priority model.EventPriority, v any) error {
	if b.bus == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.bus.PublishEvent(ctx, model.Event{
		Type:     eventType,
		Source:   fmt.Sprintf("%s-%d", b.coreType, b.index),
		Payload:  payload,
		Priority: priority,
	})
}

func (b *base) Shutdown(context.Context) error {
	b.setState(model.CoreStateShutdown)
	b.logger.Debug("Replica shut down")
	return nil
}

func reply(v any) ([]byte, error) {
	return json.Marshal(v)
}
