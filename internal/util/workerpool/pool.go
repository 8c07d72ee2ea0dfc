// Package workerpool runs keyed background jobs on a fixed set of goroutines.
// At most one job per key is queued or running at any time.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of background work. Key identifies the resource the job
// acts on; jobs sharing a key never overlap.
type Job struct {
	Key     string
	Run     func(context.Context) error
	Timeout time.Duration
}

// Config holds pool configuration
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// Pool is a bounded pool of workers with per-key deduplication
type Pool struct {
	name   string
	queue  chan Job
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	stopped  bool
	stopOnce sync.Once

	active    atomic.Int32
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New starts a pool with cfg.Workers goroutines
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:     cfg.Name,
		queue:    make(chan Job, cfg.QueueSize),
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[string]struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Debug("Worker pool started",
		zap.String("name", p.name),
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			p.execute(id, job)
		}
	}
}

func (p *Pool) execute(workerID int, job Job) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer p.release(job.Key)

	ctx := p.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := p.safeRun(ctx, job)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("Job failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("key", job.Key),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.succeeded.Add(1)
	p.logger.Debug("Job completed",
		zap.String("pool", p.name),
		zap.String("key", job.Key),
		zap.Duration("duration", time.Since(start)))
}

func (p *Pool) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

func (p *Pool) release(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	delete(p.inFlight, key)
	p.mu.Unlock()
}

// TrySubmit queues job without blocking. It returns false when the pool is
// stopped, the queue is full, or a job with the same key is pending.
func (p *Pool) TrySubmit(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.rejected.Add(1)
		return false
	}
	if job.Key != "" {
		if _, busy := p.inFlight[job.Key]; busy {
			p.rejected.Add(1)
			return false
		}
	}

	select {
	case p.queue <- job:
		if job.Key != "" {
			p.inFlight[job.Key] = struct{}{}
		}
		p.submitted.Add(1)
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

// Pending reports whether a job with key is queued or running
func (p *Pool) Pending(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[key]
	return ok
}

// Stop cancels running jobs, drops queued ones and waits up to timeout
// for workers to exit.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		}
	})
	return err
}

// Stats is a point-in-time snapshot of pool counters
type Stats struct {
	Active    int
	Queued    int
	Submitted uint64
	Succeeded uint64
	Failed    uint64
	Rejected  uint64
}

// Stats returns current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
