package jobs

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
type Pool struct {
	workers int
	queue   chan Job
	logger  *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{workers: workers, queue: make(chan Job, queueSize), logger: logger}
}

// Start launches the workers. Jobs run on ctx, not on the context of the request that
// dispatched them.
func (p *Pool) Start(ctx context.Context, handle func(context.Context, Job)) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for job := range p.queue {
				queueDepth.Set(float64(len(p.queue)))
				p.logger.Debug("job picked up", zap.Int("worker", worker), zap.String("video_id", job.VideoID))
				handle(ctx, job)
			}
		}(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.queue)))
}

// Dispatch enqueues job without blocking. It returns ErrQueueFull when every slot is taken.
func (p *Pool) Dispatch(_ context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- job:
		queueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs, lets workers drain the queue and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}
