package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safetrain/backend/pkg/queue"
)

// JobSource is the Redis side of the transcode queue.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	DeadLetter(ctx context.Context, job *queue.Job, reason string) error
}

// QueueDispatcher sends jobs to the Redis queue for a separate worker process.
type QueueDispatcher struct {
	q *queue.Queue
}

// NewQueueDispatcher wraps q as a Dispatcher.
func NewQueueDispatcher(q *queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{q: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job Job) error {
	return d.q.EnqueueTranscode(ctx, toPayload(job))
}

// Consumer pulls jobs from a JobSource and runs at most concurrency of them at once.
type Consumer struct {
	source      JobSource
	concurrency int
	handle      func(context.Context, Job)
	abandon     func(context.Context, Job, error)
	logger      *zap.Logger
	backoff     time.Duration
}

// NewConsumer creates a queue consumer.
func NewConsumer(source JobSource, concurrency int, handle func(context.Context, Job), logger *zap.Logger) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{source: source, concurrency: concurrency, handle: handle, logger: logger, backoff: queue.RetryBackoff}
}

// SetAbandon registers fn for payloads that fail to decode but still name a video, so
// the record can be failed and the staged file released.
func (c *Consumer) SetAbandon(fn func(context.Context, Job, error)) { c.abandon = fn }

// Run consumes until ctx is done, then waits for running jobs.
func (c *Consumer) Run(ctx context.Context) {
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		if ctx.Err() != nil {
			c.logger.Info("transcode consumer stopping")
			return
		}
		select {
		case <-ctx.Done():
			continue
		case sem <- struct{}{}:
		}

		qjob, err := c.source.Dequeue(ctx)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				continue
			}
			c.logger.Warn("dequeue error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
			continue
		}
		if qjob == nil {
			<-sem
			continue
		}
		payload, err := queue.DecodeTranscode(qjob)
		if err != nil {
			<-sem
			if dlqErr := c.source.DeadLetter(ctx, qjob, err.Error()); dlqErr != nil {
				c.logger.Error("dead letter failed", zap.String("job_id", qjob.ID), zap.Error(dlqErr))
			}
			if payload.VideoID != "" && c.abandon != nil {
				c.abandon(ctx, fromPayload(payload), err)
			}
			continue
		}

		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer func() { <-sem }()
			c.handle(ctx, job)
		}(fromPayload(payload))
	}
}

func toPayload(j Job) queue.TranscodePayload {
	return queue.TranscodePayload{
		VideoID:    j.VideoID,
		StagedName: j.StagedName,
		OwnerID:    j.OwnerID,
		FileName:   j.FileName,
		SizeBytes:  j.SizeBytes,
		MimeType:   j.MimeType,
	}
}

func fromPayload(p queue.TranscodePayload) Job {
	return Job{
		VideoID:    p.VideoID,
		StagedName: p.StagedName,
		OwnerID:    p.OwnerID,
		FileName:   p.FileName,
		SizeBytes:  p.SizeBytes,
		MimeType:   p.MimeType,
	}
}
