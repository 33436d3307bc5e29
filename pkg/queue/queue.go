package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueTranscode is the Redis list key for transcode jobs.
	QueueTranscode = "worker:transcode"
	// QueueDLQ holds payloads no worker could decode.
	QueueDLQ = "worker:transcode:dlq"
	// PollTimeout bounds one blocking pop so workers notice shutdown.
	PollTimeout = 5 * time.Second
	// RetryBackoff is the delay after a Redis error before polling again.
	RetryBackoff = 2 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeTranscode JobType = "transcode"
)

// TranscodePayload is the payload for transcode jobs. The staged file lives on a
// volume shared by the server and workers.
type TranscodePayload struct {
	VideoID    string `json:"video_id"`
	StagedName string `json:"staged_name"`
	OwnerID    string `json:"owner_id"`
	FileName   string `json:"file_name"`
	SizeBytes  int64  `json:"size_bytes"`
	MimeType   string `json:"mime_type"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// DecodeTranscode returns the transcode payload of a job. On a malformed transcode
// payload the returned value still holds every field that could be read.
func DecodeTranscode(job *Job) (TranscodePayload, error) {
	var p TranscodePayload
	if job.Type != JobTypeTranscode {
		return p, fmt.Errorf("unknown job type: %s", job.Type)
	}
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.VideoID == "" || p.StagedName == "" {
		return p, errors.New("payload missing video_id or staged_name")
	}
	return p, nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueTranscode enqueues a transcode job.
func (q *Queue) EnqueueTranscode(ctx context.Context, payload TranscodePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeTranscode,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueTranscode, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued transcode job", zap.String("job_id", job.ID), zap.String("video_id", payload.VideoID))
	return nil
}

// Dequeue waits up to PollTimeout for a job. It returns a nil job when none arrived.
// Undecodable envelopes are moved to the DLQ.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueueTranscode).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job envelope", zap.String("raw", result[1]), zap.Error(err))
		if dlqErr := q.client.RPush(ctx, QueueDLQ, result[1]).Err(); dlqErr != nil {
			q.logger.Error("dlq push failed", zap.Error(dlqErr))
		}
		return nil, nil
	}
	return &job, nil
}

// DeadLetter parks a job whose payload cannot be processed. Transcode failures are
// recorded on the video itself and never dead-lettered.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, reason string) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("reason", reason))
	return nil
}

// Len returns the number of waiting transcode jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueTranscode).Result()
}
