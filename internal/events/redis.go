package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "videos:"
	publishTimeout = 5 * time.Second
)

// RedisNotifier publishes and subscribes to per-video Redis channels, so watchers
// connected to any server instance see events from any worker.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier creates a Redis pub/sub bridge for video events.
func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{client: client, logger: logger}
}

// Channel returns the Redis channel for a video.
func Channel(videoID string) string { return channelPrefix + videoID }

// Publish sends ev to the video's channel.
func (r *RedisNotifier) Publish(ctx context.Context, ev StatusEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, Channel(ev.VideoID), body).Err()
}

// Subscribe listens on the video's channel and calls handler for each event.
func (r *RedisNotifier) Subscribe(ctx context.Context, videoID string, handler func(StatusEvent)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, Channel(videoID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Warn("invalid status event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return cancelCtx, nil
}
