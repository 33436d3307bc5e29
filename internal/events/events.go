// Package events fans out terminal video status changes to watchers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/safetrain/backend/internal/models"
)

// EventStatus is the event name carried by every status message.
const EventStatus = "video.status"

// StatusEvent announces that a video reached a terminal status.
type StatusEvent struct {
	Event           string             `json:"event"`
	VideoID         string             `json:"videoId"`
	Status          models.VideoStatus `json:"status"`
	ProcessingError string             `json:"processingError,omitempty"`
	At              int64              `json:"at"`
}

// NewStatusEvent builds an event stamped with the current time.
func NewStatusEvent(videoID string, status models.VideoStatus, processingError string) StatusEvent {
	return StatusEvent{Event: EventStatus, VideoID: videoID, Status: status, ProcessingError: processingError, At: time.Now().Unix()}
}

// Notifier publishes status events.
type Notifier interface {
	Publish(ctx context.Context, ev StatusEvent) error
}

// Subscriber delivers events for one video until cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context, videoID string, handler func(StatusEvent)) (cancel func(), err error)
}

// MemoryBus is an in-process Notifier and Subscriber.
type MemoryBus struct {
	mu     sync.RWMutex
	next   int
	topics map[string]map[int]func(StatusEvent)
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]map[int]func(StatusEvent))}
}

// Publish calls every handler subscribed to the event's video.
func (b *MemoryBus) Publish(_ context.Context, ev StatusEvent) error {
	b.mu.RLock()
	handlers := make([]func(StatusEvent), 0, len(b.topics[ev.VideoID]))
	for _, h := range b.topics[ev.VideoID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, videoID string, handler func(StatusEvent)) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	if b.topics[videoID] == nil {
		b.topics[videoID] = make(map[int]func(StatusEvent))
	}
	b.topics[videoID][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.topics[videoID], id)
			if len(b.topics[videoID]) == 0 {
				delete(b.topics, videoID)
			}
			b.mu.Unlock()
		})
	}, nil
}
