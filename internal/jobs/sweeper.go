package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/safetrain/backend/pkg/storage"
)

// ReferenceCheck reports whether a storage key belongs to a ready video.
type ReferenceCheck func(ctx context.Context, key string) (bool, error)

// Sweeper periodically deletes orphaned keys from object storage.
type Sweeper struct {
	orphans    OrphanStore
	publisher  storage.Publisher
	referenced ReferenceCheck
	interval   time.Duration
	batch      int
	logger     *zap.Logger
}

// NewSweeper creates a sweeper. referenced may be nil, in which case every orphan is deleted.
func NewSweeper(orphans OrphanStore, publisher storage.Publisher, referenced ReferenceCheck, interval time.Duration, batch int, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch < 1 {
		batch = 100
	}
	return &Sweeper{orphans: orphans, publisher: publisher, referenced: referenced, interval: interval, batch: batch, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("orphan sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep deletes one batch of orphans and returns how many were removed. Keys whose
// deletion fails go back into the store for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	keys, err := s.orphans.Pop(ctx, s.batch)
	if err != nil {
		return 0, err
	}
	var retry []string
	deleted := 0
	for _, key := range keys {
		if s.referenced != nil {
			ok, err := s.referenced(ctx, key)
			if err != nil {
				s.logger.Warn("orphan reference check failed", zap.String("key", key), zap.Error(err))
				retry = append(retry, key)
				continue
			}
			if ok {
				s.logger.Info("orphan is referenced, keeping object", zap.String("key", key))
				continue
			}
		}
		if err := s.publisher.Delete(ctx, key); err != nil {
			s.logger.Warn("orphan delete failed", zap.String("key", key), zap.Error(err))
			retry = append(retry, key)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		orphanKeys.WithLabelValues("deleted").Add(float64(deleted))
		s.logger.Info("orphans swept", zap.Int("deleted", deleted))
	}
	if len(retry) > 0 {
		if err := s.orphans.Add(context.WithoutCancel(ctx), retry...); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}
