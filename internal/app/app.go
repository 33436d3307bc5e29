// Package app builds the ingestion pipeline from configuration. The HTTP server and
// the queue worker share it so both sides agree on storage, queue and event drivers.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/safetrain/backend/config"
	"github.com/safetrain/backend/internal/events"
	"github.com/safetrain/backend/internal/jobs"
	"github.com/safetrain/backend/internal/ledger"
	"github.com/safetrain/backend/internal/models"
	"github.com/safetrain/backend/internal/staging"
	"github.com/safetrain/backend/internal/transcoder"
	"github.com/safetrain/backend/internal/validator"
	"github.com/safetrain/backend/internal/videos"
	"github.com/safetrain/backend/pkg/database"
	"github.com/safetrain/backend/pkg/queue"
	"github.com/safetrain/backend/pkg/redis"
	"github.com/safetrain/backend/pkg/storage"
)

// Pipeline holds the wired components. Queue is set with the redis queue driver,
// Pool with the memory one; Local is set with the local storage driver.
type Pipeline struct {
	Store       videos.Store
	Ledger      ledger.Ledger
	Publisher   storage.Publisher
	Local       *storage.Local
	Orphans     jobs.OrphanStore
	Notifier    events.Notifier
	Subscriber  events.Subscriber
	Queue       *queue.Queue
	Pool        *jobs.Pool
	Coordinator *jobs.Coordinator

	closers []func()
}

// Close releases database and Redis connections.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// Build connects every configured backend and assembles the coordinator.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	p := &Pipeline{}
	ok := false
	defer func() {
		if !ok {
			p.Close()
		}
	}()

	switch cfg.Database.RecordStore {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		p.closers = append(p.closers, pool.Close)
		if err := database.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		p.Store = videos.NewRepository(pool)
		p.Ledger = ledger.NewRepository(pool)
	default:
		logger.Warn("using in-memory record store; records are lost on restart")
		p.Store = videos.NewMemoryStore()
		p.Ledger = ledger.NewMemoryLedger()
	}

	if cfg.Worker.QueueDriver == "redis" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		p.closers = append(p.closers, func() { _ = rdb.Close() })
		p.Queue = queue.NewQueue(rdb.Client, logger)
		p.Orphans = jobs.NewRedisOrphans(rdb.Client)
		bus := events.NewRedisNotifier(rdb.Client, logger)
		p.Notifier, p.Subscriber = bus, bus
	} else {
		p.Pool = jobs.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueSize, logger)
		p.Orphans = jobs.NewMemoryOrphans()
		bus := events.NewMemoryBus()
		p.Notifier, p.Subscriber = bus, bus
	}

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	p.Publisher = publisher
	if l, isLocal := publisher.(*storage.Local); isLocal {
		p.Local = l
		if p.Queue != nil {
			logger.Warn("local storage with the redis queue: LOCAL_MEDIA_DIR must be shared by server and workers",
				zap.String("dir", l.Dir()))
		}
	}

	st, err := staging.New(cfg.Video.StagingDir, logger)
	if err != nil {
		return nil, err
	}
	tc, err := transcoder.New(transcoder.Options{
		FFmpegPath: cfg.Video.FFmpegPath,
		WorkRoot:   filepath.Join(cfg.Video.StagingDir, "work"),
		Timeout:    cfg.Video.TranscodeTimeout,
		Profiles:   Profiles(cfg.Video),
	}, transcoder.ExecRunner{}, logger)
	if err != nil {
		return nil, fmt.Errorf("transcoder: %w", err)
	}
	v := validator.New(validator.Limits{
		MaxUploadBytes:     cfg.Video.MaxUploadBytes,
		MaxDurationSeconds: cfg.Video.MaxDurationSeconds,
	}, validator.FFProbe{Path: cfg.Video.FFprobePath, Timeout: cfg.Video.ProbeTimeout}, logger)

	var dispatcher jobs.Dispatcher = p.Pool
	if p.Queue != nil {
		dispatcher = jobs.NewQueueDispatcher(p.Queue)
	}
	p.Coordinator, err = jobs.NewCoordinator(jobs.Deps{
		Staging:    st,
		Validator:  v,
		Transcoder: tc,
		Publisher:  publisher,
		Store:      p.Store,
		Ledger:     p.Ledger,
		Orphans:    p.Orphans,
		Notifier:   p.Notifier,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return p, nil
}

// Sweeper builds the orphan sweeper for this pipeline.
func (p *Pipeline) Sweeper(cfg *config.Config, logger *zap.Logger) *jobs.Sweeper {
	return jobs.NewSweeper(p.Orphans, p.Publisher, videos.KeyReferenced(p.Store), cfg.Worker.OrphanSweepEvery, cfg.Worker.OrphanSweepBatch, logger)
}

// Profiles maps the configured ladder to transcoder profiles.
func Profiles(c config.VideoConfig) []transcoder.Profile {
	return []transcoder.Profile{
		{Quality: models.QualityHigh, Width: c.High.Width, Height: c.High.Height, BitrateKbps: c.High.BitrateKbps},
		{Quality: models.QualityMedium, Width: c.Medium.Width, Height: c.Medium.Height, BitrateKbps: c.Medium.BitrateKbps},
		{Quality: models.QualityLow, Width: c.Low.Width, Height: c.Low.Height, BitrateKbps: c.Low.BitrateKbps},
	}
}

func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Publisher, error) {
	s := cfg.Storage
	switch s.Driver {
	case "s3":
		pub, err := storage.NewS3(ctx, storage.S3Config{
			Region:          s.Region,
			Endpoint:        s.Endpoint,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			Bucket:          s.Bucket,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		return pub, nil
	case "minio":
		pub, err := storage.NewMinIO(ctx, storage.MinIOConfig{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKeyID,
			SecretKey: s.SecretAccessKey,
			UseSSL:    s.UseSSL,
			Region:    s.Region,
			Bucket:    s.Bucket,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		return pub, nil
	default:
		pub, err := storage.NewLocal(s.LocalDir, cfg.Server.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		return pub, nil
	}
}
