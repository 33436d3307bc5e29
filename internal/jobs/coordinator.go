// Package jobs runs the ingestion pipeline for uploaded videos: validation, transcoding,
// publishing and reconciliation of the video record.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/safetrain/backend/internal/events"
	"github.com/safetrain/backend/internal/ids"
	"github.com/safetrain/backend/internal/ledger"
	"github.com/safetrain/backend/internal/models"
	"github.com/safetrain/backend/internal/transcoder"
	"github.com/safetrain/backend/internal/validator"
	"github.com/safetrain/backend/pkg/storage"
)

const (
	// MaxErrorLength caps processingError.
	MaxErrorLength       = 1024
	terminalWriteTimeout = 15 * time.Second
)

// Stager holds uploads on local disk.
type Stager interface {
	Stage(ctx context.Context, r io.Reader, originalName string) (string, int64, error)
	Path(name string) string
	Remove(name string) error
}

// Validator checks uploads before and after staging.
type Validator interface {
	CheckDeclared(size int64, contentType string) error
	ResolveType(path, contentType string) (string, error)
	Validate(ctx context.Context, path string, declaredSize int64, contentType string) (validator.MediaInfo, error)
}

// Transcoder produces the four artifacts of a job.
type Transcoder interface {
	Transcode(ctx context.Context, sourcePath, jobID string) (*transcoder.Artifacts, error)
}

// RecordStore is the part of the video store the pipeline writes to.
type RecordStore interface {
	Create(ctx context.Context, v *models.Video) error
	MarkReady(ctx context.Context, id string, u models.ReadyUpdate) error
	MarkFailed(ctx context.Context, id, message string) error
}

// Dispatcher schedules a job to run in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Upload is one accepted multipart upload.
type Upload struct {
	Title       string
	Description string
	Category    string
	Zone        string
	OwnerID     string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Job is the background unit of work. Its id is the video id.
type Job struct {
	VideoID    string
	StagedName string
	OwnerID    string
	FileName   string
	SizeBytes  int64
	MimeType   string
}

// Deps are the collaborators of a Coordinator. Orphans and Notifier are optional.
type Deps struct {
	Staging    Stager
	Validator  Validator
	Transcoder Transcoder
	Publisher  storage.Publisher
	Store      RecordStore
	Ledger     ledger.Ledger
	Orphans    OrphanStore
	Notifier   events.Notifier
	Dispatcher Dispatcher
	Logger     *zap.Logger
}

// Coordinator accepts uploads and drives each job to exactly one terminal state.
type Coordinator struct {
	staging    Stager
	validator  Validator
	transcoder Transcoder
	publisher  storage.Publisher
	store      RecordStore
	ledger     ledger.Ledger
	orphans    OrphanStore
	notifier   events.Notifier
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewCoordinator checks that every required dependency is present.
func NewCoordinator(d Deps) (*Coordinator, error) {
	switch {
	case d.Staging == nil:
		return nil, errors.New("coordinator: staging is required")
	case d.Validator == nil:
		return nil, errors.New("coordinator: validator is required")
	case d.Transcoder == nil:
		return nil, errors.New("coordinator: transcoder is required")
	case d.Publisher == nil:
		return nil, errors.New("coordinator: publisher is required")
	case d.Store == nil:
		return nil, errors.New("coordinator: record store is required")
	case d.Ledger == nil:
		return nil, errors.New("coordinator: ledger is required")
	case d.Dispatcher == nil:
		return nil, errors.New("coordinator: dispatcher is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Orphans == nil {
		d.Orphans = NewMemoryOrphans()
	}
	return &Coordinator{
		staging:    d.Staging,
		validator:  d.Validator,
		transcoder: d.Transcoder,
		publisher:  d.Publisher,
		store:      d.Store,
		ledger:     d.Ledger,
		orphans:    d.Orphans,
		notifier:   d.Notifier,
		dispatcher: d.Dispatcher,
		logger:     d.Logger,
	}, nil
}

// Accept runs the synchronous part of an upload: declared checks, staging, provisional
// record and dispatch. Errors before the record exists leave nothing behind.
func (c *Coordinator) Accept(ctx context.Context, u Upload) (*models.Video, error) {
	if err := c.validator.CheckDeclared(u.Size, u.ContentType); err != nil {
		return nil, err
	}
	stagedName, n, err := c.staging.Stage(ctx, u.Body, u.FileName)
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	mimeType, err := c.validator.ResolveType(c.staging.Path(stagedName), u.ContentType)
	if err != nil {
		c.removeStaged(stagedName)
		return nil, err
	}
	if err := c.validator.CheckDeclared(n, mimeType); err != nil {
		c.removeStaged(stagedName)
		return nil, err
	}

	v := &models.Video{
		ID:          ids.NewID(),
		UniqueID:    ids.NewUniqueID(),
		Title:       u.Title,
		Description: u.Description,
		Category:    u.Category,
		Zone:        u.Zone,
		OwnerID:     u.OwnerID,
		FileName:    u.FileName,
		SizeBytes:   n,
		MimeType:    mimeType,
	}
	if err := c.store.Create(ctx, v); err != nil {
		c.removeStaged(stagedName)
		return nil, fmt.Errorf("create video record: %w", err)
	}
	log := c.logger.With(zap.String("video_id", v.ID), zap.String("staged", StagingKey(stagedName)))
	log.Info("upload accepted", zap.String("state", string(StateValidating)), zap.Int64("size", n))

	job := Job{
		VideoID:    v.ID,
		StagedName: stagedName,
		OwnerID:    u.OwnerID,
		FileName:   u.FileName,
		SizeBytes:  n,
		MimeType:   mimeType,
	}
	if err := c.dispatcher.Dispatch(ctx, job); err != nil {
		log.Warn("dispatch failed", zap.Error(err))
		reason := err
		if errors.Is(err, ErrQueueFull) {
			reason = ErrQueueFull
		}
		m := &machine{state: StateValidating}
		c.fail(ctx, m, job, log, reason)
		c.removeStaged(stagedName)
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return v, nil
}

// Process runs one job to a terminal state. It never panics and never returns an error:
// every failure ends up on the video record.
func (c *Coordinator) Process(ctx context.Context, job Job) {
	log := c.logger.With(zap.String("video_id", job.VideoID), zap.String("staged", StagingKey(job.StagedName)))
	m := &machine{state: StateValidating}
	start := time.Now()
	activeJobs.Inc()
	defer func() {
		activeJobs.Dec()
		jobDuration.Observe(time.Since(start).Seconds())
	}()
	defer c.removeStaged(job.StagedName)
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r), zap.String("state", string(m.state)))
			c.fail(ctx, m, job, log, fmt.Errorf("internal error: %v", r))
		}
	}()

	log.Info("job started", zap.String("state", string(m.state)))
	info, err := c.validator.Validate(ctx, c.staging.Path(job.StagedName), job.SizeBytes, job.MimeType)
	if err != nil {
		c.fail(ctx, m, job, log, err)
		return
	}

	m.to(StateTranscoding)
	art, err := c.transcoder.Transcode(ctx, c.staging.Path(job.StagedName), job.VideoID)
	if err != nil {
		c.fail(ctx, m, job, log, err)
		return
	}
	defer func() {
		if err := art.Cleanup(); err != nil {
			log.Warn("remove work dir failed", zap.String("dir", art.Dir), zap.Error(err))
		}
	}()

	m.to(StatePublishing)
	keys := KeysFor(job.VideoID)
	if err := c.publish(ctx, art, keys, log); err != nil {
		c.fail(ctx, m, job, log, err)
		return
	}

	m.to(StateReconciling)
	update := models.ReadyUpdate{
		DurationSeconds: info.DurationSeconds,
		ThumbnailKey:    keys.Thumbnail,
		RenditionKeys:   keys.Renditions,
	}
	wctx, cancel := terminalContext(ctx)
	err = c.store.MarkReady(wctx, job.VideoID, update)
	cancel()
	if err != nil {
		c.registerOrphans(ctx, log, keys.All()...)
		c.fail(ctx, m, job, log, &ReconciliationError{VideoID: job.VideoID, Err: err})
		return
	}

	m.to(StateDone)
	jobsTotal.WithLabelValues("done", "").Inc()
	log.Info("job done", zap.String("state", string(m.state)), zap.Int("duration_seconds", info.DurationSeconds), zap.Duration("took", time.Since(start)))
	c.notify(ctx, log, events.NewStatusEvent(job.VideoID, models.VideoStatusReady, ""))

	entry := models.LedgerEntry{
		OwnerID:    job.OwnerID,
		FileName:   job.FileName,
		SizeBytes:  job.SizeBytes,
		MimeType:   job.MimeType,
		StorageKey: keys.Renditions.High,
	}
	wctx, cancel = terminalContext(ctx)
	defer cancel()
	if err := c.ledger.Record(wctx, entry); err != nil {
		log.Error("ledger write failed", zap.Error(err))
	}
}

// Abandon fails the record of a job whose queue message was only partly readable and
// removes its staged file when the name is known.
func (c *Coordinator) Abandon(ctx context.Context, job Job, cause error) {
	log := c.logger.With(zap.String("video_id", job.VideoID), zap.String("staged", StagingKey(job.StagedName)))
	if job.StagedName != "" {
		defer c.removeStaged(job.StagedName)
	}
	c.fail(ctx, &machine{state: StateValidating}, job, log, fmt.Errorf("undecodable job: %w", cause))
}

// publish puts all four artifacts. Keys already written when a put fails are orphaned.
func (c *Coordinator) publish(ctx context.Context, art *transcoder.Artifacts, keys Keys, log *zap.Logger) error {
	type item struct {
		key, path, contentType string
	}
	items := make([]item, 0, 4)
	for _, q := range models.Qualities {
		items = append(items, item{key: keys.Renditions.Get(q), path: art.Renditions[q], contentType: "video/mp4"})
	}
	items = append(items, item{key: keys.Thumbnail, path: art.Thumbnail, contentType: "image/jpeg"})

	put := make([]string, 0, len(items))
	for _, it := range items {
		if err := c.putFile(ctx, it.key, it.path, it.contentType); err != nil {
			if len(put) > 0 {
				c.registerOrphans(ctx, log, put...)
			}
			return err
		}
		put = append(put, it.key)
		log.Debug("artifact published", zap.String("key", it.key))
	}
	return nil
}

func (c *Coordinator) putFile(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return &storage.StorageError{Op: "put", Key: key, Err: err}
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return &storage.StorageError{Op: "put", Key: key, Err: err}
	}
	return c.publisher.Put(ctx, key, contentType, f, st.Size())
}

// fail moves a non-terminal job to failed and records the error. Store and notifier
// failures are logged only.
func (c *Coordinator) fail(ctx context.Context, m *machine, job Job, log *zap.Logger, cause error) {
	if m.state.Terminal() {
		log.Error("failure after terminal state", zap.String("state", string(m.state)), zap.Error(cause))
		return
	}
	from := m.state
	m.state = StateFailed
	reason := failureReason(cause)
	jobsTotal.WithLabelValues("failed", reason).Inc()
	log.Warn("job failed", zap.String("state", string(from)), zap.String("reason", reason), zap.Error(cause))

	msg := truncate(cause.Error(), MaxErrorLength)
	wctx, cancel := terminalContext(ctx)
	defer cancel()
	if err := c.store.MarkFailed(wctx, job.VideoID, msg); err != nil {
		log.Error("mark failed", zap.Error(err))
	}
	c.notify(ctx, log, events.NewStatusEvent(job.VideoID, models.VideoStatusError, msg))
}

func (c *Coordinator) notify(ctx context.Context, log *zap.Logger, ev events.StatusEvent) {
	if c.notifier == nil {
		return
	}
	wctx, cancel := terminalContext(ctx)
	defer cancel()
	if err := c.notifier.Publish(wctx, ev); err != nil {
		log.Warn("publish status event failed", zap.Error(err))
	}
}

func (c *Coordinator) registerOrphans(ctx context.Context, log *zap.Logger, keys ...string) {
	wctx, cancel := terminalContext(ctx)
	defer cancel()
	if err := c.orphans.Add(wctx, keys...); err != nil {
		log.Error("register orphaned keys failed", zap.Strings("keys", keys), zap.Error(err))
		return
	}
	orphanKeys.WithLabelValues("registered").Add(float64(len(keys)))
	log.Warn("keys orphaned", zap.Strings("keys", keys))
}

func (c *Coordinator) removeStaged(name string) {
	if err := c.staging.Remove(name); err != nil {
		c.logger.Error("remove staged file failed", zap.String("staged", StagingKey(name)), zap.Error(err))
	}
}

// terminalContext detaches from cancellation so a shutdown still records the outcome.
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

func failureReason(err error) string {
	var (
		ve *validator.ValidationError
		te *transcoder.TranscodeError
		se *storage.StorageError
		re *ReconciliationError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &te):
		if te.TimedOut {
			return "transcode_timeout"
		}
		return "transcode"
	case errors.As(err, &se):
		return "storage"
	case errors.As(err, &re):
		return "reconciliation"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	default:
		return "internal"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
