package jobs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safetrain/backend/internal/events"
	"github.com/safetrain/backend/internal/ledger"
	"github.com/safetrain/backend/internal/models"
	"github.com/safetrain/backend/internal/staging"
	"github.com/safetrain/backend/internal/transcoder"
	"github.com/safetrain/backend/internal/validator"
	"github.com/safetrain/backend/pkg/storage"
)

// spyStaging counts removals per staged name.
type spyStaging struct {
	*staging.Store
	mu      sync.Mutex
	removed map[string]int
}

func (s *spyStaging) Remove(name string) error {
	s.mu.Lock()
	s.removed[name]++
	s.mu.Unlock()
	return s.Store.Remove(name)
}

func (s *spyStaging) removals(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed[name]
}

type stubProber struct {
	res *validator.ProbeResult
	err error
}

func (p stubProber) Probe(context.Context, string) (*validator.ProbeResult, error) {
	return p.res, p.err
}

// fakeRunner stands in for ffmpeg: it writes the output file named by the last argument.
type fakeRunner struct {
	failOn string
	block  bool
}

func (f fakeRunner) Run(ctx context.Context, _ string, args ...string) error {
	out := args[len(args)-1]
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.failOn != "" && filepath.Base(out) == f.failOn {
		return errors.New("ffmpeg: exit status 1 - Invalid data found when processing input")
	}
	return os.WriteFile(out, []byte("encoded "+filepath.Base(out)), 0o600)
}

type panicTranscoder struct{}

func (panicTranscoder) Transcode(context.Context, string, string) (*transcoder.Artifacts, error) {
	panic("nil map write")
}

type memPublisher struct {
	mu         sync.Mutex
	objects    map[string]string
	failSuffix string
	deleteErr  error
	deleted    []string
}

func newMemPublisher() *memPublisher {
	return &memPublisher{objects: make(map[string]string)}
}

func (p *memPublisher) Put(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	if p.failSuffix != "" && strings.HasSuffix(key, p.failSuffix) {
		return &storage.StorageError{Op: "put", Key: key, Err: errors.New("503 slow down")}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return &storage.StorageError{Op: "put", Key: key, Err: err}
	}
	p.mu.Lock()
	p.objects[key] = string(data)
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) SignedGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://cdn.test/" + key, nil
}

func (p *memPublisher) Delete(_ context.Context, key string) error {
	if p.deleteErr != nil {
		return &storage.StorageError{Op: "delete", Key: key, Err: p.deleteErr}
	}
	p.mu.Lock()
	delete(p.objects, key)
	p.deleted = append(p.deleted, key)
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

func (p *memPublisher) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.objects[key]
	return ok
}

// fakeStore mirrors the guarded transitions of the real stores.
type fakeStore struct {
	mu          sync.Mutex
	videos      map[string]models.Video
	readyErr    error
	readyCalls  int
	failedCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{videos: make(map[string]models.Video)}
}

func (s *fakeStore) Create(_ context.Context, v *models.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.Status = models.VideoStatusProcessing
	v.CreatedAt = time.Now()
	s.videos[v.ID] = *v
	return nil
}

func (s *fakeStore) MarkReady(_ context.Context, id string, u models.ReadyUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyCalls++
	if s.readyErr != nil {
		return s.readyErr
	}
	v, ok := s.videos[id]
	if !ok || v.Status != models.VideoStatusProcessing || !u.Complete() {
		return errors.New("bad ready transition")
	}
	v.Status = models.VideoStatusReady
	v.DurationSeconds = u.DurationSeconds
	v.ThumbnailKey = u.ThumbnailKey
	v.RenditionKeys = u.RenditionKeys
	v.PrimaryRenditionKey = u.RenditionKeys.High
	s.videos[id] = v
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedCalls++
	v, ok := s.videos[id]
	if !ok || v.Status != models.VideoStatusProcessing {
		return errors.New("bad failed transition")
	}
	v.Status = models.VideoStatusError
	v.ProcessingError = message
	s.videos[id] = v
	return nil
}

func (s *fakeStore) get(id string) models.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videos[id]
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.videos)
}

type failingLedger struct{}

func (failingLedger) Record(context.Context, models.LedgerEntry) error {
	return errors.New("connection reset")
}

// captureDispatcher keeps jobs for the test to run.
type captureDispatcher struct {
	mu   sync.Mutex
	jobs []Job
}

func (d *captureDispatcher) Dispatch(_ context.Context, job Job) error {
	d.mu.Lock()
	d.jobs = append(d.jobs, job)
	d.mu.Unlock()
	return nil
}

func (d *captureDispatcher) last() Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.jobs[len(d.jobs)-1]
}

type harness struct {
	t          *testing.T
	staging    *spyStaging
	prober     stubProber
	runner     fakeRunner
	transcoder Transcoder
	publisher  *memPublisher
	store      *fakeStore
	ledger     ledger.Ledger
	memLedger  *ledger.MemoryLedger
	orphans    *MemoryOrphans
	bus        *events.MemoryBus
	dispatcher Dispatcher
	capture    *captureDispatcher
	workRoot   string
	timeout    time.Duration
	coord      *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	st, err := staging.New(root, nil)
	require.NoError(t, err)
	h := &harness{
		t:         t,
		staging:   &spyStaging{Store: st, removed: make(map[string]int)},
		prober:    stubProber{res: &validator.ProbeResult{DurationSeconds: 29.6, VideoStreams: 1, Width: 1920, Height: 1080}},
		publisher: newMemPublisher(),
		store:     newFakeStore(),
		memLedger: ledger.NewMemoryLedger(),
		orphans:   NewMemoryOrphans(),
		bus:       events.NewMemoryBus(),
		capture:   &captureDispatcher{},
		workRoot:  filepath.Join(root, "work"),
		timeout:   time.Minute,
	}
	h.ledger = h.memLedger
	h.dispatcher = h.capture
	h.build()
	return h
}

// build wires a coordinator from the current fakes.
func (h *harness) build() {
	h.t.Helper()
	tr := h.transcoder
	if tr == nil {
		built, err := transcoder.New(transcoder.Options{
			WorkRoot: h.workRoot,
			Timeout:  h.timeout,
			Profiles: []transcoder.Profile{
				{Quality: models.QualityHigh, Width: 1920, Height: 1080, BitrateKbps: 4000},
				{Quality: models.QualityMedium, Width: 1280, Height: 720, BitrateKbps: 2000},
				{Quality: models.QualityLow, Width: 854, Height: 480, BitrateKbps: 1000},
			},
		}, h.runner, nil)
		require.NoError(h.t, err)
		tr = built
	}
	coord, err := NewCoordinator(Deps{
		Staging:    h.staging,
		Validator:  validator.New(validator.Limits{MaxUploadBytes: 1 << 20, MaxDurationSeconds: 60}, h.prober, nil),
		Transcoder: tr,
		Publisher:  h.publisher,
		Store:      h.store,
		Ledger:     h.ledger,
		Orphans:    h.orphans,
		Notifier:   h.bus,
		Dispatcher: h.dispatcher,
	})
	require.NoError(h.t, err)
	h.coord = coord
}

func (h *harness) upload(body string) Upload {
	return Upload{
		Title:       "Lockout tagout",
		Description: "Isolating energy sources before maintenance",
		Category:    "Segurança",
		Zone:        "Fabrico",
		OwnerID:     "trainer-7",
		FileName:    "lockout.mp4",
		ContentType: "video/mp4",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}

// run accepts an upload and processes its job synchronously.
func (h *harness) run(body string) (*models.Video, Job) {
	h.t.Helper()
	v, err := h.coord.Accept(context.Background(), h.upload(body))
	require.NoError(h.t, err)
	job := h.capture.last()
	h.coord.Process(context.Background(), job)
	return v, job
}

func (h *harness) stagedExists(name string) bool {
	_, err := os.Stat(h.staging.Path(name))
	return err == nil
}

func (h *harness) workEntries() []os.DirEntry {
	entries, err := os.ReadDir(h.workRoot)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(h.t, err)
	return entries
}
