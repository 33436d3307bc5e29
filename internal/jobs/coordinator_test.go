package jobs

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrain/backend/internal/events"
	"github.com/safetrain/backend/internal/models"
	"github.com/safetrain/backend/internal/validator"
)

func assertNoKeys(t *testing.T, v models.Video) {
	t.Helper()
	assert.Empty(t, v.ThumbnailKey)
	assert.Empty(t, v.PrimaryRenditionKey)
	assert.Equal(t, models.RenditionKeys{}, v.RenditionKeys)
}

func TestAcceptCreatesProcessingRecord(t *testing.T) {
	h := newHarness(t)

	v, err := h.coord.Accept(context.Background(), h.upload("source bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
	assert.NotEmpty(t, v.UniqueID)
	assert.Equal(t, models.VideoStatusProcessing, v.Status)

	stored := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusProcessing, stored.Status)
	assert.Equal(t, "Segurança", stored.Category)
	assert.Equal(t, "Fabrico", stored.Zone)
	assert.Equal(t, int64(len("source bytes")), stored.SizeBytes)
	assertNoKeys(t, stored)

	job := h.capture.last()
	assert.Equal(t, v.ID, job.VideoID)
	assert.True(t, h.stagedExists(job.StagedName))
	assert.Zero(t, h.staging.removals(job.StagedName))
}

func TestProcessSuccess(t *testing.T) {
	h := newHarness(t)
	var got []events.StatusEvent
	var mu sync.Mutex
	v, err := h.coord.Accept(context.Background(), h.upload("fifty megabytes of mp4"))
	require.NoError(t, err)
	cancel, err := h.bus.Subscribe(context.Background(), v.ID, func(ev events.StatusEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	job := h.capture.last()
	h.coord.Process(context.Background(), job)

	rec := h.store.get(v.ID)
	require.Equal(t, models.VideoStatusReady, rec.Status)
	assert.Equal(t, 30, rec.DurationSeconds)
	assert.Empty(t, rec.ProcessingError)
	keys := KeysFor(v.ID)
	assert.Equal(t, keys.Thumbnail, rec.ThumbnailKey)
	assert.Equal(t, keys.Renditions, rec.RenditionKeys)
	assert.Equal(t, keys.Renditions.High, rec.PrimaryRenditionKey)
	assert.True(t, models.ReadyUpdate{ThumbnailKey: rec.ThumbnailKey, RenditionKeys: rec.RenditionKeys}.Complete())

	for _, k := range keys.All() {
		assert.True(t, h.publisher.has(k), k)
	}
	assert.Equal(t, 4, h.publisher.count())

	entries := h.memLedger.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, keys.Renditions.High, entries[0].StorageKey)
	assert.Equal(t, "trainer-7", entries[0].OwnerID)
	assert.Equal(t, "lockout.mp4", entries[0].FileName)
	assert.Equal(t, "video/mp4", entries[0].MimeType)

	assert.False(t, h.stagedExists(job.StagedName))
	assert.Equal(t, 1, h.staging.removals(job.StagedName))
	assert.Empty(t, h.workEntries())
	assert.Zero(t, h.orphans.Len())
	assert.Equal(t, 1, h.store.readyCalls)
	assert.Zero(t, h.store.failedCalls)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, models.VideoStatusReady, got[0].Status)
}

func TestProcessValidationFailure(t *testing.T) {
	h := newHarness(t)
	h.prober = stubProber{err: errors.New("moov atom not found")}
	h.build()

	v, job := h.run("not really a video")

	rec := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusError, rec.Status)
	assert.Contains(t, rec.ProcessingError, "probe")
	assertNoKeys(t, rec)
	assert.Zero(t, h.publisher.count())
	assert.Empty(t, h.memLedger.Entries())
	assert.Equal(t, 1, h.staging.removals(job.StagedName))
	assert.False(t, h.stagedExists(job.StagedName))
	assert.Zero(t, h.store.readyCalls)
}

func TestProcessDurationLimit(t *testing.T) {
	h := newHarness(t)
	h.prober = stubProber{res: &validator.ProbeResult{DurationSeconds: 61, VideoStreams: 1}}
	h.build()

	v, _ := h.run("long video")
	rec := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusError, rec.Status)
	assert.Contains(t, rec.ProcessingError, "duration")
}

func TestProcessTranscodeFailure(t *testing.T) {
	h := newHarness(t)
	h.runner = fakeRunner{failOn: "medium.mp4"}
	h.build()

	v, job := h.run("corrupt gop")

	rec := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusError, rec.Status)
	assert.Contains(t, rec.ProcessingError, "transcode medium failed")
	assertNoKeys(t, rec)
	assert.Zero(t, h.publisher.count(), "no artifact may be published")
	assert.Empty(t, h.workEntries())
	assert.Empty(t, h.memLedger.Entries())
	assert.Equal(t, 1, h.staging.removals(job.StagedName))
	assert.False(t, h.stagedExists(job.StagedName))
}

func TestProcessTranscodeTimeout(t *testing.T) {
	h := newHarness(t)
	h.runner = fakeRunner{block: true}
	h.timeout = 20 * time.Millisecond
	h.build()

	v, job := h.run("slow")
	rec := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusError, rec.Status)
	assert.Contains(t, rec.ProcessingError, "timed out")
	assert.Equal(t, 1, h.staging.removals(job.StagedName))
}

func TestProcessStorageFailureOrphansPublishedKeys(t *testing.T) {
	h := newHarness(t)
	h.publisher.failSuffix = "/medium"

	v, job := h.run("source")

	rec := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusError, rec.Status)
	assert.Contains(t, rec.ProcessingError, "storage put")
	assertNoKeys(t, rec)
	assert.Empty(t, h.memLedger.Entries())
	assert.Equal(t, 1, h.staging.removals(job.StagedName))

	keys := KeysFor(v.ID)
	assert.Equal(t, 1, h.orphans.Len())
	assert.True(t, h.publisher.has(keys.Renditions.High))

	sweeper := NewSweeper(h.orphans, h.publisher, nil, time.Minute, 10, nil)
	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, h.publisher.count())
}

func TestProcessReconciliationFailure(t *testing.T) {
	h := newHarness(t)
	h.store.readyErr = errors.New("write conflict")

	v, job := h.run("source")

	rec := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusError, rec.Status)
	assert.Contains(t, rec.ProcessingError, "reconcile video")
	assertNoKeys(t, rec)
	assert.Empty(t, h.memLedger.Entries())
	assert.Equal(t, 4, h.orphans.Len())
	assert.Equal(t, 1, h.staging.removals(job.StagedName))
	assert.Equal(t, 1, h.store.failedCalls)
}

func TestProcessLedgerFailureKeepsVideoReady(t *testing.T) {
	h := newHarness(t)
	h.ledger = failingLedger{}
	h.build()

	v, job := h.run("source")
	assert.Equal(t, models.VideoStatusReady, h.store.get(v.ID).Status)
	assert.Equal(t, 1, h.staging.removals(job.StagedName))
}

func TestProcessRecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.transcoder = panicTranscoder{}
	h.build()

	var v *models.Video
	var job Job
	require.NotPanics(t, func() { v, job = h.run("source") })

	rec := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusError, rec.Status)
	assert.Contains(t, rec.ProcessingError, "internal error")
	assert.Equal(t, 1, h.staging.removals(job.StagedName))
}

func TestProcessCancelledContextStillRecordsFailure(t *testing.T) {
	h := newHarness(t)
	h.runner = fakeRunner{block: true}
	h.build()

	v, err := h.coord.Accept(context.Background(), h.upload("source"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	job := h.capture.last()
	h.coord.Process(ctx, job)

	rec := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusError, rec.Status)
	assert.Equal(t, 1, h.staging.removals(job.StagedName))
}

func TestAbandonFailsRecordAndReleasesStagedFile(t *testing.T) {
	h := newHarness(t)
	v, err := h.coord.Accept(context.Background(), h.upload("source"))
	require.NoError(t, err)
	job := h.capture.last()
	require.True(t, h.stagedExists(job.StagedName))

	h.coord.Abandon(context.Background(), Job{VideoID: job.VideoID, StagedName: job.StagedName}, errors.New("json: cannot unmarshal string into size_bytes"))

	rec := h.store.get(v.ID)
	assert.Equal(t, models.VideoStatusError, rec.Status)
	assert.Contains(t, rec.ProcessingError, "undecodable job")
	assertNoKeys(t, rec)
	assert.False(t, h.stagedExists(job.StagedName))
	assert.Equal(t, 1, h.staging.removals(job.StagedName))

	h.coord.Abandon(context.Background(), Job{VideoID: "unknown"}, errors.New("bad payload"))
	assert.Equal(t, 2, h.store.failedCalls)
	assert.Equal(t, 1, h.staging.removals(job.StagedName))
}

func TestAcceptRejectsOversizeWithoutRecord(t *testing.T) {
	h := newHarness(t)
	up := h.upload("x")
	up.Size = 2 << 20

	_, err := h.coord.Accept(context.Background(), up)
	var ve *validator.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, validator.CheckSize, ve.Check)
	assert.Zero(t, h.store.len())
	assert.Empty(t, h.capture.jobs)

	entries, err := os.ReadDir(h.staging.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAcceptRejectsNonVideo(t *testing.T) {
	h := newHarness(t)
	up := h.upload("%PDF-1.7")
	up.ContentType = "application/pdf"

	_, err := h.coord.Accept(context.Background(), up)
	var ve *validator.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, validator.CheckMediaType, ve.Check)
	assert.Zero(t, h.store.len())
}

func TestAcceptSniffsGenericContentType(t *testing.T) {
	h := newHarness(t)
	up := h.upload("\x00\x00\x00\x20ftypisom\x00\x00\x02\x00isomiso2avc1mp41")
	up.ContentType = "application/octet-stream"

	v, err := h.coord.Accept(context.Background(), up)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", v.MimeType)
	assert.Equal(t, "video/mp4", h.capture.last().MimeType)

	h = newHarness(t)
	up = h.upload("notes, not a video")
	up.ContentType = "application/octet-stream"
	_, err = h.coord.Accept(context.Background(), up)
	var ve *validator.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, validator.CheckMediaType, ve.Check)
	assert.Zero(t, h.store.len())
	entries, err := os.ReadDir(h.staging.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAcceptQueueFull(t *testing.T) {
	h := newHarness(t)
	pool := NewPool(1, 0, nil)
	h.dispatcher = pool
	h.build()

	_, err := h.coord.Accept(context.Background(), h.upload("source"))
	require.ErrorIs(t, err, ErrBusy)

	require.Equal(t, 1, h.store.len())
	for _, rec := range h.store.videos {
		assert.Equal(t, models.VideoStatusError, rec.Status)
		assert.Equal(t, ErrQueueFull.Error(), rec.ProcessingError)
	}
	entries, err := os.ReadDir(h.staging.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentIdenticalUploads(t *testing.T) {
	h := newHarness(t)
	pool := NewPool(2, 4, nil)
	h.dispatcher = pool
	h.build()
	pool.Start(context.Background(), h.coord.Process)

	var wg sync.WaitGroup
	results := make([]*models.Video, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.coord.Accept(context.Background(), h.upload("identical bytes"))
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()
	pool.Stop()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].ID, results[1].ID)
	assert.NotEqual(t, results[0].UniqueID, results[1].UniqueID)
	for _, v := range results {
		assert.Equal(t, models.VideoStatusReady, h.store.get(v.ID).Status)
	}
	assert.Len(t, h.memLedger.Entries(), 2)
	assert.Equal(t, 8, h.publisher.count())
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "validation", failureReason(&validator.ValidationError{Check: validator.CheckSize}))
	assert.Equal(t, "reconciliation", failureReason(&ReconciliationError{VideoID: "v", Err: errors.New("x")}))
	assert.Equal(t, "queue_full", failureReason(ErrQueueFull))
	assert.Equal(t, "internal", failureReason(errors.New("boom")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
	s := truncate("aç", 2)
	assert.Equal(t, "a", s)
	assert.Len(t, truncate(strings.Repeat("x", 5000), MaxErrorLength), MaxErrorLength)
}
