// Package transcoder produces the rendition ladder and thumbnail for a source video with ffmpeg.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/safetrain/backend/internal/models"
)

// StageThumbnail is the TranscodeError stage for the thumbnail step.
const StageThumbnail = "thumbnail"

// TranscodeError reports a failed or timed out transcoding run. No artifacts survive it.
type TranscodeError struct {
	Stage    string
	TimedOut bool
	Err      error
}

func (e *TranscodeError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("transcode %s timed out: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("transcode %s failed: %v", e.Stage, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Profile is the encoding target for one quality.
type Profile struct {
	Quality     models.Quality
	Width       int
	Height      int
	BitrateKbps int
}

// Options configures a Transcoder.
type Options struct {
	FFmpegPath     string
	WorkRoot       string
	Timeout        time.Duration
	Profiles       []Profile
	ThumbnailWidth int
}

// Artifacts are the four files of one successful run.
type Artifacts struct {
	Dir        string
	Thumbnail  string
	Renditions map[models.Quality]string
}

// Cleanup removes the work directory and everything in it.
func (a *Artifacts) Cleanup() error {
	if a == nil || a.Dir == "" {
		return nil
	}
	return os.RemoveAll(a.Dir)
}

// Transcoder invokes ffmpeg once per artifact under a single deadline.
type Transcoder struct {
	opts   Options
	runner Runner
	logger *zap.Logger
}

// New checks that the profiles cover exactly high, medium and low.
func New(opts Options, runner Runner, logger *zap.Logger) (*Transcoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 640
	}
	if opts.Timeout <= 0 {
		return nil, errors.New("transcode timeout must be positive")
	}
	seen := make(map[models.Quality]bool)
	for _, p := range opts.Profiles {
		if p.Width <= 0 || p.Height <= 0 || p.BitrateKbps <= 0 {
			return nil, fmt.Errorf("invalid profile for %s", p.Quality)
		}
		seen[p.Quality] = true
	}
	for _, q := range models.Qualities {
		if !seen[q] {
			return nil, fmt.Errorf("missing profile for %s", q)
		}
	}
	if len(opts.Profiles) != len(models.Qualities) {
		return nil, fmt.Errorf("expected %d profiles, got %d", len(models.Qualities), len(opts.Profiles))
	}
	return &Transcoder{opts: opts, runner: runner, logger: logger}, nil
}

// Transcode writes thumbnail.jpg and one mp4 per profile into a fresh work directory.
// Any failure removes the directory, so callers get all four artifacts or none.
func (t *Transcoder) Transcode(ctx context.Context, sourcePath, jobID string) (*Artifacts, error) {
	if err := os.MkdirAll(t.opts.WorkRoot, 0o750); err != nil {
		return nil, &TranscodeError{Stage: "prepare", Err: err}
	}
	dir, err := os.MkdirTemp(t.opts.WorkRoot, jobID+"-")
	if err != nil {
		return nil, &TranscodeError{Stage: "prepare", Err: err}
	}
	art := &Artifacts{Dir: dir, Renditions: make(map[models.Quality]string, len(t.opts.Profiles))}

	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	start := time.Now()
	art.Thumbnail = filepath.Join(dir, "thumbnail.jpg")
	if err := t.run(ctx, StageThumbnail, art.Thumbnail, t.thumbnailArgs(sourcePath, art.Thumbnail)); err != nil {
		_ = art.Cleanup()
		return nil, err
	}
	for _, p := range t.opts.Profiles {
		out := filepath.Join(dir, string(p.Quality)+".mp4")
		if err := t.run(ctx, string(p.Quality), out, renditionArgs(sourcePath, out, p)); err != nil {
			_ = art.Cleanup()
			return nil, err
		}
		art.Renditions[p.Quality] = out
	}

	t.logger.Info("transcode finished", zap.String("job_id", jobID), zap.Duration("took", time.Since(start)))
	return art, nil
}

func (t *Transcoder) run(ctx context.Context, stage, output string, args []string) error {
	t.logger.Debug("ffmpeg start", zap.String("stage", stage), zap.String("output", output))
	if err := t.runner.Run(ctx, t.opts.FFmpegPath, args...); err != nil {
		return &TranscodeError{Stage: stage, TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded), Err: err}
	}
	st, err := os.Stat(output)
	if err != nil {
		return &TranscodeError{Stage: stage, Err: fmt.Errorf("output missing: %w", err)}
	}
	if st.Size() == 0 {
		return &TranscodeError{Stage: stage, Err: errors.New("output is empty")}
	}
	return nil
}

func (t *Transcoder) thumbnailArgs(src, out string) []string {
	return []string{
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("thumbnail,scale=%d:-2", t.opts.ThumbnailWidth),
		"-frames:v", "1",
		"-q:v", "3",
		out,
	}
}

func renditionArgs(src, out string, p Profile) []string {
	kbps := strconv.Itoa(p.BitrateKbps) + "k"
	return []string{
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease:force_divisible_by=2", p.Width, p.Height),
		"-c:v", "libx264",
		"-preset", "medium",
		"-b:v", kbps,
		"-maxrate", kbps,
		"-bufsize", strconv.Itoa(p.BitrateKbps*2) + "k",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		out,
	}
}
