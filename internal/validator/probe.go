package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult is the subset of container facts the pipeline needs.
type ProbeResult struct {
	DurationSeconds float64
	VideoStreams    int
	Width           int
	Height          int
	FormatName      string
}

// Prober inspects a media container.
type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

// FFProbe runs the ffprobe binary.
type FFProbe struct {
	Path    string
	Timeout time.Duration
}

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe runs ffprobe with JSON output and parses the result.
func (p FFProbe) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	bin := p.Path
	if bin == "" {
		bin = "ffprobe"
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffprobe: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(out.Bytes())
}

func parseProbe(raw []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	res := &ProbeResult{FormatName: out.Format.FormatName}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
		}
		res.DurationSeconds = d
	}
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		res.VideoStreams++
		if res.Width == 0 {
			res.Width, res.Height = s.Width, s.Height
		}
		// some containers only report duration per stream
		if res.DurationSeconds == 0 && s.Duration != "" {
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				res.DurationSeconds = d
			}
		}
	}
	return res, nil
}
