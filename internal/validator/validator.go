// Package validator checks staged uploads before they are transcoded.
package validator

import (
	"context"
	"fmt"
	"math"
	"mime"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// Check names the validation step that rejected an upload.
type Check string

const (
	CheckSize      Check = "size"
	CheckMediaType Check = "media_type"
	CheckFile      Check = "file"
	CheckProbe     Check = "probe"
	CheckDuration  Check = "duration"
)

// ValidationError is a client-fixable rejection of an upload.
type ValidationError struct {
	Check   Check
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed (%s): %s: %v", e.Check, e.Message, e.Err)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Check, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// MediaInfo is what validation learns about a source file.
type MediaInfo struct {
	DurationSeconds int
	Width           int
	Height          int
	FormatName      string
}

// Limits bounds accepted uploads.
type Limits struct {
	MaxUploadBytes     int64
	MaxDurationSeconds int
}

// Validator runs the declared and structural checks.
type Validator struct {
	limits Limits
	prober Prober
	logger *zap.Logger
}

// New creates a validator.
func New(limits Limits, prober Prober, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{limits: limits, prober: prober, logger: logger}
}

// MaxUploadBytes returns the configured size limit.
func (v *Validator) MaxUploadBytes() int64 { return v.limits.MaxUploadBytes }

// CheckDeclared validates what the client declared, without touching any file.
func (v *Validator) CheckDeclared(size int64, contentType string) error {
	if size <= 0 {
		return &ValidationError{Check: CheckSize, Message: "empty upload"}
	}
	if size > v.limits.MaxUploadBytes {
		return &ValidationError{Check: CheckSize, Message: fmt.Sprintf("file size %d exceeds limit of %d bytes", size, v.limits.MaxUploadBytes)}
	}
	if isGenericType(contentType) {
		return nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(strings.ToLower(mt), "video/") {
		return &ValidationError{Check: CheckMediaType, Message: fmt.Sprintf("unsupported media type %q", contentType)}
	}
	return nil
}

// ResolveType returns the media type to record for a staged file. A specific declared
// type is kept; an empty or application/octet-stream one, as sent by curl and most
// scripts, is replaced by the type sniffed from the file's leading bytes.
func (v *Validator) ResolveType(path, contentType string) (string, error) {
	if !isGenericType(contentType) {
		return contentType, nil
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", &ValidationError{Check: CheckFile, Message: "staged file unreadable", Err: err}
	}
	v.logger.Debug("sniffed media type", zap.String("declared", contentType), zap.String("detected", m.String()))
	return m.String(), nil
}

func isGenericType(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.EqualFold(mt, "application/octet-stream")
}

// Validate checks a staged file in order: declared size, presence, probe, duration.
// The file is only read.
func (v *Validator) Validate(ctx context.Context, path string, declaredSize int64, contentType string) (MediaInfo, error) {
	if err := v.CheckDeclared(declaredSize, contentType); err != nil {
		return MediaInfo{}, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return MediaInfo{}, &ValidationError{Check: CheckFile, Message: "staged file missing", Err: err}
	}
	if !st.Mode().IsRegular() {
		return MediaInfo{}, &ValidationError{Check: CheckFile, Message: "staged path is not a regular file"}
	}
	f, err := os.Open(path)
	if err != nil {
		return MediaInfo{}, &ValidationError{Check: CheckFile, Message: "staged file unreadable", Err: err}
	}
	_ = f.Close()

	probe, err := v.prober.Probe(ctx, path)
	if err != nil {
		return MediaInfo{}, &ValidationError{Check: CheckProbe, Message: "container could not be probed", Err: err}
	}
	if probe.VideoStreams < 1 {
		return MediaInfo{}, &ValidationError{Check: CheckProbe, Message: "no video stream found"}
	}
	seconds := probe.DurationSeconds
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return MediaInfo{}, &ValidationError{Check: CheckProbe, Message: "duration unavailable"}
	}
	// Compare as float: a huge probe value would overflow int.
	if math.Ceil(seconds) > float64(v.limits.MaxDurationSeconds) {
		return MediaInfo{}, &ValidationError{Check: CheckDuration, Message: fmt.Sprintf("duration %.1fs exceeds limit of %ds", seconds, v.limits.MaxDurationSeconds)}
	}

	duration := int(math.Ceil(seconds))

	v.logger.Debug("media validated", zap.String("path", path), zap.Int("duration_sec", duration), zap.String("format", probe.FormatName))
	return MediaInfo{
		DurationSeconds: duration,
		Width:           probe.Width,
		Height:          probe.Height,
		FormatName:      probe.FormatName,
	}, nil
}
