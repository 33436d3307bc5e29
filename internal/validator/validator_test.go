package validator

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	res   *ProbeResult
	err   error
	calls int
}

func (s *stubProber) Probe(context.Context, string) (*ProbeResult, error) {
	s.calls++
	return s.res, s.err
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func checkOf(t *testing.T, err error) Check {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Check
}

func TestCheckDeclared(t *testing.T) {
	v := New(Limits{MaxUploadBytes: 100, MaxDurationSeconds: 60}, &stubProber{}, nil)

	assert.NoError(t, v.CheckDeclared(100, "video/mp4"))
	assert.NoError(t, v.CheckDeclared(1, "video/quicktime; codecs=avc1"))
	assert.Equal(t, CheckSize, checkOf(t, v.CheckDeclared(101, "video/mp4")))
	assert.Equal(t, CheckSize, checkOf(t, v.CheckDeclared(0, "video/mp4")))
	assert.Equal(t, CheckMediaType, checkOf(t, v.CheckDeclared(10, "image/png")))
	assert.NoError(t, v.CheckDeclared(10, ""), "generic types are resolved after staging")
	assert.NoError(t, v.CheckDeclared(10, "application/octet-stream"))
	assert.Equal(t, CheckSize, checkOf(t, v.CheckDeclared(101, "application/octet-stream")))
}

const mp4Header = "\x00\x00\x00\x20ftypisom\x00\x00\x02\x00isomiso2avc1mp41"

func TestResolveType(t *testing.T) {
	v := New(Limits{MaxUploadBytes: 100, MaxDurationSeconds: 60}, &stubProber{}, nil)
	mp4 := writeFile(t, mp4Header)
	text := writeFile(t, "just some notes about the forklift")

	ct, err := v.ResolveType(mp4, "video/quicktime")
	require.NoError(t, err)
	assert.Equal(t, "video/quicktime", ct, "a specific declared type is kept")

	for _, declared := range []string{"application/octet-stream", "", "application/octet-stream; charset=binary"} {
		ct, err := v.ResolveType(mp4, declared)
		require.NoError(t, err)
		assert.Equal(t, "video/mp4", ct, declared)
		assert.NoError(t, v.CheckDeclared(10, ct))
	}

	ct, err = v.ResolveType(text, "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, CheckMediaType, checkOf(t, v.CheckDeclared(10, ct)))

	_, err = v.ResolveType(filepath.Join(t.TempDir(), "gone.mp4"), "")
	assert.Equal(t, CheckFile, checkOf(t, err))
}

func TestValidateOversizeDoesNotTouchFile(t *testing.T) {
	p := &stubProber{res: &ProbeResult{DurationSeconds: 10, VideoStreams: 1}}
	v := New(Limits{MaxUploadBytes: 10, MaxDurationSeconds: 60}, p, nil)

	_, err := v.Validate(context.Background(), "/does/not/exist.mp4", 11, "video/mp4")
	assert.Equal(t, CheckSize, checkOf(t, err))
	assert.Zero(t, p.calls)
}

func TestValidateMissingFile(t *testing.T) {
	p := &stubProber{res: &ProbeResult{DurationSeconds: 10, VideoStreams: 1}}
	v := New(Limits{MaxUploadBytes: 100, MaxDurationSeconds: 60}, p, nil)

	_, err := v.Validate(context.Background(), filepath.Join(t.TempDir(), "gone.mp4"), 5, "video/mp4")
	assert.Equal(t, CheckFile, checkOf(t, err))
	assert.Zero(t, p.calls)
}

func TestValidateProbeFailures(t *testing.T) {
	path := writeFile(t, "bytes")
	cases := map[string]*stubProber{
		"probe error":     {err: errors.New("moov atom not found")},
		"no video stream": {res: &ProbeResult{DurationSeconds: 10, VideoStreams: 0}},
		"no duration":     {res: &ProbeResult{VideoStreams: 1}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			v := New(Limits{MaxUploadBytes: 100, MaxDurationSeconds: 60}, p, nil)
			_, err := v.Validate(context.Background(), path, 5, "video/mp4")
			assert.Equal(t, CheckProbe, checkOf(t, err))
		})
	}
}

func TestValidateDurationLimit(t *testing.T) {
	path := writeFile(t, "bytes")
	cases := map[string]struct {
		seconds float64
		want    Check
	}{
		"just over":        {seconds: 30.2, want: CheckDuration},
		"beyond int range": {seconds: 1e19, want: CheckDuration},
		"infinite":         {seconds: math.Inf(1), want: CheckProbe},
		"not a number":     {seconds: math.NaN(), want: CheckProbe},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v := New(Limits{MaxUploadBytes: 100, MaxDurationSeconds: 30}, &stubProber{res: &ProbeResult{DurationSeconds: tc.seconds, VideoStreams: 1}}, nil)
			info, err := v.Validate(context.Background(), path, 5, "video/mp4")
			assert.Equal(t, tc.want, checkOf(t, err))
			assert.Zero(t, info.DurationSeconds)
		})
	}

	res, err := parseProbe([]byte(`{"streams":[{"codec_type":"video"}],"format":{"duration":"inf"}}`))
	require.NoError(t, err)
	v := New(Limits{MaxUploadBytes: 100, MaxDurationSeconds: 30}, &stubProber{res: res}, nil)
	_, err = v.Validate(context.Background(), path, 5, "video/mp4")
	assert.Equal(t, CheckProbe, checkOf(t, err))
}

func TestValidateSuccessLeavesFileIntact(t *testing.T) {
	path := writeFile(t, "bytes")
	v := New(Limits{MaxUploadBytes: 100, MaxDurationSeconds: 60}, &stubProber{res: &ProbeResult{DurationSeconds: 29.4, VideoStreams: 1, Width: 1920, Height: 1080, FormatName: "mov,mp4"}}, nil)

	info, err := v.Validate(context.Background(), path, 5, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, 30, info.DurationSeconds)
	assert.Equal(t, 1920, info.Width)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(data))
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{
		"streams": [
			{"codec_type": "audio", "duration": "31.0"},
			{"codec_type": "video", "width": 1280, "height": 720, "duration": "30.5"}
		],
		"format": {"format_name": "mov,mp4,m4a", "duration": "30.500000"}
	}`)
	res, err := parseProbe(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, res.VideoStreams)
	assert.InDelta(t, 30.5, res.DurationSeconds, 0.001)
	assert.Equal(t, 1280, res.Width)

	res, err = parseProbe([]byte(`{"streams":[{"codec_type":"video","duration":"12.0"}],"format":{}}`))
	require.NoError(t, err)
	assert.InDelta(t, 12.0, res.DurationSeconds, 0.001)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}
