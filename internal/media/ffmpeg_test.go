package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
}

func createTestVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mp4")
	cmd := exec.Command("ffmpeg",
		"-f", "lavfi",
		"-i", "testsrc=duration=2:size=640x480:rate=10",
		"-pix_fmt", "yuv420p",
		"-y", path,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return path
}

func TestProbe(t *testing.T) {
	skipIfNoFFmpeg(t)

	f := NewFFmpeg("", "")
	info, err := f.Probe(context.Background(), createTestVideo(t))
	require.NoError(t, err)

	assert.InDelta(t, 2.0, info.Duration, 0.5)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 480, info.Height)
	assert.NotEmpty(t, info.Codec)
	assert.NotEmpty(t, info.Format)
}

func TestProbeRejectsNonVideo(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "junk.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not a video"), 0o644))

	f := NewFFmpeg("", "")
	_, err := f.Probe(context.Background(), path)
	require.Error(t, err)
}

func TestExtractFrame(t *testing.T) {
	skipIfNoFFmpeg(t)

	src := createTestVideo(t)
	dst := filepath.Join(t.TempDir(), "frame.jpg")

	f := NewFFmpeg("", "")
	require.NoError(t, f.ExtractFrame(context.Background(), src, dst, 1, 640, 360))

	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.NotZero(t, st.Size())
}

func TestTranscode(t *testing.T) {
	skipIfNoFFmpeg(t)

	src := createTestVideo(t)
	dst := filepath.Join(t.TempDir(), "out.mp4")

	f := NewFFmpeg("", "")
	err := f.Transcode(context.Background(), src, dst, TranscodeOpts{
		Width:        854,
		Height:       480,
		VideoBitrate: "1000k",
	})
	require.NoError(t, err)

	info, err := f.Probe(context.Background(), dst)
	require.NoError(t, err)
	assert.Equal(t, 854, info.Width)
	assert.Equal(t, 480, info.Height)
	assert.Equal(t, "h264", info.Codec)
}

func TestTranscodeRejectsInvalidTarget(t *testing.T) {
	f := NewFFmpeg("", "")
	err := f.Transcode(context.Background(), "in.mp4", "out.mp4", TranscodeOpts{Width: 0, Height: 480})
	require.Error(t, err)
}

func TestTranscodeErrorCarriesStderr(t *testing.T) {
	skipIfNoFFmpeg(t)

	dst := filepath.Join(t.TempDir(), "out.mp4")
	f := NewFFmpeg("", "")
	err := f.Transcode(context.Background(), "/does/not/exist.mp4", dst, TranscodeOpts{Width: 854, Height: 480})
	require.Error(t, err)

	var ffErr *FFmpegError
	require.True(t, errors.As(err, &ffErr))
	assert.NotEmpty(t, ffErr.Stderr)
}
