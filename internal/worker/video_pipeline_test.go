package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-pipeline/internal/media"
	"asset-pipeline/internal/models"
	"asset-pipeline/internal/objstore"
)

func TestRenditionsForSkipsUpscaling(t *testing.T) {
	tests := []struct {
		name         string
		sourceHeight int
		want         []string
	}{
		{"full hd source gets the whole ladder", 1080, []string{"1080p", "720p", "480p"}},
		{"4k source gets the whole ladder", 2160, []string{"1080p", "720p", "480p"}},
		{"hd source skips 1080p", 720, []string{"720p", "480p"}},
		{"sd source gets one rung", 480, []string{"480p"}},
		{"source below every rung gets none", 240, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renditionsFor(tt.sourceHeight, DefaultRenditions)
			labels := make([]string, 0, len(got))
			for _, r := range got {
				labels = append(labels, r.Label)
			}
			assert.Equal(t, tt.want, labels)
		})
	}
}

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
}

// createTestVideo renders a short synthetic clip with ffmpeg's test source.
func createTestVideo(t *testing.T, dir, size string) string {
	t.Helper()
	path := filepath.Join(dir, "source.mp4")
	cmd := exec.Command("ffmpeg",
		"-f", "lavfi",
		"-i", "testsrc=duration=2:size="+size+":rate=10",
		"-pix_fmt", "yuv420p",
		"-y", path,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return path
}

func TestVideoPipelineProcess(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	store := objstore.NewMemory()
	srcPath := createTestVideo(t, t.TempDir(), "640x480")

	payload := models.Payload{
		AssetID:    "v1",
		BucketName: "assets",
		ObjectName: "uploads/v1.mp4",
		MimeType:   "video/mp4",
		Type:       models.KindVideo,
	}
	_, err := store.UploadFile(ctx, payload.BucketName, payload.ObjectName, srcPath, "video/mp4")
	require.NoError(t, err)

	tempDir := t.TempDir()
	p := NewVideoPipeline(store, media.NewFFmpeg("", ""), tempDir, testLogger())
	upd, err := p.Process(ctx, models.Job{Payload: payload}, func(int) {})
	require.NoError(t, err)

	// 480 tall source gets exactly the 480p rung.
	require.Len(t, upd.TranscodedPaths, 1)
	assert.Equal(t, "assets/videos/v1-480p.mp4", upd.TranscodedPaths["480p"])
	assert.Equal(t, "assets/thumbnails/v1-thumbnail.jpg", upd.ThumbnailPath)

	_, err = store.Stat(ctx, "assets", "videos/v1-480p.mp4")
	require.NoError(t, err)
	thumb, err := store.Stat(ctx, "assets", "thumbnails/v1-thumbnail.jpg")
	require.NoError(t, err)
	assert.NotZero(t, thumb.Size)

	duration, ok := upd.Metadata["duration"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 2.0, duration, 0.5)

	// Work dir is cleaned up after the run.
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVideoPipelineThumbnailOnlyWhenBelowEveryRung(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	store := objstore.NewMemory()
	srcPath := createTestVideo(t, t.TempDir(), "320x240")

	payload := models.Payload{
		AssetID:    "v1",
		BucketName: "assets",
		ObjectName: "uploads/v1.mp4",
		MimeType:   "video/mp4",
		Type:       models.KindVideo,
	}
	_, err := store.UploadFile(ctx, payload.BucketName, payload.ObjectName, srcPath, "video/mp4")
	require.NoError(t, err)

	p := NewVideoPipeline(store, media.NewFFmpeg("", ""), t.TempDir(), testLogger())
	upd, err := p.Process(ctx, models.Job{Payload: payload}, func(int) {})
	require.NoError(t, err)

	// A 240-tall source is below every rung: no rendition may be produced,
	// and in particular nothing taller than the source.
	assert.Empty(t, upd.TranscodedPaths)
	assert.Equal(t, "assets/thumbnails/v1-thumbnail.jpg", upd.ThumbnailPath)

	for _, key := range store.Keys("assets") {
		assert.NotContains(t, key, "videos/", "no rendition objects for a sub-height source")
	}
}

func TestVideoPipelineFailsOnNonVideoSource(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	store := objstore.NewMemory()

	payload := models.Payload{
		AssetID:    "v1",
		BucketName: "assets",
		ObjectName: "uploads/v1.mp4",
		MimeType:   "video/mp4",
		Type:       models.KindVideo,
	}
	_, err := store.Upload(ctx, payload.BucketName, payload.ObjectName, bytesReader("not a video"), 0, "video/mp4")
	require.NoError(t, err)

	tempDir := t.TempDir()
	p := NewVideoPipeline(store, media.NewFFmpeg("", ""), tempDir, testLogger())
	_, err = p.Process(ctx, models.Job{Payload: payload}, func(int) {})
	require.Error(t, err)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
