package worker

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-pipeline/internal/media"
	"asset-pipeline/internal/models"
	"asset-pipeline/internal/objstore"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImagePipelineProducesThumbnailLadder(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	_, err := store.Upload(ctx, "assets", "uploads/a1.png", bytes.NewReader(pngBytes(t, 800, 600)), 0, "image/png")
	require.NoError(t, err)

	p := NewImagePipeline(store, testLogger())
	var lastProgress int
	upd, err := p.Process(ctx, models.Job{Payload: testPayload("a1")}, func(pct int) { lastProgress = pct })
	require.NoError(t, err)

	assert.Equal(t, "assets/thumbnails/a1-medium.jpg", upd.ThumbnailPath)
	assert.Equal(t, 90, lastProgress)

	for _, size := range DefaultThumbnailSizes {
		key := "thumbnails/a1-" + size.Name + ".jpg"
		data, err := store.Download(ctx, "assets", key)
		require.NoError(t, err, key)

		img, info, err := media.DecodeImage(data)
		require.NoError(t, err, key)
		require.NotNil(t, img)
		assert.Equal(t, "jpeg", info.Format)
		assert.Equal(t, size.Width, info.Width)
		assert.Equal(t, size.Height, info.Height)
	}

	dims, ok := upd.Metadata["dimensions"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 800, dims["width"])
	assert.Equal(t, 600, dims["height"])
	assert.Equal(t, "png", upd.Metadata["format"])

	thumbs, ok := upd.Metadata["thumbnails"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, thumbs, 3)
	for _, th := range thumbs {
		assert.NotZero(t, th["fileSize"])
	}
}

func TestImagePipelineReprocessingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	_, err := store.Upload(ctx, "assets", "uploads/a1.png", bytes.NewReader(pngBytes(t, 800, 600)), 0, "image/png")
	require.NoError(t, err)

	p := NewImagePipeline(store, testLogger())
	job := models.Job{Payload: testPayload("a1")}

	first, err := p.Process(ctx, job, func(int) {})
	require.NoError(t, err)
	keysAfterFirst := store.Keys("assets")
	sort.Strings(keysAfterFirst)

	// A reclaimed lease replays the same payload; derived keys are
	// deterministic so the artifact set must not change.
	second, err := p.Process(ctx, job, func(int) {})
	require.NoError(t, err)
	keysAfterSecond := store.Keys("assets")
	sort.Strings(keysAfterSecond)

	assert.Equal(t, keysAfterFirst, keysAfterSecond)
	assert.Equal(t, first.ThumbnailPath, second.ThumbnailPath)
	assert.Equal(t, first.Metadata, second.Metadata)
}

func TestImagePipelineRejectsCorruptSource(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	_, err := store.Upload(ctx, "assets", "uploads/a1.png", bytes.NewReader([]byte("not an image")), 0, "image/png")
	require.NoError(t, err)

	p := NewImagePipeline(store, testLogger())
	_, err = p.Process(ctx, models.Job{Payload: testPayload("a1")}, func(int) {})
	require.Error(t, err)

	// No partial artifacts.
	assert.Len(t, store.Keys("assets"), 1)
}

func TestImagePipelineMissingSource(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()

	p := NewImagePipeline(store, testLogger())
	_, err := p.Process(ctx, models.Job{Payload: testPayload("a1")}, func(int) {})
	require.ErrorIs(t, err, objstore.ErrObjectNotFound)
}
