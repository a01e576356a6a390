package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			src.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 64, A: 255})
		}
	}

	img, info, err := DecodeImage(encodePNG(t, src))
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 240, info.Height)
	assert.Equal(t, "png", info.Format)
	assert.True(t, info.HasAlpha)
	assert.Equal(t, "srgb", info.ColorSpace)
}

func TestDecodeImageJPEGProperties(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 50))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}))

	_, info, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", info.Format)
	assert.Equal(t, "ycbcr", info.ColorSpace)
	assert.False(t, info.HasAlpha)
}

func TestDecodeImageRejectsCorruptData(t *testing.T) {
	_, _, err := DecodeImage([]byte("definitely not an image"))
	require.Error(t, err)

	_, _, err = DecodeImage(nil)
	require.Error(t, err)
}

func TestResizeCoverJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 800, 600))

	out, err := ResizeCoverJPEG(src, 150, 150, 80)
	require.NoError(t, err)

	_, info, err := DecodeImage(out)
	require.NoError(t, err)
	assert.Equal(t, 150, info.Width, "cover fit crops to the exact target")
	assert.Equal(t, 150, info.Height)
	assert.Equal(t, "jpeg", info.Format)
}

func TestResizeCoverJPEGUpscalesSmallSources(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 40))

	out, err := ResizeCoverJPEG(src, 300, 300, 80)
	require.NoError(t, err)

	_, info, err := DecodeImage(out)
	require.NoError(t, err)
	assert.Equal(t, 300, info.Width)
	assert.Equal(t, 300, info.Height)
}

func TestResizeCoverJPEGRejectsInvalidTarget(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))

	_, err := ResizeCoverJPEG(src, 0, 150, 80)
	require.Error(t, err)
	_, err = ResizeCoverJPEG(src, 150, -1, 80)
	require.Error(t, err)
}
