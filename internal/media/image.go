// Package media holds the leaf transform functions for images and video.
// Nothing here knows about jobs, queues, or object storage.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// ImageInfo describes a decoded source image.
type ImageInfo struct {
	Width      int
	Height     int
	Format     string
	ColorSpace string
	HasAlpha   bool
}

// DecodeImage decodes image bytes and probes their basic properties. Corrupt
// or unsupported input surfaces as a decode error, never as an empty image.
func DecodeImage(data []byte) (image.Image, ImageInfo, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ImageInfo{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	info := ImageInfo{
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Format:     format,
		ColorSpace: colorSpaceOf(img),
		HasAlpha:   hasAlpha(img),
	}
	if info.Width == 0 || info.Height == 0 {
		return nil, ImageInfo{}, fmt.Errorf("decode image: zero dimensions")
	}
	return img, info, nil
}

// ResizeCoverJPEG scales and center-crops the image to exactly width x height
// ("cover" fit: crop, never stretch) and re-encodes it as JPEG at the given
// quality.
func ResizeCoverJPEG(img image.Image, width, height, quality int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resize: invalid target %dx%d", width, height)
	}
	filled := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, filled, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func colorSpaceOf(img image.Image) string {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return "gray"
	case *image.CMYK:
		return "cmyk"
	case *image.YCbCr, *image.NYCbCrA:
		return "ycbcr"
	default:
		return "srgb"
	}
}

func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64, *image.Alpha, *image.Alpha16, *image.NYCbCrA:
		return true
	default:
		return false
	}
}
