package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"asset-pipeline/internal/media"
	"asset-pipeline/internal/models"
	"asset-pipeline/internal/objstore"
)

// ThumbnailSize is one rung of the thumbnail ladder.
type ThumbnailSize struct {
	Name   string
	Width  int
	Height int
}

// DefaultThumbnailSizes is the ladder generated for every image. The medium
// rung doubles as the asset's canonical thumbnail.
var DefaultThumbnailSizes = []ThumbnailSize{
	{Name: "small", Width: 150, Height: 150},
	{Name: "medium", Width: 300, Height: 300},
	{Name: "large", Width: 600, Height: 600},
}

const thumbnailJPEGQuality = 80

// ImagePipeline downloads a source image, produces the thumbnail ladder and
// uploads each rung next to the original.
type ImagePipeline struct {
	store   objstore.Store
	sizes   []ThumbnailSize
	quality int
	logger  *slog.Logger
}

func NewImagePipeline(store objstore.Store, logger *slog.Logger) *ImagePipeline {
	return &ImagePipeline{
		store:   store,
		sizes:   DefaultThumbnailSizes,
		quality: thumbnailJPEGQuality,
		logger:  logger,
	}
}

func (p *ImagePipeline) Process(ctx context.Context, job models.Job, progress ProgressFunc) (models.CompletionUpdate, error) {
	pl := job.Payload
	progress(10)

	data, err := p.store.Download(ctx, pl.BucketName, pl.ObjectName)
	if err != nil {
		return models.CompletionUpdate{}, fmt.Errorf("download source: %w", err)
	}
	progress(20)

	img, info, err := media.DecodeImage(data)
	if err != nil {
		return models.CompletionUpdate{}, err
	}
	progress(30)

	thumbs := make([]map[string]any, 0, len(p.sizes))
	var thumbnailPath string
	for i, size := range p.sizes {
		buf, err := media.ResizeCoverJPEG(img, size.Width, size.Height, p.quality)
		if err != nil {
			return models.CompletionUpdate{}, fmt.Errorf("resize %s: %w", size.Name, err)
		}

		key := fmt.Sprintf("thumbnails/%s-%s.jpg", pl.AssetID, size.Name)
		objInfo, err := p.store.Upload(ctx, pl.BucketName, key, bytes.NewReader(buf), int64(len(buf)), "image/jpeg")
		if err != nil {
			return models.CompletionUpdate{}, fmt.Errorf("upload %s: %w", key, err)
		}

		thumbs = append(thumbs, map[string]any{
			"size":       size.Name,
			"objectName": key,
			"width":      size.Width,
			"height":     size.Height,
			"fileSize":   objInfo.Size,
		})
		if size.Name == "medium" {
			thumbnailPath = objInfo.Location()
		}
		progress(30 + (i+1)*60/len(p.sizes))
	}
	if thumbnailPath == "" && len(thumbs) > 0 {
		thumbnailPath = fmt.Sprintf("%s/%s", pl.BucketName, thumbs[0]["objectName"])
	}

	p.logger.Info("image processed",
		"asset_id", pl.AssetID,
		"format", info.Format,
		"dimensions", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"thumbnails", len(thumbs),
	)

	return models.CompletionUpdate{
		ThumbnailPath: thumbnailPath,
		Metadata: map[string]any{
			"dimensions": map[string]any{"width": info.Width, "height": info.Height},
			"format":     info.Format,
			"space":      info.ColorSpace,
			"hasAlpha":   info.HasAlpha,
			"thumbnails": thumbs,
		},
	}, nil
}
