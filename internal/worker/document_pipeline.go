package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"asset-pipeline/internal/models"
	"asset-pipeline/internal/objstore"
)

// DocumentPipeline records basic object metadata for document assets. No
// transform is applied; the source object is served as-is.
type DocumentPipeline struct {
	store  objstore.Store
	logger *slog.Logger
}

func NewDocumentPipeline(store objstore.Store, logger *slog.Logger) *DocumentPipeline {
	return &DocumentPipeline{store: store, logger: logger}
}

func (p *DocumentPipeline) Process(ctx context.Context, job models.Job, progress ProgressFunc) (models.CompletionUpdate, error) {
	pl := job.Payload
	progress(25)

	info, err := p.store.Stat(ctx, pl.BucketName, pl.ObjectName)
	if err != nil {
		return models.CompletionUpdate{}, fmt.Errorf("stat source: %w", err)
	}
	progress(75)

	p.logger.Info("document processed", "asset_id", pl.AssetID, "size", info.Size)

	return models.CompletionUpdate{
		Metadata: map[string]any{
			"fileSize":     info.Size,
			"contentType":  info.ContentType,
			"lastModified": info.LastModified.UTC().Format(time.RFC3339),
		},
	}, nil
}
