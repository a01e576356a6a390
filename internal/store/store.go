// Package store persists the pipeline's projection of asset records. The
// surrounding application owns the full asset schema; the pipeline only
// touches status, thumbnail_path, transcoded_paths, metadata and
// error_message, each as a single atomic multi-field write.
package store

import (
	"context"
	"errors"
	"time"

	"asset-pipeline/internal/models"
)

// ErrAssetNotFound is returned when no asset row matches the given id.
var ErrAssetNotFound = errors.New("asset not found")

// AssetStore is the write contract the pipeline holds over asset records.
type AssetStore interface {
	// Insert creates the asset row in pending state. Inserting an existing id
	// is a no-op so producers can enqueue idempotently.
	Insert(ctx context.Context, id string) error
	// Get loads the pipeline's view of an asset.
	Get(ctx context.Context, id string) (models.Asset, error)
	// MarkProcessing transitions the asset to processing when its job is leased.
	MarkProcessing(ctx context.Context, id string) error
	// MarkCompleted applies the terminal success update in one write: status,
	// artifact references and metadata become visible together, and any
	// residual error message from earlier attempts is cleared.
	MarkCompleted(ctx context.Context, id string, upd models.CompletionUpdate) error
	// MarkFailed records the failure cause. Status flips to failed only on
	// terminal failures; transient failures keep the current status so a
	// later retry can still complete the asset.
	MarkFailed(ctx context.Context, id string, message string, terminal bool) error
	// FailStuckProcessing marks assets stuck in processing longer than the
	// cutoff as failed and returns their ids. Defense in depth behind the
	// queue's lease timeout.
	FailStuckProcessing(ctx context.Context, olderThan time.Duration) ([]string, error)
}
