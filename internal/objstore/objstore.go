// Package objstore abstracts the bucket-based object storage the pipeline
// reads originals from and writes derived artifacts to. Derived keys are
// deterministic, so every upload is an idempotent overwrite.
package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket       string
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Location renders the "bucket/key" form persisted on asset records.
func (o ObjectInfo) Location() string {
	return o.Bucket + "/" + o.Key
}

// Store is the object storage contract the pipeline consumes.
type Store interface {
	// Upload writes size bytes from r under bucket/key.
	Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error)
	// UploadFile uploads a local file under bucket/key.
	UploadFile(ctx context.Context, bucket, key, filePath, contentType string) (ObjectInfo, error)
	// Download returns the full object contents.
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	// DownloadFile streams the object to a local path. Video transforms need
	// file-based tooling, not in-memory buffers.
	DownloadFile(ctx context.Context, bucket, key, filePath string) error
	// Stat returns object metadata without the body.
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	// Remove deletes an object.
	Remove(ctx context.Context, bucket, key string) error
	// EnsureBucket creates the bucket if it does not exist.
	EnsureBucket(ctx context.Context, bucket string) error
	// Ping verifies the backend is reachable, for health checks.
	Ping(ctx context.Context) error
}
