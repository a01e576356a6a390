package models

import "time"

// Asset processing statuses. The pipeline drives this state machine as a side
// effect of job execution; the surrounding CRUD application owns every other
// asset field.
const (
	AssetPending    = "pending"
	AssetProcessing = "processing"
	AssetCompleted  = "completed"
	AssetFailed     = "failed"
)

// Asset is the pipeline's narrow projection of the asset record. Only the
// fields the pipeline is permitted to read or write appear here.
type Asset struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	ThumbnailPath   string            `json:"thumbnail_path,omitempty"`
	TranscodedPaths map[string]string `json:"transcoded_paths,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CompletionUpdate is the single atomic write applied when a job succeeds.
// Grouping the fields keeps a partially processed asset from ever exposing a
// thumbnail or rendition reference that was not fully uploaded.
type CompletionUpdate struct {
	ThumbnailPath   string
	TranscodedPaths map[string]string
	Metadata        map[string]any
}
