package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind selects which queue and transform pipeline handle a job.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// Kinds lists every processing kind in dispatch order.
var Kinds = []Kind{KindImage, KindVideo, KindDocument}

// ParseKind validates a kind string received over the wire.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindImage, KindVideo, KindDocument:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Job states. The queue owns every transition; workers only request them.
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateDelayed   = "delayed"
)

var (
	ErrUnknownKind    = errors.New("unknown job kind")
	ErrInvalidPayload = errors.New("invalid job payload")
)

// Payload is the enqueue-time job data. The shape is part of the external
// contract: every producer and consumer must accept exactly these fields.
type Payload struct {
	AssetID    string `json:"assetId" validate:"required"`
	BucketName string `json:"bucketName" validate:"required"`
	ObjectName string `json:"objectName" validate:"required"`
	MimeType   string `json:"mimeType" validate:"required"`
	Type       Kind   `json:"type" validate:"required,oneof=image video document"`
}

var validate = validator.New()

// Validate checks the payload against the wire contract. Called at enqueue
// and again at dequeue so malformed jobs fail fast without consuming retries.
func (p Payload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Job is a queued unit of processing work referencing one asset.
type Job struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Payload     Payload   `json:"payload"`
	State       string    `json:"state"`
	Priority    string    `json:"priority"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Progress    int       `json:"progress"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}
