package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"asset-pipeline/internal/models"
)

// Memory is an in-memory AssetStore for tests and local development.
type Memory struct {
	mu     sync.RWMutex
	assets map[string]models.Asset
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{assets: make(map[string]models.Asset)}
}

// Insert creates an asset row in pending state.
func (m *Memory) Insert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[id]; !ok {
		m.assets[id] = models.Asset{ID: id, Status: models.AssetPending, UpdatedAt: time.Now()}
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return models.Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	return a, nil
}

func (m *Memory) MarkProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	a.Status = models.AssetProcessing
	a.ErrorMessage = ""
	a.UpdatedAt = time.Now()
	m.assets[id] = a
	return nil
}

func (m *Memory) MarkCompleted(_ context.Context, id string, upd models.CompletionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	a.Status = models.AssetCompleted
	a.ThumbnailPath = upd.ThumbnailPath
	a.TranscodedPaths = upd.TranscodedPaths
	a.Metadata = upd.Metadata
	a.ErrorMessage = ""
	a.UpdatedAt = time.Now()
	m.assets[id] = a
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, message string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	if terminal {
		a.Status = models.AssetFailed
	}
	a.ErrorMessage = message
	a.UpdatedAt = time.Now()
	m.assets[id] = a
	return nil
}

func (m *Memory) FailStuckProcessing(_ context.Context, olderThan time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var ids []string
	for id, a := range m.assets {
		if a.Status == models.AssetProcessing && a.UpdatedAt.Before(cutoff) {
			a.Status = models.AssetFailed
			a.ErrorMessage = "processing stalled: no worker heartbeat"
			a.UpdatedAt = time.Now()
			m.assets[id] = a
			ids = append(ids, id)
		}
	}
	return ids, nil
}
