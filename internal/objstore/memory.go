package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type memObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memObject
}

// NewMemory builds an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string]memObject)}
}

func (s *MemoryStore) Upload(_ context.Context, bucket, key string, r io.Reader, _ int64, contentType string) (ObjectInfo, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return ObjectInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]memObject)
	}
	obj := memObject{data: buf.Bytes(), contentType: contentType, lastModified: time.Now()}
	s.buckets[bucket][key] = obj
	return ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(obj.data)), ContentType: contentType}, nil
}

func (s *MemoryStore) UploadFile(ctx context.Context, bucket, key, filePath, contentType string) (ObjectInfo, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer f.Close()
	return s.Upload(ctx, bucket, key, f, 0, contentType)
}

func (s *MemoryStore) Download(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (s *MemoryStore) DownloadFile(ctx context.Context, bucket, key, filePath string) error {
	data, err := s.Download(ctx, bucket, key)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0o644)
}

func (s *MemoryStore) Stat(_ context.Context, bucket, key string) (ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.lastModified,
	}, nil
}

func (s *MemoryStore) Remove(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
	return nil
}

func (s *MemoryStore) EnsureBucket(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]memObject)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Keys lists the keys present in a bucket, sorted order not guaranteed.
// Intended for test assertions.
func (s *MemoryStore) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	return keys
}
