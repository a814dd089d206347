package store

import (
	"context"
	"sort"
	"sync"

	"github.com/okarlsson/imagepress/internal/domain"
)

type MemoryUploadStore struct {
	mu      sync.RWMutex
	uploads map[string]domain.Upload
}

func NewMemoryUploadStore() *MemoryUploadStore {
	return &MemoryUploadStore{
		uploads: make(map[string]domain.Upload),
	}
}

func (s *MemoryUploadStore) Record(_ context.Context, upload domain.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[upload.JobID] = upload
	return nil
}

func (s *MemoryUploadStore) Get(_ context.Context, jobID string) (domain.Upload, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	upload, ok := s.uploads[jobID]
	return upload, ok, nil
}

func (s *MemoryUploadStore) ListRecent(_ context.Context, limit int) ([]domain.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uploads := make([]domain.Upload, 0, len(s.uploads))
	for _, upload := range s.uploads {
		uploads = append(uploads, upload)
	}
	sort.Slice(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.After(uploads[j].CreatedAt)
	})

	if limit > 0 && len(uploads) > limit {
		uploads = uploads[:limit]
	}
	return uploads, nil
}
