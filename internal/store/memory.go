package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process ClaimStore with the same expiry semantics as
// DynamoStore.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryRecord
}

type memoryRecord struct {
	rec       ClaimRecord
	expiresAt time.Time
}

var _ ClaimStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. A ttl of zero means SessionTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) PutClaim(_ context.Context, rec *ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = memoryRecord{rec: *rec, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) GetClaim(_ context.Context, claimID string) (*ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[claimID]
	if !ok {
		return nil, nil
	}
	if s.now().After(r.expiresAt) {
		delete(s.records, claimID)
		return nil, nil
	}
	rec := r.rec
	return &rec, nil
}

func (s *MemoryStore) DeleteClaim(_ context.Context, claimID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, claimID)
	return nil
}

// Len returns the number of stored records, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// MemoryImageStore is an in-process ImageStore.
type MemoryImageStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ ImageStore = (*MemoryImageStore)(nil)

// NewMemoryImageStore creates an empty MemoryImageStore.
func NewMemoryImageStore() *MemoryImageStore {
	return &MemoryImageStore{objects: make(map[string][]byte)}
}

func (s *MemoryImageStore) PutImage(_ context.Context, claimID, mimeType string, data []byte) (string, error) {
	key := ImageKey(claimID, extensionFor(mimeType))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (s *MemoryImageStore) GetImage(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrImageNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryImageStore) DeleteImage(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
