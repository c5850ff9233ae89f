package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"devicetrust/internal/session/domain"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
// Err, when set, is returned from every call.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]*domain.Record
	nowF func() time.Time
	Err  error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]*domain.Record), nowF: func() time.Time { return time.Now().UTC() }}
}

// UpsertByFilter applies patch to the newest matching record.
func (s *MemoryStore) UpsertByFilter(ctx context.Context, filter domain.Filter, patch domain.Patch) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	matches := s.match(filter)
	if len(matches) == 0 {
		return nil, nil
	}
	patch.Apply(matches[0])
	out := *matches[0]
	return &out, nil
}

// SelectByFilter returns copies of the matching records.
func (s *MemoryStore) SelectByFilter(ctx context.Context, filter domain.Filter) ([]*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	matches := s.match(filter)
	out := make([]*domain.Record, len(matches))
	for i, r := range matches {
		c := *r
		out[i] = &c
	}
	return out, nil
}

// Insert stores a copy of rec.
func (s *MemoryStore) Insert(ctx context.Context, rec *domain.Record) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	c := *rec
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.nowF()
	}
	s.m[c.ID] = &c
	out := c
	return &out, nil
}

// UpdateMany applies patch to all matching records.
func (s *MemoryStore) UpdateMany(ctx context.Context, filter domain.Filter, patch domain.Patch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	matches := s.match(filter)
	for _, r := range matches {
		patch.Apply(r)
	}
	return int64(len(matches)), nil
}

// Get returns a copy of the record with id, or nil.
func (s *MemoryStore) Get(id string) *domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[id]
	if !ok {
		return nil
	}
	c := *r
	return &c
}

// Put stores rec as-is, overwriting any record with the same id.
func (s *MemoryStore) Put(rec *domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.m[c.ID] = &c
}

// match must be called with mu held.
func (s *MemoryStore) match(f domain.Filter) []*domain.Record {
	var out []*domain.Record
	for _, r := range s.m {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
