package repository

import (
	"context"
	"sync"
	"time"

	"devicetrust/internal/mfa/domain"
)

// MemoryRepository is an in-process Repository. Expired entries are dropped on read.
type MemoryRepository struct {
	mu   sync.Mutex
	m    map[string]domain.Challenge
	nowF func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: map[string]domain.Challenge{}, nowF: time.Now}
}

func (r *MemoryRepository) Save(ctx context.Context, c *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[c.ID] = *c
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	if !c.ExpiresAt.After(r.nowF()) {
		delete(r.m, id)
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
	return nil
}
