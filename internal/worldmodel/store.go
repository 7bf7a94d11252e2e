package worldmodel

import (
	"context"
	"sync"
	"time"
)

// UpdateFunc computes the new profile from the persisted one. found is
// false when the org has no row yet, in which case persisted is nil.
type UpdateFunc func(persisted *BusinessProfile, found bool) (*BusinessProfile, error)

// Store persists one world model per organization.
type Store interface {
	// Get returns the org's record or ErrNotFound.
	Get(ctx context.Context, orgID int64) (*Record, error)
	// Update runs fn and writes its result as one atomic read-modify-write.
	// created reports whether the row was inserted.
	Update(ctx context.Context, orgID int64, fn UpdateFunc) (rec *Record, created bool, err error)
}

// MemoryStore is an in-process Store. The whole update, fn included,
// runs under one lock.
type MemoryStore struct {
	mu      sync.Mutex
	records map[int64]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(_ context.Context, orgID int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) Update(ctx context.Context, orgID int64, fn UpdateFunc) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	existing, found := s.records[orgID]
	var persisted *BusinessProfile
	if found {
		persisted = existing.Profile.Clone()
	}
	next, err := fn(persisted, found)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	rec := &Record{OrgID: orgID, Profile: next.Clone(), UpdatedAt: now, CreatedAt: now}
	if found {
		rec.CreatedAt = existing.CreatedAt
	}
	s.records[orgID] = rec
	return copyRecord(rec), !found, nil
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Profile = r.Profile.Clone()
	return &c
}
