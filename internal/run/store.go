package run

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
)

// Store persists runs and their event logs.
type Store interface {
	Create(ctx context.Context, r *Run) error
	Update(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// ListByOrg returns the org's most recent runs, newest first.
	ListByOrg(ctx context.Context, orgID int64, limit int) ([]*Run, error)
	// AppendEvent stores e at position seq of the run's log.
	AppendEvent(ctx context.Context, runID string, seq int64, e events.Event) error
	// Events returns the run's log in seq order.
	Events(ctx context.Context, runID string) ([]events.Event, error)
}

// MemoryStore keeps runs in process.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]Run
	events map[string]map[int64]events.Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]Run),
		events: make(map[string]map[int64]events.Event),
	}
}

func (s *MemoryStore) Create(_ context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; ok {
		return fmt.Errorf("run %s already exists", r.ID)
	}
	s.runs[r.ID] = *r
	return nil
}

func (s *MemoryStore) Update(_ context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	s.runs[r.ID] = *r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &r, nil
}

func (s *MemoryStore) ListByOrg(_ context.Context, orgID int64, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Run
	for _, r := range s.runs {
		if r.OrgID == orgID {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, runID string, seq int64, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	log := s.events[runID]
	if log == nil {
		log = make(map[int64]events.Event)
		s.events[runID] = log
	}
	if _, dup := log[seq]; dup {
		return fmt.Errorf("run %s already has event %d", runID, seq)
	}
	log[seq] = e
	return nil
}

func (s *MemoryStore) Events(_ context.Context, runID string) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[runID]
	seqs := make([]int64, 0, len(log))
	for seq := range log {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	out := make([]events.Event, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, log[seq])
	}
	return out, nil
}
