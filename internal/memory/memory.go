// Package memory stores what an organization already knows: semantic
// facts (entities accepted by earlier runs) and the episodic event log
// (what happened to them).
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
)

// Store is semantic and episodic memory for many organizations.
type Store interface {
	// Semantic returns the org's known entities in first-seen order.
	Semantic(ctx context.Context, orgID int64) ([]extraction.Entity, error)
	// AddSemantic upserts entities keyed by (type, lowercase value).
	AddSemantic(ctx context.Context, orgID int64, runID string, entities []extraction.Entity) error
	// Episodes returns the org's event log, oldest first.
	Episodes(ctx context.Context, orgID int64) ([]events.Event, error)
	// AppendEpisode appends one event to the log.
	AppendEpisode(ctx context.Context, orgID int64, runID string, e events.Event) error
	// RemoveEntity forgets a semantic fact and records a removed_entity
	// episode so later runs treat it as obsolete.
	RemoveEntity(ctx context.Context, orgID int64, entityType string, value extraction.Value) error
}

// removedEvent builds the episode RemoveEntity appends.
func removedEvent(entityType string, value extraction.Value) events.Event {
	return events.New(events.TypeRemovedEntity, map[string]any{
		"entity_type": entityType,
		"value":       value.Raw(),
	})
}

// MemoryStore keeps everything in process.
type MemoryStore struct {
	mu       sync.RWMutex
	semantic map[int64][]extraction.Entity
	index    map[int64]map[extraction.Key]int
	episodes map[int64][]events.Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		semantic: make(map[int64][]extraction.Entity),
		index:    make(map[int64]map[extraction.Key]int),
		episodes: make(map[int64][]events.Event),
	}
}

func (s *MemoryStore) Semantic(_ context.Context, orgID int64) ([]extraction.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]extraction.Entity, 0, len(s.semantic[orgID]))
	for _, e := range s.semantic[orgID] {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (s *MemoryStore) AddSemantic(_ context.Context, orgID int64, _ string, entities []extraction.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index[orgID]
	if idx == nil {
		idx = make(map[extraction.Key]int)
		s.index[orgID] = idx
	}
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return err
		}
		if i, ok := idx[e.Key()]; ok {
			s.semantic[orgID][i] = e.Clone()
			continue
		}
		idx[e.Key()] = len(s.semantic[orgID])
		s.semantic[orgID] = append(s.semantic[orgID], e.Clone())
	}
	return nil
}

func (s *MemoryStore) Episodes(_ context.Context, orgID int64) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.Event(nil), s.episodes[orgID]...), nil
}

func (s *MemoryStore) AppendEpisode(_ context.Context, orgID int64, runID string, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if runID != "" && e.Get("run_id") == nil {
		e = e.With("run_id", runID)
	}
	s.episodes[orgID] = append(s.episodes[orgID], e)
	return nil
}

func (s *MemoryStore) RemoveEntity(_ context.Context, orgID int64, entityType string, value extraction.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := extraction.KeyOf(entityType, value)
	if i, ok := s.index[orgID][key]; ok {
		list := s.semantic[orgID]
		list = append(list[:i:i], list[i+1:]...)
		s.semantic[orgID] = list
		idx := make(map[extraction.Key]int, len(list))
		for j, e := range list {
			idx[e.Key()] = j
		}
		s.index[orgID] = idx
	}
	s.episodes[orgID] = append(s.episodes[orgID], removedEvent(entityType, value))
	return nil
}

// EpisodeSink writes extracted_entity and removed_entity events to the
// episodic log of one org. Other events pass by. Failures are logged.
type EpisodeSink struct {
	store  Store
	orgID  int64
	runID  string
	logger *zap.Logger
}

// NewEpisodeSink creates a sink bound to one run.
func NewEpisodeSink(store Store, orgID int64, runID string, logger *zap.Logger) *EpisodeSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EpisodeSink{store: store, orgID: orgID, runID: runID, logger: logger}
}

func (s *EpisodeSink) Emit(ctx context.Context, e events.Event) {
	if e.Type != events.TypeExtractedEntity && e.Type != events.TypeRemovedEntity {
		return
	}
	// The run may already be canceled; the log entry still belongs to it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.AppendEpisode(ctx, s.orgID, s.runID, e); err != nil {
		s.logger.Warn("failed to append episode",
			zap.Int64("org_id", s.orgID),
			zap.String("run_id", s.runID),
			zap.String("event_type", e.Type),
			zap.Error(err))
	}
}

var _ events.Sink = (*EpisodeSink)(nil)
