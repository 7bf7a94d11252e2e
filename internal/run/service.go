package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/llm"
	"github.com/fyrsmithlabs/roadmapd/internal/logging"
	"github.com/fyrsmithlabs/roadmapd/internal/memory"
	"github.com/fyrsmithlabs/roadmapd/internal/pipeline"
	"github.com/fyrsmithlabs/roadmapd/internal/secrets"
	"github.com/fyrsmithlabs/roadmapd/internal/worldmodel"
)

// ErrInvalidRequest is returned for requests that never become runs.
var ErrInvalidRequest = errors.New("invalid run request")

// SinkFactory builds an extra event sink for one run, e.g. a NATS publisher.
type SinkFactory func(r *Run) events.Sink

// Deps are the collaborators a Service needs. Runs, WorldModels, Memory
// and Orchestrator are required.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Runs         Store
	WorldModels  worldmodel.Store
	Memory       memory.Store
	LLM          llm.Client
	Scrubber     secrets.Scrubber
	Sinks        []SinkFactory
	Logger       *logging.Logger
	Clock        func() time.Time
}

// Service executes runs end to end.
type Service struct {
	orchestrator *pipeline.Orchestrator
	merger       *worldmodel.Merger
	runs         Store
	worldModels  worldmodel.Store
	memory       memory.Store
	llm          llm.Client
	scrubber     secrets.Scrubber
	sinks        []SinkFactory
	logger       *logging.Logger
	now          func() time.Time
}

// NewService creates a service.
func NewService(d Deps) (*Service, error) {
	if d.Orchestrator == nil || d.Runs == nil || d.WorldModels == nil || d.Memory == nil {
		return nil, errors.New("run service requires orchestrator, run, world model and memory stores")
	}
	if d.LLM == nil {
		d.LLM = llm.Unavailable
	}
	if d.Scrubber == nil {
		d.Scrubber = secrets.Noop{}
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orchestrator: d.Orchestrator,
		merger:       worldmodel.NewMerger(d.WorldModels, d.Logger.Underlying()),
		runs:         d.Runs,
		worldModels:  d.WorldModels,
		memory:       d.Memory,
		llm:          d.LLM,
		scrubber:     d.Scrubber,
		sinks:        d.Sinks,
		logger:       d.Logger,
		now:          d.Clock,
	}, nil
}

// Request is one document batch for one organization.
type Request struct {
	OrgID     int64
	Documents []extraction.Document
	// LLM overrides the service's client for this run.
	LLM llm.Client
}

// Outcome is what a run produced. Run is always set once the run exists,
// including when Execute returns an error.
type Outcome struct {
	Run           *Run
	Entities      []extraction.Entity
	Relationships []extraction.Relationship
	Profile       *worldmodel.BusinessProfile
}

// Execute runs the pipeline synchronously. Extraction failures mark the
// run failed and are returned; world model and memory persistence
// failures are logged and do not fail the run.
func (s *Service) Execute(ctx context.Context, req Request) (*Outcome, error) {
	if req.OrgID <= 0 {
		return nil, fmt.Errorf("%w: org_id must be positive", ErrInvalidRequest)
	}
	if len(req.Documents) == 0 {
		return nil, fmt.Errorf("%w: no documents", ErrInvalidRequest)
	}

	r := New(req.OrgID, s.now())
	if err := s.runs.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	out := &Outcome{Run: r}

	ctx = logging.WithOrgID(logging.WithRunID(ctx, r.ID), req.OrgID)
	sink := s.sinkFor(r)

	if err := r.Start(s.now()); err != nil {
		return out, err
	}
	s.save(ctx, r)
	sink.Emit(ctx, events.New(events.TypeRunStarted, map[string]any{
		"run_id":    r.ID,
		"org_id":    r.OrgID,
		"documents": len(req.Documents),
	}))
	s.logger.Info(ctx, "run started", zap.Int("documents", len(req.Documents)))

	current, semantic, episodic, err := s.loadState(ctx, req.OrgID)
	if err != nil {
		return out, s.fail(ctx, r, sink, CodeInternal, err)
	}

	client := req.LLM
	if client == nil {
		client = s.llm
	}
	res, err := s.orchestrator.Run(ctx, pipeline.Input{
		Documents:      req.Documents,
		WorldModel:     current,
		SemanticMemory: semantic,
		EpisodicMemory: episodic,
		LLM:            client,
		Sink:           sink,
		RunID:          r.ID,
	})
	if err != nil {
		code := CodeInternal
		var xerr *extraction.Error
		if errors.As(err, &xerr) {
			code = xerr.Code
		}
		return out, s.fail(ctx, r, sink, code, err)
	}
	out.Entities = res.Entities
	out.Relationships = res.Relationships

	profile, err := s.merger.Merge(ctx, req.OrgID, current, res.Entities, res.Relationships, sink)
	if err != nil {
		code := CodeInternal
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			code = extraction.CodeCanceled
		}
		return out, s.fail(ctx, r, sink, code, err)
	}
	out.Profile = profile

	// Semantic memory lags the world model on failure, like persistence.
	if err := s.memory.AddSemantic(context.WithoutCancel(ctx), req.OrgID, r.ID, res.Entities); err != nil {
		s.logger.Warn(ctx, "failed to update semantic memory", zap.Error(err))
	}

	if err := r.Complete(len(res.Entities), len(res.Relationships), s.now()); err != nil {
		return out, err
	}
	s.save(ctx, r)
	sink.Emit(ctx, events.New(events.TypeRunCompleted, map[string]any{
		"run_id":             r.ID,
		"entity_count":       r.EntityCount,
		"relationship_count": r.RelationshipCount,
	}))
	s.logger.Info(ctx, "run completed",
		zap.Int("entities", r.EntityCount),
		zap.Int("relationships", r.RelationshipCount))
	return out, nil
}

// loadState reads the org's world model and memory. A missing world
// model is an empty profile.
func (s *Service) loadState(ctx context.Context, orgID int64) (*worldmodel.BusinessProfile, []extraction.Entity, []events.Event, error) {
	current := &worldmodel.BusinessProfile{}
	rec, err := s.worldModels.Get(ctx, orgID)
	switch {
	case err == nil:
		current = rec.Profile
	case !errors.Is(err, worldmodel.ErrNotFound):
		return nil, nil, nil, fmt.Errorf("loading world model: %w", err)
	}

	semantic, err := s.memory.Semantic(ctx, orgID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading semantic memory: %w", err)
	}
	episodic, err := s.memory.Episodes(ctx, orgID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading episodic memory: %w", err)
	}
	return current, semantic, episodic, nil
}

func (s *Service) sinkFor(r *Run) events.Sink {
	z := s.logger.Underlying()
	sinks := []events.Sink{
		NewEventSink(s.runs, r.ID, z),
		memory.NewEpisodeSink(s.memory, r.OrgID, r.ID, z),
		events.NewLogSink(s.logger),
	}
	for _, f := range s.sinks {
		sinks = append(sinks, f(r))
	}
	return events.Sequence(events.Multi(sinks...))
}

// fail marks r failed, records it and returns err for the caller.
func (s *Service) fail(ctx context.Context, r *Run, sink events.Sink, code string, err error) error {
	if markErr := r.MarkFailed(code, err.Error(), s.scrubber, s.now()); markErr != nil {
		return errors.Join(err, markErr)
	}
	s.save(ctx, r)
	sink.Emit(ctx, events.New(events.TypeRunFailed, map[string]any{
		"run_id":     r.ID,
		"error_code": r.ErrorCode,
		"error":      r.ErrorMessage,
	}))
	s.logger.Warn(ctx, "run failed", zap.String("error_code", r.ErrorCode), zap.Error(err))
	return err
}

// save records r's current state. The run row must reflect the outcome
// even when ctx was canceled.
func (s *Service) save(ctx context.Context, r *Run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.Update(ctx, r); err != nil {
		s.logger.Warn(ctx, "failed to save run", zap.String("status", string(r.Status)), zap.Error(err))
	}
}

// Get returns a run.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	return s.runs.Get(ctx, id)
}

// Events returns a run's event log.
func (s *Service) Events(ctx context.Context, id string) ([]events.Event, error) {
	if _, err := s.runs.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.runs.Events(ctx, id)
}

// List returns an org's recent runs.
func (s *Service) List(ctx context.Context, orgID int64, limit int) ([]*Run, error) {
	return s.runs.ListByOrg(ctx, orgID, limit)
}

// WorldModel returns an org's persisted profile.
func (s *Service) WorldModel(ctx context.Context, orgID int64) (*worldmodel.Record, error) {
	return s.worldModels.Get(ctx, orgID)
}

// Forget removes a fact from the org's semantic memory. Later runs treat
// it as obsolete and do not extract it again.
func (s *Service) Forget(ctx context.Context, orgID int64, entityType string, value extraction.Value) error {
	if orgID <= 0 || entityType == "" || value.IsEmpty() {
		return fmt.Errorf("%w: org_id, entity_type and value are required", ErrInvalidRequest)
	}
	if err := s.memory.RemoveEntity(ctx, orgID, entityType, value); err != nil {
		return err
	}
	s.logger.Info(logging.WithOrgID(ctx, orgID), "entity forgotten", zap.String("entity_type", entityType))
	return nil
}
