// Package pipeline sequences one extraction batch: pattern and LLM
// extraction, deduplication, enrichment and relationship inference.
// Stages run strictly in order and each is timed three ways: a timing
// event, a span and a Prometheus histogram observation.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/config"
	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/llm"
	"github.com/fyrsmithlabs/roadmapd/internal/secrets"
	"github.com/fyrsmithlabs/roadmapd/internal/similarity"
)

const instrumentationName = "github.com/fyrsmithlabs/roadmapd/internal/pipeline"

// Stage names, used for timing events, spans and metric labels.
const (
	StagePatternExtract     = "pattern_extract"
	StageLLMExtract         = "llm_extract"
	StageConcatenate        = "concatenate"
	StageDeduplicate        = "deduplicate"
	StageEnrich             = "enrich"
	StageInferRelationships = "infer_relationships"
)

// Input is one batch plus the capabilities it runs with.
type Input struct {
	Documents      []extraction.Document
	WorldModel     extraction.WorldModel
	SemanticMemory []extraction.Entity
	EpisodicMemory []events.Event
	LLM            llm.Client
	Sink           events.Sink
	RunID          string
}

// Result is a completed batch. There are no partial results.
type Result struct {
	Entities      []extraction.Entity
	Relationships []extraction.Relationship
}

// Components are the stage implementations. Nil fields get defaults.
type Components struct {
	Patterns     *extraction.PatternExtractor
	LLM          *extraction.LLMExtractor
	Deduplicator *extraction.Deduplicator
	Enricher     *extraction.Enricher
	Inferrer     *extraction.Inferrer
}

// Orchestrator runs extraction batches. It holds no per-run state and is
// safe for concurrent use.
type Orchestrator struct {
	patterns *extraction.PatternExtractor
	llm      *extraction.LLMExtractor
	dedup    *extraction.Deduplicator
	enricher *extraction.Enricher
	inferrer *extraction.Inferrer

	tracer  trace.Tracer
	metrics *Metrics
	logger  *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracer sets the tracer. The global provider is used otherwise.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator.
func New(c Components, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		patterns: c.Patterns,
		llm:      c.LLM,
		dedup:    c.Deduplicator,
		enricher: c.Enricher,
		inferrer: c.Inferrer,
		metrics:  NewMetrics(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.patterns == nil {
		o.patterns = extraction.NewPatternExtractor(nil)
	}
	if o.llm == nil {
		o.llm = extraction.NewLLMExtractor(o.patterns, extraction.DefaultPrompts(), nil, extraction.LLMOptions{}, o.logger)
	}
	if o.dedup == nil {
		o.dedup = extraction.NewDeduplicator(extraction.DefaultDedupThreshold, similarity.Sequence)
	}
	if o.enricher == nil {
		o.enricher = extraction.NewEnricher()
	}
	if o.inferrer == nil {
		o.inferrer = extraction.NewInferrer(extraction.DefaultPrompts(), 0, o.logger)
	}
	return o
}

// NewFromConfig loads the pattern table and prompt templates named in cfg
// and builds every stage from them. Load errors are configuration errors.
func NewFromConfig(ext config.ExtractionConfig, llmCfg config.LLMConfig, scrubber secrets.Scrubber, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	table, err := extraction.LoadPatternTable(ext.PatternsFile)
	if err != nil {
		return nil, err
	}
	prompts, err := extraction.LoadPrompts(ext.EntityPromptFile, ext.RelationshipPromptFile, ext.RelationshipSchemaFile)
	if err != nil {
		return nil, err
	}
	sim, err := similarity.ByName(ext.Similarity)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	patterns := extraction.NewPatternExtractor(table)
	return New(Components{
		Patterns: patterns,
		LLM: extraction.NewLLMExtractor(patterns, prompts, scrubber, extraction.LLMOptions{
			MaxAttempts:      llmCfg.MaxAttempts,
			MaxDocumentChars: ext.MaxDocumentChars,
			CallTimeout:      llmCfg.Timeout.Duration(),
		}, logger),
		Deduplicator: extraction.NewDeduplicator(ext.DedupThreshold, sim),
		Enricher:     extraction.NewEnricher(),
		Inferrer:     extraction.NewInferrer(prompts, llmCfg.Timeout.Duration(), logger),
	}, append([]Option{WithLogger(logger)}, opts...)...), nil
}

// Run executes one batch. Cancellation of ctx is observed between stages
// and inside LLM calls. Errors are *extraction.Error.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Result, error) {
	sink := events.OrNop(in.Sink)
	client := in.LLM
	if client == nil {
		client = llm.Unavailable
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", in.RunID),
		attribute.Int("documents", len(in.Documents)),
	))
	defer span.End()

	sink.Emit(ctx, events.New(events.TypeBatchStart, map[string]any{
		"count":  len(in.Documents),
		"run_id": in.RunID,
	}))

	var (
		patternEntities []extraction.Entity
		llmEntities     []extraction.Entity
		candidates      []extraction.Entity
		unique          []extraction.Entity
		enriched        []extraction.Entity
		relationships   []extraction.Relationship
	)

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{StagePatternExtract, func(context.Context) error {
			patternEntities = o.patterns.Extract(in.Documents)
			return nil
		}},
		{StageLLMExtract, func(ctx context.Context) error {
			var err error
			llmEntities, err = o.llm.Extract(ctx, in.Documents, in.WorldModel, in.SemanticMemory, client, sink)
			return err
		}},
		{StageConcatenate, func(context.Context) error {
			candidates = make([]extraction.Entity, 0, len(patternEntities)+len(llmEntities))
			candidates = append(candidates, patternEntities...)
			candidates = append(candidates, llmEntities...)
			return nil
		}},
		{StageDeduplicate, func(ctx context.Context) error {
			unique = o.dedup.Deduplicate(ctx, candidates, in.SemanticMemory, in.EpisodicMemory, sink)
			return nil
		}},
		{StageEnrich, func(context.Context) error {
			var err error
			enriched, err = o.enricher.Enrich(unique, in.WorldModel, in.SemanticMemory)
			return err
		}},
		{StageInferRelationships, func(ctx context.Context) error {
			relationships = o.inferrer.Infer(ctx, enriched, in.WorldModel, client, sink)
			return nil
		}},
	}

	for _, step := range steps {
		if err := o.stage(ctx, sink, step.name, step.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.metrics.Failures.WithLabelValues(err.Stage, err.Code).Inc()
			o.logger.Warn("extraction batch failed",
				zap.String("run_id", in.RunID),
				zap.String("stage", err.Stage),
				zap.String("code", err.Code),
				zap.Error(err.Err))
			return Result{}, err
		}
	}

	o.emitEntities(ctx, sink, enriched, in.RunID)
	sink.Emit(ctx, events.New(events.TypeRelationshipBatchEnd, map[string]any{
		"count":  len(relationships),
		"run_id": in.RunID,
	}))

	span.SetAttributes(
		attribute.Int("entities", len(enriched)),
		attribute.Int("relationships", len(relationships)),
	)
	o.logger.Debug("extraction batch complete",
		zap.String("run_id", in.RunID),
		zap.Int("entities", len(enriched)),
		zap.Int("relationships", len(relationships)))

	return Result{Entities: enriched, Relationships: relationships}, nil
}

func (o *Orchestrator) stage(ctx context.Context, sink events.Sink, name string, fn func(context.Context) error) *extraction.Error {
	if err := ctx.Err(); err != nil {
		return extraction.StageError(name, fmt.Errorf("%w: %w", extraction.ErrCanceled, err))
	}

	ctx, span := o.tracer.Start(ctx, "pipeline."+name, trace.WithAttributes(attribute.String("stage", name)))
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	o.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	sink.Emit(ctx, events.New(events.TypeTiming, map[string]any{
		"step":     name,
		"duration": elapsed.Seconds(),
	}))

	if err != nil {
		return extraction.StageError(name, err)
	}
	return nil
}

// emitEntities writes one extracted_entity event per surviving entity,
// timestamped with the entity's created_at.
func (o *Orchestrator) emitEntities(ctx context.Context, sink events.Sink, entities []extraction.Entity, runID string) {
	for _, e := range entities {
		o.metrics.Entities.WithLabelValues(e.Type).Inc()
		ev := events.New(events.TypeExtractedEntity, map[string]any{
			"content":             fmt.Sprintf("%s: %s", e.Type, e.Value.String()),
			"step":                e.Step,
			"entity_type":         e.Type,
			"value":               e.Value.Raw(),
			"confidence":          e.Confidence,
			"extraction_method":   string(e.Method),
			"source_text_excerpt": e.SourceExcerpt,
			"relationships":       e.Relationships,
			"run_id":              runID,
		})
		if !e.CreatedAt.IsZero() {
			ev.Timestamp = e.CreatedAt.UTC()
		}
		sink.Emit(ctx, ev)
	}
}
