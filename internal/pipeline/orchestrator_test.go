package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/roadmapd/internal/config"
	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/llm"
	"github.com/fyrsmithlabs/roadmapd/internal/logging"
	"github.com/fyrsmithlabs/roadmapd/internal/telemetry"
	"github.com/fyrsmithlabs/roadmapd/internal/worldmodel"
)

const scenarioDoc = "Our vision is to grow revenue by 20%. KPI: Customer Retention Rate target 95%."

// stubLLM answers entity prompts with entities and relationship prompts
// with relationships.
type stubLLM struct {
	entities      string
	relationships string
	entityErr     error
	entityCalls   atomic.Int32
	relCalls      atomic.Int32
}

func (s *stubLLM) Complete(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "knowledge graphs") {
		s.relCalls.Add(1)
		return s.relationships, nil
	}
	s.entityCalls.Add(1)
	return s.entities, s.entityErr
}

func scenarioLLM() *stubLLM {
	return &stubLLM{
		entities:      `[{"entity_type":"BusinessObjective","value":"Grow revenue by 20%","confidence":0.9}]`,
		relationships: `[{"source_entity":{"type":"ProductKPI","value":"Customer Retention Rate"},"target_entity":{"type":"BusinessObjective","value":"Grow revenue by 20%"},"relationship_type":"measures","confidence":0.8}]`,
	}
}

func docs() []extraction.Document {
	return []extraction.Document{{Content: scenarioDoc, FilePath: "strategy.txt"}}
}

func TestOrchestrator_Run(t *testing.T) {
	rec := &events.Recorder{}
	o := New(Components{})
	client := scenarioLLM()

	res, err := o.Run(context.Background(), Input{
		Documents:  docs(),
		WorldModel: &worldmodel.BusinessProfile{},
		LLM:        client,
		Sink:       rec,
		RunID:      "run-1",
	})
	require.NoError(t, err)

	byType := map[string]extraction.Entity{}
	for _, e := range res.Entities {
		byType[e.Type] = e
	}
	require.Contains(t, byType, extraction.TypeBusinessObjective)
	require.Contains(t, byType, extraction.TypeProductKPI)
	assert.Equal(t, extraction.MethodLLM, byType[extraction.TypeBusinessObjective].Method)
	assert.Equal(t, 0.9, byType[extraction.TypeBusinessObjective].Confidence)
	assert.Equal(t, "Customer Retention Rate", byType[extraction.TypeProductKPI].Value.String())

	for _, e := range res.Entities {
		assert.False(t, e.CreatedAt.IsZero(), "%s has no created_at", e.Type)
		assert.Equal(t, extraction.DefaultStep, e.Step)
	}

	require.Len(t, res.Relationships, 1)
	assert.Equal(t, "measures", res.Relationships[0].Type)
	assert.EqualValues(t, 1, client.entityCalls.Load())
	assert.EqualValues(t, 1, client.relCalls.Load())
}

func TestOrchestrator_TelemetryCompleteness(t *testing.T) {
	rec := &events.Recorder{}
	o := New(Components{})

	res, err := o.Run(context.Background(), Input{
		Documents: docs(),
		LLM:       scenarioLLM(),
		Sink:      rec,
		RunID:     "run-2",
	})
	require.NoError(t, err)

	all := rec.Events()
	require.NotEmpty(t, all)
	assert.Equal(t, events.TypeBatchStart, all[0].Type)
	assert.Equal(t, 1, all[0].Get("count"))

	extracted := rec.OfType(events.TypeExtractedEntity)
	assert.Len(t, extracted, len(res.Entities))
	assert.Equal(t, 1, rec.Count(events.TypeRelationshipBatchEnd))
	assert.Equal(t, events.TypeRelationshipBatchEnd, all[len(all)-1].Type)
	assert.Equal(t, 1, all[len(all)-1].Get("count"))

	for i, e := range extracted {
		assert.True(t, res.Entities[i].CreatedAt.Equal(e.Timestamp), "event carries the entity created_at")
		assert.Equal(t, "run-2", e.String("run_id"))
		assert.NotEmpty(t, e.String("entity_type"))
		assert.NotEmpty(t, e.String("extraction_method"))
		assert.Contains(t, e.String("content"), e.String("entity_type"))
	}

	var steps []string
	for _, e := range rec.OfType(events.TypeTiming) {
		steps = append(steps, e.String("step"))
		assert.IsType(t, float64(0), e.Get("duration"))
	}
	assert.Equal(t, []string{
		StagePatternExtract, StageLLMExtract, StageConcatenate,
		StageDeduplicate, StageEnrich, StageInferRelationships,
	}, steps)
}

func TestOrchestrator_LLMFailureFallsBackToPatterns(t *testing.T) {
	rec := &events.Recorder{}
	o := New(Components{})
	client := &stubLLM{entityErr: errors.New("upstream 503"), relationships: "[]"}

	res, err := o.Run(context.Background(), Input{Documents: docs(), LLM: client, Sink: rec})
	require.NoError(t, err)

	assert.EqualValues(t, 2, client.entityCalls.Load())
	assert.Equal(t, 2, rec.Count(events.TypeLLMExtractionError))
	assert.Equal(t, 1, rec.Count(events.TypeLLMExtractionFallback))

	// Pattern stage and fallback both produce the same facts; dedup keeps one of each.
	seen := map[extraction.Key]int{}
	for _, e := range res.Entities {
		seen[e.Key()]++
		assert.Equal(t, extraction.MethodKeyword, e.Method)
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "duplicate %v", k)
	}
	assert.Positive(t, rec.Count(events.TypeDeduplicationSkipped))
}

func TestOrchestrator_NoProviderUsesPatterns(t *testing.T) {
	o := New(Components{})
	res, err := o.Run(context.Background(), Input{Documents: docs()})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Entities)
	assert.Empty(t, res.Relationships)
}

func TestOrchestrator_InvalidWorldModelFailsBatch(t *testing.T) {
	rec := &events.Recorder{}
	o := New(Components{})
	wm := &worldmodel.BusinessProfile{ProductKPIs: []worldmodel.KPISummary{{ID: 1}}}

	res, err := o.Run(context.Background(), Input{Documents: docs(), WorldModel: wm, LLM: scenarioLLM(), Sink: rec})
	require.Error(t, err)
	assert.Empty(t, res.Entities)

	var xerr *extraction.Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, StageEnrich, xerr.Stage)
	assert.Equal(t, extraction.CodeExtractionError, xerr.Code)
	assert.ErrorIs(t, err, extraction.ErrInvalidWorldModel)

	assert.Zero(t, rec.Count(events.TypeExtractedEntity))
	assert.Zero(t, rec.Count(events.TypeRelationshipBatchEnd))
}

func TestOrchestrator_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(Components{})
	_, err := o.Run(ctx, Input{Documents: docs(), LLM: scenarioLLM()})
	require.Error(t, err)

	var xerr *extraction.Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, StagePatternExtract, xerr.Stage)
	assert.Equal(t, extraction.CodeCanceled, xerr.Code)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrchestrator_CancelDuringLLM(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := llm.Func(func(ctx context.Context, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})

	o := New(Components{})
	_, err := o.Run(ctx, Input{Documents: docs(), LLM: client})

	var xerr *extraction.Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, StageLLMExtract, xerr.Stage)
	assert.Equal(t, extraction.CodeCanceled, xerr.Code)
}

func TestOrchestrator_SpansAndMetrics(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	tl := logging.NewTestLogger()
	o := New(Components{}, WithTracer(tel.Tracer(instrumentationName)), WithLogger(tl.Logger.Underlying()))

	_, err := o.Run(context.Background(), Input{Documents: docs(), LLM: scenarioLLM(), RunID: "run-3"})
	require.NoError(t, err)

	tel.AssertSpanExists(t, "pipeline.run")
	for _, stage := range []string{StagePatternExtract, StageLLMExtract, StageDeduplicate, StageEnrich, StageInferRelationships} {
		tel.AssertSpanExists(t, "pipeline."+stage)
	}
	assert.GreaterOrEqual(t, testutil.CollectAndCount(o.metrics.StageDuration), 6)
	tl.AssertLogged(t, zapcore.DebugLevel, "extraction batch complete")
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()

	o, err := NewFromConfig(cfg.Extraction, cfg.LLM, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, o)

	bad := cfg.Extraction
	bad.PatternsFile = "/does/not/exist.yaml"
	_, err = NewFromConfig(bad, cfg.LLM, nil, nil)
	assert.Error(t, err)

	bad = cfg.Extraction
	bad.Similarity = "cosine"
	_, err = NewFromConfig(bad, cfg.LLM, nil, nil)
	assert.Error(t, err)
}
