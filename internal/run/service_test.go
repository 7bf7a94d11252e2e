package run

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
	"github.com/fyrsmithlabs/roadmapd/internal/llm"
	"github.com/fyrsmithlabs/roadmapd/internal/logging"
	"github.com/fyrsmithlabs/roadmapd/internal/memory"
	"github.com/fyrsmithlabs/roadmapd/internal/pipeline"
	"github.com/fyrsmithlabs/roadmapd/internal/secrets"
	"github.com/fyrsmithlabs/roadmapd/internal/storage"
	"github.com/fyrsmithlabs/roadmapd/internal/worldmodel"
)

const scenarioDoc = "Our vision is to grow revenue by 20%. KPI: Customer Retention Rate target 95%."

// scenarioLLM answers entity prompts with one objective and relationship
// prompts with nothing.
var scenarioLLM = llm.Func(func(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "knowledge graphs") {
		return "[]", nil
	}
	return `[{"entity_type":"BusinessObjective","value":"Grow revenue by 20%","confidence":0.9}]`, nil
})

type harness struct {
	svc    *Service
	runs   Store
	wm     worldmodel.Store
	memory memory.Store
	rec    *events.Recorder
	log    *logging.TestLogger
}

func newSQLiteHarness(t *testing.T, client llm.Client) *harness {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "roadmapd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newHarness(t, NewSQLiteStore(db), worldmodel.NewSQLiteStore(db), memory.NewSQLiteStore(db), client)
}

func newHarness(t *testing.T, runs Store, wm worldmodel.Store, mem memory.Store, client llm.Client) *harness {
	t.Helper()
	h := &harness{runs: runs, wm: wm, memory: mem, rec: &events.Recorder{}, log: logging.NewTestLogger()}
	svc, err := NewService(Deps{
		Orchestrator: pipeline.New(pipeline.Components{}),
		Runs:         runs,
		WorldModels:  wm,
		Memory:       mem,
		LLM:          client,
		Scrubber:     secrets.MustNew(nil),
		Sinks:        []SinkFactory{func(*Run) events.Sink { return h.rec }},
		Logger:       h.log.Logger,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHarness(t, scenarioLLM)

	out, err := h.svc.Execute(ctx, Request{
		OrgID:     1,
		Documents: []extraction.Document{{Content: scenarioDoc, FilePath: "strategy.txt"}},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Run)
	assert.Equal(t, StatusCompleted, out.Run.Status)
	assert.Equal(t, len(out.Entities), out.Run.EntityCount)

	rec, err := h.wm.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rec.Profile.BusinessObjectives, 1)
	assert.Equal(t, "Grow revenue by 20%", rec.Profile.BusinessObjectives[0].Title)
	require.Len(t, rec.Profile.ProductKPIs, 1)
	assert.Equal(t, "Customer Retention Rate", rec.Profile.ProductKPIs[0].Name)
	assert.Equal(t, out.Profile, rec.Profile)

	stored, err := h.svc.Get(ctx, out.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)

	log, err := h.svc.Events(ctx, out.Run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, log)
	assert.Equal(t, events.TypeRunStarted, log[0].Type)
	assert.Equal(t, events.TypeRunCompleted, log[len(log)-1].Type)
	assert.Len(t, h.rec.Events(), len(log))

	semantic, err := h.memory.Semantic(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, semantic, len(out.Entities))

	episodes, err := h.memory.Episodes(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, episodes, len(out.Entities))
	for _, e := range episodes {
		assert.Equal(t, events.TypeExtractedEntity, e.Type)
		assert.Equal(t, out.Run.ID, e.String("run_id"))
	}

	h.log.AssertLogged(t, zapcore.InfoLevel, "run completed")
}

func TestService_SecondRunDeduplicatesAgainstMemory(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHarness(t, scenarioLLM)
	req := Request{OrgID: 3, Documents: []extraction.Document{{Content: scenarioDoc, FilePath: "a.txt"}}}

	first, err := h.svc.Execute(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, first.Entities)

	second, err := h.svc.Execute(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, second.Entities)
	assert.Equal(t, first.Profile.EntryCount(), second.Profile.EntryCount())
}

func TestService_RemovedEntityIsNotReextracted(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHarness(t, llm.Unavailable)
	req := Request{OrgID: 4, Documents: []extraction.Document{{Content: "Product KPI: Net Revenue Retention", FilePath: "a.txt"}}}

	_, err := h.svc.Execute(ctx, req)
	require.NoError(t, err)
	require.NoError(t, h.memory.RemoveEntity(ctx, 4, extraction.TypeProductKPI, extraction.StringValue("Net Revenue Retention")))

	out, err := h.svc.Execute(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, out.Entities)
	assert.Positive(t, h.rec.Count(events.TypeDeduplicationSkipped))
}

func TestService_ExtractionFailureMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	wm := worldmodel.NewMemoryStore()
	_, _, err := wm.Update(ctx, 2, func(*worldmodel.BusinessProfile, bool) (*worldmodel.BusinessProfile, error) {
		return &worldmodel.BusinessProfile{ProductKPIs: []worldmodel.KPISummary{{ID: 1}}}, nil
	})
	require.NoError(t, err)

	h := newHarness(t, NewMemoryStore(), wm, memory.NewMemoryStore(), scenarioLLM)
	out, err := h.svc.Execute(ctx, Request{OrgID: 2, Documents: []extraction.Document{{Content: scenarioDoc}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, extraction.ErrInvalidWorldModel)

	require.NotNil(t, out)
	assert.Equal(t, StatusFailed, out.Run.Status)
	assert.Equal(t, extraction.CodeExtractionError, out.Run.ErrorCode)
	assert.Empty(t, out.Entities)

	stored, err := h.svc.Get(ctx, out.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, 1, h.rec.Count(events.TypeRunFailed))
	assert.Zero(t, h.rec.Count(events.TypeWorldModelUpdated))
}

func TestService_CanceledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, NewMemoryStore(), worldmodel.NewMemoryStore(), memory.NewMemoryStore(), scenarioLLM)
	out, err := h.svc.Execute(ctx, Request{OrgID: 2, Documents: []extraction.Document{{Content: scenarioDoc}}})
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, extraction.CodeCanceled, out.Run.ErrorCode)

	stored, err := h.runs.Get(context.Background(), out.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
}

// failingWorldModels loads fine and fails every write.
type failingWorldModels struct{ worldmodel.Store }

func (failingWorldModels) Update(context.Context, int64, worldmodel.UpdateFunc) (*worldmodel.Record, bool, error) {
	return nil, false, errors.New("disk full")
}

func TestService_PersistFailureDoesNotFailRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), failingWorldModels{worldmodel.NewMemoryStore()}, memory.NewMemoryStore(), scenarioLLM)

	out, err := h.svc.Execute(ctx, Request{OrgID: 8, Documents: []extraction.Document{{Content: scenarioDoc}}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Run.Status)
	assert.Len(t, out.Profile.BusinessObjectives, 1)
	assert.Equal(t, 1, h.rec.Count(events.TypeWorldModelPersistError))
}

func TestService_InvalidRequest(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), worldmodel.NewMemoryStore(), memory.NewMemoryStore(), nil)

	_, err := h.svc.Execute(context.Background(), Request{OrgID: 0, Documents: []extraction.Document{{Content: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = h.svc.Execute(context.Background(), Request{OrgID: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_ConcurrentRunsSameOrg(t *testing.T) {
	ctx := context.Background()
	h := newSQLiteHarness(t, llm.Unavailable)

	kpis := []string{"Net Revenue Retention", "Daily Active Users", "Churn", "Onboarding Time", "Trial Conversion", "Support Tickets", "Uptime", "Gross Margin"}
	n := len(kpis)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := extraction.Document{Content: "Product KPI: " + kpis[i], FilePath: fmt.Sprintf("%d.txt", i)}
			_, errs[i] = h.svc.Execute(ctx, Request{OrgID: 11, Documents: []extraction.Document{doc}})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rec, err := h.wm.Get(ctx, 11)
	require.NoError(t, err)
	assert.Len(t, rec.Profile.ProductKPIs, n)

	runs, err := h.svc.List(ctx, 11, 0)
	require.NoError(t, err)
	assert.Len(t, runs, n)
}

func TestService_Forget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), worldmodel.NewMemoryStore(), memory.NewMemoryStore(), nil)
	req := Request{OrgID: 6, Documents: []extraction.Document{{Content: "Product KPI: Daily Active Users"}}}

	first, err := h.svc.Execute(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Entities, 1)

	require.NoError(t, h.svc.Forget(ctx, 6, extraction.TypeProductKPI, extraction.StringValue("daily active users")))
	assert.ErrorIs(t, h.svc.Forget(ctx, 6, "", extraction.StringValue("x")), ErrInvalidRequest)

	semantic, err := h.memory.Semantic(ctx, 6)
	require.NoError(t, err)
	assert.Empty(t, semantic)

	second, err := h.svc.Execute(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, second.Entities)
}
