package extraction

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/llm"
)

// Inferrer asks the model for typed relationships between a batch of
// entities. Failures are absorbed: the batch simply has no relationships.
type Inferrer struct {
	prompts     Prompts
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewInferrer creates an inferrer. callTimeout <= 0 uses the LLM default.
func NewInferrer(prompts Prompts, callTimeout time.Duration, logger *zap.Logger) *Inferrer {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inferrer{prompts: prompts, callTimeout: callTimeout, logger: logger}
}

type inferenceEntity struct {
	Type       string  `json:"entity_type"`
	Value      Value   `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Infer makes one call for the whole batch. An empty batch makes no call.
func (i *Inferrer) Infer(ctx context.Context, entities []Entity, wm WorldModel, client llm.Client, sink events.Sink) []Relationship {
	if len(entities) == 0 {
		return nil
	}
	if client == nil {
		client = llm.Unavailable
	}
	sink = events.OrNop(sink)

	payload := make([]inferenceEntity, 0, len(entities))
	for _, e := range entities {
		payload = append(payload, inferenceEntity{Type: e.Type, Value: e.Value, Confidence: e.Confidence})
	}
	entitiesJSON, err := json.Marshal(payload)
	if err != nil {
		i.fail(ctx, sink, err)
		return nil
	}
	prompt := i.prompts.RenderRelationship(string(entitiesJSON), worldModelJSON(wm))

	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()

	response, err := client.Complete(callCtx, prompt)
	if err != nil {
		i.fail(ctx, sink, err)
		return nil
	}
	rels, err := ParseRelationships(response)
	if err != nil {
		i.fail(ctx, sink, err)
		return nil
	}
	return rels
}

func (i *Inferrer) fail(ctx context.Context, sink events.Sink, err error) {
	i.logger.Warn("relationship inference failed", zap.Error(err))
	sink.Emit(ctx, events.New(events.TypeRelationshipInferenceErr, map[string]any{
		"error": err.Error(),
	}))
}
