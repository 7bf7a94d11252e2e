package extraction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/llm"
	"github.com/fyrsmithlabs/roadmapd/internal/secrets"
)

const (
	defaultMaxAttempts      = 2
	defaultMaxDocumentChars = 2048
	defaultCallTimeout      = 60 * time.Second
	defaultLLMConfidence    = 0.85
	llmExcerptChars         = 200
	promptExcerptChars      = 200
)

// LLMOptions tunes the LLM extractor. Zero fields take defaults.
type LLMOptions struct {
	MaxAttempts       int
	MaxDocumentChars  int
	CallTimeout       time.Duration
	DefaultConfidence float64
}

func (o LLMOptions) withDefaults() LLMOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.MaxDocumentChars <= 0 {
		o.MaxDocumentChars = defaultMaxDocumentChars
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.DefaultConfidence <= 0 {
		o.DefaultConfidence = defaultLLMConfidence
	}
	return o
}

// LLMExtractor asks a language model for entities, one document at a
// time, falling back to pattern extraction for documents the model
// cannot handle.
type LLMExtractor struct {
	fallback *PatternExtractor
	prompts  Prompts
	scrubber secrets.Scrubber
	opts     LLMOptions
	logger   *zap.Logger
}

// NewLLMExtractor creates an extractor. fallback and scrubber may be nil.
func NewLLMExtractor(fallback *PatternExtractor, prompts Prompts, scrubber secrets.Scrubber, opts LLMOptions, logger *zap.Logger) *LLMExtractor {
	if fallback == nil {
		fallback = NewPatternExtractor(nil)
	}
	if scrubber == nil {
		scrubber = secrets.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMExtractor{
		fallback: fallback,
		prompts:  prompts,
		scrubber: scrubber,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Extract runs the model over docs. Per-document failures degrade to the
// pattern extractor and never produce an error; only cancellation of ctx
// does.
func (x *LLMExtractor) Extract(ctx context.Context, docs []Document, wm WorldModel, prior []Entity, client llm.Client, sink events.Sink) ([]Entity, error) {
	if client == nil {
		client = llm.Unavailable
	}
	sink = events.OrNop(sink)
	worldModel := worldModelJSON(wm)
	priorJSON := entityRefsJSON(prior)

	var out []Entity
	for _, doc := range docs {
		entities, err := x.extractDocument(ctx, doc, worldModel, priorJSON, client, sink)
		if err != nil {
			return nil, err
		}
		out = append(out, entities...)
	}
	return out, nil
}

func (x *LLMExtractor) extractDocument(ctx context.Context, doc Document, worldModel, priorJSON string, client llm.Client, sink events.Sink) ([]Entity, error) {
	scrubbed := x.scrubber.Scrub(doc.Content)
	if scrubbed.Findings > 0 {
		x.logger.Debug("redacted secrets before llm call",
			zap.String("doc_id", doc.FilePath),
			zap.Int("findings", scrubbed.Findings))
	}
	prompt := x.prompts.RenderEntity(worldModel, priorJSON, truncateRunes(scrubbed.Text, x.opts.MaxDocumentChars))

	for attempt := 1; attempt <= x.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
		}

		entities, err := x.attempt(ctx, client, prompt, doc)
		if err == nil {
			return entities, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		sink.Emit(ctx, events.New(events.TypeLLMExtractionError, map[string]any{
			"error":          err.Error(),
			"prompt_excerpt": truncateRunes(prompt, promptExcerptChars),
			"doc_id":         doc.FilePath,
			"attempt":        attempt,
		}))
	}

	sink.Emit(ctx, events.New(events.TypeLLMExtractionFallback, map[string]any{
		"reason": fmt.Sprintf("LLM failed after %d attempts, using keyword extraction", x.opts.MaxAttempts),
		"doc_id": doc.FilePath,
	}))
	return x.fallback.Extract([]Document{doc}), nil
}

func (x *LLMExtractor) attempt(ctx context.Context, client llm.Client, prompt string, doc Document) ([]Entity, error) {
	response, err := llm.WithTimeout(client, x.opts.CallTimeout).Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseEntities(response)
	if err != nil {
		return nil, err
	}

	excerpt := truncateRunes(doc.Content, llmExcerptChars)
	out := make([]Entity, 0, len(parsed))
	for _, p := range parsed {
		conf := x.opts.DefaultConfidence
		if p.HasConfidence {
			conf = p.Confidence
		}
		origin := p.Origin
		if origin == "" {
			origin = doc.Origin
		}
		out = append(out, Entity{
			Type:             p.Type,
			Value:            p.Value,
			Confidence:       conf,
			Method:           MethodLLM,
			Step:             DefaultStep,
			Relationships:    p.Relationships,
			SourceDocumentID: doc.FilePath,
			SourceExcerpt:    excerpt,
			Origin:           origin,
		})
	}
	return out, nil
}

// truncateRunes returns at most n characters of s.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
