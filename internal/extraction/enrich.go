package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	defaultEnrichedConfidence = 0.8
	relatedInitiativesKey     = "related_initiatives"
)

// Enricher fills defaults and attaches relationships from the world model
// and prior entities.
type Enricher struct {
	now func() time.Time
}

// NewEnricher creates an enricher stamping UTC wall time.
func NewEnricher() *Enricher {
	return &Enricher{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source.
func (e *Enricher) WithClock(now func() time.Time) *Enricher {
	return &Enricher{now: now}
}

// Enrich returns enriched copies of entities; inputs are not modified.
// A profile failing validation aborts the batch with ErrInvalidWorldModel.
func (e *Enricher) Enrich(entities []Entity, wm WorldModel, prior []Entity) ([]Entity, error) {
	var initiatives []initiativeText
	if wm != nil {
		if err := wm.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWorldModel, err)
		}
		initiatives = initiativeTexts(wm.Initiatives())
	}

	now := e.now()
	out := make([]Entity, 0, len(entities))
	for _, ent := range entities {
		ent = ent.Clone()
		if ent.Confidence == 0 {
			ent.Confidence = defaultEnrichedConfidence
		}
		if ent.CreatedAt.IsZero() {
			ent.CreatedAt = now
		}
		if ent.Step == "" {
			ent.Step = DefaultStep
		}

		if ent.Type == TypeBusinessObjective {
			if related := relatedInitiatives(ent.Value, initiatives); len(related) > 0 {
				setRelationship(&ent, relatedInitiativesKey, related)
			}
		}

		key := ent.Key()
		for _, p := range prior {
			if len(p.Relationships) == 0 || p.Key() != key {
				continue
			}
			for k, v := range p.Relationships {
				if _, ok := ent.Relationships[k]; !ok {
					setRelationship(&ent, k, v)
				}
			}
		}
		out = append(out, ent)
	}
	return out, nil
}

func setRelationship(e *Entity, key string, v any) {
	if e.Relationships == nil {
		e.Relationships = make(map[string]any)
	}
	e.Relationships[key] = v
}

type initiativeText struct {
	item any
	text string
}

func initiativeTexts(items []any) []initiativeText {
	out := make([]initiativeText, 0, len(items))
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, it := range items {
		buf.Reset()
		if err := enc.Encode(it); err != nil {
			continue
		}
		out = append(out, initiativeText{item: it, text: strings.ToLower(strings.TrimRight(buf.String(), "\n"))})
	}
	return out
}

func relatedInitiatives(v Value, initiatives []initiativeText) []any {
	needle := strings.ToLower(v.String())
	if needle == "" {
		return nil
	}
	var related []any
	for _, it := range initiatives {
		if strings.Contains(it.text, needle) {
			related = append(related, it.item)
		}
	}
	return related
}
