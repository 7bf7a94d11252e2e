package worldmodel

import (
	"context"
	"encoding/json"
	"slices"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
)

// Apply returns base with the batch folded in. base is not modified.
// Entities of mapped types are summarized and appended when absent;
// everything else, including entities whose summary cannot be built,
// goes to the overflow list. Relationships replace the profile's.
func Apply(base *BusinessProfile, entities []extraction.Entity, relationships []extraction.Relationship) *BusinessProfile {
	p := base.Clone()
	for _, e := range entities {
		if !p.addTyped(e) {
			p.addOverflow(e)
		}
	}
	p.Relationships = append([]extraction.Relationship(nil), relationships...)
	return p
}

// addTyped reports whether e was handled by a typed field, whether or not
// it was already present.
func (p *BusinessProfile) addTyped(e extraction.Entity) bool {
	var err error
	switch e.Type {
	case extraction.TypeProductKPI:
		var s KPISummary
		if s, err = kpiSummary(e.Value); err == nil {
			p.ProductKPIs = appendAbsent(p.ProductKPIs, s)
		}
	case extraction.TypeBusinessKPI:
		var s KPISummary
		if s, err = kpiSummary(e.Value); err == nil {
			p.BusinessKPIs = appendAbsent(p.BusinessKPIs, s)
		}
	case extraction.TypeProductInitiative:
		var s InitiativeSummary
		if s, err = initiativeSummary(e.Value); err == nil {
			p.ProductInitiatives = appendAbsent(p.ProductInitiatives, s)
		}
	case extraction.TypeBusinessInitiative:
		var s InitiativeSummary
		if s, err = initiativeSummary(e.Value); err == nil {
			p.BusinessInitiatives = appendAbsent(p.BusinessInitiatives, s)
		}
	case extraction.TypeBusinessObjective:
		var s ObjectiveSummary
		if s, err = objectiveSummary(e.Value); err == nil {
			p.BusinessObjectives = appendAbsent(p.BusinessObjectives, s)
		}
	case extraction.TypeCustomerObjective:
		var s ObjectiveSummary
		if s, err = objectiveSummary(e.Value); err == nil {
			p.CustomerObjectives = appendAbsent(p.CustomerObjectives, s)
		}
	case extraction.TypeProduct:
		var s ProductSummary
		if s, err = productSummary(e.Value); err == nil {
			p.Products = appendAbsent(p.Products, s)
		}
	case extraction.TypeCustomerSegment:
		p.CustomerSegments = appendAbsent(p.CustomerSegments, e.Value.String())
	default:
		return false
	}
	return err == nil
}

func (p *BusinessProfile) addOverflow(e extraction.Entity) {
	entry := map[string]any{
		"entity_type":       e.Type,
		"value":             e.Value.Raw(),
		"confidence":        e.Confidence,
		"extraction_method": string(e.Method),
	}
	key := canonical(entry)
	for _, existing := range p.Entities {
		if canonical(existing) == key {
			return
		}
	}
	p.Entities = append(p.Entities, entry)
}

func appendAbsent[T comparable](list []T, v T) []T {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func canonical(m map[string]any) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

// Merger folds extraction results into an organization's world model
// and persists it. It is the only writer of world model rows.
type Merger struct {
	store  Store
	logger *zap.Logger
}

// NewMerger creates a merger. A nil store merges without persisting.
func NewMerger(store Store, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{store: store, logger: logger}
}

// Merge applies the batch and upserts the org's row in one transaction.
// The base is the persisted profile when one exists, otherwise current.
// A persistence failure is reported as an event and the batch applied to
// current is returned; it is not an error.
func (m *Merger) Merge(ctx context.Context, orgID int64, current *BusinessProfile, entities []extraction.Entity, relationships []extraction.Relationship, sink events.Sink) (*BusinessProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sink = events.OrNop(sink)

	var result *BusinessProfile
	if m.store != nil && orgID > 0 {
		rec, created, err := m.store.Update(ctx, orgID, func(persisted *BusinessProfile, found bool) (*BusinessProfile, error) {
			base := current
			if found {
				base = persisted
			}
			return Apply(base, entities, relationships), nil
		})
		if err != nil {
			m.logger.Warn("world model persist failed", zap.Int64("org_id", orgID), zap.Error(err))
			sink.Emit(ctx, events.New(events.TypeWorldModelPersistError, map[string]any{
				"org_id": orgID,
				"error":  err.Error(),
			}))
		} else {
			result = rec.Profile
			sink.Emit(ctx, events.New(events.TypeWorldModelPersisted, map[string]any{
				"org_id":     orgID,
				"created":    created,
				"updated_at": rec.UpdatedAt,
			}))
		}
	}
	if result == nil {
		result = Apply(current, entities, relationships)
	}

	sink.Emit(ctx, events.New(events.TypeWorldModelUpdated, map[string]any{
		"org_id":             orgID,
		"entity_count":       len(entities),
		"relationship_count": len(relationships),
		"profile_entries":    result.EntryCount(),
	}))
	return result, nil
}
