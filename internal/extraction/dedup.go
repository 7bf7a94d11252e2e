package extraction

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/similarity"
)

// DefaultDedupThreshold is the similarity at or above which a candidate
// is treated as a restatement of a prior entity.
const DefaultDedupThreshold = 0.85

const (
	reasonDuplicate = "duplicate or obsolete"
	reasonFuzzy     = "fuzzy duplicate"
)

// Deduplicator drops candidates already seen in the batch, marked
// obsolete in episodic memory, or too similar to a prior entity of the
// same type.
type Deduplicator struct {
	threshold float64
	sim       similarity.Func
}

// NewDeduplicator creates a deduplicator. Non-positive threshold and nil
// sim take the defaults.
func NewDeduplicator(threshold float64, sim similarity.Func) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultDedupThreshold
	}
	if sim == nil {
		sim = similarity.Sequence
	}
	return &Deduplicator{threshold: threshold, sim: sim}
}

// Deduplicate keeps candidates in input order. Fuzzy matching is against
// prior only; within the batch only exact keys collapse.
func (d *Deduplicator) Deduplicate(ctx context.Context, candidates, prior []Entity, episodic []events.Event, sink events.Sink) []Entity {
	sink = events.OrNop(sink)
	obsolete := ObsoleteKeys(episodic)
	seen := make(map[Key]struct{}, len(candidates))

	priorByType := make(map[string][]string)
	for _, p := range prior {
		priorByType[p.Type] = append(priorByType[p.Type], strings.ToLower(p.Value.String()))
	}

	var out []Entity
	for _, c := range candidates {
		key := c.Key()
		_, dup := seen[key]
		_, dead := obsolete[key]
		if dup || dead {
			d.skipped(ctx, sink, c, reasonDuplicate)
			continue
		}
		if d.matchesPrior(key.Value, priorByType[c.Type]) {
			d.skipped(ctx, sink, c, reasonFuzzy)
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (d *Deduplicator) matchesPrior(value string, prior []string) bool {
	for _, p := range prior {
		if d.sim(value, p) >= d.threshold {
			return true
		}
	}
	return false
}

func (d *Deduplicator) skipped(ctx context.Context, sink events.Sink, e Entity, reason string) {
	sink.Emit(ctx, events.New(events.TypeDeduplicationSkipped, map[string]any{
		"entity_type": e.Type,
		"value":       e.Value.Raw(),
		"reason":      reason,
	}))
}

// ObsoleteKeys collects keys from removed_entity events.
func ObsoleteKeys(episodic []events.Event) map[Key]struct{} {
	out := make(map[Key]struct{})
	for _, e := range episodic {
		if e.Type != events.TypeRemovedEntity {
			continue
		}
		v, err := NewValue(e.Get("value"))
		if err != nil {
			continue
		}
		out[KeyOf(e.String("entity_type"), v)] = struct{}{}
	}
	return out
}
