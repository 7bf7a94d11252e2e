package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/roadmapd/internal/events"
	"github.com/fyrsmithlabs/roadmapd/internal/similarity"
)

func ent(entityType, value string) Entity {
	return Entity{Type: entityType, Value: StringValue(value), Method: MethodKeyword}
}

func values(entities []Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Value.String())
	}
	return out
}

func TestDeduplicate_Thresholds(t *testing.T) {
	tests := []struct {
		name      string
		candidate Entity
		prior     Entity
		keep      bool
	}{
		{"near identical suppressed", ent("BusinessKPI", "Customer Retention Rate"), ent("BusinessKPI", "customer retention rates"), false},
		{"below threshold kept", ent("BusinessObjective", "Grow revenue fast"), ent("BusinessObjective", "Grow revenue"), true},
		{"different type kept", ent("ProductKPI", "Customer Retention Rate"), ent("BusinessKPI", "Customer Retention Rate"), true},
		{"case only difference suppressed", ent("Product", "ATLAS"), ent("Product", "atlas"), false},
	}

	d := NewDeduplicator(0, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec events.Recorder
			got := d.Deduplicate(context.Background(), []Entity{tt.candidate}, []Entity{tt.prior}, nil, &rec)
			if tt.keep {
				assert.Len(t, got, 1)
				assert.Equal(t, 0, rec.Count(events.TypeDeduplicationSkipped))
				return
			}
			assert.Empty(t, got)
			skipped := rec.OfType(events.TypeDeduplicationSkipped)
			require.Len(t, skipped, 1)
			assert.Equal(t, "fuzzy duplicate", skipped[0].String("reason"))
		})
	}
}

func TestDeduplicate_BatchAndObsolete(t *testing.T) {
	candidates := []Entity{
		ent("Product", "Atlas"),
		ent("Product", "atlas"),
		ent("Product", "Legacy Suite"),
		ent("CustomerSegment", "SMB"),
	}
	episodic := []events.Event{
		events.New(events.TypeRemovedEntity, map[string]any{"entity_type": "Product", "value": "legacy suite"}),
		events.New(events.TypeExtractedEntity, map[string]any{"entity_type": "CustomerSegment", "value": "SMB"}),
	}
	var rec events.Recorder

	got := NewDeduplicator(0, nil).Deduplicate(context.Background(), candidates, nil, episodic, &rec)
	assert.Equal(t, []string{"Atlas", "SMB"}, values(got))

	skipped := rec.OfType(events.TypeDeduplicationSkipped)
	require.Len(t, skipped, 2)
	for _, s := range skipped {
		assert.Equal(t, "duplicate or obsolete", s.String("reason"))
	}
}

func TestDeduplicate_NoExactDuplicatesSurvive(t *testing.T) {
	var candidates []Entity
	for _, v := range []string{"A", "a", "B", "b ", "B", "c"} {
		candidates = append(candidates, ent("Market", v))
	}
	got := NewDeduplicator(0, nil).Deduplicate(context.Background(), candidates, nil, nil, nil)

	seen := map[Key]bool{}
	for _, e := range got {
		assert.False(t, seen[e.Key()], "duplicate key %v", e.Key())
		seen[e.Key()] = true
	}
	assert.Equal(t, []string{"A", "B", "b ", "c"}, values(got))
}

func TestDeduplicate_ObjectValues(t *testing.T) {
	kpi := Entity{Type: TypeProductKPI, Value: Value{v: map[string]any{"name": "NPS", "unit": "score"}}}
	same := Entity{Type: TypeProductKPI, Value: Value{v: map[string]any{"unit": "score", "name": "NPS"}}}

	got := NewDeduplicator(0, nil).Deduplicate(context.Background(), []Entity{kpi, same}, nil, nil, nil)
	assert.Len(t, got, 1)
}

func TestDeduplicator_LevenshteinIsSymmetric(t *testing.T) {
	d := NewDeduplicator(0.8, similarity.Levenshtein)
	a, b := ent("Market", "North America"), ent("Market", "north americas")
	ctx := context.Background()
	assert.Empty(t, d.Deduplicate(ctx, []Entity{a}, []Entity{b}, nil, nil))
	assert.Empty(t, d.Deduplicate(ctx, []Entity{b}, []Entity{a}, nil, nil))
}

func TestObsoleteKeys_AfterJSONRoundTrip(t *testing.T) {
	e := events.New(events.TypeRemovedEntity, map[string]any{"entity_type": "Headcount", "value": float64(120)})
	keys := ObsoleteKeys([]events.Event{e})
	_, ok := keys[KeyOf("Headcount", StringValue("120"))]
	assert.True(t, ok)
}
