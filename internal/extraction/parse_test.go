package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntities(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     int
		wantErr  bool
	}{
		{"plain list", `[{"entity_type":"Product","value":"Atlas"}]`, 1, false},
		{"json fence", "```json\n[{\"entity_type\":\"Product\",\"value\":\"Atlas\"}]\n```", 1, false},
		{"bare fence", "```\n[]\n```", 0, false},
		{"skips missing type", `[{"value":"Atlas"},{"entity_type":"Product","value":"Atlas"}]`, 1, false},
		{"skips empty value", `[{"entity_type":"Product","value":""},{"entity_type":"Product","value":null}]`, 0, false},
		{"skips non-objects", `["Atlas", 3, {"entity_type":"Product","value":"Atlas"}]`, 1, false},
		{"object is not a list", `{"entity_type":"Product","value":"Atlas"}`, 0, true},
		{"not json", `Sure! Here are the entities`, 0, true},
		{"empty", "  ", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntities(tt.response)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestParseEntities_Fields(t *testing.T) {
	got, err := ParseEntities(`[
		{"entity_type":"ProductKPI","value":{"name":"NPS","unit":"score"},"confidence":0.92,"relationships":{"measures":"Grow revenue"},"origin":"deck"},
		{"entity_type":"Product","value":"Atlas","confidence":7}
	]`)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].HasConfidence)
	assert.Equal(t, 0.92, got[0].Confidence)
	assert.Equal(t, "Grow revenue", got[0].Relationships["measures"])
	assert.Equal(t, "deck", got[0].Origin)
	name, _ := got[0].Value.Lookup("name")
	assert.Equal(t, "NPS", name)

	assert.False(t, got[1].HasConfidence, "out of range confidence is ignored")
}

func TestParseRelationships(t *testing.T) {
	got, err := ParseRelationships("```json\n" + `[
		{"source_entity":{"type":"ProductInitiative","value":"Self-serve"},"target_entity":{"type":"BusinessObjective","value":"Grow revenue"},"relationship_type":"supports","confidence":0.9,"rationale":"same section"},
		{"source_entity":{"entity_type":"BusinessKPI","value":"NRR"},"target_entity":{"type":"BusinessObjective","value":"Grow revenue"},"relationship_type":"measures","confidence":1.4},
		{"source_entity":{"type":"Product","value":"Atlas"},"relationship_type":"targets"},
		{"source_entity":{"type":"Product","value":"Atlas"},"target_entity":{"type":"CustomerSegment","value":"SMB"}}
	]` + "\n```")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "supports", got[0].Type)
	assert.Equal(t, "ProductInitiative", got[0].Source.Type)
	assert.Equal(t, "Grow revenue", got[0].Target.Value.String())
	assert.Equal(t, "same section", got[0].Rationale)

	assert.Equal(t, "BusinessKPI", got[1].Source.Type)
	assert.Equal(t, 1.0, got[1].Confidence)

	_, err = ParseRelationships(`{"relationships":[]}`)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
