package extraction

import "encoding/json"

// WorldModel is the organization profile as seen by extraction. The
// concrete type lives with the merger; extraction only reads it.
type WorldModel interface {
	// Validate reports a malformed profile.
	Validate() error
	// Initiatives returns product and business initiative summaries.
	Initiatives() []any
}

// worldModelJSON renders wm for prompts. A missing profile renders "{}".
func worldModelJSON(wm WorldModel) string {
	if wm == nil {
		return "{}"
	}
	data, err := json.Marshal(wm)
	if err != nil || string(data) == "null" {
		return "{}"
	}
	return string(data)
}

type entityRefJSON struct {
	Type  string `json:"entity_type"`
	Value Value  `json:"value"`
}

// entityRefsJSON renders entities as [{entity_type, value}].
func entityRefsJSON(entities []Entity) string {
	refs := make([]entityRefJSON, 0, len(entities))
	for _, e := range entities {
		refs = append(refs, entityRefJSON{Type: e.Type, Value: e.Value})
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return "[]"
	}
	return string(data)
}
