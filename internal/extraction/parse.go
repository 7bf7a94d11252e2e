package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParsedEntity is one usable item from an entity extraction response.
type ParsedEntity struct {
	Type          string
	Value         Value
	Confidence    float64
	HasConfidence bool
	Relationships map[string]any
	Origin        string
}

// ParseEntities decodes an LLM entity response. The response must be a
// JSON list, optionally inside a markdown code fence. Items without a
// type or value are skipped.
func ParseEntities(response string) ([]ParsedEntity, error) {
	items, err := decodeList(response)
	if err != nil {
		return nil, err
	}

	out := make([]ParsedEntity, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entityType, _ := obj["entity_type"].(string)
		entityType = strings.TrimSpace(entityType)
		if entityType == "" {
			continue
		}
		v, err := NewValue(obj["value"])
		if err != nil || v.IsEmpty() {
			continue
		}

		p := ParsedEntity{Type: entityType, Value: v}
		if c, ok := obj["confidence"].(float64); ok && c >= 0 && c <= 1 {
			p.Confidence, p.HasConfidence = c, true
		}
		if rel, ok := obj["relationships"].(map[string]any); ok && len(rel) > 0 {
			p.Relationships = rel
		}
		if origin, ok := obj["origin"].(string); ok {
			p.Origin = origin
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseRelationships decodes an LLM relationship response. Items missing
// an endpoint or a relationship type are skipped. Confidence is clamped
// to [0,1].
func ParseRelationships(response string) ([]Relationship, error) {
	items, err := decodeList(response)
	if err != nil {
		return nil, err
	}

	out := make([]Relationship, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		src, ok := parseRef(obj["source_entity"])
		if !ok {
			continue
		}
		tgt, ok := parseRef(obj["target_entity"])
		if !ok {
			continue
		}
		relType, _ := obj["relationship_type"].(string)
		relType = strings.TrimSpace(relType)
		if relType == "" {
			continue
		}
		conf, _ := obj["confidence"].(float64)
		rationale, _ := obj["rationale"].(string)
		out = append(out, Relationship{
			Source:     src,
			Target:     tgt,
			Type:       relType,
			Confidence: min(max(conf, 0), 1),
			Rationale:  rationale,
		})
	}
	return out, nil
}

func parseRef(raw any) (EntityRef, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return EntityRef{}, false
	}
	t, _ := obj["type"].(string)
	if t == "" {
		t, _ = obj["entity_type"].(string)
	}
	if strings.TrimSpace(t) == "" {
		return EntityRef{}, false
	}
	v, err := NewValue(obj["value"])
	if err != nil || v.IsEmpty() {
		return EntityRef{}, false
	}
	return EntityRef{Type: strings.TrimSpace(t), Value: v}, true
}

func decodeList(response string) ([]any, error) {
	body := stripCodeFence(response)
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	var decoded any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	list, ok := decoded.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: output is not a list", ErrMalformedResponse)
	}
	return list, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
