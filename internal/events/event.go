// Package events carries structured pipeline run events.
//
// An Event serializes flat:
//
//	{"event_type":"timing","step":"deduplicate","duration":0.0012,"timestamp":"2026-01-02T15:04:05.123Z"}
//
// Producers emit through a Sink. Sinks are fire-and-forget: delivery
// failures are logged by the sink and never reach the producer.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Recognized event types.
const (
	TypeTiming                   = "timing"
	TypeBatchStart               = "entity_extraction_batch_start"
	TypeExtractedEntity          = "extracted_entity"
	TypeLLMExtractionError       = "llm_extraction_error"
	TypeLLMExtractionFallback    = "llm_extraction_fallback"
	TypeDeduplicationSkipped     = "deduplication_skipped"
	TypeRelationshipInferenceErr = "relationship_inference_error"
	TypeRelationshipBatchEnd     = "relationship_inference_batch_end"
	TypeWorldModelUpdated        = "world_model_updated"
	TypeWorldModelPersisted      = "world_model_persisted"
	TypeWorldModelPersistError   = "world_model_persist_error"
	TypeRemovedEntity            = "removed_entity"
	TypeRunStarted               = "run_started"
	TypeRunCompleted             = "run_completed"
	TypeRunFailed                = "run_failed"
)

const (
	keyType      = "event_type"
	keyTimestamp = "timestamp"
)

// Event is one structured run event.
type Event struct {
	Type      string
	Fields    map[string]any
	Timestamp time.Time
}

// New creates an event stamped with the current UTC time.
func New(eventType string, fields map[string]any) Event {
	if fields == nil {
		fields = map[string]any{}
	}
	return Event{Type: eventType, Fields: fields, Timestamp: time.Now().UTC()}
}

// Get returns a field value or nil.
func (e Event) Get(key string) any {
	return e.Fields[key]
}

// String returns a field rendered as a string, "" when absent.
func (e Event) String(key string) string {
	switch v := e.Fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// With returns a copy of e with key set.
func (e Event) With(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// MarshalJSON flattens fields next to event_type and timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out[keyType] = e.Type
	out[keyTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	typ, _ := raw[keyType].(string)
	if typ == "" {
		return fmt.Errorf("event missing %s", keyType)
	}
	e.Type = typ
	e.Timestamp = time.Time{}
	if ts, ok := raw[keyTimestamp].(string); ok {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("event timestamp: %w", err)
		}
		e.Timestamp = parsed
	}
	delete(raw, keyType)
	delete(raw, keyTimestamp)
	e.Fields = raw
	return nil
}
