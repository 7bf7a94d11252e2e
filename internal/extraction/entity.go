// Package extraction recognizes structured business entities in document
// text and prepares them for the world model: pattern and LLM extractors,
// deduplication against memory, enrichment and relationship inference.
package extraction

import (
	"fmt"
	"strings"
	"time"
)

// Known entity types. Any non-empty type is accepted; these are the ones
// the prompts ask for and the world model maps to typed fields.
const (
	TypeBusinessObjective  = "BusinessObjective"
	TypeBusinessInitiative = "BusinessInitiative"
	TypeCustomerObjective  = "CustomerObjective"
	TypeCustomerSegment    = "CustomerSegment"
	TypeProductInitiative  = "ProductInitiative"
	TypeProductKPI         = "ProductKPI"
	TypeBusinessKPI        = "BusinessKPI"
	TypeProduct            = "Product"
	TypeVision             = "Vision"
	TypeStrategy           = "Strategy"
	TypeMarket             = "Market"
	TypeDepartment         = "Department"
	TypeHeadcount          = "Headcount"
)

// Method records how an entity was found.
type Method string

const (
	MethodKeyword Method = "keyword"
	MethodLLM     Method = "llm"
)

// DefaultStep labels entities produced by this package.
const DefaultStep = "entity_extraction"

// Entity is one extracted fact.
type Entity struct {
	Type             string         `json:"entity_type"`
	Value            Value          `json:"value"`
	Confidence       float64        `json:"confidence,omitempty"`
	Method           Method         `json:"extraction_method"`
	SourceDocumentID string         `json:"source_document_id,omitempty"`
	SourceExcerpt    string         `json:"source_text_excerpt,omitempty"`
	Relationships    map[string]any `json:"relationships,omitempty"`
	CreatedAt        time.Time      `json:"created_at,omitzero"`
	Step             string         `json:"step,omitempty"`
	Origin           string         `json:"origin,omitempty"`
}

// NewEntity builds an entity, rejecting an empty type or value.
func NewEntity(entityType string, value any, method Method) (Entity, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		return Entity{}, fmt.Errorf("%w: empty entity_type", ErrInvalidEntity)
	}
	v, err := NewValue(value)
	if err != nil {
		return Entity{}, err
	}
	if v.IsEmpty() {
		return Entity{}, fmt.Errorf("%w: empty value for %s", ErrInvalidEntity, entityType)
	}
	return Entity{Type: entityType, Value: v, Method: method}, nil
}

// Validate checks the surface invariant: non-empty type and value.
func (e Entity) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("%w: empty entity_type", ErrInvalidEntity)
	}
	if e.Value.IsEmpty() {
		return fmt.Errorf("%w: empty value for %s", ErrInvalidEntity, e.Type)
	}
	return nil
}

// Key identifies an entity for exact-match deduplication.
type Key struct {
	Type  string
	Value string
}

// KeyOf returns (type, lowercase canonical value).
func KeyOf(entityType string, v Value) Key {
	return Key{Type: entityType, Value: strings.ToLower(v.String())}
}

// Key returns the entity's dedup key.
func (e Entity) Key() Key { return KeyOf(e.Type, e.Value) }

// Clone returns a copy whose relationship map can be modified freely.
func (e Entity) Clone() Entity {
	if e.Relationships != nil {
		rel := make(map[string]any, len(e.Relationships))
		for k, v := range e.Relationships {
			rel[k] = v
		}
		e.Relationships = rel
	}
	return e
}

// EntityRef names one end of a relationship.
type EntityRef struct {
	Type  string `json:"type"`
	Value Value  `json:"value"`
}

// Relationship is a directed, typed link between two entities.
type Relationship struct {
	Source     EntityRef `json:"source_entity"`
	Target     EntityRef `json:"target_entity"`
	Type       string    `json:"relationship_type"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale,omitempty"`
}

// Document is parsed document text.
type Document struct {
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
	Origin   string `json:"origin,omitempty"`
}
