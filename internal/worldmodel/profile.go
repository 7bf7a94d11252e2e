// Package worldmodel holds the per-organization business profile and the
// merger that folds extracted entities into it.
package worldmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
)

// ErrNotFound is returned when an organization has no persisted profile.
var ErrNotFound = errors.New("world model not found")

// KPISummary is a KPI as kept in the profile.
type KPISummary struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
}

// InitiativeSummary is a product or business initiative.
type InitiativeSummary struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ObjectiveSummary is a business or customer objective.
type ObjectiveSummary struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// ProductSummary is a product.
type ProductSummary struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// BusinessProfile is an organization's world model snapshot. Typed lists
// never hold two equal entries.
type BusinessProfile struct {
	ProductKPIs         []KPISummary              `json:"product_kpis,omitempty"`
	BusinessKPIs        []KPISummary              `json:"business_kpis,omitempty"`
	ProductInitiatives  []InitiativeSummary       `json:"product_initiatives,omitempty"`
	BusinessInitiatives []InitiativeSummary       `json:"business_initiatives,omitempty"`
	BusinessObjectives  []ObjectiveSummary        `json:"business_objectives,omitempty"`
	CustomerObjectives  []ObjectiveSummary        `json:"customer_objectives,omitempty"`
	Products            []ProductSummary          `json:"products,omitempty"`
	CustomerSegments    []string                  `json:"customer_segments,omitempty"`
	Relationships       []extraction.Relationship `json:"relationships,omitempty"`
	Entities            []map[string]any          `json:"entities,omitempty"`
}

var _ extraction.WorldModel = (*BusinessProfile)(nil)

// Validate reports entries a merge could never have produced: summaries
// without a name or title and relationships without endpoints.
func (p *BusinessProfile) Validate() error {
	if p == nil {
		return nil
	}
	for i, k := range p.ProductKPIs {
		if k.Name == "" {
			return fmt.Errorf("product_kpis[%d]: empty name", i)
		}
	}
	for i, k := range p.BusinessKPIs {
		if k.Name == "" {
			return fmt.Errorf("business_kpis[%d]: empty name", i)
		}
	}
	for i, in := range p.ProductInitiatives {
		if in.Title == "" {
			return fmt.Errorf("product_initiatives[%d]: empty title", i)
		}
	}
	for i, in := range p.BusinessInitiatives {
		if in.Title == "" {
			return fmt.Errorf("business_initiatives[%d]: empty title", i)
		}
	}
	for i, o := range p.BusinessObjectives {
		if o.Title == "" {
			return fmt.Errorf("business_objectives[%d]: empty title", i)
		}
	}
	for i, o := range p.CustomerObjectives {
		if o.Title == "" {
			return fmt.Errorf("customer_objectives[%d]: empty title", i)
		}
	}
	for i, pr := range p.Products {
		if pr.Name == "" {
			return fmt.Errorf("products[%d]: empty name", i)
		}
	}
	for i, r := range p.Relationships {
		if r.Source.Type == "" || r.Target.Type == "" || r.Type == "" {
			return fmt.Errorf("relationships[%d]: missing endpoint or type", i)
		}
	}
	return nil
}

// Initiatives returns product then business initiatives.
func (p *BusinessProfile) Initiatives() []any {
	if p == nil {
		return nil
	}
	out := make([]any, 0, len(p.ProductInitiatives)+len(p.BusinessInitiatives))
	for _, in := range p.ProductInitiatives {
		out = append(out, in)
	}
	for _, in := range p.BusinessInitiatives {
		out = append(out, in)
	}
	return out
}

// Clone returns a deep copy. A nil profile clones to an empty one.
func (p *BusinessProfile) Clone() *BusinessProfile {
	if p == nil {
		return &BusinessProfile{}
	}
	c := &BusinessProfile{
		ProductKPIs:         append([]KPISummary(nil), p.ProductKPIs...),
		BusinessKPIs:        append([]KPISummary(nil), p.BusinessKPIs...),
		ProductInitiatives:  append([]InitiativeSummary(nil), p.ProductInitiatives...),
		BusinessInitiatives: append([]InitiativeSummary(nil), p.BusinessInitiatives...),
		BusinessObjectives:  append([]ObjectiveSummary(nil), p.BusinessObjectives...),
		CustomerObjectives:  append([]ObjectiveSummary(nil), p.CustomerObjectives...),
		Products:            append([]ProductSummary(nil), p.Products...),
		CustomerSegments:    append([]string(nil), p.CustomerSegments...),
		Relationships:       append([]extraction.Relationship(nil), p.Relationships...),
	}
	for _, e := range p.Entities {
		m := make(map[string]any, len(e))
		for k, v := range e {
			m[k] = v
		}
		c.Entities = append(c.Entities, m)
	}
	return c
}

// EntryCount is the number of typed-list and overflow entries.
func (p *BusinessProfile) EntryCount() int {
	if p == nil {
		return 0
	}
	return len(p.ProductKPIs) + len(p.BusinessKPIs) + len(p.ProductInitiatives) +
		len(p.BusinessInitiatives) + len(p.BusinessObjectives) + len(p.CustomerObjectives) +
		len(p.Products) + len(p.CustomerSegments) + len(p.Entities)
}

// Record is the persisted world model row.
type Record struct {
	OrgID     int64            `json:"org_id"`
	Profile   *BusinessProfile `json:"data"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// DecodeProfile parses a serialized profile.
func DecodeProfile(data []byte) (*BusinessProfile, error) {
	var p BusinessProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding world model: %w", err)
	}
	return &p, nil
}
