package worldmodel

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
)

// field names in the profile, keyed by entity type.
var fieldByType = map[string]string{
	extraction.TypeProductKPI:         "product_kpis",
	extraction.TypeBusinessKPI:        "business_kpis",
	extraction.TypeProductInitiative:  "product_initiatives",
	extraction.TypeBusinessInitiative: "business_initiatives",
	extraction.TypeBusinessObjective:  "business_objectives",
	extraction.TypeCustomerObjective:  "customer_objectives",
	extraction.TypeProduct:            "products",
	extraction.TypeCustomerSegment:    "customer_segments",
}

// FieldFor returns the profile field an entity type maps to.
func FieldFor(entityType string) (string, bool) {
	f, ok := fieldByType[entityType]
	return f, ok
}

func kpiSummary(v extraction.Value) (KPISummary, error) {
	m, ok := v.Map()
	if !ok {
		return KPISummary{Name: v.String()}, nil
	}
	id, err := intField(m, "id")
	if err != nil {
		return KPISummary{}, err
	}
	return KPISummary{
		ID:   id,
		Name: firstString(m, v, "name"),
		Unit: stringField(m, "unit"),
	}, nil
}

func initiativeSummary(v extraction.Value) (InitiativeSummary, error) {
	m, ok := v.Map()
	if !ok {
		return InitiativeSummary{Title: v.String()}, nil
	}
	id, err := intField(m, "id")
	if err != nil {
		return InitiativeSummary{}, err
	}
	return InitiativeSummary{
		ID:          id,
		Title:       firstString(m, v, "title", "name"),
		Description: stringField(m, "description"),
	}, nil
}

func objectiveSummary(v extraction.Value) (ObjectiveSummary, error) {
	m, ok := v.Map()
	if !ok {
		return ObjectiveSummary{Title: v.String()}, nil
	}
	id, err := intField(m, "id")
	if err != nil {
		return ObjectiveSummary{}, err
	}
	return ObjectiveSummary{ID: id, Title: firstString(m, v, "title", "name")}, nil
}

func productSummary(v extraction.Value) (ProductSummary, error) {
	m, ok := v.Map()
	if !ok {
		return ProductSummary{Name: v.String()}, nil
	}
	id, err := intField(m, "id")
	if err != nil {
		return ProductSummary{}, err
	}
	return ProductSummary{ID: id, Name: firstString(m, v, "name")}, nil
}

// intField reads an integer id. Missing or null is 0; anything that is
// not a whole number is an error, which routes the entity to overflow.
func intField(m map[string]any, key string) (int, error) {
	switch x := m[key].(type) {
	case nil:
		return 0, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("%s: %v is not an integer", key, x)
		}
		if x < math.MinInt || x >= math.MaxInt {
			return 0, fmt.Errorf("%s: %v out of range", key, x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unsupported type %T", key, x)
	}
}

func stringField(m map[string]any, key string) string {
	switch x := m[key].(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		v, err := extraction.NewValue(x)
		if err != nil {
			return ""
		}
		return v.String()
	}
}

// firstString returns the first non-empty field among keys, else the
// whole value's string form.
func firstString(m map[string]any, v extraction.Value, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return v.String()
}
