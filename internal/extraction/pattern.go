package extraction

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/patterns.yaml
var defaultPatterns []byte

const (
	patternConfidence = 0.7
	excerptWindow     = 40
)

// PatternTable maps entity types to compiled patterns. Immutable after load.
type PatternTable struct {
	types    []string
	patterns map[string][]*regexp.Regexp
}

// LoadPatternTable reads a YAML pattern file. An empty path loads the
// built-in table.
func LoadPatternTable(path string) (*PatternTable, error) {
	if path == "" {
		return ParsePatternTable(defaultPatterns)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatternTable, err)
	}
	return ParsePatternTable(data)
}

// DefaultPatternTable returns the built-in table.
func DefaultPatternTable() *PatternTable {
	t, err := ParsePatternTable(defaultPatterns)
	if err != nil {
		panic(fmt.Sprintf("built-in pattern table: %v", err))
	}
	return t
}

// ParsePatternTable compiles a YAML mapping of type to pattern list.
func ParsePatternTable(data []byte) (*PatternTable, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatternTable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no entity types", ErrInvalidPatternTable)
	}

	t := &PatternTable{patterns: make(map[string][]*regexp.Regexp, len(raw))}
	for entityType, exprs := range raw {
		if strings.TrimSpace(entityType) == "" {
			return nil, fmt.Errorf("%w: empty entity type", ErrInvalidPatternTable)
		}
		for _, expr := range exprs {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPatternTable, entityType, err)
			}
			if re.NumSubexp() < 1 {
				return nil, fmt.Errorf("%w: %s: pattern %q has no capture group", ErrInvalidPatternTable, entityType, expr)
			}
			t.patterns[entityType] = append(t.patterns[entityType], re)
		}
		t.types = append(t.types, entityType)
	}
	sort.Strings(t.types)
	return t, nil
}

// Types returns the entity types in iteration order.
func (t *PatternTable) Types() []string {
	return append([]string(nil), t.types...)
}

// Len returns the total number of patterns.
func (t *PatternTable) Len() int {
	n := 0
	for _, p := range t.patterns {
		n += len(p)
	}
	return n
}

// PatternExtractor finds entities with the pattern table. Safe for
// concurrent use.
type PatternExtractor struct {
	table *PatternTable
}

// NewPatternExtractor creates an extractor. A nil table uses the built-in one.
func NewPatternExtractor(table *PatternTable) *PatternExtractor {
	if table == nil {
		table = DefaultPatternTable()
	}
	return &PatternExtractor{table: table}
}

// Extract scans every document. Output order follows documents, then
// sorted types, then pattern order, then match position.
func (p *PatternExtractor) Extract(docs []Document) []Entity {
	var out []Entity
	for _, doc := range docs {
		out = append(out, p.extractOne(doc)...)
	}
	return out
}

func (p *PatternExtractor) extractOne(doc Document) []Entity {
	var out []Entity
	text := doc.Content
	for _, entityType := range p.table.types {
		for _, re := range p.table.patterns[entityType] {
			for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
				if m[2] < 0 {
					continue
				}
				value := strings.TrimSpace(text[m[2]:m[3]])
				if value == "" {
					continue
				}
				out = append(out, Entity{
					Type:             entityType,
					Value:            StringValue(value),
					Confidence:       patternConfidence,
					Method:           MethodKeyword,
					Step:             DefaultStep,
					SourceDocumentID: doc.FilePath,
					SourceExcerpt:    excerpt(text, m[0], m[1], excerptWindow),
					Origin:           doc.Origin,
				})
			}
		}
	}
	return out
}

// excerpt returns text[start-window : end+window], widened to rune
// boundaries.
func excerpt(text string, start, end, window int) string {
	lo := max(0, start-window)
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	hi := min(len(text), end+window)
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return text[lo:hi]
}
