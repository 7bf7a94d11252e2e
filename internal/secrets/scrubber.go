// Package secrets redacts credentials from text before it leaves the
// process boundary: document excerpts sent to an LLM and run failure
// messages returned to API callers.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
)

const defaultRedaction = "[REDACTED]"

// Rule is one detection pattern.
type Rule struct {
	ID      string `koanf:"id"`
	Pattern string `koanf:"pattern"`
}

// Result is the outcome of a scrub.
type Result struct {
	Text     string
	Findings int
	ByRule   map[string]int
}

// Scrubber detects and redacts secrets.
type Scrubber interface {
	Scrub(content string) Result
}

// Config configures a Scrubber.
type Config struct {
	Enabled   bool     `koanf:"enabled"`
	Rules     []Rule   `koanf:"rules"`
	AllowList []string `koanf:"allow_list"`
}

// DefaultConfig enables the built-in rules.
func DefaultConfig() *Config {
	return &Config{Enabled: true, Rules: DefaultRules()}
}

type compiledRule struct {
	id      string
	pattern *regexp.Regexp
}

type scrubber struct {
	rules []compiledRule
	allow []*regexp.Regexp
}

type span struct{ start, end int }

// New compiles cfg. A nil config uses DefaultConfig; a disabled config
// returns a scrubber that passes text through.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return Noop{}, nil
	}

	s := &scrubber{}
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, pattern: re})
	}
	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

// MustNew is New that panics; for package-level defaults.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Scrub(content string) Result {
	res := Result{Text: content, ByRule: map[string]int{}}

	var spans []span
	for _, r := range s.rules {
		for _, m := range r.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			res.ByRule[r.id]++
			res.Findings++
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	out := make([]byte, 0, len(content))
	prev := 0
	for _, sp := range merged {
		out = append(out, content[prev:sp.start]...)
		out = append(out, defaultRedaction...)
		prev = sp.end
	}
	out = append(out, content[prev:]...)
	res.Text = string(out)
	return res
}

func (s *scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// Noop returns content unchanged.
type Noop struct{}

func (Noop) Scrub(content string) Result {
	return Result{Text: content, ByRule: map[string]int{}}
}
