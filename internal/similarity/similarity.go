// Package similarity provides deterministic string similarity scores in
// [0,1] used for fuzzy entity matching.
package similarity

import (
	"fmt"

	"github.com/agnivade/levenshtein"
	"github.com/pmezard/go-difflib/difflib"
)

// Func scores two strings. 1 means identical.
type Func func(a, b string) float64

// Names of the built-in functions.
const (
	NameSequence    = "sequence"
	NameLevenshtein = "levenshtein"
)

// ByName returns the built-in function registered under name.
func ByName(name string) (Func, error) {
	switch name {
	case NameSequence, "":
		return Sequence, nil
	case NameLevenshtein:
		return Levenshtein, nil
	default:
		return nil, fmt.Errorf("unknown similarity function %q", name)
	}
}

// Sequence is the Ratcliff/Obershelp ratio 2*M/T computed over characters.
// Inputs are put in a fixed order first, so Sequence(a, b) == Sequence(b, a).
func Sequence(a, b string) float64 {
	if a == b {
		return 1
	}
	if a > b {
		a, b = b, a
	}
	m := difflib.NewMatcher(splitChars(a), splitChars(b))
	return m.Ratio()
}

// Levenshtein is 1 - distance/max(len) over runes.
func Levenshtein(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
