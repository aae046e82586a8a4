// Package similarity scores how closely two OCR text extractions agree.
// Every function here is pure and deterministic.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Metric selects the comparison used by Compare.
type Metric string

const (
	MetricLevenshtein Metric = "levenshtein"
	MetricTokenSet    Metric = "token_set"
)

// Normalize case-folds s, collapses runs of whitespace to a single space and
// trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Score returns 1 - editDistance/maxLen over the normalized texts, measured
// in runes. Equal texts (including two empty ones) score 1; an empty text
// against a non-empty one scores 0.
func Score(expected, actual string) float64 {
	a, b := Normalize(expected), Normalize(actual)
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	dist := levenshtein.ComputeDistance(a, b)
	return clamp(1.0 - float64(dist)/float64(maxLen))
}

// TokenSet returns the Jaccard index of the normalized word sets. It is the
// metric used for whole-page extractions where word order is unreliable.
func TokenSet(expected, actual string) float64 {
	a, b := tokens(expected), tokens(actual)
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return clamp(float64(inter) / float64(union))
}

// Compare dispatches to the requested metric; unknown metrics use TokenSet.
func Compare(metric Metric, expected, actual string) float64 {
	if metric == MetricLevenshtein {
		return Score(expected, actual)
	}
	return TokenSet(expected, actual)
}

// Diff renders a compact inline diff of the normalized texts, with deletions
// as [-text-] and insertions as {+text+}. It returns "" for equal inputs.
func Diff(expected, actual string) string {
	a, b := Normalize(expected), Normalize(actual)
	if a == b {
		return ""
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(a, b, false))

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + d.Text + "+}")
		default:
			sb.WriteString(d.Text)
		}
	}
	return sb.String()
}

func tokens(s string) map[string]struct{} {
	fields := strings.Fields(Normalize(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
