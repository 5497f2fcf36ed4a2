// Package query parses search strings and ranks index matches with BM25.
package query

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/tokenizer"
)

// Mode selects how terms combine.
type Mode int

const (
	// ModeAny matches documents containing at least one term.
	ModeAny Mode = iota
	// ModeAll requires every term.
	ModeAll
)

// Plan is a parsed query.
type Plan struct {
	Terms        []string
	ExcludeTerms []string
	Mode         Mode
	Raw          string
}

// Empty reports whether the plan can match nothing.
func (p *Plan) Empty() bool { return len(p.Terms) == 0 }

// Parse reads a whitespace-separated query. Terms combine with OR unless
// the query contains AND; NOT excludes the following term. Words the
// tokenizer drops are ignored, and duplicate terms collapse.
func Parse(raw string) *Plan {
	plan := &Plan{Raw: raw, Mode: ModeAny}
	seen := make(map[string]bool)
	excludeNext := false
	for _, word := range strings.Fields(raw) {
		switch word {
		case "AND":
			plan.Mode = ModeAll
			continue
		case "OR":
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		for _, tok := range tokenizer.Tokenize(word) {
			switch {
			case excludeNext:
				plan.ExcludeTerms = append(plan.ExcludeTerms, tok.Term)
			case !seen[tok.Term]:
				seen[tok.Term] = true
				plan.Terms = append(plan.Terms, tok.Term)
			}
		}
		excludeNext = false
	}
	return plan
}
