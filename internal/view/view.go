// Package view narrows the full record set to the current view with a
// conjunctive stage/package/search filter. Filtering always produces a
// new slice; the input is never reordered or mutated, so applying the
// same filter twice yields the identical set.
package view

import (
	"strings"

	"changeboard/internal/domain"
)

// Wildcard matches any stage or package.
const Wildcard = "All"

// Filter is the three-predicate conjunctive filter. Empty values and
// Wildcard both mean "no constraint" for stage and package; Search is
// a case-insensitive substring over id, title, and sponsor.
type Filter struct {
	Stage   string
	Package string
	Search  string
}

// Match reports whether r passes all three predicates.
func (f Filter) Match(r domain.ChangeRecord) bool {
	if f.Stage != "" && f.Stage != Wildcard && r.StageKey != f.Stage {
		return false
	}
	if f.Package != "" && f.Package != Wildcard && r.Package != f.Package {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !containsFold(r.ID, needle) && !containsFold(r.Title, needle) && !containsFold(r.Sponsor, needle) {
			return false
		}
	}
	return true
}

// containsFold matches the lowered needle against a single field, so a
// needle never matches across the boundary between two fields.
func containsFold(field, needle string) bool {
	return strings.Contains(strings.ToLower(field), needle)
}

// Apply returns the records passing the filter, preserving input order.
// An empty result is a valid non-nil view.
func Apply(recs []domain.ChangeRecord, f Filter) []domain.ChangeRecord {
	out := []domain.ChangeRecord{}
	for _, r := range recs {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
