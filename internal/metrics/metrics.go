// Package metrics computes the summary figures shown above the record
// table: bucket counts, financial sums, and percentage-of-project-limit
// ratios. Values are kept at full precision; rounding and currency
// formatting happen at the boundary.
package metrics

import (
	"math"

	"changeboard/internal/classify"
	"changeboard/internal/domain"
)

// Summary holds the derived figures for one view of records.
type Summary struct {
	Total             int     `json:"total"`
	PCRToEI           int     `json:"pcr_to_ei"`
	PCRToOther        int     `json:"pcr_to_other"`
	Completed         int     `json:"completed"`
	Agenda            int     `json:"agenda"`
	CarryOver         int     `json:"carry_over"`
	Rejected          int     `json:"rejected"`
	EstimatedSum      int64   `json:"estimated_sum"`
	ApprovedActualSum int64   `json:"approved_actual_sum"`
	ChangePercent     float64 `json:"change_percent"`
	PercentOfLimit    float64 `json:"percent_of_limit"`
}

// PackageTotals is the rollup for one work package over the
// approved-with-actual subset.
type PackageTotals struct {
	Package   string `json:"package"`
	Count     int    `json:"count"`
	Estimated int64  `json:"estimated"`
	Actual    int64  `json:"actual"`
}

// Variance returns actual-estimated when both are present, nil
// otherwise. A variance is never computed from a missing operand.
func Variance(r domain.ChangeRecord) *int64 {
	if r.Estimated == nil || r.Actual == nil {
		return nil
	}
	v := *r.Actual - *r.Estimated
	return &v
}

// SumEstimated sums estimated amounts over a record set, treating
// missing values as zero.
func SumEstimated(recs []domain.ChangeRecord) int64 {
	var sum int64
	for _, r := range recs {
		if r.Estimated != nil {
			sum += *r.Estimated
		}
	}
	return sum
}

// ApprovedActualSum sums actual amounts over approved records that
// have an actual value.
func ApprovedActualSum(recs []domain.ChangeRecord) int64 {
	var sum int64
	for _, r := range recs {
		if r.Outcome == domain.OutcomeApproved && r.Actual != nil {
			sum += *r.Actual
		}
	}
	return sum
}

// ChangePercent is the approved actual spend as a raw percentage of the
// total project value. It is never clamped and may exceed 100.
func ChangePercent(approvedActualSum, totalProjectValue int64) float64 {
	if totalProjectValue <= 0 {
		return 0
	}
	return 100 * float64(approvedActualSum) / float64(totalProjectValue)
}

// PercentOfLimit maps the change percentage onto a 0-100 bar against
// the configured limit. The bar is clamped even when the underlying
// ratio exceeds the limit.
func PercentOfLimit(changePercent, limitPercent float64) float64 {
	if limitPercent <= 0 {
		return 0
	}
	v := 100 * changePercent / limitPercent
	return math.Min(100, math.Max(0, v))
}

// Round2 rounds to two decimals for percent display.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PackageRollup aggregates the approved-with-actual subset per package,
// in first-seen package order. Packages without matching records are
// elided; they still contribute zero to any total.
func PackageRollup(recs []domain.ChangeRecord) []PackageTotals {
	idx := map[string]int{}
	var out []PackageTotals
	for _, r := range recs {
		if r.Outcome != domain.OutcomeApproved || r.Actual == nil {
			continue
		}
		i, ok := idx[r.Package]
		if !ok {
			i = len(out)
			idx[r.Package] = i
			out = append(out, PackageTotals{Package: r.Package})
		}
		out[i].Count++
		out[i].Actual += *r.Actual
		if r.Estimated != nil {
			out[i].Estimated += *r.Estimated
		}
	}
	return out
}

// Summarize derives the full summary for one view. acceptedTargets is
// the configured PCR-to-other target set; totalProjectValue and
// limitPercent come from project config.
func Summarize(recs []domain.ChangeRecord, acceptedTargets []string, totalProjectValue int64, limitPercent float64) Summary {
	approved := ApprovedActualSum(recs)
	change := ChangePercent(approved, totalProjectValue)
	return Summary{
		Total:             len(recs),
		PCRToEI:           len(classify.PCRToEI(recs)),
		PCRToOther:        len(classify.PCRToOther(recs, acceptedTargets)),
		Completed:         len(classify.Completed(recs)),
		Agenda:            len(classify.Agenda(recs)),
		CarryOver:         len(classify.CarryOver(recs)),
		Rejected:          len(classify.Rejected(recs)),
		EstimatedSum:      SumEstimated(recs),
		ApprovedActualSum: approved,
		ChangePercent:     change,
		PercentOfLimit:    PercentOfLimit(change, limitPercent),
	}
}
