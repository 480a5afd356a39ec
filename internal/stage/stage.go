package stage

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"changeboard/internal/domain"
)

// Lifecycle stage keys, in order.
const (
	KeyPRC       = "PRC"
	KeyCCOutcome = "CC_OUTCOME"
	KeyCEOMemo   = "CEO_OR_BOARD_MEMO"
	KeyEI        = "EI"
	KeyCOVVOS    = "CO_V_VOS"
	KeyAASA      = "AA_SA"
)

// Stage is one step of the approval lifecycle. Order is 1-based and
// contiguous; SLADays of 0 means no SLA is tracked for the stage.
type Stage struct {
	Key     string `json:"key"`
	Order   int    `json:"order"`
	Name    string `json:"name"`
	SLADays int    `json:"sla_days"`
	Tag     string `json:"tag"`
}

var registry = []Stage{
	{Key: KeyPRC, Order: 1, Name: "PCR Proposal", SLADays: 14, Tag: "proposal"},
	{Key: KeyCCOutcome, Order: 2, Name: "CC Review Outcome", SLADays: 21, Tag: "committee"},
	{Key: KeyCEOMemo, Order: 3, Name: "CEO / Board Memo", SLADays: 14, Tag: "executive"},
	{Key: KeyEI, Order: 4, Name: "Engineering Instruction", SLADays: 10, Tag: "issuance"},
	{Key: KeyCOVVOS, Order: 5, Name: "CO / V / VOS", SLADays: 30, Tag: "commercial"},
	{Key: KeyAASA, Order: 6, Name: "AA / SA Closure", SLADays: 0, Tag: "closure"},
}

var options = map[string][]string{
	KeyPRC:       {"In Preparation", "Internal Review", "Submitted to CC", "Presented at CC"},
	KeyCCOutcome: {"Pending Decision", "Endorsed", "Deferred", "Not Endorsed"},
	KeyCEOMemo:   {"Memo in Preparation", "Submitted for Approval", "Approved"},
	KeyEI:        {"In Preparation", "To be Issued to Contractor", "Issued"},
	KeyCOVVOS:    {"Drafting", "Under Negotiation", "Signed", "Done"},
	KeyAASA:      {"Drafting", "Under Signature", "Done"},
}

var byKey = func() map[string]Stage {
	m := make(map[string]Stage, len(registry))
	for _, s := range registry {
		m[s.Key] = s
	}
	return m
}()

// All returns the stages in lifecycle order.
func All() []Stage {
	out := make([]Stage, len(registry))
	copy(out, registry)
	return out
}

// Known reports whether key is a registered stage key.
func Known(key string) bool {
	_, ok := byKey[key]
	return ok
}

// Of is total over any string: unknown keys yield a synthetic
// placeholder stage (order 0, no SLA) so untrusted seed data cannot
// break rendering. The anomaly is logged.
func Of(key string) Stage {
	if s, ok := byKey[key]; ok {
		return s
	}
	log.Warn().Str("stage_key", key).Msg("unknown stage key, using placeholder")
	return Stage{Key: key, Order: 0, Name: "Unknown (" + key + ")", SLADays: 0, Tag: "unknown"}
}

// Options returns the ordered sub-status labels valid within a stage.
func Options(key string) []string {
	opts := options[key]
	out := make([]string, len(opts))
	copy(out, opts)
	return out
}

// ValidSubStatus reports whether sub is a valid sub-status for key.
// The empty sub-status is always valid.
func ValidSubStatus(key, sub string) bool {
	if sub == "" {
		return true
	}
	for _, o := range options[key] {
		if o == sub {
			return true
		}
	}
	return false
}

// Progress maps a stage key to a 0-100 lifecycle completion indicator,
// driven purely by stage order. Unknown keys yield 0.
func Progress(key string) int {
	s, ok := byKey[key]
	if !ok {
		return 0
	}
	return int(math.Round(100 * float64(s.Order) / float64(len(registry))))
}

const dateLayout = "2006-01-02"

// DaysBetween counts whole days from an ISO date to asOf, clamped at
// zero. An empty or unparseable date yields 0.
func DaysBetween(isoDate string, asOf time.Time) int {
	if isoDate == "" {
		return 0
	}
	start, err := time.Parse(dateLayout, isoDate)
	if err != nil {
		log.Warn().Str("date", isoDate).Msg("unparseable date, counting zero days")
		return 0
	}
	days := int(math.Round(asOf.Sub(start).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// DaysInStage counts whole days a record has spent in its current stage.
func DaysInStage(r domain.ChangeRecord, asOf time.Time) int {
	return DaysBetween(r.StageStartDate, asOf)
}

// OverallDays counts whole days since the record entered the system.
func OverallDays(r domain.ChangeRecord, asOf time.Time) int {
	return DaysBetween(r.OverallStartDate, asOf)
}

// OverSLA reports whether the record has exceeded its stage SLA.
// Stages without an SLA never report over.
func OverSLA(r domain.ChangeRecord, asOf time.Time) bool {
	s := Of(r.StageKey)
	if s.SLADays == 0 {
		return false
	}
	return DaysInStage(r, asOf) > s.SLADays
}
