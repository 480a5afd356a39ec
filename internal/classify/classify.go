// Package classify partitions a view of change records into the
// reporting buckets the dashboard summarizes. Every function here is a
// pure predicate or filter over the slice it is given; records are
// never mutated and nothing is cached between calls.
package classify

import (
	"strings"

	"changeboard/internal/domain"
	"changeboard/internal/stage"
)

// DefaultAcceptedTargets is the canonical accepted target set for the
// PCR-to-other pipeline. Deployments override it via config.
var DefaultAcceptedTargets = []string{domain.TargetCO, domain.TargetVOS, domain.TargetAA}

// IsPCRToEI reports whether r is a proposal targeting an EI.
func IsPCRToEI(r domain.ChangeRecord) bool {
	return r.Type == domain.TypePRC && r.Target == domain.TargetEI
}

// IsPCRToOther reports whether r is a proposal targeting one of the
// accepted non-EI instruments.
func IsPCRToOther(r domain.ChangeRecord, accepted []string) bool {
	if r.Type != domain.TypePRC {
		return false
	}
	for _, t := range accepted {
		if r.Target == t {
			return true
		}
	}
	return false
}

// IsCompleted reports whether r has reached a closed state: issued at
// EI, or Done in a commercial/closure stage.
func IsCompleted(r domain.ChangeRecord) bool {
	switch r.StageKey {
	case stage.KeyEI:
		return r.SubStatus == "Issued" || r.SubStatus == "To be Issued to Contractor"
	case stage.KeyCOVVOS, stage.KeyAASA:
		return r.SubStatus == "Done"
	}
	return false
}

// IsOnAgenda reports whether r is on the next committee meeting agenda.
func IsOnAgenda(r domain.ChangeRecord) bool {
	return r.Type == domain.TypePRC && r.CCPlannedForNext
}

// IsCarryOver reports whether an agenda item was carried over from a
// prior meeting. The previous-meeting number is canonical; the
// "Presented at CC" sub-status is a fallback for legacy records that
// predate the flag.
func IsCarryOver(r domain.ChangeRecord) bool {
	if !IsOnAgenda(r) {
		return false
	}
	if r.CCPreviousMeeting != nil {
		return true
	}
	return r.SubStatus == "Presented at CC"
}

// IsRejected reports whether r was rejected outright or carries a
// reviewer decision mentioning rejection.
func IsRejected(r domain.ChangeRecord) bool {
	if r.Outcome == domain.OutcomeRejected {
		return true
	}
	for _, rev := range r.Reviewers {
		if strings.Contains(strings.ToLower(rev.Decision), "reject") {
			return true
		}
	}
	return false
}

func filter(recs []domain.ChangeRecord, keep func(domain.ChangeRecord) bool) []domain.ChangeRecord {
	out := []domain.ChangeRecord{}
	for _, r := range recs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// PCRToEI returns the proposals targeting an EI, in input order.
func PCRToEI(recs []domain.ChangeRecord) []domain.ChangeRecord {
	return filter(recs, IsPCRToEI)
}

// PCRToOther returns the proposals targeting an accepted non-EI
// instrument, in input order.
func PCRToOther(recs []domain.ChangeRecord, accepted []string) []domain.ChangeRecord {
	return filter(recs, func(r domain.ChangeRecord) bool { return IsPCRToOther(r, accepted) })
}

// Completed returns the closed records, in input order.
func Completed(recs []domain.ChangeRecord) []domain.ChangeRecord {
	return filter(recs, IsCompleted)
}

// Agenda returns the records on the next committee agenda, in input order.
func Agenda(recs []domain.ChangeRecord) []domain.ChangeRecord {
	return filter(recs, IsOnAgenda)
}

// CarryOver returns the agenda items carried over from a prior meeting.
func CarryOver(recs []domain.ChangeRecord) []domain.ChangeRecord {
	return filter(recs, IsCarryOver)
}

// Rejected returns the rejected records, in input order.
func Rejected(recs []domain.ChangeRecord) []domain.ChangeRecord {
	return filter(recs, IsRejected)
}
