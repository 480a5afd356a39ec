// Package seed provides record sources that do not come from the
// database: the built-in demo set and YAML file loading. The engine
// only ever sees the Source interface, so where records originate is
// invisible to it.
package seed

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"changeboard/internal/domain"
)

// Static serves a fixed in-memory record slice.
type Static []domain.ChangeRecord

func (s Static) ListRecords(_ context.Context) ([]domain.ChangeRecord, error) {
	out := make([]domain.ChangeRecord, len(s))
	copy(out, s)
	return out, nil
}

// FromFile loads records from a YAML file with a top-level `records:`
// list.
func FromFile(path string) ([]domain.ChangeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses a record list from raw YAML bytes.
func FromYAML(data []byte) ([]domain.ChangeRecord, error) {
	var doc struct {
		Records []record `yaml:"records"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid records yaml: %w", err)
	}
	out := make([]domain.ChangeRecord, 0, len(doc.Records))
	for _, r := range doc.Records {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// record is the YAML shape; it mirrors the domain model with yaml tags.
type record struct {
	ID                string  `yaml:"id"`
	Type              string  `yaml:"type"`
	Package           string  `yaml:"package"`
	Title             string  `yaml:"title"`
	Estimated         *int64  `yaml:"estimated"`
	Actual            *int64  `yaml:"actual"`
	StageKey          string  `yaml:"stage_key"`
	SubStatus         string  `yaml:"sub_status"`
	StageStartDate    string  `yaml:"stage_start_date"`
	OverallStartDate  string  `yaml:"overall_start_date"`
	Outcome           string  `yaml:"outcome"`
	Target            string  `yaml:"target"`
	Sponsor           string  `yaml:"sponsor"`
	CCPlannedForNext  bool    `yaml:"cc_planned_for_next"`
	CCPreviousMeeting *int    `yaml:"cc_previous_meeting"`
	Reviewers         []child `yaml:"reviewers"`
	Signatures        []child `yaml:"signatures"`
	Links             []link  `yaml:"links"`
}

type child struct {
	Role     string `yaml:"role"`
	Name     string `yaml:"name"`
	Date     string `yaml:"date"`
	Decision string `yaml:"decision"`
	Signed   bool   `yaml:"signed"`
}

type link struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

func (r record) toDomain() domain.ChangeRecord {
	rec := domain.ChangeRecord{
		ID:                r.ID,
		Type:              r.Type,
		Package:           r.Package,
		Title:             r.Title,
		Estimated:         r.Estimated,
		Actual:            r.Actual,
		StageKey:          r.StageKey,
		SubStatus:         r.SubStatus,
		StageStartDate:    r.StageStartDate,
		OverallStartDate:  r.OverallStartDate,
		Outcome:           r.Outcome,
		Target:            r.Target,
		Sponsor:           r.Sponsor,
		CCPlannedForNext:  r.CCPlannedForNext,
		CCPreviousMeeting: r.CCPreviousMeeting,
	}
	for _, rv := range r.Reviewers {
		rec.Reviewers = append(rec.Reviewers, domain.Reviewer{Role: rv.Role, Name: rv.Name, Date: rv.Date, Decision: rv.Decision})
	}
	for _, sg := range r.Signatures {
		rec.Signatures = append(rec.Signatures, domain.Signature{Role: sg.Role, Name: sg.Name, Date: sg.Date, Signed: sg.Signed})
	}
	for _, ln := range r.Links {
		rec.Links = append(rec.Links, domain.DocumentLink{Label: ln.Label, URL: ln.URL})
	}
	return rec
}

func amount(v int64) *int64 { return &v }
func meeting(n int) *int    { return &n }

// Demo returns the built-in demonstration dataset used when no
// external records are supplied.
func Demo() []domain.ChangeRecord {
	return []domain.ChangeRecord{
		{
			ID: "PCR-A-001", Type: domain.TypePRC, Package: "A",
			Title: "Revise dredging profile at berth 3", Target: domain.TargetEI,
			Estimated: amount(1_200_000), StageKey: "PRC", SubStatus: "Submitted to CC",
			StageStartDate: "2026-07-20", OverallStartDate: "2026-06-02",
			Sponsor: "Harbor Authority", CCPlannedForNext: true,
			Reviewers: []domain.Reviewer{
				{Role: "Lead Engineer", Name: "M. Okafor", Date: "2026-07-01", Decision: "Recommend to proceed"},
			},
		},
		{
			ID: "PCR-B-004", Type: domain.TypePRC, Package: "B",
			Title: "Quay wall anchor spacing change", Target: domain.TargetCO,
			Estimated: amount(640_000), StageKey: "CC_OUTCOME", SubStatus: "Pending Decision",
			StageStartDate: "2026-07-28", OverallStartDate: "2026-05-14",
			Sponsor: "Contractor JV", CCPlannedForNext: true, CCPreviousMeeting: meeting(42),
		},
		{
			ID: "PCR-C-007", Type: domain.TypePRC, Package: "C",
			Title: "Terminal roof cladding substitution", Target: domain.TargetVOS,
			Estimated: amount(310_000), StageKey: "PRC", SubStatus: "Presented at CC",
			StageStartDate: "2026-08-01", OverallStartDate: "2026-06-20",
			Sponsor: "Design Consultant", CCPlannedForNext: true,
		},
		{
			ID: "EI-A-011", Type: domain.TypeEI, Package: "A",
			Title: "Issue revised dredging instruction", Estimated: amount(1_200_000),
			StageKey: "EI", SubStatus: "Issued",
			StageStartDate: "2026-06-11", OverallStartDate: "2026-03-05",
			Outcome: domain.OutcomeApproved, Actual: amount(1_150_000),
			Sponsor: "Harbor Authority",
			Links: []domain.DocumentLink{
				{Label: "EI document", URL: "https://docs.example.com/ei/EI-A-011"},
			},
		},
		{
			ID: "EI-D-014", Type: domain.TypeEI, Package: "D",
			Title: "Storm drain rerouting near gate 4", Estimated: amount(280_000),
			StageKey: "EI", SubStatus: "To be Issued to Contractor",
			StageStartDate: "2026-08-10", OverallStartDate: "2026-05-30",
			Sponsor: "Utilities Board",
		},
		{
			ID: "CO-G-032", Type: domain.TypeCO, Package: "G",
			Title: "Substation switchgear upgrade", Estimated: amount(2_000_000),
			Actual: amount(1_850_000), StageKey: "CO_V_VOS", SubStatus: "Done",
			StageStartDate: "2026-05-02", OverallStartDate: "2026-01-18",
			Outcome: domain.OutcomeApproved, Sponsor: "Grid Operator",
			Signatures: []domain.Signature{
				{Role: "Project Director", Name: "L. Chen", Date: "2026-05-20", Signed: true},
				{Role: "Commercial Manager", Name: "R. Haddad", Date: "2026-05-21", Signed: true},
			},
		},
		{
			ID: "PCR-H-019", Type: domain.TypePRC, Package: "H",
			Title: "Fire Hydrant relocation along access road", Target: domain.TargetAA,
			Estimated: amount(95_000), StageKey: "CEO_OR_BOARD_MEMO", SubStatus: "Submitted for Approval",
			StageStartDate: "2026-08-15", OverallStartDate: "2026-07-02",
			Sponsor: "Safety Office",
		},
		{
			ID: "PCR-E-021", Type: domain.TypePRC, Package: "E",
			Title: "Pavement thickness reduction study", Target: domain.TargetTBC,
			StageKey: "PRC", SubStatus: "In Preparation",
			StageStartDate: "2026-08-22", OverallStartDate: "2026-08-22",
			Sponsor: "Contractor JV",
		},
		{
			ID: "PCR-F-009", Type: domain.TypePRC, Package: "F",
			Title: "Rail ballast specification change", Target: domain.TargetCO,
			Estimated: amount(410_000), StageKey: "CC_OUTCOME", SubStatus: "Not Endorsed",
			StageStartDate: "2026-06-30", OverallStartDate: "2026-04-12",
			Outcome: domain.OutcomeRejected, Sponsor: "Rail Authority",
			Reviewers: []domain.Reviewer{
				{Role: "CC Chair", Name: "S. Virtanen", Date: "2026-06-28", Decision: "Rejected: insufficient justification"},
			},
		},
		{
			ID: "AA-J-002", Type: domain.TypeDetermination, Package: "J",
			Title: "Landscaping scope closure amendment", Estimated: amount(150_000),
			Actual: amount(150_000), StageKey: "AA_SA", SubStatus: "Done",
			StageStartDate: "2026-04-01", OverallStartDate: "2025-11-20",
			Outcome: domain.OutcomeApproved, Sponsor: "Municipality",
		},
		{
			ID: "PCR-A-030", Type: domain.TypePRC, Package: "A",
			Title: "Additional survey of seabed utilities", Target: domain.TargetEI,
			Estimated: amount(75_000), StageKey: "PRC", SubStatus: "Internal Review",
			StageStartDate: "2026-08-25", OverallStartDate: "2026-08-18",
			Sponsor: "Harbor Authority",
		},
		{
			ID: "CO-B-027", Type: domain.TypeCO, Package: "B",
			Title: "Revetment armour rock resourcing", Estimated: amount(730_000),
			StageKey: "CO_V_VOS", SubStatus: "Under Negotiation",
			StageStartDate: "2026-07-05", OverallStartDate: "2026-02-26",
			Sponsor: "Contractor JV",
		},
	}
}
