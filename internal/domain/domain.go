package domain

// Record types.
const (
	TypePRC           = "PRC"
	TypeEI            = "EI"
	TypeCO            = "CO"
	TypeDetermination = "Determination"
)

// Terminal outcomes.
const (
	OutcomeApproved   = "Approved"
	OutcomeRejected   = "Rejected"
	OutcomeWithdrawn  = "Withdrawn"
	OutcomeSuperseded = "Superseded"
)

// PRC downstream targets.
const (
	TargetEI   = "EI"
	TargetCO   = "CO"
	TargetVOS  = "VOS"
	TargetAA   = "AA"
	TargetTBC  = "TBC/TBD"
	TargetEICO = "EI+CO"
)

// ChangeRecord is a change request moving through the approval lifecycle.
// Estimated and Actual are integer currency units; nil means not entered.
// Dates are ISO calendar dates (YYYY-MM-DD) stored as strings.
type ChangeRecord struct {
	ID                string         `json:"id"`
	Type              string         `json:"type" enum:"PRC,EI,CO,Determination"`
	Package           string         `json:"package"`
	Title             string         `json:"title"`
	Estimated         *int64         `json:"estimated,omitempty"`
	Actual            *int64         `json:"actual,omitempty"`
	StageKey          string         `json:"stage_key"`
	SubStatus         string         `json:"sub_status,omitempty"`
	StageStartDate    string         `json:"stage_start_date,omitempty" format:"date"`
	OverallStartDate  string         `json:"overall_start_date,omitempty" format:"date"`
	Outcome           string         `json:"outcome,omitempty"`
	Target            string         `json:"target,omitempty"`
	Sponsor           string         `json:"sponsor,omitempty"`
	Reviewers         []Reviewer     `json:"reviewers,omitempty"`
	Signatures        []Signature    `json:"signatures,omitempty"`
	Links             []DocumentLink `json:"links,omitempty"`
	CCPlannedForNext  bool           `json:"cc_planned_for_next"`
	CCPreviousMeeting *int           `json:"cc_previous_meeting,omitempty"`
}

type Reviewer struct {
	Role     string `json:"role"`
	Name     string `json:"name"`
	Date     string `json:"date,omitempty" format:"date"`
	Decision string `json:"decision,omitempty"`
}

type Signature struct {
	Role   string `json:"role"`
	Name   string `json:"name"`
	Date   string `json:"date,omitempty" format:"date"`
	Signed bool   `json:"signed"`
}

type DocumentLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	RecordID string `json:"record_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}
