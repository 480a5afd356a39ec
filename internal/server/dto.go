package server

import (
	"changeboard/internal/config"
	"changeboard/internal/domain"
	"changeboard/internal/metrics"
	"changeboard/internal/stage"
)

// Request payloads

type ImportRecordsRequest struct {
	Records []RecordRequest `json:"records"`
}

type RecordRequest struct {
	ID                string                `json:"id,omitempty"`
	Type              string                `json:"type" enum:"PRC,EI,CO,Determination"`
	Package           string                `json:"package"`
	Title             string                `json:"title"`
	Estimated         *int64                `json:"estimated,omitempty" minimum:"0"`
	Actual            *int64                `json:"actual,omitempty" minimum:"0"`
	StageKey          string                `json:"stage_key,omitempty"`
	SubStatus         string                `json:"sub_status,omitempty"`
	StageStartDate    string                `json:"stage_start_date,omitempty" format:"date"`
	OverallStartDate  string                `json:"overall_start_date,omitempty" format:"date"`
	Outcome           string                `json:"outcome,omitempty"`
	Target            string                `json:"target,omitempty"`
	Sponsor           string                `json:"sponsor,omitempty"`
	Reviewers         []domain.Reviewer     `json:"reviewers,omitempty"`
	Signatures        []domain.Signature    `json:"signatures,omitempty"`
	Links             []domain.DocumentLink `json:"links,omitempty"`
	CCPlannedForNext  bool                  `json:"cc_planned_for_next,omitempty"`
	CCPreviousMeeting *int                  `json:"cc_previous_meeting,omitempty"`
}

type SetStageRequest struct {
	StageKey  string `json:"stage_key"`
	SubStatus string `json:"sub_status,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

type SetOutcomeRequest struct {
	Outcome string `json:"outcome" enum:"Approved,Rejected,Withdrawn,Superseded"`
	Actual  *int64 `json:"actual,omitempty" minimum:"0"`
}

type SetAgendaRequest struct {
	Planned         bool `json:"planned"`
	PreviousMeeting *int `json:"previous_meeting,omitempty"`
}

// Response payloads

type RecordResponse struct {
	domain.ChangeRecord
	StageName       string `json:"stage_name"`
	ProgressPercent int    `json:"progress_percent"`
	DaysInStage     int    `json:"days_in_stage"`
	OverallDays     int    `json:"overall_days"`
	OverSLA         bool   `json:"over_sla"`
	Completed       bool   `json:"completed"`
	Variance        *int64 `json:"variance,omitempty"`
}

type StageResponse struct {
	Key             string   `json:"key"`
	Order           int      `json:"order"`
	Name            string   `json:"name"`
	SLADays         int      `json:"sla_days"`
	Tag             string   `json:"tag"`
	ProgressPercent int      `json:"progress_percent"`
	Options         []string `json:"options"`
}

type SummaryResponse struct {
	Summary           metrics.Summary         `json:"summary"`
	Packages          []metrics.PackageTotals `json:"packages"`
	TotalProjectValue int64                   `json:"total_project_value"`
	LimitPercent      float64                 `json:"limit_percent"`
	Currency          string                  `json:"currency,omitempty"`
}

type AgendaResponse struct {
	Items     []RecordResponse `json:"items"`
	CarryOver []RecordResponse `json:"carry_over"`
}

type recordList struct {
	Items []RecordResponse `json:"items"`
	Total int              `json:"total"`
}

type importResult struct {
	Imported int `json:"imported"`
}

// Conversion helpers

func stageResponse(s stage.Stage) StageResponse {
	return StageResponse{
		Key:             s.Key,
		Order:           s.Order,
		Name:            s.Name,
		SLADays:         s.SLADays,
		Tag:             s.Tag,
		ProgressPercent: stage.Progress(s.Key),
		Options:         stage.Options(s.Key),
	}
}

func (r RecordRequest) toDomain() domain.ChangeRecord {
	return domain.ChangeRecord{
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
		Reviewers:         r.Reviewers,
		Signatures:        r.Signatures,
		Links:             r.Links,
		CCPlannedForNext:  r.CCPlannedForNext,
		CCPreviousMeeting: r.CCPreviousMeeting,
	}
}

func summaryResponse(cfg *config.Config, s metrics.Summary, pkgs []metrics.PackageTotals, total int64, limit float64) SummaryResponse {
	s.ChangePercent = metrics.Round2(s.ChangePercent)
	s.PercentOfLimit = metrics.Round2(s.PercentOfLimit)
	return SummaryResponse{
		Summary:           s,
		Packages:          pkgs,
		TotalProjectValue: total,
		LimitPercent:      limit,
		Currency:          cfg.Project.Currency,
	}
}
