package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"changeboard/internal/config"
	"changeboard/internal/domain"
	"changeboard/internal/events"
	"changeboard/internal/export"
	"changeboard/internal/metrics"
	"changeboard/internal/repo"
	"changeboard/internal/stage"
	"changeboard/internal/view"
)

// Source supplies the current record set. The engine derives every
// view and summary from whatever a Source returns; it does not care
// whether records come from SQLite, a YAML file, or a fixed seed.
type Source interface {
	ListRecords(ctx context.Context) ([]domain.ChangeRecord, error)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Source Source
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Source: r,
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) today() string {
	return e.now().UTC().Format("2006-01-02")
}

var knownTypes = map[string]bool{
	domain.TypePRC:           true,
	domain.TypeEI:            true,
	domain.TypeCO:            true,
	domain.TypeDetermination: true,
}

var knownOutcomes = map[string]bool{
	domain.OutcomeApproved:   true,
	domain.OutcomeRejected:   true,
	domain.OutcomeWithdrawn:  true,
	domain.OutcomeSuperseded: true,
}

// ImportRecords loads a batch of records into the store. Records with
// unknown stage keys are kept but logged; they render with a
// placeholder stage rather than failing the batch. Missing dates
// default to the import day; a missing stage defaults to PRC.
func (e Engine) ImportRecords(ctx context.Context, recs []domain.ChangeRecord, actorID string) (int, error) {
	if e.Config == nil {
		return 0, errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	seq, err := e.Repo.NextSeq(ctx, tx)
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, rec := range recs {
		if rec.Title == "" {
			return imported, fmt.Errorf("record %s: title is required", rec.ID)
		}
		if rec.Package == "" {
			return imported, fmt.Errorf("record %s: package is required", rec.ID)
		}
		if !knownTypes[rec.Type] {
			return imported, fmt.Errorf("record %s: invalid type %q", rec.ID, rec.Type)
		}
		if !e.Config.KnownPackage(rec.Package) {
			return imported, fmt.Errorf("record %s: unknown package %q", rec.ID, rec.Package)
		}
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.StageKey == "" {
			rec.StageKey = stage.KeyPRC
		}
		if !stage.Known(rec.StageKey) {
			log.Warn().Str("record_id", rec.ID).Str("stage_key", rec.StageKey).
				Msg("importing record with unknown stage key")
		} else if !stage.ValidSubStatus(rec.StageKey, rec.SubStatus) {
			log.Warn().Str("record_id", rec.ID).Str("stage_key", rec.StageKey).
				Str("sub_status", rec.SubStatus).Msg("sub-status not in stage option list")
		}
		if rec.OverallStartDate == "" {
			rec.OverallStartDate = e.today()
		}
		if rec.StageStartDate == "" {
			rec.StageStartDate = rec.OverallStartDate
		}
		exists, err := e.Repo.RecordExists(ctx, tx, rec.ID)
		if err != nil {
			return imported, err
		}
		if exists {
			return imported, fmt.Errorf("record %s already exists", rec.ID)
		}
		if err := e.Repo.InsertRecord(ctx, tx, rec, seq); err != nil {
			return imported, fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
		seq++
		if err := e.Events.Append(ctx, tx, "record.imported", rec.ID, actorID, events.EventPayload{
			"stage_key": rec.StageKey,
			"package":   rec.Package,
		}); err != nil {
			return imported, err
		}
		imported++
	}
	if err := tx.Commit(); err != nil {
		return imported, err
	}
	return imported, nil
}

// SetStage moves a record to a new lifecycle stage or sub-status.
// Forward movement only: a regression in stage order is rejected
// unless forced, and both cases are logged to the event stream. The
// stage start date resets whenever the stage itself changes.
func (e Engine) SetStage(ctx context.Context, id, stageKey, subStatus, actorID string, force bool) (domain.ChangeRecord, error) {
	rec, err := e.Repo.GetRecord(ctx, id)
	if err != nil {
		return rec, err
	}
	if !stage.Known(stageKey) {
		return rec, fmt.Errorf("invalid stage key %q", stageKey)
	}
	if !force && !stage.ValidSubStatus(stageKey, subStatus) {
		return rec, fmt.Errorf("invalid sub-status %q for stage %s", subStatus, stageKey)
	}
	from := stage.Of(rec.StageKey)
	to := stage.Of(stageKey)
	if !force && from.Order > to.Order {
		return rec, fmt.Errorf("invalid stage transition %s -> %s: lifecycle moves forward only", rec.StageKey, stageKey)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()

	if stageKey == rec.StageKey {
		if err := e.Repo.UpdateSubStatus(ctx, tx, id, subStatus); err != nil {
			return rec, err
		}
	} else {
		if err := e.Repo.UpdateStage(ctx, tx, id, stageKey, subStatus, e.today()); err != nil {
			return rec, err
		}
		rec.StageStartDate = e.today()
	}
	if err := e.Events.Append(ctx, tx, "stage.changed", id, actorID, events.EventPayload{
		"from_stage":      rec.StageKey,
		"to_stage":        stageKey,
		"from_sub_status": rec.SubStatus,
		"to_sub_status":   subStatus,
		"forced":          force,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	rec.StageKey = stageKey
	rec.SubStatus = subStatus
	return rec, nil
}

// SetOutcome records a terminal classification and, optionally, the
// actual amount settled with it.
func (e Engine) SetOutcome(ctx context.Context, id, outcome string, actual *int64, actorID string) (domain.ChangeRecord, error) {
	if !knownOutcomes[outcome] {
		return domain.ChangeRecord{}, fmt.Errorf("invalid outcome %q", outcome)
	}
	if actual != nil && *actual < 0 {
		return domain.ChangeRecord{}, errors.New("actual must not be negative")
	}
	rec, err := e.Repo.GetRecord(ctx, id)
	if err != nil {
		return rec, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOutcome(ctx, tx, id, outcome, actual); err != nil {
		return rec, err
	}
	payload := events.EventPayload{"outcome": outcome}
	if actual != nil {
		payload["actual"] = *actual
	}
	if err := e.Events.Append(ctx, tx, "outcome.set", id, actorID, payload); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return e.Repo.GetRecord(ctx, id)
}

// SetAgenda flags a proposal for the next committee meeting, with the
// prior meeting number when the item is carried over.
func (e Engine) SetAgenda(ctx context.Context, id string, planned bool, prevMeeting *int, actorID string) (domain.ChangeRecord, error) {
	rec, err := e.Repo.GetRecord(ctx, id)
	if err != nil {
		return rec, err
	}
	if rec.Type != domain.TypePRC {
		return rec, fmt.Errorf("record %s is not a proposal; only PRC records appear on the agenda", id)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgenda(ctx, tx, id, planned, prevMeeting); err != nil {
		return rec, err
	}
	payload := events.EventPayload{"planned": planned}
	if prevMeeting != nil {
		payload["previous_meeting"] = *prevMeeting
	}
	if err := e.Events.Append(ctx, tx, "agenda.updated", id, actorID, payload); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return e.Repo.GetRecord(ctx, id)
}

// View returns the filtered record set in original insertion order.
func (e Engine) View(ctx context.Context, f view.Filter) ([]domain.ChangeRecord, error) {
	recs, err := e.Source.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	return view.Apply(recs, f), nil
}

// SummaryReport couples the view summary with the per-package rollup.
type SummaryReport struct {
	Summary           metrics.Summary         `json:"summary"`
	Packages          []metrics.PackageTotals `json:"packages"`
	TotalProjectValue int64                   `json:"total_project_value"`
	LimitPercent      float64                 `json:"limit_percent"`
}

// Summary computes the dashboard figures for the filtered view.
func (e Engine) Summary(ctx context.Context, f view.Filter) (SummaryReport, error) {
	recs, err := e.View(ctx, f)
	if err != nil {
		return SummaryReport{}, err
	}
	total := e.Config.TotalProjectValue()
	limit := e.Config.LimitPercent()
	return SummaryReport{
		Summary:           metrics.Summarize(recs, e.Config.AcceptedTargets(), total, limit),
		Packages:          metrics.PackageRollup(recs),
		TotalProjectValue: total,
		LimitPercent:      limit,
	}, nil
}

// ExportCSV renders the filtered view as CSV, returning the dated
// filename alongside the payload. Day counts use the current clock.
func (e Engine) ExportCSV(ctx context.Context, f view.Filter) (string, []byte, error) {
	recs, err := e.View(ctx, f)
	if err != nil {
		return "", nil, err
	}
	asOf := e.now()
	return export.Filename(asOf), []byte(export.CSV(recs, asOf)), nil
}
