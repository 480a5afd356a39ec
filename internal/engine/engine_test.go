package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"changeboard/internal/config"
	"changeboard/internal/db"
	"changeboard/internal/domain"
	"changeboard/internal/engine"
	"changeboard/internal/metrics"
	"changeboard/internal/migrate"
	"changeboard/internal/seed"
	"changeboard/internal/stage"
	"changeboard/internal/view"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("port-x"))
	eng.Now = func() time.Time { return time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func amount(v int64) *int64 { return &v }

func TestImportAndView(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.ImportRecords(env.Ctx, seed.Demo(), "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 12 {
		t.Fatalf("imported = %d, want 12", n)
	}
	all, err := env.Engine.View(env.Ctx, view.Filter{})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(all) != 12 {
		t.Fatalf("view size = %d, want 12", len(all))
	}
	// insertion order survives the round trip
	if all[0].ID != "PCR-A-001" || all[11].ID != "CO-B-027" {
		t.Fatalf("view order = %s .. %s", all[0].ID, all[11].ID)
	}
	packageA, err := env.Engine.View(env.Ctx, view.Filter{Package: "A"})
	if err != nil {
		t.Fatal(err)
	}
	if len(packageA) != 3 {
		t.Fatalf("package A view = %d, want 3", len(packageA))
	}
}

func TestImportValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		rec  domain.ChangeRecord
		want string
	}{
		{"missing title", domain.ChangeRecord{ID: "X-1", Type: "PRC", Package: "A"}, "title is required"},
		{"missing package", domain.ChangeRecord{ID: "X-2", Type: "PRC", Title: "t"}, "package is required"},
		{"bad type", domain.ChangeRecord{ID: "X-3", Type: "Memo", Package: "A", Title: "t"}, "invalid type"},
		{"unknown package", domain.ChangeRecord{ID: "X-4", Type: "PRC", Package: "ZZ", Title: "t"}, "unknown package"},
	}
	for _, tc := range cases {
		_, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{tc.rec}, "tester")
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want containing %q", tc.name, err, tc.want)
		}
	}
}

func TestImportDefaults(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{
		{Type: "PRC", Package: "A", Title: "Anonymous proposal"},
	}, "tester")
	if err != nil || n != 1 {
		t.Fatalf("import: n=%d err=%v", n, err)
	}
	all, err := env.Engine.View(env.Ctx, view.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	r := all[0]
	if r.ID == "" {
		t.Fatal("missing id must be generated")
	}
	if r.StageKey != stage.KeyPRC {
		t.Fatalf("default stage = %s, want PRC", r.StageKey)
	}
	if r.OverallStartDate != "2026-08-29" || r.StageStartDate != "2026-08-29" {
		t.Fatalf("default dates = %s / %s", r.StageStartDate, r.OverallStartDate)
	}
}

func TestImportBatchCompletes(t *testing.T) {
	env := newTestEnv(t)
	// Multi-record batches must finish; the duplicate check runs inside
	// the import transaction and must not wait on its own write lock.
	done := make(chan error, 1)
	go func() {
		_, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{
			{ID: "PCR-A-101", Type: "PRC", Package: "A", Title: "First of batch"},
			{ID: "PCR-B-102", Type: "PRC", Package: "B", Title: "Second of batch"},
			{ID: "PCR-C-103", Type: "PRC", Package: "C", Title: "Third of batch"},
		}, "tester")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("import: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("batch import did not complete")
	}
	all, err := env.Engine.View(env.Ctx, view.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("view size = %d, want 3", len(all))
	}
}

func TestImportDuplicateWithinBatch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{
		{ID: "PCR-A-001", Type: "PRC", Package: "A", Title: "First"},
		{ID: "PCR-A-001", Type: "PRC", Package: "A", Title: "Same id again"},
	}, "tester")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	// the whole batch rolls back
	all, err := env.Engine.View(env.Ctx, view.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("view size = %d, want 0 after rollback", len(all))
	}
}

func TestImportDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	rec := domain.ChangeRecord{ID: "PCR-A-001", Type: "PRC", Package: "A", Title: "First"}
	if _, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{rec}, "tester"); err != nil {
		t.Fatalf("first import: %v", err)
	}
	_, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{rec}, "tester")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestImportKeepsUnknownStage(t *testing.T) {
	env := newTestEnv(t)
	rec := domain.ChangeRecord{ID: "X-9", Type: "PRC", Package: "A", Title: "t", StageKey: "FUTURE_STAGE"}
	n, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{rec}, "tester")
	if err != nil || n != 1 {
		t.Fatalf("unknown stage must import: n=%d err=%v", n, err)
	}
	got, err := env.Engine.Repo.GetRecord(env.Ctx, "X-9")
	if err != nil {
		t.Fatal(err)
	}
	if got.StageKey != "FUTURE_STAGE" {
		t.Fatalf("stage key = %s, want preserved", got.StageKey)
	}
}

func TestStageTransitions(t *testing.T) {
	env := newTestEnv(t)
	rec := domain.ChangeRecord{
		ID: "PCR-A-001", Type: "PRC", Package: "A", Title: "t",
		StageKey: "PRC", SubStatus: "Submitted to CC", StageStartDate: "2026-06-01",
	}
	if _, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{rec}, "tester"); err != nil {
		t.Fatal(err)
	}
	// forward move resets the stage clock
	got, err := env.Engine.SetStage(env.Ctx, "PCR-A-001", "CC_OUTCOME", "Pending Decision", "tester", false)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got.StageKey != "CC_OUTCOME" || got.StageStartDate != "2026-08-29" {
		t.Fatalf("advanced record = %+v", got)
	}
	// regression is rejected without force
	_, err = env.Engine.SetStage(env.Ctx, "PCR-A-001", "PRC", "", "tester", false)
	if err == nil || !strings.Contains(err.Error(), "forward only") {
		t.Fatalf("expected regression error, got %v", err)
	}
	// force overrides
	got, err = env.Engine.SetStage(env.Ctx, "PCR-A-001", "PRC", "Internal Review", "tester", true)
	if err != nil || got.StageKey != "PRC" {
		t.Fatalf("forced regression: %v", err)
	}
}

func TestSetStageSameStageKeepsClock(t *testing.T) {
	env := newTestEnv(t)
	rec := domain.ChangeRecord{
		ID: "EI-A-011", Type: "EI", Package: "A", Title: "t",
		StageKey: "EI", SubStatus: "In Preparation", StageStartDate: "2026-07-01",
	}
	if _, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{rec}, "tester"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.SetStage(env.Ctx, "EI-A-011", "EI", "Issued", "tester", false)
	if err != nil {
		t.Fatalf("sub-status move: %v", err)
	}
	if got.SubStatus != "Issued" {
		t.Fatalf("sub-status = %s", got.SubStatus)
	}
	stored, _ := env.Engine.Repo.GetRecord(env.Ctx, "EI-A-011")
	if stored.StageStartDate != "2026-07-01" {
		t.Fatalf("stage clock reset on sub-status change: %s", stored.StageStartDate)
	}
}

func TestSetStageValidatesSubStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := domain.ChangeRecord{ID: "X-1", Type: "PRC", Package: "A", Title: "t", StageKey: "PRC"}
	if _, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{rec}, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SetStage(env.Ctx, "X-1", "CC_OUTCOME", "Percolating", "tester", false)
	if err == nil || !strings.Contains(err.Error(), "invalid sub-status") {
		t.Fatalf("expected sub-status error, got %v", err)
	}
	// forced writes bypass the option list
	if _, err := env.Engine.SetStage(env.Ctx, "X-1", "CC_OUTCOME", "Percolating", "tester", true); err != nil {
		t.Fatalf("forced sub-status: %v", err)
	}
	_, err = env.Engine.SetStage(env.Ctx, "X-1", "NOT_A_STAGE", "", "tester", true)
	if err == nil || !strings.Contains(err.Error(), "invalid stage key") {
		t.Fatalf("unknown stage must be rejected even when forced, got %v", err)
	}
}

func TestSetOutcome(t *testing.T) {
	env := newTestEnv(t)
	rec := domain.ChangeRecord{
		ID: "CO-G-032", Type: "CO", Package: "G", Title: "t",
		StageKey: "CO_V_VOS", Estimated: amount(2_000_000),
	}
	if _, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{rec}, "tester"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.SetOutcome(env.Ctx, "CO-G-032", domain.OutcomeApproved, amount(1_850_000), "tester")
	if err != nil {
		t.Fatalf("set outcome: %v", err)
	}
	if got.Outcome != domain.OutcomeApproved {
		t.Fatalf("outcome = %s", got.Outcome)
	}
	if v := metrics.Variance(got); v == nil || *v != -150_000 {
		t.Fatalf("variance = %v, want -150000", v)
	}
	// outcome without an actual keeps the stored amount
	got, err = env.Engine.SetOutcome(env.Ctx, "CO-G-032", domain.OutcomeSuperseded, nil, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if got.Actual == nil || *got.Actual != 1_850_000 {
		t.Fatalf("actual lost on outcome change: %v", got.Actual)
	}
	if _, err := env.Engine.SetOutcome(env.Ctx, "CO-G-032", "Maybe", nil, "tester"); err == nil {
		t.Fatal("expected invalid outcome error")
	}
	if _, err := env.Engine.SetOutcome(env.Ctx, "CO-G-032", domain.OutcomeApproved, amount(-5), "tester"); err == nil {
		t.Fatal("expected negative actual error")
	}
}

func TestSetAgenda(t *testing.T) {
	env := newTestEnv(t)
	recs := []domain.ChangeRecord{
		{ID: "PCR-A-001", Type: "PRC", Package: "A", Title: "t", StageKey: "PRC"},
		{ID: "EI-A-011", Type: "EI", Package: "A", Title: "t", StageKey: "EI"},
	}
	if _, err := env.Engine.ImportRecords(env.Ctx, recs, "tester"); err != nil {
		t.Fatal(err)
	}
	prev := 42
	got, err := env.Engine.SetAgenda(env.Ctx, "PCR-A-001", true, &prev, "tester")
	if err != nil {
		t.Fatalf("set agenda: %v", err)
	}
	if !got.CCPlannedForNext || got.CCPreviousMeeting == nil || *got.CCPreviousMeeting != 42 {
		t.Fatalf("agenda record = %+v", got)
	}
	_, err = env.Engine.SetAgenda(env.Ctx, "EI-A-011", true, nil, "tester")
	if err == nil || !strings.Contains(err.Error(), "not a proposal") {
		t.Fatalf("expected proposal-only error, got %v", err)
	}
}

func TestEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	rec := domain.ChangeRecord{ID: "PCR-A-001", Type: "PRC", Package: "A", Title: "t", StageKey: "PRC"}
	if _, err := env.Engine.ImportRecords(env.Ctx, []domain.ChangeRecord{rec}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetStage(env.Ctx, "PCR-A-001", "CC_OUTCOME", "Endorsed", "tester", false); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "PCR-A-001")
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	// newest first
	if events[0].Type != "stage.changed" || events[1].Type != "record.imported" {
		t.Fatalf("event types = %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].ActorID != "tester" {
		t.Fatalf("actor = %s", events[0].ActorID)
	}
	byType, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "stage.changed", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 {
		t.Fatalf("filtered events = %d, want 1", len(byType))
	}
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRecords(env.Ctx, seed.Demo(), "tester"); err != nil {
		t.Fatal(err)
	}
	rep, err := env.Engine.Summary(env.Ctx, view.Filter{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if rep.TotalProjectValue != 500_000_000 || rep.LimitPercent != 10 {
		t.Fatalf("config figures = %d / %v", rep.TotalProjectValue, rep.LimitPercent)
	}
	if rep.Summary.Total != 12 || rep.Summary.ApprovedActualSum != 3_150_000 {
		t.Fatalf("summary = %+v", rep.Summary)
	}
	if len(rep.Packages) != 3 {
		t.Fatalf("package rollup = %d entries, want 3", len(rep.Packages))
	}
	// a filtered view recomputes against the same project figures
	rep, err = env.Engine.Summary(env.Ctx, view.Filter{Package: "G"})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Summary.Total != 1 || rep.Summary.ApprovedActualSum != 1_850_000 {
		t.Fatalf("filtered summary = %+v", rep.Summary)
	}
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ImportRecords(env.Ctx, seed.Demo(), "tester"); err != nil {
		t.Fatal(err)
	}
	name, data, err := env.Engine.ExportCSV(env.Ctx, view.Filter{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if name != "change-orders-2026-08-29.csv" {
		t.Fatalf("filename = %q", name)
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) != 13 {
		t.Fatalf("lines = %d, want 13", len(lines))
	}
}
