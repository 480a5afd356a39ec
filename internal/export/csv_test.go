package export_test

import (
	"strings"
	"testing"
	"time"

	"changeboard/internal/domain"
	"changeboard/internal/export"
	"changeboard/internal/seed"
)

func amount(v int64) *int64 { return &v }

var asOf = time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

func TestCSVShape(t *testing.T) {
	recs := seed.Demo()
	out := export.CSV(recs, asOf)
	if strings.HasSuffix(out, "\n") {
		t.Fatal("no trailing newline")
	}
	lines := strings.Split(out, "\n")
	if len(lines) != len(recs)+1 {
		t.Fatalf("lines = %d, want %d", len(lines), len(recs)+1)
	}
	header := strings.Split(lines[0], ",")
	if len(header) != 13 {
		t.Fatalf("header columns = %d, want 13", len(header))
	}
	if header[0] != "ID" || header[12] != "OverallDays" {
		t.Fatalf("header = %v", header)
	}
}

func TestCSVEmptyView(t *testing.T) {
	out := export.CSV(nil, asOf)
	if out != strings.Join(export.Header, ",") {
		t.Fatalf("empty view must render header only, got %q", out)
	}
}

func TestRowValues(t *testing.T) {
	rec := domain.ChangeRecord{
		ID: "CO-G-032", Type: "CO", Package: "G",
		Title:     "Substation switchgear upgrade",
		Estimated: amount(2_000_000), Actual: amount(1_850_000),
		StageKey: "CO_V_VOS", SubStatus: "Done", Sponsor: "Grid Operator",
		StageStartDate: "2026-08-19", OverallStartDate: "2026-08-09",
	}
	out := export.CSV([]domain.ChangeRecord{rec}, asOf)
	row := strings.Split(out, "\n")[1]
	want := `CO-G-032,CO,G,"Substation switchgear upgrade",2000000,1850000,-150000,CO / V / VOS,Done,,Grid Operator,10,20`
	if row != want {
		t.Fatalf("row = %q\nwant %q", row, want)
	}
}

func TestMissingAmountsStayEmpty(t *testing.T) {
	rec := domain.ChangeRecord{ID: "PCR-E-021", Type: "PRC", Package: "E", Title: "Study", StageKey: "PRC"}
	row := strings.Split(export.CSV([]domain.ChangeRecord{rec}, asOf), "\n")[1]
	cells := strings.Split(row, ",")
	if cells[4] != "" || cells[5] != "" || cells[6] != "" {
		t.Fatalf("missing amounts must render empty, got %v", cells[4:7])
	}
}

func TestQuoting(t *testing.T) {
	rec := domain.ChangeRecord{
		ID: "PCR-X-001", Type: "PRC", Package: "X",
		Title:   `Realign "north" quay, phase 2`,
		Sponsor: "Ports, Harbors & Marine",
	}
	row := strings.Split(export.CSV([]domain.ChangeRecord{rec}, asOf), "\n")[1]
	if !strings.Contains(row, `"Realign ""north"" quay, phase 2"`) {
		t.Fatalf("title quoting broken: %q", row)
	}
	if !strings.Contains(row, `"Ports, Harbors & Marine"`) {
		t.Fatalf("sponsor with comma must be quoted: %q", row)
	}
	// unquoted simple fields stay bare
	if strings.Contains(row, `"PCR-X-001"`) {
		t.Fatalf("plain id must not be quoted: %q", row)
	}
}

func TestFilename(t *testing.T) {
	if got := export.Filename(asOf); got != "change-orders-2026-08-29.csv" {
		t.Fatalf("filename = %q", got)
	}
}
