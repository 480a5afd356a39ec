// Package export renders the current view as CSV for download.
//
// Quoting policy: Title is always quoted; any other field is quoted
// only when it contains a comma, a double quote, or a newline.
// Embedded quotes are doubled. This closes the partial-quoting gap of
// earlier dashboard revisions, where a sponsor containing a comma
// produced a malformed row.
package export

import (
	"strconv"
	"strings"
	"time"

	"changeboard/internal/domain"
	"changeboard/internal/metrics"
	"changeboard/internal/stage"
)

// Header is the fixed column set, in order.
var Header = []string{
	"ID", "Type", "Package", "Title", "Estimated", "Actual", "Variance",
	"Stage", "SubStatus", "PRCTarget", "Sponsor", "DaysInStage", "OverallDays",
}

// Filename returns the dated export filename.
func Filename(asOf time.Time) string {
	return "change-orders-" + asOf.Format("2006-01-02") + ".csv"
}

// ContentType is the MIME type of the export.
const ContentType = "text/csv;charset=utf-8"

// CSV renders records in view order: header plus one line per record,
// joined with single newlines and no trailing newline. Day counts are
// relative to asOf.
func CSV(recs []domain.ChangeRecord, asOf time.Time) string {
	lines := make([]string, 0, len(recs)+1)
	lines = append(lines, strings.Join(Header, ","))
	for _, r := range recs {
		lines = append(lines, row(r, asOf))
	}
	return strings.Join(lines, "\n")
}

func row(r domain.ChangeRecord, asOf time.Time) string {
	fields := []string{
		field(r.ID, false),
		field(r.Type, false),
		field(r.Package, false),
		field(r.Title, true),
		amount(r.Estimated),
		amount(r.Actual),
		amount(metrics.Variance(r)),
		field(stage.Of(r.StageKey).Name, false),
		field(r.SubStatus, false),
		field(r.Target, false),
		field(r.Sponsor, false),
		strconv.Itoa(stage.DaysInStage(r, asOf)),
		strconv.Itoa(stage.OverallDays(r, asOf)),
	}
	return strings.Join(fields, ",")
}

// amount renders an optional monetary value; absent stays empty, never
// "0" or "null".
func amount(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func field(s string, force bool) string {
	if force || strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
