package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"changeboard/internal/config"
	"changeboard/internal/db"
	"changeboard/internal/engine"
	"changeboard/internal/migrate"
	"changeboard/internal/seed"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("port-x"))
	e.Now = func() time.Time { return time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC) }
	if _, err := e.ImportRecords(context.Background(), seed.Demo(), "tester"); err != nil {
		t.Fatalf("seed records: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestListRecordsFiltered(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/records", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list struct {
		Items []RecordResponse `json:"items"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Total != 12 || len(list.Items) != 12 {
		t.Fatalf("total = %d, items = %d", list.Total, len(list.Items))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/records?q=hydrant", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("search status %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 || list.Items[0].ID != "PCR-H-019" {
		t.Fatalf("hydrant search = %+v", list)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/records?stage=All&package=A", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filter status %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 3 {
		t.Fatalf("package A total = %d, want 3", list.Total)
	}
}

func TestGetRecordDerivedFields(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/records/CO-G-032", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}
	var rec RecordResponse
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.StageName != "CO / V / VOS" || rec.ProgressPercent != 83 {
		t.Fatalf("derived stage = %s / %d", rec.StageName, rec.ProgressPercent)
	}
	if !rec.Completed {
		t.Fatal("Done commercial record must report completed")
	}
	if rec.Variance == nil || *rec.Variance != -150_000 {
		t.Fatalf("variance = %v", rec.Variance)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/records/NOPE", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing record status %d: %s", res.StatusCode, data)
	}
	var apiErr struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &apiErr); err != nil {
		t.Fatal(err)
	}
	if apiErr.Error.Code != "not_found" {
		t.Fatalf("error code = %q", apiErr.Error.Code)
	}
}

func TestStagePatch(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/records/PCR-A-001/stage", map[string]any{
		"stage_key":  "CC_OUTCOME",
		"sub_status": "Pending Decision",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance status %d: %s", res.StatusCode, data)
	}
	var rec RecordResponse
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.StageKey != "CC_OUTCOME" || rec.ProgressPercent != 33 {
		t.Fatalf("advanced = %s / %d", rec.StageKey, rec.ProgressPercent)
	}

	// regression without force conflicts
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/records/PCR-A-001/stage", map[string]any{
		"stage_key": "PRC",
	})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("regression status %d: %s", res.StatusCode, data)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/records/PCR-A-001/stage", map[string]any{
		"stage_key": "PRC",
		"force":     true,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("forced regression status %d", res.StatusCode)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/summary", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, data)
	}
	var sum SummaryResponse
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Summary.Total != 12 {
		t.Fatalf("total = %d", sum.Summary.Total)
	}
	if sum.TotalProjectValue != 500_000_000 || sum.LimitPercent != 10 {
		t.Fatalf("project figures = %d / %v", sum.TotalProjectValue, sum.LimitPercent)
	}
	if sum.Summary.ChangePercent != 0.63 {
		t.Fatalf("change percent = %v, want rounded 0.63", sum.Summary.ChangePercent)
	}
	if sum.Currency != "USD" {
		t.Fatalf("currency = %q", sum.Currency)
	}
}

func TestAgendaEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agenda", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("agenda status %d: %s", res.StatusCode, data)
	}
	var agenda AgendaResponse
	if err := json.Unmarshal(data, &agenda); err != nil {
		t.Fatal(err)
	}
	if len(agenda.Items) != 3 || len(agenda.CarryOver) != 2 {
		t.Fatalf("agenda = %d items, %d carry-over", len(agenda.Items), len(agenda.CarryOver))
	}
}

func TestImportEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records", map[string]any{
		"records": []map[string]any{
			{"id": "PCR-A-100", "type": "PRC", "package": "A", "title": "New proposal", "target": "EI"},
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, data)
	}
	var result struct {
		Imported int `json:"imported"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Imported != 1 {
		t.Fatalf("imported = %d", result.Imported)
	}

	// duplicate id conflicts
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/records", map[string]any{
		"records": []map[string]any{
			{"id": "PCR-A-100", "type": "PRC", "package": "A", "title": "Again"},
		},
	})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status %d: %s", res.StatusCode, data)
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, err := srv.Client().Get(srv.URL + "/v0/export.csv")
	if err != nil {
		t.Fatalf("get export: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d", res.StatusCode)
	}
	if got := res.Header.Get("Content-Type"); got != "text/csv;charset=utf-8" {
		t.Fatalf("content type = %q", got)
	}
	if got := res.Header.Get("Content-Disposition"); !strings.Contains(got, "change-orders-2026-08-29.csv") {
		t.Fatalf("disposition = %q", got)
	}
	body, _ := io.ReadAll(res.Body)
	lines := strings.Split(string(body), "\n")
	if len(lines) != 13 {
		t.Fatalf("csv lines = %d, want 13", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ID,Type,Package,Title") {
		t.Fatalf("csv header = %q", lines[0])
	}
}

func TestStagesEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/stages", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stages status %d", res.StatusCode)
	}
	var stages []StageResponse
	if err := json.Unmarshal(data, &stages); err != nil {
		t.Fatal(err)
	}
	if len(stages) != 6 {
		t.Fatalf("stages = %d, want 6", len(stages))
	}
	if stages[0].Key != "PRC" || stages[5].ProgressPercent != 100 {
		t.Fatalf("stage registry = %+v", stages)
	}
}
