package changeboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Changeboard HTTP API client.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Record represents the API record model (partial).
type Record struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Package         string `json:"package"`
	Title           string `json:"title"`
	Estimated       *int64 `json:"estimated,omitempty"`
	Actual          *int64 `json:"actual,omitempty"`
	StageKey        string `json:"stage_key"`
	SubStatus       string `json:"sub_status,omitempty"`
	Outcome         string `json:"outcome,omitempty"`
	Sponsor         string `json:"sponsor,omitempty"`
	StageName       string `json:"stage_name"`
	ProgressPercent int    `json:"progress_percent"`
	DaysInStage     int    `json:"days_in_stage"`
	OverallDays     int    `json:"overall_days"`
	Completed       bool   `json:"completed"`
	Variance        *int64 `json:"variance,omitempty"`
}

// Summary mirrors the /summary response.
type Summary struct {
	Totals struct {
		Total             int     `json:"total"`
		PCRToEI           int     `json:"pcr_to_ei"`
		PCRToOther        int     `json:"pcr_to_other"`
		Completed         int     `json:"completed"`
		Agenda            int     `json:"agenda"`
		CarryOver         int     `json:"carry_over"`
		Rejected          int     `json:"rejected"`
		EstimatedSum      int64   `json:"estimated_sum"`
		ApprovedActualSum int64   `json:"approved_actual_sum"`
		ChangePercent     float64 `json:"change_percent"`
		PercentOfLimit    float64 `json:"percent_of_limit"`
	} `json:"summary"`
	TotalProjectValue int64   `json:"total_project_value"`
	LimitPercent      float64 `json:"limit_percent"`
	Currency          string  `json:"currency,omitempty"`
}

// Stage represents a lifecycle stage.
type Stage struct {
	Key             string `json:"key"`
	Order           int    `json:"order"`
	Name            string `json:"name"`
	ProgressPercent int    `json:"progress_percent"`
	SLADays         int    `json:"sla_days"`
}

// Filter narrows list and summary calls.
type Filter struct {
	Stage   string
	Package string
	Search  string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListStages returns the lifecycle stages in order.
func (c *Client) ListStages(ctx context.Context) ([]Stage, error) {
	var resp []Stage
	err := c.do(ctx, http.MethodGet, "v0/stages", nil, &resp)
	return resp, err
}

// ListRecords returns the filtered record view.
func (c *Client) ListRecords(ctx context.Context, f Filter) ([]Record, error) {
	var resp struct {
		Items []Record `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/records", f), nil, &resp)
	return resp.Items, err
}

// GetRecord fetches a record by id.
func (c *Client) GetRecord(ctx context.Context, id string) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodGet, "v0/records/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ImportRecords posts a batch of records.
func (c *Client) ImportRecords(ctx context.Context, records []map[string]any) (int, error) {
	var resp struct {
		Imported int `json:"imported"`
	}
	err := c.do(ctx, http.MethodPost, "v0/records", map[string]any{"records": records}, &resp)
	return resp.Imported, err
}

// SetStage moves a record to a stage.
func (c *Client) SetStage(ctx context.Context, id, stageKey, subStatus string, force bool) (Record, error) {
	body := map[string]any{
		"stage_key":  stageKey,
		"sub_status": subStatus,
		"force":      force,
	}
	var resp Record
	err := c.do(ctx, http.MethodPatch, "v0/records/"+url.PathEscape(id)+"/stage", body, &resp)
	return resp, err
}

// SetOutcome sets a record's terminal outcome.
func (c *Client) SetOutcome(ctx context.Context, id, outcome string, actual *int64) (Record, error) {
	body := map[string]any{"outcome": outcome}
	if actual != nil {
		body["actual"] = *actual
	}
	var resp Record
	err := c.do(ctx, http.MethodPatch, "v0/records/"+url.PathEscape(id)+"/outcome", body, &resp)
	return resp, err
}

// GetSummary fetches summary metrics for the filtered view.
func (c *Client) GetSummary(ctx context.Context, f Filter) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, withQuery("v0/summary", f), nil, &resp)
	return resp, err
}

// ExportCSV downloads the CSV register and returns the suggested
// filename with the raw bytes.
func (c *Client) ExportCSV(ctx context.Context, f Filter) (string, []byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	endpoint := c.base() + "/" + withQuery("v0/export.csv", f)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	name := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	return name, b, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withQuery(endpoint string, f Filter) string {
	q := url.Values{}
	if f.Stage != "" {
		q.Set("stage", f.Stage)
	}
	if f.Package != "" {
		q.Set("package", f.Package)
	}
	if f.Search != "" {
		q.Set("q", f.Search)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func filenameFromDisposition(h string) string {
	for _, part := range strings.Split(h, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "filename=") {
			return strings.Trim(strings.TrimPrefix(part, "filename="), `"`)
		}
	}
	return ""
}
