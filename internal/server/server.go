package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"changeboard/internal/classify"
	"changeboard/internal/domain"
	"changeboard/internal/engine"
	"changeboard/internal/export"
	"changeboard/internal/metrics"
	"changeboard/internal/repo"
	"changeboard/internal/stage"
	"changeboard/internal/view"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"record not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Changeboard API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Changeboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStages(group)
	registerRecords(group, cfg.Engine)
	registerSummary(group, cfg.Engine)
	registerAgenda(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerExport(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "forward only"):
		return newAPIError(http.StatusConflict, "stage_regression", msg, nil)
	case strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown package") || strings.Contains(lowered, "not a proposal"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		log.Error().Err(err).Msg("request failed")
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

type FilterParams struct {
	Stage   string `query:"stage" doc:"Stage key or All"`
	Package string `query:"package" doc:"Package code or All"`
	Search  string `query:"q" doc:"Case-insensitive search over id, title, sponsor"`
}

func (p FilterParams) toFilter() view.Filter {
	return view.Filter{Stage: p.Stage, Package: p.Package, Search: p.Search}
}

func recordResponse(r domain.ChangeRecord, asOf time.Time) RecordResponse {
	return RecordResponse{
		ChangeRecord:    r,
		StageName:       stage.Of(r.StageKey).Name,
		ProgressPercent: stage.Progress(r.StageKey),
		DaysInStage:     stage.DaysInStage(r, asOf),
		OverallDays:     stage.OverallDays(r, asOf),
		OverSLA:         stage.OverSLA(r, asOf),
		Completed:       classify.IsCompleted(r),
		Variance:        metrics.Variance(r),
	}
}

func recordResponses(recs []domain.ChangeRecord, asOf time.Time) []RecordResponse {
	out := make([]RecordResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, recordResponse(r, asOf))
	}
	return out
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStages(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/stages",
		Summary:     "List lifecycle stages",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		stages := stage.All()
		out := make([]StageResponse, 0, len(stages))
		for _, s := range stages {
			out = append(out, stageResponse(s))
		}
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerRecords(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records",
		Summary:     "List records in the filtered view",
	}, func(ctx context.Context, input *struct {
		FilterParams
	}) (*struct {
		Body recordList `json:"body"`
	}, error) {
		recs, err := e.View(ctx, input.toFilter())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body recordList `json:"body"`
		}{Body: recordList{Items: recordResponses(recs, e.Now()), Total: len(recs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{record_id}",
		Summary:     "Get record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RecordID string `path:"record_id"`
	}) (*struct {
		Body RecordResponse `json:"body"`
	}, error) {
		rec, err := e.Repo.GetRecord(ctx, input.RecordID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordResponse `json:"body"`
		}{Body: recordResponse(rec, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-records",
		Method:        http.MethodPost,
		Path:          "/records",
		Summary:       "Import records",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ActorID string               `header:"X-Actor-Id"`
		Body    ImportRecordsRequest `json:"body"`
	}) (*struct {
		Body importResult `json:"body"`
	}, error) {
		if len(input.Body.Records) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "records required", nil)
		}
		recs := make([]domain.ChangeRecord, 0, len(input.Body.Records))
		for _, r := range input.Body.Records {
			recs = append(recs, r.toDomain())
		}
		n, err := e.ImportRecords(ctx, recs, actorOrDefault(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body importResult `json:"body"`
		}{Body: importResult{Imported: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-record-stage",
		Method:      http.MethodPatch,
		Path:        "/records/{record_id}/stage",
		Summary:     "Advance record stage",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RecordID string          `path:"record_id"`
		ActorID  string          `header:"X-Actor-Id"`
		Body     SetStageRequest `json:"body"`
	}) (*struct {
		Body RecordResponse `json:"body"`
	}, error) {
		rec, err := e.SetStage(ctx, input.RecordID, input.Body.StageKey, input.Body.SubStatus, actorOrDefault(input.ActorID), input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordResponse `json:"body"`
		}{Body: recordResponse(rec, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-record-outcome",
		Method:      http.MethodPatch,
		Path:        "/records/{record_id}/outcome",
		Summary:     "Set terminal outcome",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RecordID string            `path:"record_id"`
		ActorID  string            `header:"X-Actor-Id"`
		Body     SetOutcomeRequest `json:"body"`
	}) (*struct {
		Body RecordResponse `json:"body"`
	}, error) {
		rec, err := e.SetOutcome(ctx, input.RecordID, input.Body.Outcome, input.Body.Actual, actorOrDefault(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordResponse `json:"body"`
		}{Body: recordResponse(rec, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-record-agenda",
		Method:      http.MethodPatch,
		Path:        "/records/{record_id}/agenda",
		Summary:     "Set committee agenda flag",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RecordID string           `path:"record_id"`
		ActorID  string           `header:"X-Actor-Id"`
		Body     SetAgendaRequest `json:"body"`
	}) (*struct {
		Body RecordResponse `json:"body"`
	}, error) {
		rec, err := e.SetAgenda(ctx, input.RecordID, input.Body.Planned, input.Body.PreviousMeeting, actorOrDefault(input.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordResponse `json:"body"`
		}{Body: recordResponse(rec, e.Now())}, nil
	})
}

func registerSummary(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "summary",
		Method:      http.MethodGet,
		Path:        "/summary",
		Summary:     "Summary metrics for the filtered view",
	}, func(ctx context.Context, input *struct {
		FilterParams
	}) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		rep, err := e.Summary(ctx, input.toFilter())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: summaryResponse(e.Config, rep.Summary, rep.Packages, rep.TotalProjectValue, rep.LimitPercent)}, nil
	})
}

func registerAgenda(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "agenda",
		Method:      http.MethodGet,
		Path:        "/agenda",
		Summary:     "Next committee meeting agenda",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AgendaResponse `json:"body"`
	}, error) {
		recs, err := e.View(ctx, view.Filter{})
		if err != nil {
			return nil, handleError(err)
		}
		asOf := e.Now()
		return &struct {
			Body AgendaResponse `json:"body"`
		}{Body: AgendaResponse{
			Items:     recordResponses(classify.Agenda(recs), asOf),
			CarryOver: recordResponses(classify.CarryOver(recs), asOf),
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest lifecycle events",
	}, func(ctx context.Context, input *struct {
		N        int    `query:"n" default:"20"`
		Type     string `query:"type"`
		RecordID string `query:"record_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.N, input.Type, input.RecordID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

// registerExport serves CSV on a plain chi route; huma is JSON-centric
// and the export is a file download.
func registerExport(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "export.csv"), func(w http.ResponseWriter, req *http.Request) {
		f := view.Filter{
			Stage:   req.URL.Query().Get("stage"),
			Package: req.URL.Query().Get("package"),
			Search:  req.URL.Query().Get("q"),
		}
		name, data, err := e.ExportCSV(req.Context(), f)
		if err != nil {
			log.Error().Err(err).Msg("csv export failed")
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", export.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Write(data)
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Changeboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func actorOrDefault(actorID string) string {
	if actorID == "" {
		return "api-user"
	}
	return actorID
}
