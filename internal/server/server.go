package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"watchbill/internal/domain"
	"watchbill/internal/engine"
	"watchbill/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"INVALID_STATE_TRANSITION"`
	Message string         `json:"message" example:"cannot sign from DRAFT"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Watchbill API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Watchbill API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerYachts(group, cfg.Engine)
	registerEntries(group, cfg.Engine)
	registerDrafts(group, cfg.Engine)
	registerReview(group, cfg.Engine)
	registerSignoff(group, cfg.Engine)
	registerExports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startExportDispatcher(cfg.Engine)
	startWebhookDispatcher(cfg.Engine)

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

// handleError maps typed domain errors onto the HTTP envelope. All handler
// error paths funnel through here so the taxonomy stays in one place.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ste domain.StateTransitionError
	if errors.As(err, &ste) {
		return newAPIError(http.StatusConflict, ste.Code(), err.Error(), map[string]any{
			"from":   string(ste.From),
			"action": string(ste.Action),
		})
	}
	var ce domain.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, ce.Code(), err.Error(), nil)
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, ve.Code(), err.Error(), nil)
	}
	var ie domain.IntegrityError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusInternalServerError, ie.Code(), err.Error(), map[string]any{
			"draft_id": ie.DraftID,
			"stored":   ie.Stored,
			"computed": ie.Computed,
		})
	}
	var fe domain.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, fe.Code(), err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "INTERNAL", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	case http.StatusInternalServerError:
		return "INTERNAL"
	default:
		return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// tenantFromPrincipal derives the tenant scope for routes that are implicitly
// scoped to the caller's yacht.
func tenantFromPrincipal(ctx context.Context) (domain.TenantContext, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok || p.UserID == "" {
		return domain.TenantContext{}, newAPIError(http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	}
	if p.YachtID == "" {
		return domain.TenantContext{}, newAPIError(http.StatusForbidden, "FORBIDDEN", "credential carries no yacht scope", nil)
	}
	return domain.TenantContext{YachtID: p.YachtID, UserID: p.UserID, Role: p.Role}, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Watchbill API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerYachts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-yacht",
		Method:        http.MethodPost,
		Path:          "/yachts",
		Summary:       "Register yacht",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body RegisterYachtRequest
	}) (*struct {
		Body domain.Yacht
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		}
		y, err := e.RegisterYacht(ctx, input.Body.ID, input.Body.Name, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Yacht
		}{Body: y}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-yacht",
		Method:      http.MethodGet,
		Path:        "/yacht",
		Summary:     "Current yacht",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Yacht
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		y, err := e.Repo.GetYacht(ctx, tctx.YachtID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Yacht
		}{Body: y}, nil
	})
}

func registerEntries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-entry",
		Method:        http.MethodPost,
		Path:          "/entries",
		Summary:       "Capture handover entry",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateEntryRequest
	}) (*struct {
		Body domain.HandoverItem
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item := domain.HandoverItem{
			EntityType:  input.Body.EntityType,
			EntityID:    input.Body.EntityID,
			SummaryText: input.Body.SummaryText,
			BucketHint:  input.Body.BucketHint,
			Priority:    input.Body.Priority,
			WebLink:     input.Body.WebLink,
			AddedAt:     input.Body.AddedAt,
		}
		if item.Priority == "" {
			item.Priority = "normal"
		}
		var out domain.HandoverItem
		var err error
		if input.Body.SessionID != nil && *input.Body.SessionID != "" {
			out, err = e.AddSessionEntry(ctx, tctx, *input.Body.SessionID, item)
		} else {
			out, err = e.AddQuickEntry(ctx, tctx, item)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.HandoverItem
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-entries",
		Method:      http.MethodGet,
		Path:        "/entries",
		Summary:     "List captured entries",
	}, func(ctx context.Context, input *struct {
		PeriodStart string `query:"period_start"`
		PeriodEnd   string `query:"period_end"`
		Limit       int    `query:"limit"`
	}) (*struct {
		Body []domain.HandoverItem
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var entries []domain.HandoverItem
		var err error
		if input.PeriodStart != "" || input.PeriodEnd != "" {
			entries, err = e.Aggregate(ctx, tctx, input.PeriodStart, input.PeriodEnd)
		} else {
			entries, err = e.Repo.ListEntries(ctx, tctx, input.Limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []domain.HandoverItem{}
		}
		return &struct {
			Body []domain.HandoverItem
		}{Body: entries}, nil
	})
}

func registerDrafts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-draft",
		Method:        http.MethodPost,
		Path:          "/drafts/generate",
		Summary:       "Generate handover draft",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body GenerateDraftRequest
	}) (*struct {
		Body struct {
			DraftID string `json:"draft_id"`
			State   string `json:"state"`
			Created bool   `json:"created"`
		}
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		draft, created, err := e.GenerateDraft(ctx, tctx, input.Body.PeriodStart, input.Body.PeriodEnd, input.Body.Department)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				DraftID string `json:"draft_id"`
				State   string `json:"state"`
				Created bool   `json:"created"`
			}
		}{}
		out.Body.DraftID = draft.ID
		out.Body.State = string(draft.State)
		out.Body.Created = created
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drafts",
		Method:      http.MethodGet,
		Path:        "/drafts",
		Summary:     "List drafts",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.Draft
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		drafts, err := e.Repo.ListDrafts(ctx, tctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if drafts == nil {
			drafts = []domain.Draft{}
		}
		return &struct {
			Body []domain.Draft
		}{Body: drafts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/drafts/{draft_id}",
		Summary:     "Draft detail",
	}, func(ctx context.Context, input *struct {
		DraftID         string `path:"draft_id"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body DraftDetailResponse
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		draft, err := e.Repo.GetDraft(ctx, tctx, input.DraftID)
		if err != nil {
			return nil, handleError(err)
		}
		sections, err := e.Repo.ListSections(ctx, draft.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListItems(ctx, draft.ID, input.IncludeArchived)
		if err != nil {
			return nil, handleError(err)
		}
		var signoff *domain.Signoff
		if s, err := e.Repo.GetSignoff(ctx, draft.ID); err == nil {
			signoff = &s
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		return &struct {
			Body DraftDetailResponse
		}{Body: draftDetail(draft, sections, items, signoff)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-draft-edits",
		Method:      http.MethodGet,
		Path:        "/drafts/{draft_id}/edits",
		Summary:     "Draft edit history",
	}, func(ctx context.Context, input *struct {
		DraftID string `path:"draft_id"`
	}) (*struct {
		Body []domain.DraftEdit
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDraft(ctx, tctx, input.DraftID); err != nil {
			return nil, handleError(err)
		}
		edits, err := e.Repo.ListEdits(ctx, input.DraftID)
		if err != nil {
			return nil, handleError(err)
		}
		if edits == nil {
			edits = []domain.DraftEdit{}
		}
		return &struct {
			Body []domain.DraftEdit
		}{Body: edits}, nil
	})
}

func registerReview(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "review-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{draft_id}/review",
		Summary:     "Enter review",
	}, func(ctx context.Context, input *struct {
		DraftID string `path:"draft_id"`
	}) (*struct {
		Body domain.Draft
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		draft, err := e.EnterReview(ctx, tctx, input.DraftID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Draft
		}{Body: draft}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-draft-item",
		Method:      http.MethodPatch,
		Path:        "/drafts/{draft_id}/items/{item_id}",
		Summary:     "Edit item text",
	}, func(ctx context.Context, input *struct {
		DraftID string `path:"draft_id"`
		ItemID  string `path:"item_id"`
		Body    EditItemRequest
	}) (*struct {
		Body struct {
			EditID    string `json:"edit_id"`
			EditCount int    `json:"edit_count"`
		}
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		edit, count, err := e.EditItem(ctx, tctx, input.DraftID, input.ItemID, input.Body.EditedText, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				EditID    string `json:"edit_id"`
				EditCount int    `json:"edit_count"`
			}
		}{}
		out.Body.EditID = edit.ID
		out.Body.EditCount = count
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "merge-draft-items",
		Method:        http.MethodPost,
		Path:          "/drafts/{draft_id}/merge",
		Summary:       "Merge items",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		DraftID string `path:"draft_id"`
		Body    MergeItemsRequest
	}) (*struct {
		Body domain.DraftItem
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		merged, err := e.MergeItems(ctx, tctx, input.DraftID, input.Body.ItemIDs, input.Body.MergedText)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DraftItem
		}{Body: merged}, nil
	})
}

func registerSignoff(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "accept-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{draft_id}/accept",
		Summary:     "Outgoing acceptance",
	}, func(ctx context.Context, input *struct {
		DraftID string `path:"draft_id"`
		Body    AcceptDraftRequest
	}) (*struct {
		Body SignoffStateResponse
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		signoff, err := e.Accept(ctx, tctx, input.DraftID, input.Body.Confirmed, input.Body.SectionsViewed)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignoffStateResponse
		}{Body: SignoffStateResponse{State: string(domain.StateAccepted), Signoff: signoff}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{draft_id}/sign",
		Summary:     "Incoming counter-signature",
	}, func(ctx context.Context, input *struct {
		DraftID string `path:"draft_id"`
		Body    SignDraftRequest
	}) (*struct {
		Body SignoffStateResponse
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !input.Body.Confirmed {
			return nil, handleError(domain.Validationf("signing requires the confirmation flag"))
		}
		signoff, err := e.Sign(ctx, tctx, input.DraftID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SignoffStateResponse
		}{Body: SignoffStateResponse{State: string(domain.StateSigned), Signoff: signoff}}, nil
	})
}

func registerExports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "export-draft",
		Method:        http.MethodPost,
		Path:          "/drafts/{draft_id}/export",
		Summary:       "Export signed draft",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		DraftID string `path:"draft_id"`
		Body    CreateExportRequest
	}) (*struct {
		Body domain.Export
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exp, err := e.Export(ctx, tctx, input.DraftID, input.Body.ExportType, input.Body.Recipients,
			time.Duration(input.Body.WaitSeconds)*time.Second)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Export
		}{Body: exp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-export",
		Method:      http.MethodGet,
		Path:        "/drafts/{draft_id}/exports/{export_id}",
		Summary:     "Export status",
	}, func(ctx context.Context, input *struct {
		DraftID  string `path:"draft_id"`
		ExportID string `path:"export_id"`
	}) (*struct {
		Body domain.Export
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exp, err := e.Repo.GetExport(ctx, tctx, input.DraftID, input.ExportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Export
		}{Body: exp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-exports",
		Method:      http.MethodGet,
		Path:        "/drafts/{draft_id}/exports",
		Summary:     "List exports",
	}, func(ctx context.Context, input *struct {
		DraftID string `path:"draft_id"`
	}) (*struct {
		Body []domain.Export
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exports, err := e.Repo.ListExports(ctx, tctx, input.DraftID)
		if err != nil {
			return nil, handleError(err)
		}
		if exports == nil {
			exports = []domain.Export{}
		}
		return &struct {
			Body []domain.Export
		}{Body: exports}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event tail",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		events, err := e.Repo.LatestEvents(ctx, input.Limit, tctx.YachtID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if events == nil {
			events = []domain.Event{}
		}
		return &struct {
			Body []domain.Event
		}{Body: events}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Issue API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*struct {
		Body APIKeyCreatedResponse
	}, error) {
		tctx, authErr := tenantFromPrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		secret, key, err := engine.NewAPIKey(ctx, e.Repo, tctx.YachtID, input.Body.UserID, input.Body.Role, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse
		}{Body: APIKeyCreatedResponse{
			ID:     key.ID,
			Key:    secret,
			UserID: key.UserID,
			Role:   key.Role,
			Name:   key.Name,
		}}, nil
	})
}
