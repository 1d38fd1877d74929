package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"watchbill/internal/config"
	"watchbill/internal/db"
	"watchbill/internal/domain"
	"watchbill/internal/engine"
	"watchbill/internal/migrate"
	"watchbill/internal/render"
	"watchbill/internal/storage"
)

const testJWTSecret = "test-secret"

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
	cfg := config.Default("y-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	renderer, err := render.New()
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	store, err := storage.NewFS(filepath.Join(workspace, "artifacts"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	e := engine.New(conn, cfg, renderer, store)
	if _, err := e.RegisterYacht(context.Background(), "y-1", "MY Test", "tester"); err != nil {
		t.Fatalf("register yacht: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testJWTSecret}})
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

func mintToken(t *testing.T, userID, role string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		YachtID: "y-1",
		Role:    role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	for k, v := range headers {
		req.Header.Set(k, v)
	}
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

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestAuthGate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health without credentials: %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/drafts", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %s", env.Error.Code)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/drafts", nil, authHeader("not-a-token"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", res.StatusCode)
	}
}

func TestHandoverLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	outgoing := authHeader(mintToken(t, "capt-1", "captain"))
	incoming := authHeader(mintToken(t, "co-1", "chief_officer"))

	for _, entry := range []map[string]any{
		{"entity_type": "defect", "summary_text": "Port main raw water pump weeping", "bucket_hint": "Engineering", "priority": "high", "added_at": "2024-01-03T08:00:00Z"},
		{"entity_type": "note", "summary_text": "Raw water pump spares ordered", "bucket_hint": "Engineering", "priority": "normal", "added_at": "2024-01-04T08:00:00Z"},
		{"entity_type": "note", "summary_text": "Radar magnetron nearing hours limit", "bucket_hint": "Bridge", "priority": "normal", "added_at": "2024-01-04T09:00:00Z"},
	} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/entries", entry, outgoing)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create entry status %d: %s", res.StatusCode, string(data))
		}
	}

	genRes, genData := doJSON(t, client, http.MethodPost, srv.URL+"/v1/drafts/generate", map[string]any{
		"period_start": "2024-01-01",
		"period_end":   "2024-01-07",
	}, outgoing)
	if genRes.StatusCode != http.StatusCreated {
		t.Fatalf("generate status %d: %s", genRes.StatusCode, string(genData))
	}
	var gen struct {
		DraftID string `json:"draft_id"`
		State   string `json:"state"`
		Created bool   `json:"created"`
	}
	if err := json.Unmarshal(genData, &gen); err != nil {
		t.Fatalf("unmarshal generate: %v", err)
	}
	if !gen.Created || gen.State != "DRAFT" {
		t.Fatalf("unexpected generation result: %+v", gen)
	}
	draftURL := srv.URL + "/v1/drafts/" + gen.DraftID

	// Regeneration converges on the same draft.
	_, genData = doJSON(t, client, http.MethodPost, srv.URL+"/v1/drafts/generate", map[string]any{
		"period_start": "2024-01-01",
		"period_end":   "2024-01-07",
	}, outgoing)
	var regen struct {
		DraftID string `json:"draft_id"`
		Created bool   `json:"created"`
	}
	_ = json.Unmarshal(genData, &regen)
	if regen.Created || regen.DraftID != gen.DraftID {
		t.Fatalf("expected idempotent regeneration, got %+v", regen)
	}

	if res, data := doJSON(t, client, http.MethodPost, draftURL+"/review", nil, outgoing); res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}

	detailRes, detailData := doJSON(t, client, http.MethodGet, draftURL, nil, outgoing)
	if detailRes.StatusCode != http.StatusOK {
		t.Fatalf("get draft status %d: %s", detailRes.StatusCode, string(detailData))
	}
	var detail struct {
		State    string `json:"state"`
		Sections []struct {
			ID         string             `json:"id"`
			BucketName string             `json:"bucket_name"`
			Items      []domain.DraftItem `json:"items"`
		} `json:"sections"`
	}
	if err := json.Unmarshal(detailData, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.State != "IN_REVIEW" {
		t.Fatalf("expected IN_REVIEW, got %s", detail.State)
	}
	if len(detail.Sections) != 2 || detail.Sections[0].BucketName != "Bridge" {
		t.Fatalf("captain layout should lead with Bridge, got %+v", detail.Sections)
	}
	var engineering *struct {
		ID         string             `json:"id"`
		BucketName string             `json:"bucket_name"`
		Items      []domain.DraftItem `json:"items"`
	}
	sectionIDs := []string{}
	for i := range detail.Sections {
		sectionIDs = append(sectionIDs, detail.Sections[i].ID)
		if detail.Sections[i].BucketName == "Engineering" {
			engineering = &detail.Sections[i]
		}
	}
	if engineering == nil || len(engineering.Items) != 2 {
		t.Fatalf("expected 2 engineering items, got %+v", detail.Sections)
	}

	editRes, editData := doJSON(t, client, http.MethodPatch, draftURL+"/items/"+engineering.Items[0].ID, map[string]any{
		"edited_text": "Port main raw water pump weeping at shaft seal",
	}, outgoing)
	if editRes.StatusCode != http.StatusOK {
		t.Fatalf("edit status %d: %s", editRes.StatusCode, string(editData))
	}
	var edited struct {
		EditID    string `json:"edit_id"`
		EditCount int    `json:"edit_count"`
	}
	if err := json.Unmarshal(editData, &edited); err != nil || edited.EditCount != 1 || edited.EditID == "" {
		t.Fatalf("unexpected edit result %s (err %v)", string(editData), err)
	}

	mergeRes, mergeData := doJSON(t, client, http.MethodPost, draftURL+"/merge", map[string]any{
		"item_ids":    []string{engineering.Items[0].ID, engineering.Items[1].ID},
		"merged_text": "Port main raw water pump weeping; spares on order",
	}, outgoing)
	if mergeRes.StatusCode != http.StatusCreated {
		t.Fatalf("merge status %d: %s", mergeRes.StatusCode, string(mergeData))
	}
	var merged domain.DraftItem
	if err := json.Unmarshal(mergeData, &merged); err != nil {
		t.Fatalf("unmarshal merged: %v", err)
	}
	if len(merged.SourceEntryIDs) != 2 || !merged.IsCritical {
		t.Fatalf("unexpected merged item: %+v", merged)
	}

	acceptRes, acceptData := doJSON(t, client, http.MethodPost, draftURL+"/accept", map[string]any{
		"confirmed":       true,
		"sections_viewed": sectionIDs,
	}, outgoing)
	if acceptRes.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", acceptRes.StatusCode, string(acceptData))
	}
	var accepted struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(acceptData, &accepted); err != nil || accepted.State != "ACCEPTED" {
		t.Fatalf("accept should report the resulting state, got %s (err %v)", string(acceptData), err)
	}

	// The outgoing party cannot counter-sign their own handover.
	res, data := doJSON(t, client, http.MethodPost, draftURL+"/sign", map[string]any{"confirmed": true}, outgoing)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("self-sign status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", env.Error.Code)
	}

	signRes, signData := doJSON(t, client, http.MethodPost, draftURL+"/sign", map[string]any{"confirmed": true}, incoming)
	if signRes.StatusCode != http.StatusOK {
		t.Fatalf("sign status %d: %s", signRes.StatusCode, string(signData))
	}
	var signed struct {
		State string `json:"state"`
		domain.Signoff
	}
	if err := json.Unmarshal(signData, &signed); err != nil {
		t.Fatalf("unmarshal signoff: %v", err)
	}
	if signed.State != "SIGNED" {
		t.Fatalf("sign should report the resulting state, got %q", signed.State)
	}
	signoff := signed.Signoff
	if signoff.DocumentHash == nil || signoff.IncomingUserID == nil || *signoff.IncomingUserID != "co-1" {
		t.Fatalf("incomplete signoff: %+v", signoff)
	}

	// Content is frozen once signed.
	res, data = doJSON(t, client, http.MethodPatch, draftURL+"/items/"+merged.ID, map[string]any{
		"edited_text": "late change",
	}, outgoing)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("post-sign edit status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "INVALID_STATE_TRANSITION" {
		t.Fatalf("expected INVALID_STATE_TRANSITION, got %s", env.Error.Code)
	}

	expRes, expData := doJSON(t, client, http.MethodPost, draftURL+"/export", map[string]any{
		"export_type": "html",
	}, incoming)
	if expRes.StatusCode != http.StatusCreated {
		t.Fatalf("export status %d: %s", expRes.StatusCode, string(expData))
	}
	var exported domain.Export
	if err := json.Unmarshal(expData, &exported); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if exported.Status != domain.ExportStatusCompleted || exported.DocumentHash != *signoff.DocumentHash {
		t.Fatalf("unexpected export: %+v", exported)
	}

	getRes, getData := doJSON(t, client, http.MethodGet, draftURL+"/exports/"+exported.ID, nil, incoming)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get export status %d: %s", getRes.StatusCode, string(getData))
	}
}

func TestErrorCodes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	captain := authHeader(mintToken(t, "capt-1", "captain"))

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/drafts/missing", nil, captain)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing draft status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", env.Error.Code)
	}

	doJSON(t, client, http.MethodPost, srv.URL+"/v1/entries", map[string]any{
		"entity_type": "note", "summary_text": "x", "added_at": "2024-01-02T08:00:00Z",
	}, captain)
	_, genData := doJSON(t, client, http.MethodPost, srv.URL+"/v1/drafts/generate", map[string]any{
		"period_start": "2024-01-01", "period_end": "2024-01-07",
	}, captain)
	var gen struct {
		DraftID string `json:"draft_id"`
	}
	if err := json.Unmarshal(genData, &gen); err != nil || gen.DraftID == "" {
		t.Fatalf("generate: %v (%s)", err, string(genData))
	}
	draftURL := srv.URL + "/v1/drafts/" + gen.DraftID

	// Signing a DRAFT skips two states.
	res, data = doJSON(t, client, http.MethodPost, draftURL+"/sign", map[string]any{"confirmed": true}, captain)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("sign from DRAFT status %d: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "INVALID_STATE_TRANSITION" {
		t.Fatalf("expected INVALID_STATE_TRANSITION, got %s", env.Error.Code)
	}
	if env.Error.Details["from"] != "DRAFT" {
		t.Fatalf("expected from=DRAFT in details, got %v", env.Error.Details)
	}

	doJSON(t, client, http.MethodPost, draftURL+"/review", nil, captain)
	res, data = doJSON(t, client, http.MethodPost, draftURL+"/accept", map[string]any{
		"confirmed": false, "sections_viewed": []string{},
	}, captain)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unconfirmed accept status %d: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", env.Error.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	captain := authHeader(mintToken(t, "capt-1", "captain"))

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/apikeys", map[string]any{
		"user_id": "eng-bot",
		"role":    "chief_engineer",
		"name":    "engine room kiosk",
	}, captain)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key status %d: %s", res.StatusCode, string(data))
	}
	var created struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &created); err != nil || created.Key == "" {
		t.Fatalf("expected plaintext key once, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/drafts", nil, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key list drafts status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/drafts", nil, map[string]string{"X-Api-Key": "bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}
