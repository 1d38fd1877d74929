package watchbillsdk

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

// Client is a minimal Watchbill HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Entry is a captured handover note.
type Entry struct {
	ID          string  `json:"id"`
	YachtID     string  `json:"yacht_id"`
	SessionID   *string `json:"session_id,omitempty"`
	EntityType  string  `json:"entity_type"`
	EntityID    *string `json:"entity_id,omitempty"`
	SummaryText string  `json:"summary_text"`
	BucketHint  string  `json:"bucket_hint,omitempty"`
	Priority    string  `json:"priority"`
	WebLink     *string `json:"web_link,omitempty"`
	AddedBy     string  `json:"added_by"`
	AddedAt     string  `json:"added_at"`
}

// Draft is the API draft model (partial).
type Draft struct {
	ID            string `json:"id"`
	YachtID       string `json:"yacht_id"`
	PeriodStart   string `json:"period_start"`
	PeriodEnd     string `json:"period_end"`
	Department    string `json:"department,omitempty"`
	State         string `json:"state"`
	TotalEntries  int    `json:"total_entries"`
	CriticalCount int    `json:"critical_count"`
}

// Signoff records the dual-party attestation. State carries the draft state
// the accept or sign call produced; it is empty on draft detail reads.
type Signoff struct {
	State            string  `json:"state,omitempty"`
	DraftID          string  `json:"draft_id"`
	OutgoingUserID   string  `json:"outgoing_user_id"`
	OutgoingSignedAt string  `json:"outgoing_signed_at"`
	IncomingUserID   *string `json:"incoming_user_id,omitempty"`
	IncomingSignedAt *string `json:"incoming_signed_at,omitempty"`
	DocumentHash     *string `json:"document_hash,omitempty"`
}

// Export is a rendered artifact record.
type Export struct {
	ID           string   `json:"id"`
	DraftID      string   `json:"draft_id"`
	ExportType   string   `json:"export_type"`
	Status       string   `json:"status"`
	StoragePath  string   `json:"storage_path,omitempty"`
	DocumentHash string   `json:"document_hash,omitempty"`
	Recipients   []string `json:"recipients,omitempty"`
	ExportedAt   string   `json:"exported_at"`
	Error        string   `json:"error,omitempty"`
}

// GenerateResult is the draft generation response.
type GenerateResult struct {
	DraftID string `json:"draft_id"`
	State   string `json:"state"`
	Created bool   `json:"created"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AddEntry captures a quick entry.
func (c *Client) AddEntry(ctx context.Context, entityType, summaryText, priority string) (Entry, error) {
	body := map[string]any{
		"entity_type":  entityType,
		"summary_text": summaryText,
		"priority":     priority,
	}
	var resp Entry
	err := c.do(ctx, http.MethodPost, "v1/entries", body, &resp)
	return resp, err
}

// GenerateDraft creates (or idempotently returns) the draft for a period.
func (c *Client) GenerateDraft(ctx context.Context, periodStart, periodEnd, department string) (GenerateResult, error) {
	body := map[string]any{
		"period_start": periodStart,
		"period_end":   periodEnd,
	}
	if department != "" {
		body["department"] = department
	}
	var resp GenerateResult
	err := c.do(ctx, http.MethodPost, "v1/drafts/generate", body, &resp)
	return resp, err
}

// Review moves a draft into review.
func (c *Client) Review(ctx context.Context, draftID string) (Draft, error) {
	var resp Draft
	err := c.do(ctx, http.MethodPost, c.draftPath(draftID, "review"), nil, &resp)
	return resp, err
}

// EditItem rewrites an item's text.
func (c *Client) EditItem(ctx context.Context, draftID, itemID, text, reason string) error {
	body := map[string]any{"edited_text": text}
	if reason != "" {
		body["reason"] = reason
	}
	endpoint := c.draftPath(draftID, fmt.Sprintf("items/%s", url.PathEscape(itemID)))
	return c.do(ctx, http.MethodPatch, endpoint, body, nil)
}

// MergeItems folds two or more items into one.
func (c *Client) MergeItems(ctx context.Context, draftID string, itemIDs []string, mergedText string) error {
	body := map[string]any{"item_ids": itemIDs, "merged_text": mergedText}
	return c.do(ctx, http.MethodPost, c.draftPath(draftID, "merge"), body, nil)
}

// Accept records the outgoing party's acceptance.
func (c *Client) Accept(ctx context.Context, draftID string, sectionsViewed []string) (Signoff, error) {
	body := map[string]any{"confirmed": true, "sections_viewed": sectionsViewed}
	var resp Signoff
	err := c.do(ctx, http.MethodPost, c.draftPath(draftID, "accept"), body, &resp)
	return resp, err
}

// Sign records the incoming party's counter-signature.
func (c *Client) Sign(ctx context.Context, draftID string) (Signoff, error) {
	body := map[string]any{"confirmed": true}
	var resp Signoff
	err := c.do(ctx, http.MethodPost, c.draftPath(draftID, "sign"), body, &resp)
	return resp, err
}

// Export renders a signed draft. A non-zero waitSeconds blocks until email
// delivery settles or the timeout elapses, whichever comes first.
func (c *Client) Export(ctx context.Context, draftID, exportType string, recipients []string, waitSeconds int) (Export, error) {
	body := map[string]any{"export_type": exportType}
	if len(recipients) > 0 {
		body["recipients"] = recipients
	}
	if waitSeconds > 0 {
		body["wait_seconds"] = waitSeconds
	}
	var resp Export
	err := c.do(ctx, http.MethodPost, c.draftPath(draftID, "export"), body, &resp)
	return resp, err
}

// GetExport polls an export's delivery status.
func (c *Client) GetExport(ctx context.Context, draftID, exportID string) (Export, error) {
	var resp Export
	endpoint := c.draftPath(draftID, fmt.Sprintf("exports/%s", url.PathEscape(exportID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func (c *Client) draftPath(draftID, p string) string {
	return fmt.Sprintf("v1/drafts/%s/%s", url.PathEscape(draftID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
