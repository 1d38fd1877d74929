package domain

// TenantContext identifies the caller for every service call. It is resolved
// server-side from the authenticated principal and never taken from request
// bodies.
type TenantContext struct {
	YachtID string `json:"yacht_id"`
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
}

type Yacht struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// HandoverItem is one captured operational note, aggregated from either
// capture table. Read-only to this subsystem.
type HandoverItem struct {
	ID          string  `json:"id"`
	YachtID     string  `json:"yacht_id"`
	SessionID   *string `json:"session_id,omitempty"`
	EntityType  string  `json:"entity_type"`
	EntityID    *string `json:"entity_id,omitempty"`
	SummaryText string  `json:"summary_text"`
	BucketHint  string  `json:"bucket_hint,omitempty"`
	Priority    string  `json:"priority" enum:"low,normal,high,urgent"`
	WebLink     *string `json:"web_link,omitempty"`
	AddedBy     string  `json:"added_by"`
	AddedAt     string  `json:"added_at" format:"date-time"`
	SourceTable string  `json:"source_table"`
}

type Draft struct {
	ID            string     `json:"id"`
	YachtID       string     `json:"yacht_id"`
	PeriodStart   string     `json:"period_start" format:"date"`
	PeriodEnd     string     `json:"period_end" format:"date"`
	Department    string     `json:"department,omitempty"`
	State         DraftState `json:"state"`
	TotalEntries  int        `json:"total_entries"`
	CriticalCount int        `json:"critical_count"`
	ReviewedBy    *string    `json:"reviewed_by,omitempty"`
	CreatedAt     string     `json:"created_at" format:"date-time"`
}

type DraftSection struct {
	ID         string `json:"id"`
	DraftID    string `json:"draft_id"`
	BucketName string `json:"bucket_name"`
	Order      int    `json:"order"`
}

type DraftItem struct {
	ID             string   `json:"id"`
	DraftID        string   `json:"draft_id"`
	SectionID      string   `json:"section_id"`
	SummaryText    string   `json:"summary_text"`
	IsCritical     bool     `json:"is_critical"`
	Confidence     float64  `json:"confidence"`
	ItemOrder      int      `json:"item_order"`
	SourceEntryIDs []string `json:"source_entry_ids"`
	EditCount      int      `json:"edit_count"`
	Archived       bool     `json:"archived"`
}

// DraftEdit is append-only; rows are never updated or deleted.
type DraftEdit struct {
	ID           string  `json:"id"`
	DraftID      string  `json:"draft_id"`
	ItemID       string  `json:"item_id"`
	EditedBy     string  `json:"edited_by"`
	OriginalText string  `json:"original_text"`
	EditedText   string  `json:"edited_text"`
	Reason       *string `json:"reason,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Signoff struct {
	DraftID          string  `json:"draft_id"`
	OutgoingUserID   string  `json:"outgoing_user_id"`
	OutgoingSignedAt string  `json:"outgoing_signed_at" format:"date-time"`
	IncomingUserID   *string `json:"incoming_user_id,omitempty"`
	IncomingSignedAt *string `json:"incoming_signed_at,omitempty" format:"date-time"`
	DocumentHash     *string `json:"document_hash,omitempty"`
}

type Export struct {
	ID           string   `json:"id"`
	DraftID      string   `json:"draft_id"`
	ExportType   string   `json:"export_type" enum:"html,pdf,email"`
	Status       string   `json:"status" enum:"pending,completed,failed"`
	StoragePath  string   `json:"storage_path,omitempty"`
	DocumentHash string   `json:"document_hash,omitempty"`
	Recipients   []string `json:"recipients,omitempty"`
	ExportedBy   string   `json:"exported_by"`
	ExportedAt   string   `json:"exported_at" format:"date-time"`
	Error        string   `json:"error,omitempty"`
}

const (
	ExportTypeHTML  = "html"
	ExportTypePDF   = "pdf"
	ExportTypeEmail = "email"

	ExportStatusPending   = "pending"
	ExportStatusCompleted = "completed"
	ExportStatusFailed    = "failed"
)

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	YachtID    string `json:"yacht_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	YachtID   string `json:"yacht_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
