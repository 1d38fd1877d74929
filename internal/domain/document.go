package domain

// ItemLink is a resolved, verifiable pointer from a draft item back to one of
// its sources.
type ItemLink struct {
	Kind      string `json:"kind" enum:"entity,email,document"`
	Label     string `json:"label,omitempty"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty" format:"date-time"`
}

// ExportItem is a draft item enriched with resolved source links.
type ExportItem struct {
	ID             string     `json:"id"`
	SummaryText    string     `json:"summary_text"`
	IsCritical     bool       `json:"is_critical"`
	SourceEntryIDs []string   `json:"source_entry_ids"`
	Links          []ItemLink `json:"links"`
}

type ExportSection struct {
	BucketName string       `json:"bucket_name"`
	Items      []ExportItem `json:"items"`
}

// ExportDocument is the fully enriched draft handed to the renderer.
type ExportDocument struct {
	DraftID          string          `json:"draft_id"`
	YachtID          string          `json:"yacht_id"`
	PeriodStart      string          `json:"period_start"`
	PeriodEnd        string          `json:"period_end"`
	Department       string          `json:"department,omitempty"`
	DocumentHash     string          `json:"document_hash"`
	OutgoingUserID   string          `json:"outgoing_user_id"`
	IncomingUserID   string          `json:"incoming_user_id"`
	OutgoingSignedAt string          `json:"outgoing_signed_at"`
	IncomingSignedAt string          `json:"incoming_signed_at"`
	Sections         []ExportSection `json:"sections"`
}
