package server

import (
	"watchbill/internal/domain"
)

// Request payloads

type RegisterYachtRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type CreateEntryRequest struct {
	SessionID   *string `json:"session_id,omitempty"`
	EntityType  string  `json:"entity_type"`
	EntityID    *string `json:"entity_id,omitempty"`
	SummaryText string  `json:"summary_text"`
	BucketHint  string  `json:"bucket_hint,omitempty"`
	Priority    string  `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	WebLink     *string `json:"web_link,omitempty"`
	AddedAt     string  `json:"added_at,omitempty" format:"date-time"`
}

type GenerateDraftRequest struct {
	PeriodStart string `json:"period_start" format:"date"`
	PeriodEnd   string `json:"period_end" format:"date"`
	Department  string `json:"department,omitempty"`
}

type EditItemRequest struct {
	EditedText string  `json:"edited_text"`
	Reason     *string `json:"reason,omitempty"`
}

type MergeItemsRequest struct {
	ItemIDs    []string `json:"item_ids" minItems:"2"`
	MergedText string   `json:"merged_text"`
}

type SignDraftRequest struct {
	Confirmed bool `json:"confirmed"`
}

type AcceptDraftRequest struct {
	Confirmed      bool     `json:"confirmed"`
	SectionsViewed []string `json:"sections_viewed"`
}

type CreateExportRequest struct {
	ExportType string   `json:"export_type" enum:"html,pdf,email"`
	Recipients []string `json:"recipients,omitempty"`
	// WaitSeconds blocks the call until delivery settles, returning the
	// still-pending row when the timeout elapses.
	WaitSeconds int `json:"wait_seconds,omitempty" minimum:"0" maximum:"60"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty" enum:"captain,chief_engineer,chief_officer,chief_steward,crew"`
	Name   string `json:"name,omitempty"`
}

// Response payloads

type SectionResponse struct {
	domain.DraftSection
	Items []domain.DraftItem `json:"items"`
}

// DraftDetailResponse is the draft with its sections and live items expanded.
type DraftDetailResponse struct {
	domain.Draft
	Sections []SectionResponse `json:"sections"`
	Signoff  *domain.Signoff   `json:"signoff,omitempty"`
}

// SignoffStateResponse pairs a signoff with the draft state it produced.
type SignoffStateResponse struct {
	State string `json:"state" enum:"ACCEPTED,SIGNED"`
	domain.Signoff
}

type APIKeyCreatedResponse struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
}

func draftDetail(d domain.Draft, sections []domain.DraftSection, items []domain.DraftItem, signoff *domain.Signoff) DraftDetailResponse {
	bySection := map[string][]domain.DraftItem{}
	for _, it := range items {
		bySection[it.SectionID] = append(bySection[it.SectionID], it)
	}
	out := DraftDetailResponse{Draft: d, Signoff: signoff}
	for _, s := range sections {
		items := bySection[s.ID]
		if items == nil {
			items = []domain.DraftItem{}
		}
		out.Sections = append(out.Sections, SectionResponse{DraftSection: s, Items: items})
	}
	return out
}
