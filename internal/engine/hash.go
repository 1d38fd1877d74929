package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"watchbill/internal/domain"
)

// canonicalDocument is the hash input for sign-off. It covers exactly the
// content a signer attests to: the live items in section order, plus the
// draft identity and period. Links, timestamps, and signature metadata are
// excluded so the hash is stable from acceptance through export.
type canonicalDocument struct {
	DraftID     string             `json:"draft_id"`
	YachtID     string             `json:"yacht_id"`
	PeriodStart string             `json:"period_start"`
	PeriodEnd   string             `json:"period_end"`
	Department  string             `json:"department"`
	Sections    []canonicalSection `json:"sections"`
}

type canonicalSection struct {
	BucketName string          `json:"bucket_name"`
	Items      []canonicalItem `json:"items"`
}

type canonicalItem struct {
	SummaryText    string   `json:"summary_text"`
	IsCritical     bool     `json:"is_critical"`
	SourceEntryIDs []string `json:"source_entry_ids"`
}

// DraftContentHash computes the SHA256 hex digest of a draft's canonical
// content. The serialization is deterministic: sections in display order,
// live items in item order, source ids sorted.
func (e Engine) DraftContentHash(ctx context.Context, draft domain.Draft) (string, error) {
	sections, err := e.Repo.ListSections(ctx, draft.ID)
	if err != nil {
		return "", err
	}
	items, err := e.Repo.ListItems(ctx, draft.ID, false)
	if err != nil {
		return "", err
	}
	return canonicalHash(draft, sections, items)
}

func canonicalHash(draft domain.Draft, sections []domain.DraftSection, items []domain.DraftItem) (string, error) {
	bySection := map[string][]domain.DraftItem{}
	for _, it := range items {
		bySection[it.SectionID] = append(bySection[it.SectionID], it)
	}
	doc := canonicalDocument{
		DraftID:     draft.ID,
		YachtID:     draft.YachtID,
		PeriodStart: draft.PeriodStart,
		PeriodEnd:   draft.PeriodEnd,
		Department:  draft.Department,
	}
	for _, s := range sections {
		cs := canonicalSection{BucketName: s.BucketName}
		for _, it := range bySection[s.ID] {
			ids := append([]string(nil), it.SourceEntryIDs...)
			sort.Strings(ids)
			cs.Items = append(cs.Items, canonicalItem{
				SummaryText:    it.SummaryText,
				IsCritical:     it.IsCritical,
				SourceEntryIDs: ids,
			})
		}
		doc.Sections = append(doc.Sections, cs)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("canonicalize draft %s: %w", draft.ID, err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
