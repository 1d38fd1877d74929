package engine

import (
	"context"
	"time"

	"watchbill/internal/domain"
	"watchbill/internal/events"
)

// EnterReview moves a draft from DRAFT to IN_REVIEW and records the reviewer.
// No content changes.
func (e Engine) EnterReview(ctx context.Context, tctx domain.TenantContext, draftID string) (domain.Draft, error) {
	draft, err := e.Repo.GetDraft(ctx, tctx, draftID)
	if err != nil {
		return draft, err
	}
	if _, err := domain.Transition(draft.State, domain.ActionEnterReview); err != nil {
		return draft, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return draft, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.SetDraftReviewedTx(ctx, tx, draftID, tctx.UserID)
	if err != nil {
		return draft, err
	}
	if !ok {
		// Lost a race; re-read for the accurate error.
		current, rerr := e.Repo.GetDraftTx(ctx, tx, tctx, draftID)
		if rerr != nil {
			return draft, rerr
		}
		return current, domain.StateTransitionError{From: current.State, Action: domain.ActionEnterReview}
	}
	if err := e.Events.Append(ctx, tx, "draft.review.entered", tctx.YachtID, "draft", draftID, tctx.UserID, nil); err != nil {
		return draft, err
	}
	if err := tx.Commit(); err != nil {
		return draft, err
	}
	return e.Repo.GetDraft(ctx, tctx, draftID)
}

// EditItem rewrites an item's live text while preserving every prior version
// in the append-only edit history. Provenance (source_entry_ids) and the
// criticality flag are derived facts and cannot be edited.
func (e Engine) EditItem(ctx context.Context, tctx domain.TenantContext, draftID, itemID, editedText string, reason *string) (domain.DraftEdit, int, error) {
	if editedText == "" {
		return domain.DraftEdit{}, 0, domain.Validationf("edited_text is required")
	}
	draft, err := e.Repo.GetDraft(ctx, tctx, draftID)
	if err != nil {
		return domain.DraftEdit{}, 0, err
	}
	if draft.State != domain.StateInReview {
		return domain.DraftEdit{}, 0, domain.StateTransitionError{From: draft.State, Action: domain.ActionEditItem}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DraftEdit{}, 0, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItemTx(ctx, tx, draftID, itemID)
	if err != nil {
		return domain.DraftEdit{}, 0, err
	}
	if item.Archived {
		return domain.DraftEdit{}, 0, domain.Validationf("item %s is archived and cannot be edited", itemID)
	}

	edit := domain.DraftEdit{
		ID:           newID(),
		DraftID:      draftID,
		ItemID:       itemID,
		EditedBy:     tctx.UserID,
		OriginalText: item.SummaryText,
		EditedText:   editedText,
		Reason:       reason,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertEditTx(ctx, tx, edit); err != nil {
		return domain.DraftEdit{}, 0, err
	}
	if err := e.Repo.UpdateItemTextTx(ctx, tx, draftID, itemID, editedText); err != nil {
		return domain.DraftEdit{}, 0, err
	}
	if err := e.Events.Append(ctx, tx, "draft.item.edited", tctx.YachtID, "draft_item", itemID, tctx.UserID, events.EventPayload{
		"draft_id": draftID,
		"edit_id":  edit.ID,
	}); err != nil {
		return domain.DraftEdit{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DraftEdit{}, 0, err
	}

	updated, err := e.Repo.GetItem(ctx, draftID, itemID)
	if err != nil {
		return edit, item.EditCount + 1, nil
	}
	return edit, updated.EditCount, nil
}

// MergeItems folds two or more live items into one. The merged item's
// source_entry_ids is the exact union of the inputs' ids; the originals are
// soft-archived so history stays queryable. Archived items are terminal and
// cannot be merged again.
func (e Engine) MergeItems(ctx context.Context, tctx domain.TenantContext, draftID string, itemIDs []string, mergedText string) (domain.DraftItem, error) {
	if len(itemIDs) < 2 {
		return domain.DraftItem{}, domain.Validationf("merge requires at least two item ids")
	}
	if mergedText == "" {
		return domain.DraftItem{}, domain.Validationf("merged_text is required")
	}
	seen := map[string]bool{}
	for _, id := range itemIDs {
		if seen[id] {
			return domain.DraftItem{}, domain.Validationf("item %s listed twice in merge", id)
		}
		seen[id] = true
	}
	draft, err := e.Repo.GetDraft(ctx, tctx, draftID)
	if err != nil {
		return domain.DraftItem{}, err
	}
	if draft.State != domain.StateInReview {
		return domain.DraftItem{}, domain.StateTransitionError{From: draft.State, Action: domain.ActionMergeItems}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DraftItem{}, err
	}
	defer tx.Rollback()

	var sectionID string
	var critical bool
	sourceSet := map[string]bool{}
	var sourceIDs []string
	for _, id := range itemIDs {
		item, err := e.Repo.GetItemTx(ctx, tx, draftID, id)
		if err != nil {
			return domain.DraftItem{}, err
		}
		if item.Archived {
			return domain.DraftItem{}, domain.Validationf("item %s is archived and cannot be merged", id)
		}
		if sectionID == "" {
			sectionID = item.SectionID
		}
		critical = critical || item.IsCritical
		for _, src := range item.SourceEntryIDs {
			if !sourceSet[src] {
				sourceSet[src] = true
				sourceIDs = append(sourceIDs, src)
			}
		}
	}

	order, err := e.Repo.NextItemOrderTx(ctx, tx, sectionID)
	if err != nil {
		return domain.DraftItem{}, err
	}
	merged := domain.DraftItem{
		ID:             newID(),
		DraftID:        draftID,
		SectionID:      sectionID,
		SummaryText:    mergedText,
		IsCritical:     critical,
		Confidence:     1.0,
		ItemOrder:      order,
		SourceEntryIDs: sourceIDs,
	}
	if err := e.Repo.ArchiveItemsTx(ctx, tx, draftID, itemIDs); err != nil {
		return domain.DraftItem{}, err
	}
	if err := e.Repo.InsertMergedItemTx(ctx, tx, merged); err != nil {
		return domain.DraftItem{}, err
	}
	if err := e.Repo.UpdateDraftCountsTx(ctx, tx, draftID); err != nil {
		return domain.DraftItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "draft.items.merged", tctx.YachtID, "draft_item", merged.ID, tctx.UserID, events.EventPayload{
		"draft_id": draftID,
		"merged":   itemIDs,
		"sources":  sourceIDs,
	}); err != nil {
		return domain.DraftItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DraftItem{}, err
	}
	return merged, nil
}
