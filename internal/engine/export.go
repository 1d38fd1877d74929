package engine

import (
	"context"
	"fmt"
	"time"

	"watchbill/internal/domain"
	"watchbill/internal/events"
)

// Export renders a signed draft into a distributable artifact. The content
// hash is recomputed from the live rows and checked against the hash frozen
// at sign-off before any bytes leave the system; a mismatch aborts with an
// integrity error and nothing is written.
func (e Engine) Export(ctx context.Context, tctx domain.TenantContext, draftID, exportType string, recipients []string, wait time.Duration) (domain.Export, error) {
	switch exportType {
	case domain.ExportTypeHTML, domain.ExportTypePDF, domain.ExportTypeEmail:
	default:
		return domain.Export{}, domain.Validationf("export_type must be one of html, pdf, email")
	}
	if exportType == domain.ExportTypeEmail && len(recipients) == 0 {
		return domain.Export{}, domain.Validationf("email export requires at least one recipient")
	}
	draft, err := e.Repo.GetDraft(ctx, tctx, draftID)
	if err != nil {
		return domain.Export{}, err
	}
	if _, err := domain.Transition(draft.State, domain.ActionExport); err != nil {
		return domain.Export{}, err
	}
	signoff, err := e.Repo.GetSignoff(ctx, draftID)
	if err != nil {
		return domain.Export{}, err
	}
	if signoff.DocumentHash == nil || signoff.IncomingUserID == nil || signoff.IncomingSignedAt == nil {
		return domain.Export{}, domain.Conflictf("draft %s has no completed sign-off", draftID)
	}

	hash, err := e.DraftContentHash(ctx, draft)
	if err != nil {
		return domain.Export{}, err
	}
	if hash != *signoff.DocumentHash {
		return domain.Export{}, domain.IntegrityError{DraftID: draftID, Stored: *signoff.DocumentHash, Computed: hash}
	}

	doc, err := e.buildDocument(ctx, tctx, draft, signoff, hash, exportType)
	if err != nil {
		return domain.Export{}, err
	}

	now := e.now().UTC()
	exp := domain.Export{
		ID:           newID(),
		DraftID:      draftID,
		ExportType:   exportType,
		DocumentHash: hash,
		Recipients:   recipients,
		ExportedBy:   tctx.UserID,
		ExportedAt:   now.Format(time.RFC3339),
	}

	data, _, ext, rerr := e.Renderer.Render(doc, exportType)
	if rerr == nil {
		exp.StoragePath = fmt.Sprintf("%s/handover/%s/%s.%s", tctx.YachtID, draftID, now.Format("20060102T150405Z"), ext)
		if serr := e.Store.Put(exp.StoragePath, data); serr != nil {
			rerr = serr
			exp.StoragePath = ""
		}
	}
	switch {
	case rerr != nil:
		exp.Status = domain.ExportStatusFailed
		exp.Error = rerr.Error()
	case exportType == domain.ExportTypeEmail:
		// Artifact is persisted; delivery happens asynchronously.
		exp.Status = domain.ExportStatusPending
	default:
		exp.Status = domain.ExportStatusCompleted
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Export{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertExportTx(ctx, tx, exp); err != nil {
		return domain.Export{}, err
	}
	if exp.Status != domain.ExportStatusFailed && draft.State == domain.StateSigned {
		if _, err := e.Repo.CasDraftStateTx(ctx, tx, draftID, domain.StateSigned, domain.StateExported); err != nil {
			return domain.Export{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "draft.exported", tctx.YachtID, "export", exp.ID, tctx.UserID, events.EventPayload{
		"draft_id":    draftID,
		"export_type": exportType,
		"status":      exp.Status,
	}); err != nil {
		return domain.Export{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Export{}, err
	}
	if exp.Status == domain.ExportStatusPending && wait > 0 {
		return e.awaitExport(ctx, tctx, draftID, exp.ID, wait)
	}
	return exp, nil
}

const exportPollInterval = 200 * time.Millisecond

// awaitExport polls a pending export until delivery settles or the caller's
// timeout elapses, in which case the row is returned still pending.
func (e Engine) awaitExport(ctx context.Context, tctx domain.TenantContext, draftID, exportID string, wait time.Duration) (domain.Export, error) {
	deadline := time.Now().Add(wait)
	for {
		exp, err := e.Repo.GetExport(ctx, tctx, draftID, exportID)
		if err != nil {
			return domain.Export{}, err
		}
		if exp.Status != domain.ExportStatusPending || time.Now().After(deadline) {
			return exp, nil
		}
		select {
		case <-ctx.Done():
			return exp, ctx.Err()
		case <-time.After(exportPollInterval):
		}
	}
}

// buildDocument assembles the enriched export document: sections in display
// order, live items with their resolved source links.
func (e Engine) buildDocument(ctx context.Context, tctx domain.TenantContext, draft domain.Draft, signoff domain.Signoff, hash, exportType string) (domain.ExportDocument, error) {
	sections, err := e.Repo.ListSections(ctx, draft.ID)
	if err != nil {
		return domain.ExportDocument{}, err
	}
	items, err := e.Repo.ListItems(ctx, draft.ID, false)
	if err != nil {
		return domain.ExportDocument{}, err
	}
	var sourceIDs []string
	for _, it := range items {
		sourceIDs = append(sourceIDs, it.SourceEntryIDs...)
	}
	entries, err := e.Repo.GetEntries(ctx, tctx, sourceIDs)
	if err != nil {
		return domain.ExportDocument{}, err
	}

	now := e.now()
	bySection := map[string][]domain.ExportItem{}
	for _, it := range items {
		out := domain.ExportItem{
			ID:             it.ID,
			SummaryText:    it.SummaryText,
			IsCritical:     it.IsCritical,
			SourceEntryIDs: it.SourceEntryIDs,
		}
		for _, srcID := range it.SourceEntryIDs {
			entry, ok := entries[srcID]
			if !ok {
				continue
			}
			out.Links = append(out.Links, resolveLinks(e.Links, entry, exportType, now)...)
		}
		bySection[it.SectionID] = append(bySection[it.SectionID], out)
	}

	doc := domain.ExportDocument{
		DraftID:          draft.ID,
		YachtID:          draft.YachtID,
		PeriodStart:      draft.PeriodStart,
		PeriodEnd:        draft.PeriodEnd,
		Department:       draft.Department,
		DocumentHash:     hash,
		OutgoingUserID:   signoff.OutgoingUserID,
		OutgoingSignedAt: signoff.OutgoingSignedAt,
		IncomingUserID:   *signoff.IncomingUserID,
		IncomingSignedAt: *signoff.IncomingSignedAt,
	}
	for _, s := range sections {
		doc.Sections = append(doc.Sections, domain.ExportSection{
			BucketName: s.BucketName,
			Items:      bySection[s.ID],
		})
	}
	return doc, nil
}
