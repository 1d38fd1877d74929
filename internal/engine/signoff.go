package engine

import (
	"context"
	"errors"
	"time"

	"watchbill/internal/domain"
	"watchbill/internal/events"
	"watchbill/internal/repo"
)

// Accept is the outgoing party's attestation. It requires an explicit
// confirmation flag and proof that every section of the draft was viewed,
// then records the open sign-off and moves the draft to ACCEPTED.
func (e Engine) Accept(ctx context.Context, tctx domain.TenantContext, draftID string, confirmed bool, sectionsViewed []string) (domain.Signoff, error) {
	if !confirmed {
		return domain.Signoff{}, domain.Validationf("acceptance requires the confirmation flag")
	}
	draft, err := e.Repo.GetDraft(ctx, tctx, draftID)
	if err != nil {
		return domain.Signoff{}, err
	}
	if _, err := domain.Transition(draft.State, domain.ActionAccept); err != nil {
		return domain.Signoff{}, err
	}
	sections, err := e.Repo.ListSections(ctx, draftID)
	if err != nil {
		return domain.Signoff{}, err
	}
	viewed := map[string]bool{}
	for _, id := range sectionsViewed {
		viewed[id] = true
	}
	var missing []string
	for _, s := range sections {
		if !viewed[s.ID] {
			missing = append(missing, s.BucketName)
		}
	}
	if len(missing) > 0 {
		return domain.Signoff{}, domain.Validationf("acceptance requires viewing every section; missing: %v", missing)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signoff{}, err
	}
	defer tx.Rollback()

	signoff := domain.Signoff{
		DraftID:          draftID,
		OutgoingUserID:   tctx.UserID,
		OutgoingSignedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertSignoffTx(ctx, tx, signoff); err != nil {
		return domain.Signoff{}, err
	}
	ok, err := e.Repo.CasDraftStateTx(ctx, tx, draftID, domain.StateInReview, domain.StateAccepted)
	if err != nil {
		return domain.Signoff{}, err
	}
	if !ok {
		return domain.Signoff{}, domain.StateTransitionError{From: draft.State, Action: domain.ActionAccept}
	}
	if err := e.Events.Append(ctx, tx, "draft.accepted", tctx.YachtID, "draft", draftID, tctx.UserID, events.EventPayload{
		"outgoing_user_id": tctx.UserID,
	}); err != nil {
		return domain.Signoff{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Signoff{}, err
	}
	return signoff, nil
}

// Sign is the incoming party's counter-signature. The signer must differ from
// the outgoing party. The content hash is computed over the canonical draft
// bytes at this moment and frozen into the sign-off record; the draft becomes
// immutable once the transition to SIGNED commits.
func (e Engine) Sign(ctx context.Context, tctx domain.TenantContext, draftID string) (domain.Signoff, error) {
	draft, err := e.Repo.GetDraft(ctx, tctx, draftID)
	if err != nil {
		return domain.Signoff{}, err
	}
	if _, err := domain.Transition(draft.State, domain.ActionSign); err != nil {
		return domain.Signoff{}, err
	}
	signoff, err := e.Repo.GetSignoff(ctx, draftID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Signoff{}, domain.Validationf("draft %s has no acceptance on record", draftID)
		}
		return domain.Signoff{}, err
	}
	if signoff.IncomingUserID != nil {
		return domain.Signoff{}, domain.StateTransitionError{From: domain.StateSigned, Action: domain.ActionSign}
	}
	if signoff.OutgoingUserID == tctx.UserID {
		return domain.Signoff{}, domain.Validationf("incoming signer must differ from the outgoing party")
	}

	hash, err := e.DraftContentHash(ctx, draft)
	if err != nil {
		return domain.Signoff{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Signoff{}, err
	}
	defer tx.Rollback()

	signedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.CompleteSignoffTx(ctx, tx, draftID, tctx.UserID, signedAt, hash); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// A racing sign won; the guarded update saw incoming already set.
			return domain.Signoff{}, domain.StateTransitionError{From: domain.StateSigned, Action: domain.ActionSign}
		}
		return domain.Signoff{}, err
	}
	ok, err := e.Repo.CasDraftStateTx(ctx, tx, draftID, domain.StateAccepted, domain.StateSigned)
	if err != nil {
		return domain.Signoff{}, err
	}
	if !ok {
		return domain.Signoff{}, domain.StateTransitionError{From: draft.State, Action: domain.ActionSign}
	}
	if err := e.Events.Append(ctx, tx, "draft.signed", tctx.YachtID, "draft", draftID, tctx.UserID, events.EventPayload{
		"incoming_user_id": tctx.UserID,
		"document_hash":    hash,
	}); err != nil {
		return domain.Signoff{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Signoff{}, err
	}

	signoff.IncomingUserID = &tctx.UserID
	signoff.IncomingSignedAt = &signedAt
	signoff.DocumentHash = &hash
	return signoff, nil
}
