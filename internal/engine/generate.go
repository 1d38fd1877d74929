package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"watchbill/internal/domain"
	"watchbill/internal/events"
	"watchbill/internal/repo"
)

func newID() string {
	return uuid.New().String()
}

// GenerateDraft assembles the aggregated capture streams for a period into a
// draft. The call is idempotent: retried webhooks and UI double-submits
// converge on one draft per (yacht, period, department) tuple instead of
// forking.
func (e Engine) GenerateDraft(ctx context.Context, tctx domain.TenantContext, periodStart, periodEnd, department string) (domain.Draft, bool, error) {
	if err := validatePeriod(periodStart, periodEnd); err != nil {
		return domain.Draft{}, false, err
	}

	// A signed or exported draft for the exact period is history; it must not
	// be silently superseded.
	if sealed, err := e.Repo.FindSealedDraft(ctx, tctx, periodStart, periodEnd, department); err == nil {
		return domain.Draft{}, false, domain.Conflictf("a %s draft already covers %s..%s; generation refused", sealed.State, periodStart, periodEnd)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Draft{}, false, err
	}

	if existing, err := e.Repo.FindLiveDraft(ctx, tctx, periodStart, periodEnd, department); err == nil {
		fresh, err := e.Repo.CountEntriesSince(ctx, tctx, periodStart, periodEndExclusive(periodEnd), existing.CreatedAt)
		if err != nil {
			return domain.Draft{}, false, err
		}
		if fresh == 0 || existing.State != domain.StateDraft {
			// No-op: nothing new, or a review already owns the content.
			return existing, false, nil
		}
		refreshed, err := e.refreshDraft(ctx, tctx, existing)
		return refreshed, false, err
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Draft{}, false, err
	}

	draft, err := e.createDraft(ctx, tctx, periodStart, periodEnd, department)
	if err != nil {
		// A concurrent generation may have won the unique index race; converge
		// on the winner instead of failing the retry.
		if isUniqueViolation(err) {
			if winner, ferr := e.Repo.FindLiveDraft(ctx, tctx, periodStart, periodEnd, department); ferr == nil {
				return winner, false, nil
			}
		}
		return domain.Draft{}, false, err
	}
	return draft, true, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (e Engine) createDraft(ctx context.Context, tctx domain.TenantContext, periodStart, periodEnd, department string) (domain.Draft, error) {
	items, err := e.Aggregate(ctx, tctx, periodStart, periodEnd)
	if err != nil {
		return domain.Draft{}, err
	}

	draft := domain.Draft{
		ID:          newID(),
		YachtID:     tctx.YachtID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Department:  department,
		State:       domain.StateDraft,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Draft{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDraftTx(ctx, tx, draft); err != nil {
		return domain.Draft{}, err
	}
	if err := e.populateDraftTx(ctx, tx, tctx, draft.ID, items); err != nil {
		return domain.Draft{}, err
	}
	if err := e.Repo.UpdateDraftCountsTx(ctx, tx, draft.ID); err != nil {
		return domain.Draft{}, err
	}
	if err := e.Events.Append(ctx, tx, "draft.generated", tctx.YachtID, "draft", draft.ID, tctx.UserID, events.EventPayload{
		"period_start": periodStart,
		"period_end":   periodEnd,
		"department":   department,
		"entries":      len(items),
	}); err != nil {
		return domain.Draft{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Draft{}, err
	}
	return e.Repo.GetDraft(ctx, tctx, draft.ID)
}

// refreshDraft rebuilds the content of a still-unreviewed draft when new
// entries arrived after it was generated. Once review begins the content is
// owned by the reviewers and left alone.
func (e Engine) refreshDraft(ctx context.Context, tctx domain.TenantContext, draft domain.Draft) (domain.Draft, error) {
	items, err := e.Aggregate(ctx, tctx, draft.PeriodStart, draft.PeriodEnd)
	if err != nil {
		return domain.Draft{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Draft{}, err
	}
	defer tx.Rollback()

	// Guarded delete: a concurrent enter_review loses the refresh.
	if _, err := tx.ExecContext(ctx, `DELETE FROM draft_items WHERE draft_id=? AND draft_id IN (SELECT id FROM drafts WHERE state='DRAFT')`, draft.ID); err != nil {
		return domain.Draft{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM draft_sections WHERE draft_id=? AND draft_id IN (SELECT id FROM drafts WHERE state='DRAFT')`, draft.ID); err != nil {
		return domain.Draft{}, err
	}
	if err := e.populateDraftTx(ctx, tx, tctx, draft.ID, items); err != nil {
		return domain.Draft{}, err
	}
	if err := e.Repo.UpdateDraftCountsTx(ctx, tx, draft.ID); err != nil {
		return domain.Draft{}, err
	}
	if err := e.Events.Append(ctx, tx, "draft.regenerated", tctx.YachtID, "draft", draft.ID, tctx.UserID, events.EventPayload{
		"entries": len(items),
	}); err != nil {
		return domain.Draft{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Draft{}, err
	}
	return e.Repo.GetDraft(ctx, tctx, draft.ID)
}

// itemCluster groups entries about the same entity into one draft item so a
// fault mentioned three times produces one row carrying all three source ids.
type itemCluster struct {
	summary  string
	critical bool
	sources  []string
}

func isCriticalPriority(p string) bool {
	return p == "high" || p == "urgent"
}

// populateDraftTx assigns every aggregated entry to a presentation bucket and
// writes sections (in the caller role's configured order) and items. Only
// buckets with at least one item get a section.
func (e Engine) populateDraftTx(ctx context.Context, tx *sql.Tx, tctx domain.TenantContext, draftID string, items []domain.HandoverItem) error {
	buckets := e.Config.BucketsForRole(tctx.Role)
	fallback := e.Config.FallbackBucket()
	known := make(map[string]bool, len(buckets)+1)
	for _, b := range buckets {
		known[b] = true
	}
	// A role layout may omit the fallback bucket; entries reassigned to it
	// still need a section, so it always trails the configured list.
	if !known[fallback] {
		buckets = append(buckets, fallback)
		known[fallback] = true
	}

	// Cluster per bucket. Entries with an entity id fold into one item per
	// (entity_type, entity_id); the rest stay one item per entry. Input order
	// (added_at desc, id desc) is preserved within a bucket.
	type keyed struct {
		order    []string
		clusters map[string]*itemCluster
	}
	byBucket := map[string]*keyed{}
	for _, it := range items {
		bucket := it.BucketHint
		if bucket == "" || !known[bucket] {
			bucket = fallback
		}
		k := byBucket[bucket]
		if k == nil {
			k = &keyed{clusters: map[string]*itemCluster{}}
			byBucket[bucket] = k
		}
		key := it.ID
		if it.EntityID != nil && *it.EntityID != "" {
			key = it.EntityType + "|" + *it.EntityID
		}
		if c, ok := k.clusters[key]; ok {
			c.sources = append(c.sources, it.ID)
			c.critical = c.critical || isCriticalPriority(it.Priority)
			continue
		}
		k.clusters[key] = &itemCluster{
			summary:  it.SummaryText,
			critical: isCriticalPriority(it.Priority),
			sources:  []string{it.ID},
		}
		k.order = append(k.order, key)
	}

	r := e.Repo
	sectionOrder := 0
	for _, bucket := range buckets {
		k, ok := byBucket[bucket]
		if !ok {
			continue
		}
		section := domain.DraftSection{
			ID:         newID(),
			DraftID:    draftID,
			BucketName: bucket,
			Order:      sectionOrder,
		}
		sectionOrder++
		if err := r.InsertSectionTx(ctx, tx, section); err != nil {
			return err
		}
		for i, key := range k.order {
			c := k.clusters[key]
			confidence := 1.0
			if len(c.sources) > 1 {
				confidence = 0.9
			}
			item := domain.DraftItem{
				ID:             newID(),
				DraftID:        draftID,
				SectionID:      section.ID,
				SummaryText:    c.summary,
				IsCritical:     c.critical,
				Confidence:     confidence,
				ItemOrder:      i,
				SourceEntryIDs: c.sources,
			}
			if err := r.InsertItemTx(ctx, tx, item); err != nil {
				return err
			}
		}
	}
	return nil
}
