package repo

import (
	"context"
	"database/sql"

	"watchbill/internal/domain"
)

// Capture stream access. Both tables are read-only to the draft subsystem:
// rows are inserted by the capture surface and never mutated or deleted here.

const (
	SourceHandoverEntries = "handover_entries"
	SourceQuickEntries    = "quick_entries"
)

func (r Repo) InsertHandoverEntry(ctx context.Context, it domain.HandoverItem) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO handover_entries(id,yacht_id,session_id,entity_type,entity_id,summary_text,bucket_hint,priority,web_link,added_by,added_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.YachtID, nullableStringPtr(it.SessionID), it.EntityType, nullableStringPtr(it.EntityID), it.SummaryText,
		nullable(it.BucketHint), it.Priority, nullableStringPtr(it.WebLink), it.AddedBy, it.AddedAt)
	return err
}

func (r Repo) InsertQuickEntry(ctx context.Context, it domain.HandoverItem) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO quick_entries(id,yacht_id,entity_type,entity_id,summary_text,bucket_hint,priority,web_link,added_by,added_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.YachtID, it.EntityType, nullableStringPtr(it.EntityID), it.SummaryText,
		nullable(it.BucketHint), it.Priority, nullableStringPtr(it.WebLink), it.AddedBy, it.AddedAt)
	return err
}

// AggregateEntries returns the union of both capture tables for a yacht and
// period, each row tagged with its source table, ordered added_at descending
// with the insertion id breaking ties for determinism.
func (r Repo) AggregateEntries(ctx context.Context, tctx domain.TenantContext, periodStart, periodEnd string) ([]domain.HandoverItem, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, yacht_id, session_id, entity_type, entity_id, summary_text, bucket_hint, priority, web_link, added_by, added_at, ? AS source_table
FROM handover_entries WHERE yacht_id=? AND added_at>=? AND added_at<?
UNION ALL
SELECT id, yacht_id, NULL AS session_id, entity_type, entity_id, summary_text, bucket_hint, priority, web_link, added_by, added_at, ? AS source_table
FROM quick_entries WHERE yacht_id=? AND added_at>=? AND added_at<?
ORDER BY added_at DESC, id DESC`,
		SourceHandoverEntries, tctx.YachtID, periodStart, periodEnd,
		SourceQuickEntries, tctx.YachtID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountEntriesSince reports how many entries landed after a cutoff, used for
// the idempotent "return existing draft" decision.
func (r Repo) CountEntriesSince(ctx context.Context, tctx domain.TenantContext, periodStart, periodEnd, cutoff string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM handover_entries WHERE yacht_id=? AND added_at>=? AND added_at<? AND added_at>?)
     + (SELECT COUNT(*) FROM quick_entries WHERE yacht_id=? AND added_at>=? AND added_at<? AND added_at>?)`,
		tctx.YachtID, periodStart, periodEnd, cutoff,
		tctx.YachtID, periodStart, periodEnd, cutoff).Scan(&n)
	return n, err
}

// GetEntries resolves capture rows by id across both tables, preserving the
// requested order. Used for source link enrichment at export time.
func (r Repo) GetEntries(ctx context.Context, tctx domain.TenantContext, ids []string) (map[string]domain.HandoverItem, error) {
	res := make(map[string]domain.HandoverItem, len(ids))
	for _, id := range ids {
		row := r.DB.QueryRowContext(ctx, `
SELECT id, yacht_id, session_id, entity_type, entity_id, summary_text, bucket_hint, priority, web_link, added_by, added_at, ? AS source_table
FROM handover_entries WHERE id=? AND yacht_id=?
UNION ALL
SELECT id, yacht_id, NULL, entity_type, entity_id, summary_text, bucket_hint, priority, web_link, added_by, added_at, ?
FROM quick_entries WHERE id=? AND yacht_id=?`,
			SourceHandoverEntries, id, tctx.YachtID,
			SourceQuickEntries, id, tctx.YachtID)
		it, err := scanEntry(row.Scan)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		res[it.ID] = it
	}
	return res, nil
}

func (r Repo) ListEntries(ctx context.Context, tctx domain.TenantContext, limit int) ([]domain.HandoverItem, error) {
	query := `
SELECT id, yacht_id, session_id, entity_type, entity_id, summary_text, bucket_hint, priority, web_link, added_by, added_at, ? AS source_table
FROM handover_entries WHERE yacht_id=?
UNION ALL
SELECT id, yacht_id, NULL, entity_type, entity_id, summary_text, bucket_hint, priority, web_link, added_by, added_at, ?
FROM quick_entries WHERE yacht_id=?
ORDER BY added_at DESC, id DESC`
	args := []any{SourceHandoverEntries, tctx.YachtID, SourceQuickEntries, tctx.YachtID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]domain.HandoverItem, error) {
	var res []domain.HandoverItem
	for rows.Next() {
		it, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func scanEntry(scan func(dest ...any) error) (domain.HandoverItem, error) {
	var it domain.HandoverItem
	var sessionID, entityID, bucketHint, webLink sql.NullString
	err := scan(&it.ID, &it.YachtID, &sessionID, &it.EntityType, &entityID, &it.SummaryText, &bucketHint, &it.Priority, &webLink, &it.AddedBy, &it.AddedAt, &it.SourceTable)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if sessionID.Valid {
		it.SessionID = &sessionID.String
	}
	if entityID.Valid {
		it.EntityID = &entityID.String
	}
	if bucketHint.Valid {
		it.BucketHint = bucketHint.String
	}
	if webLink.Valid {
		it.WebLink = &webLink.String
	}
	return it, nil
}
