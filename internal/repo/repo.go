package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"watchbill/internal/config"
	"watchbill/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func toJSONIDs(ids []string) string {
	b, _ := json.Marshal(ids)
	return string(b)
}

func fromJSONIDs(raw string) []string {
	var ids []string
	_ = json.Unmarshal([]byte(raw), &ids)
	return ids
}

// --- yachts ---

func (r Repo) InsertYacht(ctx context.Context, y domain.Yacht) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO yachts(id,name,created_at) VALUES (?,?,?)`,
		y.ID, y.Name, y.CreatedAt)
	return err
}

func (r Repo) GetYacht(ctx context.Context, id string) (domain.Yacht, error) {
	var y domain.Yacht
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM yachts WHERE id=?`, id).
		Scan(&y.ID, &y.Name, &y.CreatedAt)
	if err == sql.ErrNoRows {
		return y, ErrNotFound
	}
	return y, err
}

func (r Repo) ListYachts(ctx context.Context) ([]domain.Yacht, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM yachts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Yacht
	for rows.Next() {
		var y domain.Yacht
		if err := rows.Scan(&y.ID, &y.Name, &y.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, y)
	}
	return res, rows.Err()
}

// --- yacht configs ---

func (r Repo) UpsertYachtConfig(ctx context.Context, yachtID string, cfg *config.Config) error {
	return upsertYachtConfig(ctx, r.DB, nil, yachtID, cfg)
}

func (r Repo) UpsertYachtConfigTx(ctx context.Context, tx *sql.Tx, yachtID string, cfg *config.Config) error {
	return upsertYachtConfig(ctx, nil, tx, yachtID, cfg)
}

func upsertYachtConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, yachtID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Yacht.ID = yachtID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO yacht_configs(yacht_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(yacht_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, yachtID, string(payload), now, now)
	return err
}

func (r Repo) GetYachtConfig(ctx context.Context, yachtID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM yacht_configs WHERE yacht_id=?`, yachtID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Yacht.ID == "" {
		cfg.Yacht.ID = yachtID
	}
	return &cfg, cfg.Validate()
}

// --- drafts ---

const draftCols = `id,yacht_id,period_start,period_end,department,state,total_entries,critical_count,reviewed_by,created_at`

func scanDraft(scan func(dest ...any) error) (domain.Draft, error) {
	var d domain.Draft
	var reviewedBy sql.NullString
	var state string
	err := scan(&d.ID, &d.YachtID, &d.PeriodStart, &d.PeriodEnd, &d.Department, &state, &d.TotalEntries, &d.CriticalCount, &reviewedBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.State = domain.DraftState(state)
	if reviewedBy.Valid {
		d.ReviewedBy = &reviewedBy.String
	}
	return d, nil
}

func (r Repo) InsertDraftTx(ctx context.Context, tx *sql.Tx, d domain.Draft) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO drafts(`+draftCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.YachtID, d.PeriodStart, d.PeriodEnd, d.Department, string(d.State), d.TotalEntries, d.CriticalCount, nullableStringPtr(d.ReviewedBy), d.CreatedAt)
	return err
}

func (r Repo) GetDraft(ctx context.Context, tctx domain.TenantContext, id string) (domain.Draft, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+draftCols+` FROM drafts WHERE id=? AND yacht_id=?`, id, tctx.YachtID)
	return scanDraft(row.Scan)
}

func (r Repo) GetDraftTx(ctx context.Context, tx *sql.Tx, tctx domain.TenantContext, id string) (domain.Draft, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+draftCols+` FROM drafts WHERE id=? AND yacht_id=?`, id, tctx.YachtID)
	return scanDraft(row.Scan)
}

// FindLiveDraft returns the single non-terminal draft for the tuple, if any.
func (r Repo) FindLiveDraft(ctx context.Context, tctx domain.TenantContext, periodStart, periodEnd, department string) (domain.Draft, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+draftCols+` FROM drafts
WHERE yacht_id=? AND period_start=? AND period_end=? AND department=? AND state IN ('DRAFT','IN_REVIEW','ACCEPTED')`,
		tctx.YachtID, periodStart, periodEnd, department)
	return scanDraft(row.Scan)
}

// FindSealedDraft returns a SIGNED or EXPORTED draft for the exact period, if any.
func (r Repo) FindSealedDraft(ctx context.Context, tctx domain.TenantContext, periodStart, periodEnd, department string) (domain.Draft, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+draftCols+` FROM drafts
WHERE yacht_id=? AND period_start=? AND period_end=? AND department=? AND state IN ('SIGNED','EXPORTED')
ORDER BY created_at DESC LIMIT 1`,
		tctx.YachtID, periodStart, periodEnd, department)
	return scanDraft(row.Scan)
}

func (r Repo) ListDrafts(ctx context.Context, tctx domain.TenantContext, limit int) ([]domain.Draft, error) {
	query := `SELECT ` + draftCols + ` FROM drafts WHERE yacht_id=? ORDER BY created_at DESC, id DESC`
	args := []any{tctx.YachtID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Draft
	for rows.Next() {
		d, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// requireMutableTx is the data-access enforcement of draft immutability:
// every content write goes through it, so a signed draft rejects writes even
// if a service-layer check is bypassed.
func (r Repo) requireMutableTx(ctx context.Context, tx *sql.Tx, draftID string, action domain.DraftAction) (domain.DraftState, error) {
	var state string
	err := tx.QueryRowContext(ctx, `SELECT state FROM drafts WHERE id=?`, draftID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	st := domain.DraftState(state)
	if !st.Mutable() {
		return st, domain.StateTransitionError{From: st, Action: action}
	}
	return st, nil
}

// SetDraftReviewedTx flips DRAFT -> IN_REVIEW with a guarded update.
func (r Repo) SetDraftReviewedTx(ctx context.Context, tx *sql.Tx, draftID, reviewerID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE drafts SET state=?, reviewed_by=? WHERE id=? AND state=?`,
		string(domain.StateInReview), reviewerID, draftID, string(domain.StateDraft))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CasDraftStateTx performs a compare-and-swap on the draft state. Exactly one
// of two racing callers observes a true result.
func (r Repo) CasDraftStateTx(ctx context.Context, tx *sql.Tx, draftID string, from, to domain.DraftState) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE drafts SET state=? WHERE id=? AND state=?`,
		string(to), draftID, string(from))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// UpdateDraftCountsTx refreshes the denormalized entry caches.
func (r Repo) UpdateDraftCountsTx(ctx context.Context, tx *sql.Tx, draftID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE drafts SET
total_entries=(SELECT COUNT(*) FROM draft_items WHERE draft_id=? AND archived=0),
critical_count=(SELECT COUNT(*) FROM draft_items WHERE draft_id=? AND archived=0 AND is_critical=1)
WHERE id=?`, draftID, draftID, draftID)
	return err
}

// --- sections ---

func (r Repo) InsertSectionTx(ctx context.Context, tx *sql.Tx, s domain.DraftSection) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO draft_sections(id,draft_id,bucket_name,ord) VALUES (?,?,?,?)`,
		s.ID, s.DraftID, s.BucketName, s.Order)
	return err
}

func (r Repo) ListSections(ctx context.Context, draftID string) ([]domain.DraftSection, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,draft_id,bucket_name,ord FROM draft_sections WHERE draft_id=? ORDER BY ord ASC`, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DraftSection
	for rows.Next() {
		var s domain.DraftSection
		if err := rows.Scan(&s.ID, &s.DraftID, &s.BucketName, &s.Order); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- items ---

const itemCols = `id,draft_id,section_id,summary_text,is_critical,confidence,item_order,source_entry_ids,edit_count,archived`

func scanItem(scan func(dest ...any) error) (domain.DraftItem, error) {
	var it domain.DraftItem
	var critical, archived int
	var sourceIDs string
	err := scan(&it.ID, &it.DraftID, &it.SectionID, &it.SummaryText, &critical, &it.Confidence, &it.ItemOrder, &sourceIDs, &it.EditCount, &archived)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.IsCritical = critical == 1
	it.Archived = archived == 1
	it.SourceEntryIDs = fromJSONIDs(sourceIDs)
	return it, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.DraftItem) error {
	if len(it.SourceEntryIDs) == 0 {
		return fmt.Errorf("draft item %s has no source entries", it.ID)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO draft_items(`+itemCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.DraftID, it.SectionID, it.SummaryText, boolToInt(it.IsCritical), it.Confidence, it.ItemOrder,
		toJSONIDs(it.SourceEntryIDs), it.EditCount, boolToInt(it.Archived))
	return err
}

func (r Repo) GetItem(ctx context.Context, draftID, itemID string) (domain.DraftItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemCols+` FROM draft_items WHERE id=? AND draft_id=?`, itemID, draftID)
	return scanItem(row.Scan)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, draftID, itemID string) (domain.DraftItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+itemCols+` FROM draft_items WHERE id=? AND draft_id=?`, itemID, draftID)
	return scanItem(row.Scan)
}

func (r Repo) ListItems(ctx context.Context, draftID string, includeArchived bool) ([]domain.DraftItem, error) {
	query := `SELECT ` + itemCols + ` FROM draft_items WHERE draft_id=?`
	if !includeArchived {
		query += ` AND archived=0`
	}
	query += ` ORDER BY item_order ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DraftItem
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) ListItemsTx(ctx context.Context, tx *sql.Tx, draftID string, includeArchived bool) ([]domain.DraftItem, error) {
	query := `SELECT ` + itemCols + ` FROM draft_items WHERE draft_id=?`
	if !includeArchived {
		query += ` AND archived=0`
	}
	query += ` ORDER BY item_order ASC, id ASC`
	rows, err := tx.QueryContext(ctx, query, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DraftItem
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// UpdateItemTextTx rewrites the live text. Provenance and criticality are
// derived facts and deliberately not updatable here.
func (r Repo) UpdateItemTextTx(ctx context.Context, tx *sql.Tx, draftID, itemID, text string) error {
	if _, err := r.requireMutableTx(ctx, tx, draftID, domain.ActionEditItem); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE draft_items SET summary_text=?, edit_count=edit_count+1 WHERE id=? AND draft_id=? AND archived=0`,
		text, itemID, draftID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveItemsTx soft-archives items so merge history stays queryable.
func (r Repo) ArchiveItemsTx(ctx context.Context, tx *sql.Tx, draftID string, itemIDs []string) error {
	if _, err := r.requireMutableTx(ctx, tx, draftID, domain.ActionMergeItems); err != nil {
		return err
	}
	for _, id := range itemIDs {
		res, err := tx.ExecContext(ctx, `UPDATE draft_items SET archived=1 WHERE id=? AND draft_id=? AND archived=0`, id, draftID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// InsertMergedItemTx writes the merge result inside the same mutability guard.
func (r Repo) InsertMergedItemTx(ctx context.Context, tx *sql.Tx, it domain.DraftItem) error {
	if _, err := r.requireMutableTx(ctx, tx, it.DraftID, domain.ActionMergeItems); err != nil {
		return err
	}
	return r.InsertItemTx(ctx, tx, it)
}

// NextItemOrderTx returns the next free item_order within a section.
func (r Repo) NextItemOrderTx(ctx context.Context, tx *sql.Tx, sectionID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(item_order),-1)+1 FROM draft_items WHERE section_id=?`, sectionID).Scan(&next)
	return next, err
}

// --- edits ---

func (r Repo) InsertEditTx(ctx context.Context, tx *sql.Tx, e domain.DraftEdit) error {
	if _, err := r.requireMutableTx(ctx, tx, e.DraftID, domain.ActionEditItem); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO draft_edits(id,draft_id,item_id,edited_by,original_text,edited_text,reason,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.DraftID, e.ItemID, e.EditedBy, e.OriginalText, e.EditedText, nullableStringPtr(e.Reason), e.CreatedAt)
	return err
}

func (r Repo) ListEdits(ctx context.Context, draftID string) ([]domain.DraftEdit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,draft_id,item_id,edited_by,original_text,edited_text,reason,created_at FROM draft_edits WHERE draft_id=? ORDER BY created_at ASC, id ASC`, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DraftEdit
	for rows.Next() {
		var e domain.DraftEdit
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.DraftID, &e.ItemID, &e.EditedBy, &e.OriginalText, &e.EditedText, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if reason.Valid {
			e.Reason = &reason.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- signoffs ---

func scanSignoff(scan func(dest ...any) error) (domain.Signoff, error) {
	var s domain.Signoff
	var incomingUser, incomingAt, hash sql.NullString
	err := scan(&s.DraftID, &s.OutgoingUserID, &s.OutgoingSignedAt, &incomingUser, &incomingAt, &hash)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if incomingUser.Valid {
		s.IncomingUserID = &incomingUser.String
	}
	if incomingAt.Valid {
		s.IncomingSignedAt = &incomingAt.String
	}
	if hash.Valid {
		s.DocumentHash = &hash.String
	}
	return s, nil
}

func (r Repo) InsertSignoffTx(ctx context.Context, tx *sql.Tx, s domain.Signoff) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO signoffs(draft_id,outgoing_user_id,outgoing_signed_at) VALUES (?,?,?)`,
		s.DraftID, s.OutgoingUserID, s.OutgoingSignedAt)
	return err
}

func (r Repo) CompleteSignoffTx(ctx context.Context, tx *sql.Tx, draftID, incomingUserID, signedAt, documentHash string) error {
	res, err := tx.ExecContext(ctx, `UPDATE signoffs SET incoming_user_id=?, incoming_signed_at=?, document_hash=? WHERE draft_id=? AND incoming_user_id IS NULL`,
		incomingUserID, signedAt, documentHash, draftID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSignoff(ctx context.Context, draftID string) (domain.Signoff, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT draft_id,outgoing_user_id,outgoing_signed_at,incoming_user_id,incoming_signed_at,document_hash FROM signoffs WHERE draft_id=?`, draftID)
	return scanSignoff(row.Scan)
}

func (r Repo) GetSignoffTx(ctx context.Context, tx *sql.Tx, draftID string) (domain.Signoff, error) {
	row := tx.QueryRowContext(ctx, `SELECT draft_id,outgoing_user_id,outgoing_signed_at,incoming_user_id,incoming_signed_at,document_hash FROM signoffs WHERE draft_id=?`, draftID)
	return scanSignoff(row.Scan)
}
