package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"watchbill/internal/domain"
)

func scanExport(scan func(dest ...any) error) (domain.Export, error) {
	var e domain.Export
	var storagePath, hash, recipients, errMsg sql.NullString
	err := scan(&e.ID, &e.DraftID, &e.ExportType, &e.Status, &storagePath, &hash, &recipients, &e.ExportedBy, &e.ExportedAt, &errMsg)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if storagePath.Valid {
		e.StoragePath = storagePath.String
	}
	if hash.Valid {
		e.DocumentHash = hash.String
	}
	if recipients.Valid && recipients.String != "" {
		_ = json.Unmarshal([]byte(recipients.String), &e.Recipients)
	}
	if errMsg.Valid {
		e.Error = errMsg.String
	}
	return e, nil
}

const exportCols = `id,draft_id,export_type,status,storage_path,document_hash,recipients_json,exported_by,exported_at,error`

func (r Repo) InsertExportTx(ctx context.Context, tx *sql.Tx, e domain.Export) error {
	var recipients any
	if len(e.Recipients) > 0 {
		b, err := json.Marshal(e.Recipients)
		if err != nil {
			return err
		}
		recipients = string(b)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO exports(`+exportCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.DraftID, e.ExportType, e.Status, nullable(e.StoragePath), nullable(e.DocumentHash), recipients,
		e.ExportedBy, e.ExportedAt, nullable(e.Error))
	return err
}

func (r Repo) GetExport(ctx context.Context, tctx domain.TenantContext, draftID, exportID string) (domain.Export, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+exportCols+` FROM exports
WHERE id=? AND draft_id=? AND draft_id IN (SELECT id FROM drafts WHERE yacht_id=?)`, exportID, draftID, tctx.YachtID)
	return scanExport(row.Scan)
}

func (r Repo) ListExports(ctx context.Context, tctx domain.TenantContext, draftID string) ([]domain.Export, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+exportCols+` FROM exports
WHERE draft_id=? AND draft_id IN (SELECT id FROM drafts WHERE yacht_id=?) ORDER BY exported_at DESC, id DESC`, draftID, tctx.YachtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Export
	for rows.Next() {
		e, err := scanExport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// SetExportStatus moves a pending export to completed or failed. Only the
// delivery dispatcher calls it, outside the request transaction.
func (r Repo) SetExportStatus(ctx context.Context, exportID, status, errMsg string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE exports SET status=?, error=? WHERE id=? AND status='pending'`,
		status, nullable(errMsg), exportID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingEmailExports feeds the delivery dispatcher.
func (r Repo) ListPendingEmailExports(ctx context.Context, limit int) ([]domain.Export, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+exportCols+` FROM exports
WHERE export_type='email' AND status='pending' ORDER BY exported_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Export
	for rows.Next() {
		e, err := scanExport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
