package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"watchbill/internal/config"
	"watchbill/internal/domain"
	"watchbill/internal/events"
	"watchbill/internal/repo"
)

// Renderer turns an enriched document into a distributable artifact. The
// rendering internals are a collaborator; the engine only consumes this
// contract.
type Renderer interface {
	Render(doc domain.ExportDocument, exportType string) (data []byte, artifactHash string, ext string, err error)
}

// ArtifactStore persists rendered artifacts under tenant-scoped paths.
type ArtifactStore interface {
	Put(path string, data []byte) error
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Renderer Renderer
	Store    ArtifactStore
	Links    []SourceLinkResolver
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, renderer Renderer, store ArtifactStore) Engine {
	e := Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Renderer: renderer,
		Store:    store,
		Now:      time.Now,
	}
	e.Links = DefaultResolvers(cfg)
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RegisterYacht creates a yacht with its seeded config.
func (e Engine) RegisterYacht(ctx context.Context, yachtID, name, actorID string) (domain.Yacht, error) {
	if yachtID == "" {
		return domain.Yacht{}, domain.Validationf("yacht id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Yacht{}, err
	}
	defer tx.Rollback()

	y := domain.Yacht{
		ID:        yachtID,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO yachts(id,name,created_at) VALUES (?,?,?)`,
		y.ID, y.Name, y.CreatedAt); err != nil {
		return domain.Yacht{}, fmt.Errorf("insert yacht: %w", err)
	}
	if err := e.Repo.UpsertYachtConfigTx(ctx, tx, y.ID, config.Default(y.ID)); err != nil {
		return domain.Yacht{}, fmt.Errorf("insert yacht config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "yacht.registered", y.ID, "yacht", y.ID, actorID, events.EventPayload{"name": y.Name}); err != nil {
		return domain.Yacht{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Yacht{}, err
	}
	return y, nil
}

// AddQuickEntry records an ad-hoc capture item. The capture surface is an
// input collaborator of the draft pipeline; entries are immutable once
// written.
func (e Engine) AddQuickEntry(ctx context.Context, tctx domain.TenantContext, it domain.HandoverItem) (domain.HandoverItem, error) {
	if it.SummaryText == "" {
		return it, domain.Validationf("summary_text is required")
	}
	if it.EntityType == "" {
		return it, domain.Validationf("entity_type is required")
	}
	if !validPriority(it.Priority) {
		return it, domain.Validationf("priority must be one of low, normal, high, urgent")
	}
	if _, err := e.Repo.GetYacht(ctx, tctx.YachtID); err != nil {
		return it, err
	}
	it.ID = newID()
	it.YachtID = tctx.YachtID
	it.AddedBy = tctx.UserID
	if it.AddedAt == "" {
		it.AddedAt = e.now().UTC().Format(time.RFC3339)
	}
	it.SourceTable = repo.SourceQuickEntries
	if err := e.Repo.InsertQuickEntry(ctx, it); err != nil {
		return it, err
	}
	return it, nil
}

// AddSessionEntry records a structured capture item tied to a handover session.
func (e Engine) AddSessionEntry(ctx context.Context, tctx domain.TenantContext, sessionID string, it domain.HandoverItem) (domain.HandoverItem, error) {
	if sessionID == "" {
		return it, domain.Validationf("session_id is required")
	}
	if it.SummaryText == "" {
		return it, domain.Validationf("summary_text is required")
	}
	if it.EntityType == "" {
		return it, domain.Validationf("entity_type is required")
	}
	if !validPriority(it.Priority) {
		return it, domain.Validationf("priority must be one of low, normal, high, urgent")
	}
	if _, err := e.Repo.GetYacht(ctx, tctx.YachtID); err != nil {
		return it, err
	}
	it.ID = newID()
	it.YachtID = tctx.YachtID
	it.SessionID = &sessionID
	it.AddedBy = tctx.UserID
	if it.AddedAt == "" {
		it.AddedAt = e.now().UTC().Format(time.RFC3339)
	}
	it.SourceTable = repo.SourceHandoverEntries
	if err := e.Repo.InsertHandoverEntry(ctx, it); err != nil {
		return it, err
	}
	return it, nil
}

// Aggregate merges the two capture streams for a period into one ordered,
// tenant-scoped list. Read-only and additive: nothing is ever deleted from
// the capture tables by this subsystem.
func (e Engine) Aggregate(ctx context.Context, tctx domain.TenantContext, periodStart, periodEnd string) ([]domain.HandoverItem, error) {
	if err := validatePeriod(periodStart, periodEnd); err != nil {
		return nil, err
	}
	return e.Repo.AggregateEntries(ctx, tctx, periodStart, periodEndExclusive(periodEnd))
}

func validPriority(p string) bool {
	switch p {
	case "low", "normal", "high", "urgent":
		return true
	}
	return false
}

func validatePeriod(start, end string) error {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return domain.Validationf("period_start: expected YYYY-MM-DD, got %q", start)
	}
	t, err := time.Parse("2006-01-02", end)
	if err != nil {
		return domain.Validationf("period_end: expected YYYY-MM-DD, got %q", end)
	}
	if t.Before(s) {
		return domain.Validationf("period_end %s precedes period_start %s", end, start)
	}
	return nil
}

// periodEndExclusive turns an inclusive end date into the exclusive RFC3339
// upper bound used by the range queries.
func periodEndExclusive(end string) string {
	t, err := time.Parse("2006-01-02", end)
	if err != nil {
		return end
	}
	return t.AddDate(0, 0, 1).Format(time.RFC3339)
}
