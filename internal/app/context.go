package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"watchbill/internal/config"
	"watchbill/internal/repo"
)

// ResolveYachtAndConfig picks the active yacht and ensures the yacht and its
// config exist in the database, seeding defaults when missing. It prefers the
// override, then the single-yacht database. A missing yacht is created on the
// fly so local workflows never stall on setup.
func ResolveYachtAndConfig(ctx context.Context, yachtOverride string, r repo.Repo) (string, *config.Config, error) {
	yachtID := yachtOverride
	if yachtID == "" {
		yachts, err := r.ListYachts(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(yachts) != 1 {
			return "", nil, fmt.Errorf("yacht not specified; use --yacht")
		}
		yachtID = yachts[0].ID
	}
	seedCfg := config.Default(yachtID)

	if _, err := r.GetYacht(ctx, yachtID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createYacht(ctx, r, yachtID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetYachtConfig(ctx, yachtID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertYachtConfig(ctx, yachtID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed yacht config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Yacht.ID = yachtID
	return yachtID, cfg, nil
}

func createYacht(ctx context.Context, r repo.Repo, yachtID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(yachtID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO yachts(id,name,created_at) VALUES (?,?,?)`,
		yachtID, "", now); err != nil {
		return fmt.Errorf("insert yacht: %w", err)
	}
	if err := r.UpsertYachtConfigTx(ctx, tx, yachtID, seedCfg); err != nil {
		return fmt.Errorf("insert yacht config: %w", err)
	}
	return tx.Commit()
}
