package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"watchbill/internal/domain"
	"watchbill/internal/repo"
)

// NewAPIKey mints a fresh key bound to a yacht, user, and role. Only the
// SHA-256 hash is stored; the plaintext secret is returned once and never
// retrievable afterwards.
func NewAPIKey(ctx context.Context, r repo.Repo, yachtID, userID, role, name string) (string, domain.APIKey, error) {
	if userID == "" {
		return "", domain.APIKey{}, domain.Validationf("user_id is required")
	}
	secret := uuid.NewString() + uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		YachtID:   yachtID,
		Role:      role,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return secret, key, nil
}
