package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
)

const apiKeyColumns = `id, user_id, name, key_lookup, key_hash, last_chars, is_active, rate_limit_plan, created_at, expires_at, revoked_at`

type APIKeyRepository struct {
	db DBTX
}

func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *entity.APIKey) error {
	query := `
		INSERT INTO api_keys (
			user_id, name, key_lookup, key_hash, last_chars, is_active, rate_limit_plan, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		key.UserID,
		key.Name,
		key.KeyLookup,
		key.KeyHash,
		key.LastChars,
		key.IsActive,
		key.RateLimitPlan,
		key.CreatedAt,
		key.ExpiresAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	key.ID = uint64(id)
	return nil
}

// FindByLookup returns the single record indexed by the lookup fragment, or
// nil when none exists. Lifecycle state is not filtered here.
func (r *APIKeyRepository) FindByLookup(ctx context.Context, lookup string) (*entity.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_lookup = ?`
	return r.findOne(ctx, query, lookup)
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id uint64) (*entity.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = ?`
	return r.findOne(ctx, query, id)
}

func (r *APIKeyRepository) ListByUser(ctx context.Context, userID uint64) ([]*entity.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = ? ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*entity.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

// Revoke deactivates the key and stamps revoked_at. It reports false when no
// active key with that id existed.
func (r *APIKeyRepository) Revoke(ctx context.Context, id uint64, now time.Time) (bool, error) {
	query := `
		UPDATE api_keys SET
			is_active = 0,
			revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, now, id)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *APIKeyRepository) SetExpiry(ctx context.Context, id uint64, expiresAt time.Time) error {
	query := `UPDATE api_keys SET expires_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, expiresAt, id)
	return err
}

func (r *APIKeyRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.APIKey, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	key, err := scanAPIKey(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return key, nil
}

func scanAPIKey(scan rowScanner) (*entity.APIKey, error) {
	key := &entity.APIKey{}
	if err := scan(
		&key.ID,
		&key.UserID,
		&key.Name,
		&key.KeyLookup,
		&key.KeyHash,
		&key.LastChars,
		&key.IsActive,
		&key.RateLimitPlan,
		&key.CreatedAt,
		&key.ExpiresAt,
		&key.RevokedAt,
	); err != nil {
		return nil, err
	}

	return key, nil
}
