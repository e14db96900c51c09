package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/ai-gateway/services/credentials"
)

// SecretRepository implements credentials.SecretStore on the provider_secrets table.
// Payloads arrive already sealed; this layer never sees plaintext secrets.
type SecretRepository struct {
	db     *DB
	logger *zap.Logger
}

var _ credentials.SecretStore = (*SecretRepository)(nil)

// NewSecretRepository creates a new secret repository
func NewSecretRepository(db *DB, logger *zap.Logger) *SecretRepository {
	return &SecretRepository{
		db:     db,
		logger: logger,
	}
}

// Put inserts or replaces the record of a provider
func (r *SecretRepository) Put(ctx context.Context, rec *credentials.SecretRecord) error {
	query := `
		INSERT INTO provider_secrets (provider_id, payload, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id) DO UPDATE
		SET payload = EXCLUDED.payload,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ProviderID,
		rec.Payload,
		rec.Active,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider secret: %w", err)
	}

	r.logger.Debug("provider secret stored", zap.String("provider", rec.ProviderID))
	return nil
}

// Get retrieves the record of a provider
func (r *SecretRepository) Get(ctx context.Context, providerID string) (*credentials.SecretRecord, error) {
	query := `
		SELECT provider_id, payload, active, created_at, updated_at
		FROM provider_secrets
		WHERE provider_id = $1
	`

	rec := &credentials.SecretRecord{}
	err := r.db.QueryRowContext(ctx, query, providerID).Scan(
		&rec.ProviderID,
		&rec.Payload,
		&rec.Active,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credentials.ErrSecretNotFound
		}
		return nil, fmt.Errorf("failed to get provider secret: %w", err)
	}

	return rec, nil
}

// Delete removes the record of a provider
func (r *SecretRepository) Delete(ctx context.Context, providerID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM provider_secrets WHERE provider_id = $1`, providerID)
	if err != nil {
		return fmt.Errorf("failed to delete provider secret: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return credentials.ErrSecretNotFound
	}

	r.logger.Debug("provider secret deleted", zap.String("provider", providerID))
	return nil
}

// List retrieves every stored record ordered by provider id
func (r *SecretRepository) List(ctx context.Context) ([]*credentials.SecretRecord, error) {
	query := `
		SELECT provider_id, payload, active, created_at, updated_at
		FROM provider_secrets
		ORDER BY provider_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider secrets: %w", err)
	}
	defer rows.Close()

	var records []*credentials.SecretRecord
	for rows.Next() {
		rec := &credentials.SecretRecord{}
		if err := rows.Scan(
			&rec.ProviderID,
			&rec.Payload,
			&rec.Active,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider secret: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider secrets: %w", err)
	}

	return records, nil
}
