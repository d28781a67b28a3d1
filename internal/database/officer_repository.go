package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// OfficerRepository handles the local mirror of field staff. Rows are synced
// from the external user service; this engine never stores credentials.
type OfficerRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewOfficerRepository creates a new officer repository
func NewOfficerRepository(db *sqlx.DB, logger *slog.Logger) *OfficerRepository {
	return &OfficerRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Upsert inserts or refreshes a mirrored officer row
func (r *OfficerRepository) Upsert(ctx context.Context, officer *Officer) error {
	query := `
		INSERT INTO officers (
			id, full_name, email, phone, role, is_active, created_at, updated_at
		) VALUES (
			:id, :full_name, :email, :phone, :role, :is_active, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			role = EXCLUDED.role,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`

	if officer.CreatedAt.IsZero() {
		officer.CreatedAt = time.Now()
	}
	officer.UpdatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, officer)
	if err != nil {
		r.logger.Error("Failed to upsert officer", "officer_id", officer.ID, "error", err)
		return fmt.Errorf("failed to upsert officer: %w", err)
	}

	r.logger.Info("Officer upserted", "officer_id", officer.ID, "role", officer.Role)
	return nil
}

// GetByID retrieves an officer by ID
func (r *OfficerRepository) GetByID(ctx context.Context, id string) (*Officer, error) {
	query := `SELECT * FROM officers WHERE id = $1`

	var officer Officer
	err := r.db.GetContext(ctx, &officer, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get officer by ID", "officer_id", id, "error", err)
		return nil, fmt.Errorf("failed to get officer by ID: %w", err)
	}

	return &officer, nil
}

// List retrieves all mirrored officers, active and inactive
func (r *OfficerRepository) List(ctx context.Context) ([]*Officer, error) {
	query := `SELECT * FROM officers ORDER BY full_name ASC`

	var officers []*Officer
	err := r.db.SelectContext(ctx, &officers, query)
	if err != nil {
		r.logger.Error("Failed to list officers", "error", err)
		return nil, fmt.Errorf("failed to list officers: %w", err)
	}

	return officers, nil
}

// ListActiveByRole retrieves active staff with the given role. Escalation
// notifications fan out to these rows.
func (r *OfficerRepository) ListActiveByRole(ctx context.Context, role Role) ([]*Officer, error) {
	query := `
		SELECT * FROM officers
		WHERE role = $1 AND is_active = true
		ORDER BY id ASC`

	var officers []*Officer
	err := r.db.SelectContext(ctx, &officers, query, role)
	if err != nil {
		r.logger.Error("Failed to list officers by role", "role", role, "error", err)
		return nil, fmt.Errorf("failed to list officers by role: %w", err)
	}

	return officers, nil
}

// SetActive flips an officer's eligibility without touching the mirror fields
func (r *OfficerRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE officers SET
			is_active = $2,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, active)
	if err != nil {
		r.logger.Error("Failed to set officer active flag", "officer_id", id, "error", err)
		return fmt.Errorf("failed to set officer active flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	r.logger.Info("Officer active flag updated", "officer_id", id, "is_active", active)
	return nil
}
