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

// WaterBodyRepository handles registered water bodies. Boundaries and
// sensitivity come from seeds or admin imports; risk fields are mirrored from
// the analytics pipeline's risk topic.
type WaterBodyRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewWaterBodyRepository creates a new water body repository
func NewWaterBodyRepository(db *sqlx.DB, logger *slog.Logger) *WaterBodyRepository {
	return &WaterBodyRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create registers a water body. The bounding box columns must already be
// consistent with the boundary ring; the registry computes them on import.
func (r *WaterBodyRepository) Create(ctx context.Context, wb *WaterBody) error {
	query := `
		INSERT INTO water_bodies (
			id, name, type, boundary, sensitivity_score, risk_score,
			environmental_health_index, area_sq_km, region,
			min_lat, max_lat, min_lon, max_lon, created_at, updated_at
		) VALUES (
			:id, :name, :type, :boundary, :sensitivity_score, :risk_score,
			:environmental_health_index, :area_sq_km, :region,
			:min_lat, :max_lat, :min_lon, :max_lon, :created_at, :updated_at
		)`

	wb.CreatedAt = time.Now()
	wb.UpdatedAt = wb.CreatedAt

	_, err := r.db.NamedExecContext(ctx, query, wb)
	if err != nil {
		r.logger.Error("Failed to create water body", "water_body_id", wb.ID, "error", err)
		return fmt.Errorf("failed to create water body: %w", err)
	}

	r.logger.Info("Water body created", "water_body_id", wb.ID, "name", wb.Name)
	return nil
}

// GetByID retrieves a water body by ID
func (r *WaterBodyRepository) GetByID(ctx context.Context, id string) (*WaterBody, error) {
	query := `SELECT * FROM water_bodies WHERE id = $1`

	var wb WaterBody
	err := r.db.GetContext(ctx, &wb, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get water body by ID", "water_body_id", id, "error", err)
		return nil, fmt.Errorf("failed to get water body by ID: %w", err)
	}

	return &wb, nil
}

// ListAll retrieves every registered water body, boundaries included. The
// registry cache loads from here.
func (r *WaterBodyRepository) ListAll(ctx context.Context) ([]*WaterBody, error) {
	query := `SELECT * FROM water_bodies ORDER BY name ASC`

	var bodies []*WaterBody
	err := r.db.SelectContext(ctx, &bodies, query)
	if err != nil {
		r.logger.Error("Failed to list water bodies", "error", err)
		return nil, fmt.Errorf("failed to list water bodies: %w", err)
	}

	return bodies, nil
}

// ListAtRisk retrieves water bodies whose mirrored risk score meets the
// threshold, highest risk first.
func (r *WaterBodyRepository) ListAtRisk(ctx context.Context, threshold float64, limit int) ([]*WaterBody, error) {
	query := `
		SELECT * FROM water_bodies
		WHERE risk_score >= $1
		ORDER BY risk_score DESC
		LIMIT $2`

	var bodies []*WaterBody
	err := r.db.SelectContext(ctx, &bodies, query, threshold, limit)
	if err != nil {
		r.logger.Error("Failed to list water bodies at risk", "error", err)
		return nil, fmt.Errorf("failed to list water bodies at risk: %w", err)
	}

	return bodies, nil
}

// UpdateRiskScores mirrors a risk assessment published by the analytics
// pipeline onto the water body row.
func (r *WaterBodyRepository) UpdateRiskScores(ctx context.Context, id string, riskScore, healthIndex float64) error {
	query := `
		UPDATE water_bodies SET
			risk_score = $2,
			environmental_health_index = $3,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, riskScore, healthIndex)
	if err != nil {
		r.logger.Error("Failed to update water body risk scores", "water_body_id", id, "error", err)
		return fmt.Errorf("failed to update water body risk scores: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	r.logger.Info("Water body risk scores updated",
		"water_body_id", id, "risk_score", riskScore, "health_index", healthIndex)
	return nil
}

// CountAtRisk counts water bodies whose risk score meets the threshold
func (r *WaterBodyRepository) CountAtRisk(ctx context.Context, threshold float64) (int, error) {
	query := `SELECT COUNT(*) FROM water_bodies WHERE risk_score >= $1`

	var count int
	err := r.db.GetContext(ctx, &count, query, threshold)
	if err != nil {
		r.logger.Error("Failed to count water bodies at risk", "error", err)
		return 0, fmt.Errorf("failed to count water bodies at risk: %w", err)
	}

	return count, nil
}
