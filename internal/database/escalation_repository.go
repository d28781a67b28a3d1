package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EscalationRepository handles escalation level raises and their history.
// Levels only move upward; each raise appends one immutable record.
type EscalationRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewEscalationRepository creates a new escalation repository
func NewEscalationRepository(db *sqlx.DB, logger *slog.Logger) *EscalationRepository {
	return &EscalationRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// RaiseLevel raises a complaint's escalation level to targetLevel and appends
// the history record in one transaction. The complaint row is locked first so
// a concurrent pass or resolution settles before the decision: if the level
// already reached targetLevel or the complaint left the escalatable statuses,
// RaiseLevel returns ErrEscalationRaceSkipped and writes nothing.
func (r *EscalationRepository) RaiseLevel(ctx context.Context, complaintID string, targetLevel int, reason string, notifiedRole Role) (*EscalationRecord, error) {
	update := `
		UPDATE complaints SET
			escalation_level = $2,
			escalated_at = NOW(),
			updated_at = NOW()
		WHERE id = $1`

	insert := `
		INSERT INTO escalation_records (
			id, complaint_id, from_level, to_level, reason, notified_role, created_at
		) VALUES (
			:id, :complaint_id, :from_level, :to_level, :reason, :notified_role, :created_at
		)`

	var record *EscalationRecord
	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		var current struct {
			Status          Status `db:"status"`
			EscalationLevel int    `db:"escalation_level"`
		}
		err := tx.GetContext(ctx, &current,
			`SELECT status, escalation_level FROM complaints WHERE id = $1 FOR UPDATE`, complaintID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock complaint: %w", err)
		}

		if current.Status != StatusAssigned && current.Status != StatusInProgress {
			return ErrEscalationRaceSkipped
		}
		if current.EscalationLevel >= targetLevel {
			return ErrEscalationRaceSkipped
		}

		if _, err := tx.ExecContext(ctx, update, complaintID, targetLevel); err != nil {
			return fmt.Errorf("failed to raise escalation level: %w", err)
		}

		record = &EscalationRecord{
			ID:           uuid.NewString(),
			ComplaintID:  complaintID,
			FromLevel:    current.EscalationLevel,
			ToLevel:      targetLevel,
			Reason:       reason,
			NotifiedRole: notifiedRole,
			CreatedAt:    time.Now(),
		}
		if _, err := tx.NamedExecContext(ctx, insert, record); err != nil {
			return fmt.Errorf("failed to insert escalation record: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEscalationRaceSkipped) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		r.logger.Error("Failed to raise escalation level",
			"complaint_id", complaintID, "target_level", targetLevel, "error", err)
		return nil, fmt.Errorf("failed to raise escalation level: %w", err)
	}

	r.logger.Info("Escalation level raised",
		"complaint_id", complaintID, "from_level", record.FromLevel, "to_level", record.ToLevel, "reason", reason)
	return record, nil
}

// ListByComplaint retrieves a complaint's escalation history, oldest first
func (r *EscalationRepository) ListByComplaint(ctx context.Context, complaintID string) ([]*EscalationRecord, error) {
	query := `
		SELECT * FROM escalation_records
		WHERE complaint_id = $1
		ORDER BY created_at ASC`

	var records []*EscalationRecord
	err := r.db.SelectContext(ctx, &records, query, complaintID)
	if err != nil {
		r.logger.Error("Failed to list escalation records", "complaint_id", complaintID, "error", err)
		return nil, fmt.Errorf("failed to list escalation records: %w", err)
	}

	return records, nil
}

// ListRecent retrieves escalation records created within the window
func (r *EscalationRepository) ListRecent(ctx context.Context, window time.Duration, limit int) ([]*EscalationRecord, error) {
	query := `
		SELECT * FROM escalation_records
		WHERE created_at > NOW() - INTERVAL '%d hours'
		ORDER BY created_at DESC
		LIMIT $1`

	queryFormatted := fmt.Sprintf(query, int(window.Hours()))

	var records []*EscalationRecord
	err := r.db.SelectContext(ctx, &records, queryFormatted, limit)
	if err != nil {
		r.logger.Error("Failed to list recent escalation records", "error", err)
		return nil, fmt.Errorf("failed to list recent escalation records: %w", err)
	}

	return records, nil
}
