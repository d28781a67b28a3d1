package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// advisory lock key serializing assignment claims across engine instances
const assignmentLockKey int64 = 742001

// officerWorkloadQuery derives active-case counts for every eligible officer.
// Ordered ascending by load, then by officer ID so ties break the same way on
// every instance.
const officerWorkloadQuery = `
	SELECT o.id, COUNT(c.id) AS active_cases
	FROM officers o
	LEFT JOIN complaints c
		ON c.assigned_officer_id = o.id
		AND c.status IN ('assigned', 'in_progress')
	WHERE o.role = 'officer' AND o.is_active = true
	GROUP BY o.id
	ORDER BY active_cases ASC, o.id ASC`

// ComplaintRepository handles complaint data operations. All lifecycle
// transitions go through the Mark*/Assign/Start/Resolve/Reject methods, which
// update the row and append the status log entry in one transaction; a
// transition whose status guard matches no row fails with ErrInvalidTransition
// and writes nothing.
type ComplaintRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewComplaintRepository creates a new complaint repository
func NewComplaintRepository(db *sqlx.DB, logger *slog.Logger) *ComplaintRepository {
	return &ComplaintRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// NextComplaintNumber allocates the next human-facing complaint number for
// the day of now, in the form AQS-20260823-00042. Numbers are unique and
// gapless per day; the counter row is upserted atomically.
func (r *ComplaintRepository) NextComplaintNumber(ctx context.Context, now time.Time) (string, error) {
	query := `
		INSERT INTO complaint_counters (day, counter)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET counter = complaint_counters.counter + 1
		RETURNING counter`

	day := now.UTC().Format("20060102")

	var counter int
	err := r.db.GetContext(ctx, &counter, query, day)
	if err != nil {
		r.logger.Error("Failed to allocate complaint number", "day", day, "error", err)
		return "", fmt.Errorf("failed to allocate complaint number: %w", err)
	}

	return fmt.Sprintf("AQS-%s-%05d", day, counter), nil
}

// Create inserts a new complaint in status submitted together with its
// initial status log entry.
func (r *ComplaintRepository) Create(ctx context.Context, complaint *Complaint) error {
	query := `
		INSERT INTO complaints (
			id, complaint_number, submitter_id, water_body_id, category,
			description, latitude, longitude, geo_result, image_url,
			violation_type, confidence, urgency, severity_score, priority_band,
			status, assigned_officer_id, sla_deadline, escalation_level,
			created_at, updated_at
		) VALUES (
			:id, :complaint_number, :submitter_id, :water_body_id, :category,
			:description, :latitude, :longitude, :geo_result, :image_url,
			:violation_type, :confidence, :urgency, :severity_score, :priority_band,
			:status, :assigned_officer_id, :sla_deadline, :escalation_level,
			:created_at, :updated_at
		)`

	complaint.Status = StatusSubmitted
	complaint.CreatedAt = time.Now()
	complaint.UpdatedAt = complaint.CreatedAt

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, complaint); err != nil {
			return err
		}
		return insertStatusLog(ctx, tx, &StatusLogEntry{
			ComplaintID: complaint.ID,
			NewStatus:   StatusSubmitted,
			ActorID:     &complaint.SubmitterID,
			ActorRole:   RoleCitizen,
			Note:        "Complaint submitted",
		})
	})
	if err != nil {
		r.logger.Error("Failed to create complaint", "complaint_id", complaint.ID, "error", err)
		return fmt.Errorf("failed to create complaint: %w", err)
	}

	r.logger.Info("Complaint created",
		"complaint_id", complaint.ID, "complaint_number", complaint.ComplaintNumber)
	return nil
}

// GetByID retrieves a complaint by ID
func (r *ComplaintRepository) GetByID(ctx context.Context, id string) (*Complaint, error) {
	query := `SELECT * FROM complaints WHERE id = $1`

	var complaint Complaint
	err := r.db.GetContext(ctx, &complaint, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get complaint by ID", "complaint_id", id, "error", err)
		return nil, fmt.Errorf("failed to get complaint by ID: %w", err)
	}

	return &complaint, nil
}

// GetByNumber retrieves a complaint by its public complaint number
func (r *ComplaintRepository) GetByNumber(ctx context.Context, number string) (*Complaint, error) {
	query := `SELECT * FROM complaints WHERE complaint_number = $1`

	var complaint Complaint
	err := r.db.GetContext(ctx, &complaint, query, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get complaint by number", "complaint_number", number, "error", err)
		return nil, fmt.Errorf("failed to get complaint by number: %w", err)
	}

	return &complaint, nil
}

// ListStatusLog retrieves the full transition history of a complaint, oldest
// entry first.
func (r *ComplaintRepository) ListStatusLog(ctx context.Context, complaintID string) ([]*StatusLogEntry, error) {
	query := `
		SELECT * FROM complaint_status_log
		WHERE complaint_id = $1
		ORDER BY created_at ASC, id ASC`

	var entries []*StatusLogEntry
	err := r.db.SelectContext(ctx, &entries, query, complaintID)
	if err != nil {
		r.logger.Error("Failed to list status log", "complaint_id", complaintID, "error", err)
		return nil, fmt.Errorf("failed to list status log: %w", err)
	}

	return entries, nil
}

// List retrieves complaints with filtering and pagination
func (r *ComplaintRepository) List(ctx context.Context, filter Filter) ([]*Complaint, int, error) {
	whereClause, args, argIndex := r.buildWhereClause(filter)

	// Count query
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM complaints %s", whereClause)
	var total int
	err := r.db.GetContext(ctx, &total, countQuery, args...)
	if err != nil {
		r.logger.Error("Failed to count complaints", "error", err)
		return nil, 0, fmt.Errorf("failed to count complaints: %w", err)
	}

	// Data query
	orderClause := r.buildOrderClause(filter)
	limitClause := r.buildLimitClause(filter, &argIndex, &args)

	dataQuery := fmt.Sprintf(`
		SELECT * FROM complaints %s %s %s`,
		whereClause, orderClause, limitClause)

	var complaints []*Complaint
	err = r.db.SelectContext(ctx, &complaints, dataQuery, args...)
	if err != nil {
		r.logger.Error("Failed to list complaints", "error", err)
		return nil, 0, fmt.Errorf("failed to list complaints: %w", err)
	}

	return complaints, total, nil
}

// ListByOfficer retrieves complaints assigned to an officer
func (r *ComplaintRepository) ListByOfficer(ctx context.Context, officerID string, limit int) ([]*Complaint, error) {
	query := `
		SELECT * FROM complaints
		WHERE assigned_officer_id = $1
		ORDER BY sla_deadline ASC NULLS LAST, created_at DESC
		LIMIT $2`

	var complaints []*Complaint
	err := r.db.SelectContext(ctx, &complaints, query, officerID, limit)
	if err != nil {
		r.logger.Error("Failed to list complaints by officer", "officer_id", officerID, "error", err)
		return nil, fmt.Errorf("failed to list complaints by officer: %w", err)
	}

	return complaints, nil
}

// ListCritical retrieves open critical-band complaints, most severe first
func (r *ComplaintRepository) ListCritical(ctx context.Context, limit int) ([]*Complaint, error) {
	query := `
		SELECT * FROM complaints
		WHERE priority_band = 'critical'
		AND status NOT IN ('resolved', 'rejected')
		ORDER BY severity_score DESC, sla_deadline ASC NULLS LAST
		LIMIT $1`

	var complaints []*Complaint
	err := r.db.SelectContext(ctx, &complaints, query, limit)
	if err != nil {
		r.logger.Error("Failed to list critical complaints", "error", err)
		return nil, fmt.Errorf("failed to list critical complaints: %w", err)
	}

	return complaints, nil
}

// ListOverdue retrieves open complaints past their SLA deadline
func (r *ComplaintRepository) ListOverdue(ctx context.Context, limit int) ([]*Complaint, error) {
	query := `
		SELECT * FROM complaints
		WHERE status IN ('assigned', 'in_progress')
		AND sla_deadline IS NOT NULL
		AND sla_deadline < NOW()
		ORDER BY sla_deadline ASC
		LIMIT $1`

	var complaints []*Complaint
	err := r.db.SelectContext(ctx, &complaints, query, limit)
	if err != nil {
		r.logger.Error("Failed to list overdue complaints", "error", err)
		return nil, fmt.Errorf("failed to list overdue complaints: %w", err)
	}

	return complaints, nil
}

// ListForEscalation retrieves open complaints whose SLA deadline falls within
// the warning lead from now, or already passed, and whose escalation level can
// still rise. The escalation pass re-evaluates the exact window per complaint.
func (r *ComplaintRepository) ListForEscalation(ctx context.Context, warningLead time.Duration, maxLevel, limit int) ([]*Complaint, error) {
	query := `
		SELECT * FROM complaints
		WHERE status IN ('assigned', 'in_progress')
		AND sla_deadline IS NOT NULL
		AND escalation_level < $1
		AND sla_deadline <= NOW() + INTERVAL '%d minutes'
		ORDER BY sla_deadline ASC
		LIMIT $2`

	queryFormatted := fmt.Sprintf(query, int(warningLead.Minutes()))

	var complaints []*Complaint
	err := r.db.SelectContext(ctx, &complaints, queryFormatted, maxLevel, limit)
	if err != nil {
		r.logger.Error("Failed to list complaints for escalation", "error", err)
		return nil, fmt.Errorf("failed to list complaints for escalation: %w", err)
	}

	return complaints, nil
}

// ListPendingDispatch retrieves complaints stuck in ai_processed longer than
// the retry interval, oldest first. These are complaints whose assignment
// found no eligible officer.
func (r *ComplaintRepository) ListPendingDispatch(ctx context.Context, retryAfter time.Duration, limit int) ([]*Complaint, error) {
	query := `
		SELECT * FROM complaints
		WHERE status = 'ai_processed'
		AND updated_at < NOW() - INTERVAL '%d minutes'
		ORDER BY created_at ASC
		LIMIT $1`

	queryFormatted := fmt.Sprintf(query, int(retryAfter.Minutes()))

	var complaints []*Complaint
	err := r.db.SelectContext(ctx, &complaints, queryFormatted, limit)
	if err != nil {
		r.logger.Error("Failed to list complaints pending dispatch", "error", err)
		return nil, fmt.Errorf("failed to list complaints pending dispatch: %w", err)
	}

	return complaints, nil
}

// DensityCount counts complaints submitted within the window inside a
// bounding box approximating radiusKm around the point. The count feeds
// severity normalization only, so the box stands in for a circle.
func (r *ComplaintRepository) DensityCount(ctx context.Context, lat, lon, radiusKm float64, window time.Duration) (int, error) {
	query := `
		SELECT COUNT(*) FROM complaints
		WHERE latitude BETWEEN $1 AND $2
		AND longitude BETWEEN $3 AND $4
		AND created_at > NOW() - INTERVAL '%d hours'`

	queryFormatted := fmt.Sprintf(query, int(window.Hours()))

	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	latDelta := radiusKm / 111.195
	lonDelta := radiusKm / (111.195 * cosLat)

	var count int
	err := r.db.GetContext(ctx, &count, queryFormatted,
		lat-latDelta, lat+latDelta, lon-lonDelta, lon+lonDelta)
	if err != nil {
		r.logger.Error("Failed to count complaint density", "error", err)
		return 0, fmt.Errorf("failed to count complaint density: %w", err)
	}

	return count, nil
}

// MarkValidated moves a complaint from submitted to validated, recording the
// geo verdict and the matched water body.
func (r *ComplaintRepository) MarkValidated(ctx context.Context, id, geoResult string, waterBodyID *string, note string) error {
	query := `
		UPDATE complaints SET
			status = 'validated',
			geo_result = $2,
			water_body_id = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = 'submitted'`

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, id, geoResult, waterBodyID)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrInvalidTransition
		}
		return insertStatusLog(ctx, tx, &StatusLogEntry{
			ComplaintID: id,
			OldStatus:   StatusSubmitted,
			NewStatus:   StatusValidated,
			ActorRole:   RoleSystem,
			Note:        note,
		})
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return ErrInvalidTransition
		}
		r.logger.Error("Failed to mark complaint validated", "complaint_id", id, "error", err)
		return fmt.Errorf("failed to mark complaint validated: %w", err)
	}

	r.logger.Info("Complaint validated", "complaint_id", id, "geo_result", geoResult)
	return nil
}

// MarkAIProcessed moves a complaint from validated to ai_processed, recording
// the classifier verdict and the severity score derived from it.
func (r *ComplaintRepository) MarkAIProcessed(ctx context.Context, id string, violation ViolationType, confidence float64, urgency Urgency, severityScore int, band Band, note string) error {
	query := `
		UPDATE complaints SET
			status = 'ai_processed',
			violation_type = $2,
			confidence = $3,
			urgency = $4,
			severity_score = $5,
			priority_band = $6,
			updated_at = NOW()
		WHERE id = $1 AND status = 'validated'`

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, id, violation, confidence, urgency, severityScore, band)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrInvalidTransition
		}
		return insertStatusLog(ctx, tx, &StatusLogEntry{
			ComplaintID: id,
			OldStatus:   StatusValidated,
			NewStatus:   StatusAIProcessed,
			ActorRole:   RoleSystem,
			Note:        note,
		})
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return ErrInvalidTransition
		}
		r.logger.Error("Failed to mark complaint ai_processed", "complaint_id", id, "error", err)
		return fmt.Errorf("failed to mark complaint ai_processed: %w", err)
	}

	r.logger.Info("Complaint classified",
		"complaint_id", id, "violation_type", violation, "severity_score", severityScore, "priority_band", band)
	return nil
}

// AssignLeastLoaded claims an officer for a complaint in one transaction:
// take the assignment advisory lock, compute live workloads, let pick choose
// an officer, then move the complaint from ai_processed to assigned. The SLA
// deadline is set only if the complaint never had one, so a complaint
// re-entering dispatch keeps its original deadline. Returns the chosen
// officer ID, ErrNoEligibleOfficer when pick declines or no officer exists,
// or ErrInvalidTransition when the complaint is not in ai_processed.
func (r *ComplaintRepository) AssignLeastLoaded(ctx context.Context, id string, deadline time.Time, pick func([]OfficerWorkload) (string, bool), actorID *string, actorRole Role, note string) (string, error) {
	query := `
		UPDATE complaints SET
			status = 'assigned',
			assigned_officer_id = $2,
			sla_deadline = COALESCE(sla_deadline, $3),
			updated_at = NOW()
		WHERE id = $1 AND status = 'ai_processed'`

	var officerID string
	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", assignmentLockKey); err != nil {
			return fmt.Errorf("failed to take assignment lock: %w", err)
		}

		var workloads []OfficerWorkload
		if err := tx.SelectContext(ctx, &workloads, officerWorkloadQuery); err != nil {
			return fmt.Errorf("failed to query officer workloads: %w", err)
		}
		if len(workloads) == 0 {
			return ErrNoEligibleOfficer
		}

		chosen, ok := pick(workloads)
		if !ok {
			return ErrNoEligibleOfficer
		}
		officerID = chosen

		result, err := tx.ExecContext(ctx, query, id, officerID, deadline)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrInvalidTransition
		}

		return insertStatusLog(ctx, tx, &StatusLogEntry{
			ComplaintID: id,
			OldStatus:   StatusAIProcessed,
			NewStatus:   StatusAssigned,
			ActorID:     actorID,
			ActorRole:   actorRole,
			Note:        note,
		})
	})
	if err != nil {
		if errors.Is(err, ErrNoEligibleOfficer) || errors.Is(err, ErrInvalidTransition) {
			return "", err
		}
		r.logger.Error("Failed to assign complaint", "complaint_id", id, "error", err)
		return "", fmt.Errorf("failed to assign complaint: %w", err)
	}

	r.logger.Info("Complaint assigned", "complaint_id", id, "officer_id", officerID)
	return officerID, nil
}

// ListWorkloads computes the current active-case count per eligible officer.
func (r *ComplaintRepository) ListWorkloads(ctx context.Context) ([]OfficerWorkload, error) {
	var workloads []OfficerWorkload
	err := r.db.SelectContext(ctx, &workloads, officerWorkloadQuery)
	if err != nil {
		r.logger.Error("Failed to list officer workloads", "error", err)
		return nil, fmt.Errorf("failed to list officer workloads: %w", err)
	}

	return workloads, nil
}

// CountActiveByOfficer counts the assigned and in_progress complaints held by
// one officer.
func (r *ComplaintRepository) CountActiveByOfficer(ctx context.Context, officerID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM complaints
		WHERE assigned_officer_id = $1
		AND status IN ('assigned', 'in_progress')`

	var count int
	err := r.db.GetContext(ctx, &count, query, officerID)
	if err != nil {
		r.logger.Error("Failed to count active complaints", "officer_id", officerID, "error", err)
		return 0, fmt.Errorf("failed to count active complaints: %w", err)
	}

	return count, nil
}

// Start moves a complaint from assigned to in_progress on behalf of the
// assigned officer.
func (r *ComplaintRepository) Start(ctx context.Context, id, officerID string) error {
	query := `
		UPDATE complaints SET
			status = 'in_progress',
			updated_at = NOW()
		WHERE id = $1 AND status = 'assigned'`

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrInvalidTransition
		}
		return insertStatusLog(ctx, tx, &StatusLogEntry{
			ComplaintID: id,
			OldStatus:   StatusAssigned,
			NewStatus:   StatusInProgress,
			ActorID:     &officerID,
			ActorRole:   RoleOfficer,
			Note:        "Field work started",
		})
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return ErrInvalidTransition
		}
		r.logger.Error("Failed to start complaint work", "complaint_id", id, "error", err)
		return fmt.Errorf("failed to start complaint work: %w", err)
	}

	r.logger.Info("Complaint work started", "complaint_id", id, "officer_id", officerID)
	return nil
}

// Resolve moves a complaint from in_progress to resolved with a resolution
// note. Resolution does not clear the escalation level; the history stays.
func (r *ComplaintRepository) Resolve(ctx context.Context, id, officerID, note string) error {
	query := `
		UPDATE complaints SET
			status = 'resolved',
			resolution_note = $2,
			resolved_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'`

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, id, note)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrInvalidTransition
		}
		return insertStatusLog(ctx, tx, &StatusLogEntry{
			ComplaintID: id,
			OldStatus:   StatusInProgress,
			NewStatus:   StatusResolved,
			ActorID:     &officerID,
			ActorRole:   RoleOfficer,
			Note:        note,
		})
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return ErrInvalidTransition
		}
		r.logger.Error("Failed to resolve complaint", "complaint_id", id, "error", err)
		return fmt.Errorf("failed to resolve complaint: %w", err)
	}

	r.logger.Info("Complaint resolved", "complaint_id", id, "officer_id", officerID)
	return nil
}

// Reject moves a complaint from assigned or in_progress to rejected. The
// caller passes the current status it observed; the guard re-checks it so a
// concurrent transition loses cleanly.
func (r *ComplaintRepository) Reject(ctx context.Context, id string, from Status, actorID string, actorRole Role, reason string) error {
	if from != StatusAssigned && from != StatusInProgress {
		return ErrInvalidTransition
	}

	query := `
		UPDATE complaints SET
			status = 'rejected',
			resolution_note = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = $2`

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query, id, from, reason)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrInvalidTransition
		}
		return insertStatusLog(ctx, tx, &StatusLogEntry{
			ComplaintID: id,
			OldStatus:   from,
			NewStatus:   StatusRejected,
			ActorID:     &actorID,
			ActorRole:   actorRole,
			Note:        reason,
		})
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return ErrInvalidTransition
		}
		r.logger.Error("Failed to reject complaint", "complaint_id", id, "error", err)
		return fmt.Errorf("failed to reject complaint: %w", err)
	}

	r.logger.Info("Complaint rejected", "complaint_id", id, "actor_id", actorID, "reason", reason)
	return nil
}

// GetStats retrieves aggregate complaint statistics for dashboards
func (r *ComplaintRepository) GetStats(ctx context.Context, atRiskThreshold float64) (*DashboardStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN status NOT IN ('resolved', 'rejected') THEN 1 END) AS active,
			COUNT(CASE WHEN status = 'resolved' THEN 1 END) AS resolved,
			COUNT(CASE WHEN status = 'rejected' THEN 1 END) AS rejected,
			COUNT(CASE WHEN priority_band = 'critical' AND status NOT IN ('resolved', 'rejected') THEN 1 END) AS critical,
			COUNT(CASE WHEN status IN ('assigned', 'in_progress') AND sla_deadline < NOW() THEN 1 END) AS overdue,
			COUNT(CASE WHEN status = 'ai_processed' THEN 1 END) AS pending_dispatch,
			COALESCE(AVG(CASE WHEN resolved_at IS NOT NULL
				THEN EXTRACT(EPOCH FROM resolved_at - created_at) / 3600.0 END), 0) AS avg_resolution_hours
		FROM complaints`

	var row struct {
		Total              int     `db:"total"`
		Active             int     `db:"active"`
		Resolved           int     `db:"resolved"`
		Rejected           int     `db:"rejected"`
		Critical           int     `db:"critical"`
		Overdue            int     `db:"overdue"`
		PendingDispatch    int     `db:"pending_dispatch"`
		AvgResolutionHours float64 `db:"avg_resolution_hours"`
	}
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		r.logger.Error("Failed to get complaint stats", "error", err)
		return nil, fmt.Errorf("failed to get complaint stats: %w", err)
	}

	stats := &DashboardStats{
		Total:              row.Total,
		Active:             row.Active,
		Resolved:           row.Resolved,
		Rejected:           row.Rejected,
		Critical:           row.Critical,
		Overdue:            row.Overdue,
		PendingDispatch:    row.PendingDispatch,
		AvgResolutionHours: row.AvgResolutionHours,
		ByStatus:           map[string]int{},
		ByViolationType:    map[string]int{},
	}
	if row.Total > 0 {
		stats.ResolutionRatePct = float64(row.Resolved) / float64(row.Total) * 100
	}

	byStatus, err := r.groupCount(ctx, `SELECT status AS key, COUNT(*) AS count FROM complaints GROUP BY status`)
	if err != nil {
		return nil, err
	}
	stats.ByStatus = byStatus

	byViolation, err := r.groupCount(ctx, `
		SELECT violation_type AS key, COUNT(*) AS count FROM complaints
		WHERE violation_type <> '' GROUP BY violation_type`)
	if err != nil {
		return nil, err
	}
	stats.ByViolationType = byViolation

	err = r.db.GetContext(ctx, &stats.EscalatedLast7Days,
		`SELECT COUNT(*) FROM escalation_records WHERE created_at > NOW() - INTERVAL '7 days'`)
	if err != nil {
		r.logger.Error("Failed to count recent escalations", "error", err)
		return nil, fmt.Errorf("failed to count recent escalations: %w", err)
	}

	err = r.db.GetContext(ctx, &stats.WaterBodiesAtRisk,
		`SELECT COUNT(*) FROM water_bodies WHERE risk_score >= $1`, atRiskThreshold)
	if err != nil {
		r.logger.Error("Failed to count water bodies at risk", "error", err)
		return nil, fmt.Errorf("failed to count water bodies at risk: %w", err)
	}

	return stats, nil
}

// Heatmap retrieves severity-weighted complaint locations within the window
func (r *ComplaintRepository) Heatmap(ctx context.Context, window time.Duration, limit int) ([]HeatmapPoint, error) {
	query := `
		SELECT latitude, longitude, GREATEST(severity_score, 10) / 100.0 AS weight
		FROM complaints
		WHERE created_at > NOW() - INTERVAL '%d hours'
		ORDER BY created_at DESC
		LIMIT $1`

	queryFormatted := fmt.Sprintf(query, int(window.Hours()))

	var points []HeatmapPoint
	err := r.db.SelectContext(ctx, &points, queryFormatted, limit)
	if err != nil {
		r.logger.Error("Failed to build complaint heatmap", "error", err)
		return nil, fmt.Errorf("failed to build complaint heatmap: %w", err)
	}

	return points, nil
}

// insertStatusLog appends one audit row inside the caller's transaction.
func insertStatusLog(ctx context.Context, tx *sqlx.Tx, entry *StatusLogEntry) error {
	query := `
		INSERT INTO complaint_status_log (
			id, complaint_id, old_status, new_status, actor_id, actor_role, note, created_at
		) VALUES (
			:id, :complaint_id, :old_status, :new_status, :actor_id, :actor_role, :note, :created_at
		)`

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now()

	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to insert status log: %w", err)
	}
	return nil
}

func (r *ComplaintRepository) groupCount(ctx context.Context, query string) (map[string]int, error) {
	rows := []struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		r.logger.Error("Failed to group complaint counts", "error", err)
		return nil, fmt.Errorf("failed to group complaint counts: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Count
	}
	return out, nil
}

// Helper methods

func (r *ComplaintRepository) buildWhereClause(filter Filter) (string, []interface{}, int) {
	var conditions []string
	var args []interface{}
	argIndex := 0

	// Status filter
	if status, ok := filter.Filters["status"].(string); ok && status != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
	}

	// Priority band filter
	if band, ok := filter.Filters["priority_band"].(string); ok && band != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("priority_band = $%d", argIndex))
		args = append(args, band)
	}

	// Violation type filter
	if violation, ok := filter.Filters["violation_type"].(string); ok && violation != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("violation_type = $%d", argIndex))
		args = append(args, violation)
	}

	// Water body filter
	if waterBodyID, ok := filter.Filters["water_body_id"].(string); ok && waterBodyID != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("water_body_id = $%d", argIndex))
		args = append(args, waterBodyID)
	}

	// Submitter filter
	if submitterID, ok := filter.Filters["submitter_id"].(string); ok && submitterID != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("submitter_id = $%d", argIndex))
		args = append(args, submitterID)
	}

	// Assigned officer filter
	if officerID, ok := filter.Filters["assigned_officer_id"].(string); ok && officerID != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("assigned_officer_id = $%d", argIndex))
		args = append(args, officerID)
	}

	// Escalated filter
	if escalated, ok := filter.Filters["escalated"].(bool); ok && escalated {
		conditions = append(conditions, "escalation_level > 0")
	}

	// Overdue filter
	if overdue, ok := filter.Filters["overdue"].(bool); ok && overdue {
		conditions = append(conditions,
			"status IN ('assigned', 'in_progress') AND sla_deadline < NOW()")
	}

	// Date range filters
	if filter.DateFrom != nil {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.DateFrom)
	}

	if filter.DateTo != nil {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, *filter.DateTo)
	}

	// Search filter
	if search, ok := filter.Filters["search"].(string); ok && search != "" {
		argIndex++
		conditions = append(conditions, fmt.Sprintf(`
			(description ILIKE $%d OR complaint_number ILIKE $%d OR category ILIKE $%d)`,
			argIndex, argIndex, argIndex))
		args = append(args, "%"+search+"%")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args, argIndex
}

func (r *ComplaintRepository) buildOrderClause(filter Filter) string {
	sortBy := "created_at"
	if filter.SortBy != "" {
		sortBy = filter.SortBy
	}

	sortOrder := "DESC"
	if filter.SortOrder != "" {
		sortOrder = strings.ToUpper(filter.SortOrder)
	}

	return fmt.Sprintf("ORDER BY %s %s", sortBy, sortOrder)
}

func (r *ComplaintRepository) buildLimitClause(filter Filter, argIndex *int, args *[]interface{}) string {
	if filter.Limit <= 0 {
		return ""
	}

	*argIndex++
	limitClause := fmt.Sprintf("LIMIT $%d", *argIndex)
	*args = append(*args, filter.Limit)

	if filter.Offset > 0 {
		*argIndex++
		limitClause += fmt.Sprintf(" OFFSET $%d", *argIndex)
		*args = append(*args, filter.Offset)
	}

	return limitClause
}
