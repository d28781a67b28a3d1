package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aquasentinel/complaint-engine/internal/database"
	"github.com/aquasentinel/complaint-engine/internal/escalation"
	"github.com/aquasentinel/complaint-engine/internal/metrics"
)

// Task names, also the API identifiers for manual triggers.
const (
	TaskEscalationPass = "escalation-pass"
	TaskDispatchRetry  = "dispatch-retry"
	TaskStatsRefresh   = "stats-refresh"
)

// EscalationPassHandler runs the SLA escalation pass.
type EscalationPassHandler struct {
	runner  *escalation.Runner
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewEscalationPassHandler creates the escalation pass task.
func NewEscalationPassHandler(runner *escalation.Runner, collector *metrics.Collector, logger *slog.Logger) *EscalationPassHandler {
	return &EscalationPassHandler{runner: runner, metrics: collector, logger: logger}
}

// Execute runs one escalation pass.
func (h *EscalationPassHandler) Execute(ctx context.Context) error {
	start := time.Now()
	raised, err := h.runner.Pass(ctx)
	if h.metrics != nil {
		h.metrics.ObserveEscalationPass(time.Since(start), raised)
	}
	if err != nil {
		return fmt.Errorf("escalation pass failed: %w", err)
	}
	return nil
}

// Name returns the task identifier.
func (h *EscalationPassHandler) Name() string { return TaskEscalationPass }

// Description returns the task description.
func (h *EscalationPassHandler) Description() string {
	return "Advances escalation levels of complaints near or past their SLA deadline"
}

// Dispatcher re-attempts officer assignment for one pending complaint.
type Dispatcher interface {
	Dispatch(ctx context.Context, complaintID string, actorID *string, actorRole database.Role) (*database.Complaint, error)
}

// PendingLister lists complaints stuck without an assigned officer.
type PendingLister interface {
	ListPendingDispatch(ctx context.Context, retryAfter time.Duration, limit int) ([]*database.Complaint, error)
}

// DispatchRetryHandler re-runs assignment for complaints that found no
// eligible officer on submission.
type DispatchRetryHandler struct {
	lister     PendingLister
	dispatcher Dispatcher
	grace      time.Duration
	batchSize  int
	logger     *slog.Logger
}

// NewDispatchRetryHandler creates the dispatch retry task.
func NewDispatchRetryHandler(lister PendingLister, dispatcher Dispatcher, grace time.Duration, batchSize int, logger *slog.Logger) *DispatchRetryHandler {
	return &DispatchRetryHandler{
		lister:     lister,
		dispatcher: dispatcher,
		grace:      grace,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Execute retries assignment for aged pending complaints. No eligible
// officer is still not an error; the complaint simply waits for the next
// cycle.
func (h *DispatchRetryHandler) Execute(ctx context.Context) error {
	pending, err := h.lister.ListPendingDispatch(ctx, h.grace, h.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending complaints: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	assigned := 0
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := h.dispatcher.Dispatch(ctx, c.ID, nil, database.RoleSystem)
		switch {
		case errors.Is(err, database.ErrNoEligibleOfficer):
			// Still nobody; stop early, the rest will fail the same way.
			h.logger.Info("Dispatch retry: still no eligible officer", "pending", len(pending)-assigned)
			return nil
		case errors.Is(err, database.ErrInvalidTransition):
			// The complaint moved on between listing and dispatching.
			continue
		case err != nil:
			h.logger.Error("Dispatch retry failed", "complaint_id", c.ID, "error", err)
			continue
		}
		assigned++
	}

	h.logger.Info("Dispatch retry completed", "pending", len(pending), "assigned", assigned)
	return nil
}

// Name returns the task identifier.
func (h *DispatchRetryHandler) Name() string { return TaskDispatchRetry }

// Description returns the task description.
func (h *DispatchRetryHandler) Description() string {
	return "Re-attempts officer assignment for complaints pending manual dispatch"
}

// StatsSource provides the aggregates the dashboard gauges mirror.
type StatsSource interface {
	GetStats(ctx context.Context, atRiskThreshold float64) (*database.DashboardStats, error)
}

// StatsRefreshHandler recomputes the dashboard gauge metrics.
type StatsRefreshHandler struct {
	source          StatsSource
	metrics         *metrics.Collector
	atRiskThreshold float64
	logger          *slog.Logger
}

// NewStatsRefreshHandler creates the stats refresh task.
func NewStatsRefreshHandler(source StatsSource, collector *metrics.Collector, atRiskThreshold float64, logger *slog.Logger) *StatsRefreshHandler {
	return &StatsRefreshHandler{
		source:          source,
		metrics:         collector,
		atRiskThreshold: atRiskThreshold,
		logger:          logger,
	}
}

// Execute refreshes the gauges from the current aggregates.
func (h *StatsRefreshHandler) Execute(ctx context.Context) error {
	stats, err := h.source.GetStats(ctx, h.atRiskThreshold)
	if err != nil {
		return fmt.Errorf("failed to refresh stats: %w", err)
	}
	if h.metrics != nil {
		h.metrics.SetDashboardGauges(stats)
	}
	return nil
}

// Name returns the task identifier.
func (h *StatsRefreshHandler) Name() string { return TaskStatsRefresh }

// Description returns the task description.
func (h *StatsRefreshHandler) Description() string {
	return "Recomputes dashboard gauge metrics from complaint aggregates"
}
