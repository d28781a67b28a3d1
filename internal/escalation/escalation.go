// Package escalation advances the escalation level of overdue complaints.
// The window evaluation is a pure function of the clock, the SLA deadline
// and the current level; the pass runner applies it over the pending set and
// relies on SQL guards for idempotence, so overlapping or repeated passes
// never double-raise.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

// Escalation levels. Zero means no escalation has happened.
const (
	LevelNone       = 0
	LevelWarning    = 1
	LevelSupervisor = 2
	LevelAdmin      = 3
)

// Event kinds emitted when a level is raised.
const (
	EventSLAWarning           = "sla_warning"
	EventSupervisorEscalation = "supervisor_escalation"
	EventAdminEscalation      = "admin_escalation"
)

// Decision describes the raise a pass should apply to one complaint.
type Decision struct {
	TargetLevel  int
	Reason       string
	EventKind    string
	NotifiedRole database.Role
}

// Policy holds the escalation window tunables.
type Policy struct {
	// WarningLead is how long before the deadline the warning window opens.
	WarningLead time.Duration
	// SupervisorGrace is how long past the deadline the supervisor window
	// lasts before the admin window opens.
	SupervisorGrace time.Duration
	// MaxLevel caps raises; complaints at or above it are never touched.
	MaxLevel int
}

// PolicyFromConfig builds a policy from configuration.
func PolicyFromConfig(cfg config.EscalationConfig) Policy {
	return Policy{
		WarningLead:     cfg.WarningLead,
		SupervisorGrace: cfg.SupervisorGrace,
		MaxLevel:        cfg.MaxLevel,
	}
}

// Evaluate decides the raise due for a complaint at the given instant. It
// returns false when no raise is due: the deadline is still comfortably
// ahead, or the current level already covers the window. Windows are
// evaluated deepest first so a complaint discovered late jumps straight to
// the level its lateness warrants.
func (p Policy) Evaluate(now, deadline time.Time, currentLevel int) (Decision, bool) {
	if currentLevel >= p.MaxLevel {
		return Decision{}, false
	}

	overdue := now.Sub(deadline)

	switch {
	case overdue >= p.SupervisorGrace && currentLevel < LevelAdmin:
		return Decision{
			TargetLevel:  LevelAdmin,
			Reason:       fmt.Sprintf("SLA deadline exceeded by more than %s", p.SupervisorGrace),
			EventKind:    EventAdminEscalation,
			NotifiedRole: database.RoleAdmin,
		}, true
	case overdue >= 0 && overdue < p.SupervisorGrace && currentLevel < LevelSupervisor:
		return Decision{
			TargetLevel:  LevelSupervisor,
			Reason:       "SLA deadline passed",
			EventKind:    EventSupervisorEscalation,
			NotifiedRole: database.RoleSupervisor,
		}, true
	case overdue >= -p.WarningLead && overdue < 0 && currentLevel == LevelNone:
		return Decision{
			TargetLevel:  LevelWarning,
			Reason:       fmt.Sprintf("SLA deadline within %s", p.WarningLead),
			EventKind:    EventSLAWarning,
			NotifiedRole: database.RoleOfficer,
		}, true
	}

	return Decision{}, false
}

// Store lists the complaints a pass should consider.
type Store interface {
	ListForEscalation(ctx context.Context, warningLead time.Duration, maxLevel, limit int) ([]*database.Complaint, error)
}

// Raiser applies a level raise. Implementations must be idempotent: a
// complaint already at or above the target returns ErrEscalationRaceSkipped
// and mutates nothing.
type Raiser interface {
	RaiseLevel(ctx context.Context, complaintID string, targetLevel int, reason string, notifiedRole database.Role) (*database.EscalationRecord, error)
}

// Sink receives escalation events after the raise committed. Notification
// dispatch, the event producer and the realtime feed all plug in here.
type Sink interface {
	EscalationRaised(ctx context.Context, c *database.Complaint, record *database.EscalationRecord, eventKind string)
}

// Runner executes escalation passes.
type Runner struct {
	policy    Policy
	store     Store
	raiser    Raiser
	sinks     []Sink
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewRunner creates a pass runner. Sinks are invoked once per raise, after
// the raise committed; a skipped raise emits nothing.
func NewRunner(policy Policy, store Store, raiser Raiser, batchSize int, logger *slog.Logger, sinks ...Sink) *Runner {
	return &Runner{
		policy:    policy,
		store:     store,
		raiser:    raiser,
		sinks:     sinks,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock overrides the runner's clock for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Pass evaluates every pending complaint once and applies the raises that
// are due. Re-running a pass with no elapsed time raises nothing and emits
// no events.
func (r *Runner) Pass(ctx context.Context) (int, error) {
	now := r.now()

	complaints, err := r.store.ListForEscalation(ctx, r.policy.WarningLead, r.policy.MaxLevel, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list complaints for escalation: %w", err)
	}

	raised := 0
	for _, c := range complaints {
		if err := ctx.Err(); err != nil {
			return raised, err
		}
		if c.SLADeadline == nil {
			continue
		}

		decision, due := r.policy.Evaluate(now, *c.SLADeadline, c.EscalationLevel)
		if !due {
			continue
		}

		record, err := r.raiser.RaiseLevel(ctx, c.ID, decision.TargetLevel, decision.Reason, decision.NotifiedRole)
		if errors.Is(err, database.ErrEscalationRaceSkipped) {
			r.logger.Debug("Escalation already applied",
				"complaint_id", c.ID, "target_level", decision.TargetLevel)
			continue
		}
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			r.logger.Error("Failed to raise escalation",
				"complaint_id", c.ID, "target_level", decision.TargetLevel, "error", err)
			continue
		}

		raised++
		c.EscalationLevel = record.ToLevel
		c.EscalatedAt = &record.CreatedAt
		for _, sink := range r.sinks {
			sink.EscalationRaised(ctx, c, record, decision.EventKind)
		}
	}

	if raised > 0 {
		r.logger.Info("Escalation pass completed", "examined", len(complaints), "raised", raised)
	}
	return raised, nil
}
