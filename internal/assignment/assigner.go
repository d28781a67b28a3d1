// Package assignment selects the responsible officer for a complaint using
// least-loaded scheduling. Selection and the status transition happen inside
// one advisory-lock-serialized transaction owned by the complaint
// repository, so two concurrent claims never observe the same minimal
// workload.
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aquasentinel/complaint-engine/internal/database"
	"github.com/aquasentinel/complaint-engine/internal/scoring"
)

// PickLeastLoaded chooses the officer with the fewest active cases. Ties
// break by the lexicographically smallest officer ID so the choice is
// reproducible across calls and instances. The workload query already orders
// this way; the scan re-checks rather than trusting incidental ordering.
func PickLeastLoaded(workloads []database.OfficerWorkload) (string, bool) {
	if len(workloads) == 0 {
		return "", false
	}

	best := workloads[0]
	for _, w := range workloads[1:] {
		if w.ActiveCases < best.ActiveCases ||
			(w.ActiveCases == best.ActiveCases && w.OfficerID < best.OfficerID) {
			best = w
		}
	}
	return best.OfficerID, true
}

// Claimer is the slice of the complaint repository the assigner drives.
type Claimer interface {
	AssignLeastLoaded(ctx context.Context, id string, deadline time.Time, pick func([]database.OfficerWorkload) (string, bool), actorID *string, actorRole database.Role, note string) (string, error)
}

// Assigner claims officers for complaints.
type Assigner struct {
	claimer Claimer
	scorer  *scoring.Scorer
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an officer assigner. The scorer supplies the per-band SLA
// window used to stamp the deadline at assignment time.
func New(claimer Claimer, scorer *scoring.Scorer, logger *slog.Logger) *Assigner {
	return &Assigner{
		claimer: claimer,
		scorer:  scorer,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock overrides the assigner's clock. Tests pin deadlines with it.
func (a *Assigner) WithClock(now func() time.Time) *Assigner {
	a.now = now
	return a
}

// Assign claims the least-loaded eligible officer for the complaint and
// moves it to assigned. The SLA deadline is the claim instant plus the
// band's window; a complaint that already has a deadline keeps it. Returns
// ErrNoEligibleOfficer when no active officer exists, leaving the complaint
// in ai_processed for manual dispatch.
func (a *Assigner) Assign(ctx context.Context, c *database.Complaint, actorID *string, actorRole database.Role) (string, error) {
	deadline := a.now().Add(a.scorer.SLADuration(c.PriorityBand))
	note := fmt.Sprintf("Assigned by least-loaded selection, SLA %s", deadline.UTC().Format(time.RFC3339))

	officerID, err := a.claimer.AssignLeastLoaded(ctx, c.ID, deadline, PickLeastLoaded, actorID, actorRole, note)
	if err != nil {
		return "", err
	}

	a.logger.Info("Officer claimed for complaint",
		"complaint_id", c.ID, "officer_id", officerID, "priority_band", c.PriorityBand)
	return officerID, nil
}
