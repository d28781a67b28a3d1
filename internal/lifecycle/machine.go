// Package lifecycle owns the complaint status state machine and the
// submission pipeline that drives complaints through it. Status values form
// a closed enum; the transition table below is the only authority on which
// moves are legal, and every legal move appends exactly one status log entry.
package lifecycle

import "github.com/aquasentinel/complaint-engine/internal/database"

// transitions is the closed transition table. A move absent from the table
// fails with ErrInvalidTransition before anything is written. Escalation is
// deliberately not represented here: it is an orthogonal level carried by
// assigned/in_progress complaints, never a status.
var transitions = map[database.Status][]database.Status{
	database.StatusSubmitted:   {database.StatusValidated},
	database.StatusValidated:   {database.StatusAIProcessed},
	database.StatusAIProcessed: {database.StatusAssigned},
	database.StatusAssigned:    {database.StatusInProgress, database.StatusRejected},
	database.StatusInProgress:  {database.StatusResolved, database.StatusRejected},
	database.StatusResolved:    nil,
	database.StatusRejected:    nil,
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to database.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal successors of a status.
func NextStatuses(from database.Status) []database.Status {
	next := transitions[from]
	out := make([]database.Status, len(next))
	copy(out, next)
	return out
}

// Terminal reports whether a status has no successors. Terminal complaints
// are excluded from escalation passes and accept no further transitions.
func Terminal(s database.Status) bool {
	return s.Valid() && len(transitions[s]) == 0
}
