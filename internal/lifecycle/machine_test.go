package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aquasentinel/complaint-engine/internal/database"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    database.Status
		to      database.Status
		allowed bool
	}{
		{"submitted to validated", database.StatusSubmitted, database.StatusValidated, true},
		{"validated to ai_processed", database.StatusValidated, database.StatusAIProcessed, true},
		{"ai_processed to assigned", database.StatusAIProcessed, database.StatusAssigned, true},
		{"assigned to in_progress", database.StatusAssigned, database.StatusInProgress, true},
		{"assigned to rejected", database.StatusAssigned, database.StatusRejected, true},
		{"in_progress to resolved", database.StatusInProgress, database.StatusResolved, true},
		{"in_progress to rejected", database.StatusInProgress, database.StatusRejected, true},

		{"submitted to resolved skips pipeline", database.StatusSubmitted, database.StatusResolved, false},
		{"submitted to assigned skips validation", database.StatusSubmitted, database.StatusAssigned, false},
		{"validated to assigned skips classification", database.StatusValidated, database.StatusAssigned, false},
		{"ai_processed to in_progress skips assignment", database.StatusAIProcessed, database.StatusInProgress, false},
		{"ai_processed to rejected not allowed", database.StatusAIProcessed, database.StatusRejected, false},
		{"resolved is terminal", database.StatusResolved, database.StatusInProgress, false},
		{"rejected is terminal", database.StatusRejected, database.StatusAssigned, false},
		{"no self transition", database.StatusAssigned, database.StatusAssigned, false},
		{"no backward transition", database.StatusInProgress, database.StatusAssigned, false},
		{"unknown from status", database.Status("archived"), database.StatusResolved, false},
		{"unknown to status", database.StatusAssigned, database.Status("archived"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNextStatuses(t *testing.T) {
	assert.Equal(t, []database.Status{database.StatusValidated}, NextStatuses(database.StatusSubmitted))
	assert.ElementsMatch(t,
		[]database.Status{database.StatusInProgress, database.StatusRejected},
		NextStatuses(database.StatusAssigned))
	assert.Empty(t, NextStatuses(database.StatusResolved))
	assert.Empty(t, NextStatuses(database.Status("archived")))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(database.StatusResolved))
	assert.True(t, Terminal(database.StatusRejected))

	for _, s := range []database.Status{
		database.StatusSubmitted,
		database.StatusValidated,
		database.StatusAIProcessed,
		database.StatusAssigned,
		database.StatusInProgress,
	} {
		assert.False(t, Terminal(s), "status %s must not be terminal", s)
	}

	// Unknown strings are not terminal statuses, they are invalid.
	assert.False(t, Terminal(database.Status("archived")))
}

// Every status reachable from the table must be a valid enum member, and
// every non-terminal chain must end in a terminal status. Guards against a
// table edit that leaves the pipeline open-ended.
func TestTransitionTableClosed(t *testing.T) {
	for from, nexts := range transitions {
		assert.True(t, from.Valid(), "table key %q must be a valid status", from)
		for _, to := range nexts {
			assert.True(t, to.Valid(), "successor %q of %q must be a valid status", to, from)
		}
	}

	// Walk forward from submitted; the walk must terminate.
	seen := map[database.Status]bool{}
	frontier := []database.Status{database.StatusSubmitted}
	for len(frontier) > 0 {
		s := frontier[0]
		frontier = frontier[1:]
		if seen[s] {
			continue
		}
		seen[s] = true
		frontier = append(frontier, NextStatuses(s)...)
	}
	assert.True(t, seen[database.StatusResolved], "resolved must be reachable from submitted")
	assert.True(t, seen[database.StatusRejected], "rejected must be reachable from submitted")
}
