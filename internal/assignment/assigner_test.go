package assignment

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
	"github.com/aquasentinel/complaint-engine/internal/scoring"
)

func TestPickLeastLoaded(t *testing.T) {
	t.Run("empty pool finds nobody", func(t *testing.T) {
		_, ok := PickLeastLoaded(nil)
		assert.False(t, ok)
	})

	t.Run("picks the officer with the fewest active cases", func(t *testing.T) {
		id, ok := PickLeastLoaded([]database.OfficerWorkload{
			{OfficerID: "officer-a", ActiveCases: 2},
			{OfficerID: "officer-b", ActiveCases: 2},
			{OfficerID: "officer-c", ActiveCases: 0},
		})
		require.True(t, ok)
		assert.Equal(t, "officer-c", id)
	})

	t.Run("ties break by smallest officer id", func(t *testing.T) {
		workloads := []database.OfficerWorkload{
			{OfficerID: "officer-b", ActiveCases: 1},
			{OfficerID: "officer-a", ActiveCases: 1},
		}

		id, ok := PickLeastLoaded(workloads)
		require.True(t, ok)
		assert.Equal(t, "officer-a", id)

		// The choice must be reproducible regardless of input order.
		id, ok = PickLeastLoaded([]database.OfficerWorkload{workloads[1], workloads[0]})
		require.True(t, ok)
		assert.Equal(t, "officer-a", id)
	})

	t.Run("single officer wins regardless of load", func(t *testing.T) {
		id, ok := PickLeastLoaded([]database.OfficerWorkload{
			{OfficerID: "officer-z", ActiveCases: 99},
		})
		require.True(t, ok)
		assert.Equal(t, "officer-z", id)
	})
}

type fakeClaimer struct {
	workloads []database.OfficerWorkload
	deadline  time.Time
	note      string
	err       error
}

func (f *fakeClaimer) AssignLeastLoaded(ctx context.Context, id string, deadline time.Time, pick func([]database.OfficerWorkload) (string, bool), actorID *string, actorRole database.Role, note string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.deadline = deadline
	f.note = note
	officerID, ok := pick(f.workloads)
	if !ok {
		return "", database.ErrNoEligibleOfficer
	}
	return officerID, nil
}

func testScorer() *scoring.Scorer {
	return scoring.NewScorer(
		config.ScoringConfig{CriticalThreshold: 70, MediumThreshold: 40},
		config.SLAConfig{CriticalDays: 3, MediumDays: 7, LowDays: 10},
	)
}

func TestAssigner_Assign(t *testing.T) {
	logger := slog.Default()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("stamps the deadline from the band window at the claim instant", func(t *testing.T) {
		claimer := &fakeClaimer{workloads: []database.OfficerWorkload{
			{OfficerID: "officer-a", ActiveCases: 1},
			{OfficerID: "officer-b", ActiveCases: 0},
		}}
		a := New(claimer, testScorer(), logger).WithClock(func() time.Time { return at })

		c := &database.Complaint{ID: "c-1", PriorityBand: database.BandCritical}
		officerID, err := a.Assign(context.Background(), c, nil, database.RoleSystem)
		require.NoError(t, err)

		assert.Equal(t, "officer-b", officerID)
		assert.Equal(t, at.Add(3*24*time.Hour), claimer.deadline)
		assert.Contains(t, claimer.note, "least-loaded")
	})

	t.Run("medium band gets the seven day window", func(t *testing.T) {
		claimer := &fakeClaimer{workloads: []database.OfficerWorkload{{OfficerID: "officer-a"}}}
		a := New(claimer, testScorer(), logger).WithClock(func() time.Time { return at })

		_, err := a.Assign(context.Background(), &database.Complaint{ID: "c-2", PriorityBand: database.BandMedium}, nil, database.RoleSystem)
		require.NoError(t, err)
		assert.Equal(t, at.Add(7*24*time.Hour), claimer.deadline)
	})

	t.Run("empty pool propagates ErrNoEligibleOfficer", func(t *testing.T) {
		claimer := &fakeClaimer{}
		a := New(claimer, testScorer(), logger)

		_, err := a.Assign(context.Background(), &database.Complaint{ID: "c-3", PriorityBand: database.BandLow}, nil, database.RoleSystem)
		assert.ErrorIs(t, err, database.ErrNoEligibleOfficer)
	})
}
