package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

func defaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		ViolationWeights: map[string]float64{
			"construction":   95,
			"land_filling":   85,
			"pollution":      80,
			"debris_dumping": 60,
			"unknown":        30,
		},
		ImpactWeights: map[string]float64{
			"pollution":      95,
			"construction":   90,
			"land_filling":   85,
			"debris_dumping": 55,
			"unknown":        30,
		},
		UrgencyWeights: map[string]float64{
			"low":    20,
			"medium": 60,
			"high":   100,
		},
		ViolationFactor:   0.40,
		UrgencyFactor:     0.20,
		SensitivityFactor: 0.15,
		DensityFactor:     0.15,
		ImpactFactor:      0.10,
		DensityRadiusKm:   1.0,
		DensityWindowDays: 90,
		DensitySaturation: 10,
		CriticalThreshold: 70,
		MediumThreshold:   40,
	}
}

func defaultSLAConfig() config.SLAConfig {
	return config.SLAConfig{CriticalDays: 3, MediumDays: 7, LowDays: 10}
}

func newTestScorer() *Scorer {
	return NewScorer(defaultScoringConfig(), defaultSLAConfig())
}

func TestScorer_Band_Boundaries(t *testing.T) {
	s := newTestScorer()

	tests := []struct {
		score int
		want  database.Band
	}{
		{0, database.BandLow},
		{39, database.BandLow},
		{40, database.BandMedium},
		{69, database.BandMedium},
		{70, database.BandCritical},
		{100, database.BandCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Band(tt.score), "score %d", tt.score)
	}
}

func TestScorer_Score(t *testing.T) {
	s := newTestScorer()

	t.Run("high-confidence construction inside a sensitive water body is critical", func(t *testing.T) {
		score, band := s.Score(Input{
			ViolationType: database.ViolationConstruction,
			Urgency:       database.UrgencyHigh,
			Sensitivity:   85,
			DensityCount:  10, // at saturation
		})
		// 95*.40 + 100*.20 + 85*.15 + 100*.15 + 90*.10 = 94.75
		assert.Equal(t, 95, score)
		assert.Equal(t, database.BandCritical, band)
		assert.GreaterOrEqual(t, score, 70)
	})

	t.Run("degraded classification lands in the low band", func(t *testing.T) {
		score, band := s.Score(Input{
			ViolationType: database.ViolationUnknown,
			Urgency:       database.UrgencyLow,
			Sensitivity:   0,
			DensityCount:  0,
		})
		// 30*.40 + 20*.20 + 0 + 0 + 30*.10 = 19
		assert.Equal(t, 19, score)
		assert.Equal(t, database.BandLow, band)
	})

	t.Run("medium band example", func(t *testing.T) {
		score, band := s.Score(Input{
			ViolationType: database.ViolationDebrisDumping,
			Urgency:       database.UrgencyMedium,
			Sensitivity:   50,
			DensityCount:  2,
		})
		// 60*.40 + 60*.20 + 50*.15 + 20*.15 + 55*.10 = 52
		assert.Equal(t, 52, score)
		assert.Equal(t, database.BandMedium, band)
	})

	t.Run("halves round away from zero", func(t *testing.T) {
		score, band := s.Score(Input{
			ViolationType: database.ViolationConstruction,
			Urgency:       database.UrgencyLow,
			Sensitivity:   90,
			DensityCount:  4,
		})
		// 38 + 4 + 13.5 + 6 + 9 = 70.5 -> 71
		assert.Equal(t, 71, score)
		assert.Equal(t, database.BandCritical, band)
	})

	t.Run("unknown violation strings fall back to the unknown weights", func(t *testing.T) {
		known, _ := s.Score(Input{ViolationType: database.ViolationUnknown, Urgency: database.UrgencyLow})
		odd, _ := s.Score(Input{ViolationType: database.ViolationType("shed_building"), Urgency: database.UrgencyLow})
		assert.Equal(t, known, odd)
	})

	t.Run("sensitivity outside 0-100 is clamped", func(t *testing.T) {
		high, _ := s.Score(Input{ViolationType: database.ViolationPollution, Urgency: database.UrgencyHigh, Sensitivity: 250})
		capped, _ := s.Score(Input{ViolationType: database.ViolationPollution, Urgency: database.UrgencyHigh, Sensitivity: 100})
		assert.Equal(t, capped, high)
	})

	t.Run("misconfigured weights still clamp to 100", func(t *testing.T) {
		cfg := defaultScoringConfig()
		cfg.ViolationWeights["construction"] = 400
		s := NewScorer(cfg, defaultSLAConfig())
		score, band := s.Score(Input{
			ViolationType: database.ViolationConstruction,
			Urgency:       database.UrgencyHigh,
			Sensitivity:   100,
			DensityCount:  10,
		})
		assert.Equal(t, 100, score)
		assert.Equal(t, database.BandCritical, band)
	})
}

func TestScorer_Score_RangeProperty(t *testing.T) {
	s := newTestScorer()

	violations := []database.ViolationType{
		database.ViolationConstruction,
		database.ViolationLandFilling,
		database.ViolationDebrisDumping,
		database.ViolationPollution,
		database.ViolationUnknown,
	}
	urgencies := []database.Urgency{database.UrgencyLow, database.UrgencyMedium, database.UrgencyHigh}
	sensitivities := []float64{0, 50, 100}
	densities := []int{0, 5, 20}

	for _, v := range violations {
		for _, u := range urgencies {
			for _, sens := range sensitivities {
				for _, d := range densities {
					score, band := s.Score(Input{ViolationType: v, Urgency: u, Sensitivity: sens, DensityCount: d})
					assert.GreaterOrEqual(t, score, 0)
					assert.LessOrEqual(t, score, 100)
					assert.Equal(t, s.Band(score), band)
				}
			}
		}
	}
}

func TestScorer_DensityScore(t *testing.T) {
	s := newTestScorer()

	assert.Equal(t, 0.0, s.densityScore(0))
	assert.Equal(t, 50.0, s.densityScore(5))
	assert.Equal(t, 100.0, s.densityScore(10))
	assert.Equal(t, 100.0, s.densityScore(50), "saturates above the constant")

	noSaturation := NewScorer(config.ScoringConfig{DensitySaturation: 0}, defaultSLAConfig())
	assert.Equal(t, 0.0, noSaturation.densityScore(5))
}

func TestScorer_SLADuration(t *testing.T) {
	s := newTestScorer()

	assert.Equal(t, 3*24*time.Hour, s.SLADuration(database.BandCritical))
	assert.Equal(t, 7*24*time.Hour, s.SLADuration(database.BandMedium))
	assert.Equal(t, 10*24*time.Hour, s.SLADuration(database.BandLow))
}
