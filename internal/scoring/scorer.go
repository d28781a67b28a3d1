// Package scoring computes the Environmental Severity Index (ESI) for a
// complaint and derives its priority band and SLA window. The formula is a
// fixed weighted sum of five factors, each normalized to [0,100]; weights and
// lookup tables come from configuration so rankings can be tuned without a
// code change.
package scoring

import (
	"math"
	"time"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

// Input carries the ingredients of the severity formula for one complaint.
type Input struct {
	ViolationType database.ViolationType
	Urgency       database.Urgency
	// Sensitivity is the water body's environmental sensitivity, 0-100.
	// Zero for unclassified locations with no matched water body.
	Sensitivity float64
	// DensityCount is the number of prior complaints within the configured
	// radius and time window around the reported point.
	DensityCount int
}

// Scorer evaluates the severity formula. It is stateless and safe for
// concurrent use.
type Scorer struct {
	cfg config.ScoringConfig
	sla config.SLAConfig
}

// NewScorer returns a scorer using the given formula tunables.
func NewScorer(cfg config.ScoringConfig, sla config.SLAConfig) *Scorer {
	return &Scorer{cfg: cfg, sla: sla}
}

// Score computes the severity score and its priority band. The result is
// always within [0,100] and the band is a pure function of the score.
func (s *Scorer) Score(in Input) (int, database.Band) {
	violation := s.lookup(s.cfg.ViolationWeights, string(in.ViolationType))
	impact := s.lookup(s.cfg.ImpactWeights, string(in.ViolationType))
	urgency := s.lookup(s.cfg.UrgencyWeights, string(in.Urgency))
	sensitivity := clamp(in.Sensitivity, 0, 100)
	density := s.densityScore(in.DensityCount)

	raw := violation*s.cfg.ViolationFactor +
		urgency*s.cfg.UrgencyFactor +
		sensitivity*s.cfg.SensitivityFactor +
		density*s.cfg.DensityFactor +
		impact*s.cfg.ImpactFactor

	score := int(math.Round(raw))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, s.Band(score)
}

// Band maps a severity score to its priority band. Total over 0-100: every
// score maps to exactly one band.
func (s *Scorer) Band(score int) database.Band {
	switch {
	case score >= s.cfg.CriticalThreshold:
		return database.BandCritical
	case score >= s.cfg.MediumThreshold:
		return database.BandMedium
	default:
		return database.BandLow
	}
}

// SLADuration returns the resolution window for a band, measured from the
// moment the complaint enters assigned status.
func (s *Scorer) SLADuration(band database.Band) time.Duration {
	days := s.sla.LowDays
	switch band {
	case database.BandCritical:
		days = s.sla.CriticalDays
	case database.BandMedium:
		days = s.sla.MediumDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// densityScore normalizes a raw complaint count against the saturation
// constant: counts at or above saturation score 100.
func (s *Scorer) densityScore(count int) float64 {
	if s.cfg.DensitySaturation <= 0 || count <= 0 {
		return 0
	}
	ratio := float64(count) / float64(s.cfg.DensitySaturation)
	if ratio > 1 {
		ratio = 1
	}
	return ratio * 100
}

// lookup resolves a violation or urgency key, falling back to the unknown
// entry for values the table does not know.
func (s *Scorer) lookup(table map[string]float64, key string) float64 {
	if w, ok := table[key]; ok {
		return w
	}
	if w, ok := table[string(database.ViolationUnknown)]; ok {
		return w
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
