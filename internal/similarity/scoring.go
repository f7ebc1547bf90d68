package similarity

import "github.com/deputybot/deputy/internal/types"

// ScoringConfig holds the composite-score tuning constants. The defaults
// are empirical; deployments may adjust them, so they are configuration,
// not invariants.
type ScoringConfig struct {
	// time_factor = max(TimeFloor, 1 - age_days/DecayDays)
	TimeFloor float64
	DecayDays float64

	// status_factor: 1.0 open, RecentClosedFactor if closed < RecentClosedDays
	// old, OldClosedFactor otherwise.
	RecentClosedFactor float64
	OldClosedFactor    float64
	RecentClosedDays   float64

	// Adaptive acceptance thresholds on the raw similarity score.
	OpenThreshold         float64
	RecentClosedThreshold float64
	OldClosedThreshold    float64
}

// DefaultScoring returns the standard scoring constants.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		TimeFloor:             0.3,
		DecayDays:             365,
		RecentClosedFactor:    0.8,
		OldClosedFactor:       0.5,
		RecentClosedDays:      30,
		OpenThreshold:         0.4,
		RecentClosedThreshold: 0.6,
		OldClosedThreshold:    0.7,
	}
}

// composite computes similarity x time_factor x status_factor for a judged
// candidate.
func (s ScoringConfig) composite(c types.SimilarityCandidate) float64 {
	timeFactor := 1 - c.AgeDays/s.DecayDays
	if timeFactor < s.TimeFloor {
		timeFactor = s.TimeFloor
	}

	statusFactor := 1.0
	if !c.Issue.Open() {
		if c.AgeDays < s.RecentClosedDays {
			statusFactor = s.RecentClosedFactor
		} else {
			statusFactor = s.OldClosedFactor
		}
	}

	return c.Similarity * timeFactor * statusFactor
}

// threshold returns the acceptance threshold for a candidate's state and age.
// The raw similarity must strictly exceed it for the candidate to survive.
func (s ScoringConfig) threshold(c types.SimilarityCandidate) float64 {
	if c.Issue.Open() {
		return s.OpenThreshold
	}
	if c.AgeDays < s.RecentClosedDays {
		return s.RecentClosedThreshold
	}
	return s.OldClosedThreshold
}
