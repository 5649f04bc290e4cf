// Package tracking assigns stable identities to light observations across
// consecutive frames and holds the per-identity pursuit flags.
//
// Correspondence is between two consecutive detection sets only: there is
// no motion model and no coasting. An identity missing from the newest frame
// is gone for good.
package tracking

import (
	"math"

	"github.com/banshee-data/lightsearch/internal/blob"
)

// ID identifies one physical light within a tracking session. Zero is never
// issued.
type ID uint64

// Light is an observation tagged with its identity.
type Light struct {
	ID ID
	blob.Observation
}

// TrackerConfig holds the correspondence gates and weights.
type TrackerConfig struct {
	MaxDisplacement    float64 // pixels moved between frames before a match is refused
	MaxResizeFactor    float64 // relative size change before a match is refused
	DisplacementWeight float64 // weight of the displacement ratio; size gets the rest
}

// DefaultTrackerConfig returns the default correspondence gates.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxDisplacement:    30,
		MaxResizeFactor:    1.5,
		DisplacementWeight: 0.8,
	}
}

// Tracker keeps the previous frame's identified lights and matches each new
// frame against them.
type Tracker struct {
	cfg    TrackerConfig
	lights []Light
	nextID ID
}

// NewTracker returns an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{cfg: cfg}
}

// Score returns the dissimilarity of a new observation against a previous
// one. Values at or above 1.0 mean the two cannot be the same light.
func (c TrackerConfig) Score(prev, next blob.Observation) float64 {
	if prev.Size <= 0 {
		return 1.0
	}
	dx := float64(next.X - prev.X)
	dy := float64(next.Y - prev.Y)
	displacementRatio := math.Hypot(dx, dy) / c.MaxDisplacement

	resize := math.Abs(float64(prev.Size-next.Size)) / float64(prev.Size)
	resizeRatio := resize / c.MaxResizeFactor

	if displacementRatio > 1.0 || resizeRatio > 1.0 {
		return 1.0
	}
	return c.DisplacementWeight*displacementRatio + (1.0-c.DisplacementWeight)*resizeRatio
}

// Track matches a new frame against the previous one and returns the
// identified lights in input order. Each previous light can be inherited by
// at most one new observation; unmatched observations get fresh identities.
func (t *Tracker) Track(observations []blob.Observation) []Light {
	consumed := make([]bool, len(t.lights))
	next := make([]Light, 0, len(observations))

	for _, obs := range observations {
		best := -1
		bestScore := 1.0
		for i, prev := range t.lights {
			if consumed[i] {
				continue
			}
			if s := t.cfg.Score(prev.Observation, obs); s < bestScore {
				best, bestScore = i, s
			}
		}

		var id ID
		if best >= 0 {
			consumed[best] = true
			id = t.lights[best].ID
		} else {
			t.nextID++
			id = t.nextID
		}
		next = append(next, Light{ID: id, Observation: obs})
	}

	t.lights = next
	return t.Lights()
}

// Lights returns a copy of the most recent identified frame.
func (t *Tracker) Lights() []Light {
	out := make([]Light, len(t.lights))
	copy(out, t.lights)
	return out
}

// Reset drops all identities. IDs keep increasing so that an identity from
// before the reset is never reissued.
func (t *Tracker) Reset() {
	t.lights = nil
}
