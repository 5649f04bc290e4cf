// Package collimation nudges the elevation axis until the collimation camera
// sees enough light on the fibre entrance.
package collimation

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/lightsearch/internal/control"
	"github.com/banshee-data/lightsearch/internal/monitoring"
	"github.com/banshee-data/lightsearch/internal/timeutil"
)

// Sampler measures the light intensity at the fibre entrance.
type Sampler interface {
	Intensity(ctx context.Context) (float64, error)
}

// Config bounds the refinement loop.
type Config struct {
	MaxTrials    int
	Settle       time.Duration // wait before each sample
	MinIntensity float64
	Nudge        float64 // elevation change applied after a failed trial
	ElevationMin float64
	ElevationMax float64
}

// DefaultConfig returns 30 trials of 500 ms with a 12000 threshold, nudging
// within the default elevation range.
func DefaultConfig() Config {
	ctl := control.DefaultConfig()
	return Config{
		MaxTrials:    30,
		Settle:       500 * time.Millisecond,
		MinIntensity: 12000,
		Nudge:        -0.00025,
		ElevationMin: ctl.ElevationMin,
		ElevationMax: ctl.ElevationMax,
	}
}

// Outcome reports how a refinement ended.
type Outcome struct {
	OK        bool
	Trials    int
	Intensity float64 // last sampled intensity
	Nudges    int
	Elevation float64 // elevation when the loop ended
}

// Refiner runs the bounded collimation loop.
type Refiner struct {
	cfg       Config
	elevation control.Axis
	sampler   Sampler
	clock     timeutil.Clock
}

// NewRefiner returns a refiner nudging elevation.
func NewRefiner(cfg Config, elevation control.Axis, sampler Sampler, clock timeutil.Clock) *Refiner {
	return &Refiner{cfg: cfg, elevation: elevation, sampler: sampler, clock: clock}
}

// Refine samples up to MaxTrials times. Exhausting the trials, or a nudge
// that would leave the elevation range, is not an error; the returned
// Outcome has OK false.
func (r *Refiner) Refine(ctx context.Context) (Outcome, error) {
	var out Outcome
	for out.Trials < r.cfg.MaxTrials {
		if err := r.clock.Sleep(ctx, r.cfg.Settle); err != nil {
			return out, err
		}
		out.Trials++

		intensity, err := r.sampler.Intensity(ctx)
		if err != nil {
			return out, fmt.Errorf("sample intensity: %w", err)
		}
		out.Intensity = intensity

		elevation, err := r.elevation.Position(ctx)
		if err != nil {
			return out, fmt.Errorf("read elevation: %w", err)
		}
		out.Elevation = elevation
		monitoring.Logf("At elevation %f, measured collimation intensity of %.0f", elevation, intensity)

		if intensity >= r.cfg.MinIntensity {
			out.OK = true
			return out, nil
		}

		target := elevation + r.cfg.Nudge
		if target < r.cfg.ElevationMin || target > r.cfg.ElevationMax {
			monitoring.Logf("Collimation stopped: %v: %f not in [%f, %f]",
				control.ErrElevationOutOfRange, target, r.cfg.ElevationMin, r.cfg.ElevationMax)
			return out, nil
		}
		if _, err := r.elevation.MoveTo(ctx, target, 0); err != nil {
			return out, fmt.Errorf("nudge elevation: %w", err)
		}
		out.Nudges++
		out.Elevation = target
	}
	return out, nil
}
