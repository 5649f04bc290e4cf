// Package control converts a target's pixel offset into proportional
// actuator commands and restores actuator positions after a pursuit.
//
// The controller is a single-step corrector: each Center call issues at most
// one command per axis and convergence is only reported on a later call once
// the target sits within tolerance of the frame centre.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/lightsearch/internal/monitoring"
)

var (
	// ErrElevationOutOfRange is returned when a correction would command the
	// elevation actuator outside its configured range.
	ErrElevationOutOfRange = errors.New("elevation target out of range")
	// ErrNoSnapshot is returned by RestorePositions before CapturePositions.
	ErrNoSnapshot = errors.New("no captured positions to restore")
)

// Axis is one remote actuator.
type Axis interface {
	Position(ctx context.Context) (float64, error)
	MoveLeft(ctx context.Context, amount float64) error
	MoveRight(ctx context.Context, amount float64) error
	// MoveTo moves toward target by at most maxStep (unbounded when maxStep
	// is zero) and reports whether the target has been reached.
	MoveTo(ctx context.Context, target, maxStep float64) (bool, error)
}

// Azimuth is the azimuth actuator, which also reports its steps per
// revolution.
type Azimuth interface {
	Axis
	TotalSteps(ctx context.Context) (int, error)
}

// Config holds the frame geometry, gains and limits of the controller.
type Config struct {
	FrameWidth    int
	FrameHeight   int
	Tolerance     float64 // pixels per axis
	AzimuthGain   float64 // azimuth steps per pixel of error
	ElevationGain float64 // elevation units per pixel of error
	MaxMultiplier float64 // clamp on |error| before the gain is applied
	ElevationMin  float64
	ElevationMax  float64
}

// DefaultConfig returns the gains used with the in-process detector.
func DefaultConfig() Config {
	return Config{
		FrameWidth:    640,
		FrameHeight:   480,
		Tolerance:     1,
		AzimuthGain:   5,      // 30 steps is ~4 px
		ElevationGain: 0.0005, // 0.0025 is ~3 px
		MaxMultiplier: 10,
		ElevationMin:  0,
		ElevationMax:  1,
	}
}

// RefinedConfig returns the gentler gains used with the remote light feed
// ahead of collimation.
func RefinedConfig() Config {
	cfg := DefaultConfig()
	cfg.ElevationGain = 0.0003
	cfg.MaxMultiplier = 8
	return cfg
}

// Validate checks the configuration for values the control law cannot use.
func (c Config) Validate() error {
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", c.FrameWidth, c.FrameHeight)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must be non-negative, got %f", c.Tolerance)
	}
	if c.AzimuthGain <= 0 || c.ElevationGain <= 0 {
		return fmt.Errorf("gains must be positive, got azimuth %f elevation %f", c.AzimuthGain, c.ElevationGain)
	}
	if c.MaxMultiplier <= 0 {
		return fmt.Errorf("max multiplier must be positive, got %f", c.MaxMultiplier)
	}
	if c.ElevationMin >= c.ElevationMax {
		return fmt.Errorf("elevation range [%f, %f] is empty", c.ElevationMin, c.ElevationMax)
	}
	return nil
}

// Center returns the frame centre in pixels.
func (c Config) Center() (float64, float64) {
	return float64(c.FrameWidth / 2), float64(c.FrameHeight / 2)
}

// Snapshot is a pair of captured actuator positions.
type Snapshot struct {
	Azimuth   float64
	Elevation float64
}

// ErrorController issues proportional corrections to the azimuth and
// elevation actuators.
type ErrorController struct {
	cfg       Config
	azimuth   Azimuth
	elevation Axis
	snapshot  *Snapshot
}

// NewErrorController returns a controller driving the given actuators.
func NewErrorController(cfg Config, azimuth Azimuth, elevation Axis) *ErrorController {
	return &ErrorController{cfg: cfg, azimuth: azimuth, elevation: elevation}
}

// Config returns the controller configuration.
func (c *ErrorController) Config() Config {
	return c.cfg
}

// Center reports whether (x, y) is within tolerance of the frame centre. When
// it is not, one proportional correction is issued per out-of-tolerance axis
// and false is returned.
func (c *ErrorController) Center(ctx context.Context, x, y int) (bool, error) {
	cx, cy := c.cfg.Center()
	errX := float64(x) - cx
	errY := float64(y) - cy

	if math.Abs(errX) <= c.cfg.Tolerance && math.Abs(errY) <= c.cfg.Tolerance {
		return true, nil
	}

	// The elevation target is range checked before either axis moves, so an
	// unreachable light leaves the rig where it is.
	moveElevation := math.Abs(errY) > c.cfg.Tolerance
	var target float64
	if moveElevation {
		delta := math.Min(math.Abs(errY), c.cfg.MaxMultiplier) * c.cfg.ElevationGain
		current, err := c.elevation.Position(ctx)
		if err != nil {
			return false, fmt.Errorf("read elevation: %w", err)
		}
		target = current + delta
		if errY <= 0 {
			target = current - delta
		}
		if target < c.cfg.ElevationMin || target > c.cfg.ElevationMax {
			return false, fmt.Errorf("%w: %f not in [%f, %f]", ErrElevationOutOfRange, target, c.cfg.ElevationMin, c.cfg.ElevationMax)
		}
	}

	if math.Abs(errX) > c.cfg.Tolerance {
		delta := math.Min(math.Abs(errX), c.cfg.MaxMultiplier) * c.cfg.AzimuthGain
		var err error
		if errX <= 0 {
			err = c.azimuth.MoveLeft(ctx, delta)
		} else {
			err = c.azimuth.MoveRight(ctx, delta)
		}
		if err != nil {
			return false, fmt.Errorf("azimuth correction: %w", err)
		}
	}

	if moveElevation {
		if _, err := c.elevation.MoveTo(ctx, target, 0); err != nil {
			return false, fmt.Errorf("elevation correction: %w", err)
		}
	}

	monitoring.Debugf("correction for error (%.0f, %.0f)", errX, errY)
	return false, nil
}

// CapturePositions snapshots both actuator positions for a later restore.
func (c *ErrorController) CapturePositions(ctx context.Context) (Snapshot, error) {
	s, err := c.Positions(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	c.snapshot = &s
	return s, nil
}

// RestorePositions moves both actuators one bounded step toward the captured
// snapshot. It returns true only once both report having reached it and must
// be called again (typically once per frame) until then.
func (c *ErrorController) RestorePositions(ctx context.Context) (bool, error) {
	if c.snapshot == nil {
		return false, ErrNoSnapshot
	}
	azReached, err := c.azimuth.MoveTo(ctx, c.snapshot.Azimuth, c.cfg.AzimuthGain*c.cfg.MaxMultiplier)
	if err != nil {
		return false, fmt.Errorf("restore azimuth: %w", err)
	}
	elReached, err := c.elevation.MoveTo(ctx, c.snapshot.Elevation, c.cfg.ElevationGain*c.cfg.MaxMultiplier)
	if err != nil {
		return false, fmt.Errorf("restore elevation: %w", err)
	}
	return azReached && elReached, nil
}

// Positions reads both actuator positions.
func (c *ErrorController) Positions(ctx context.Context) (Snapshot, error) {
	az, err := c.azimuth.Position(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read azimuth: %w", err)
	}
	el, err := c.elevation.Position(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read elevation: %w", err)
	}
	return Snapshot{Azimuth: az, Elevation: el}, nil
}
