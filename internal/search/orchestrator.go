// Package search runs the search, track and centre loop for one scan step.
//
// Each iteration polls the light feed once, keeps the identity records in
// step with it, and either advances the current pursuit or selects a new
// light. When no eligible light remains, the actuators are walked back to the
// positions captured at the start of the step.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lightsearch/internal/blob"
	"github.com/banshee-data/lightsearch/internal/control"
	"github.com/banshee-data/lightsearch/internal/monitoring"
	"github.com/banshee-data/lightsearch/internal/timeutil"
	"github.com/banshee-data/lightsearch/internal/tracking"
)

// Feed supplies identified lights, one frame per call. Feeds that hold
// tracker state may also implement Reset.
type Feed interface {
	Lights(ctx context.Context) ([]tracking.Light, error)
}

type resetter interface {
	Reset()
}

// Controller is the actuator surface the orchestrator drives.
type Controller interface {
	Center(ctx context.Context, x, y int) (bool, error)
	CapturePositions(ctx context.Context) (control.Snapshot, error)
	RestorePositions(ctx context.Context) (bool, error)
	Positions(ctx context.Context) (control.Snapshot, error)
}

// State is the orchestrator's position in the per-step state machine.
type State int32

const (
	StateIdle State = iota
	StateSearching
	StateTracking
	StateCentering
	StateDone
	StateRestoring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateTracking:
		return "tracking"
	case StateCentering:
		return "centering"
	case StateDone:
		return "done"
	case StateRestoring:
		return "restoring"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// LostPolicy decides what a vanished pursuit target means.
type LostPolicy int

const (
	// LostAbandon ends the attempt silently and selects a new target from
	// the same frame.
	LostAbandon LostPolicy = iota
	// LostComplete treats the vanished target as handled and reports it as
	// lost; selection resumes on the next frame.
	LostComplete
)

// ParseLostPolicy maps a config name to a LostPolicy.
func ParseLostPolicy(name string) (LostPolicy, error) {
	switch name {
	case "abandon", "":
		return LostAbandon, nil
	case "complete":
		return LostComplete, nil
	default:
		return LostAbandon, fmt.Errorf("unknown lost policy %q", name)
	}
}

// Config holds the orchestrator timing and policies.
type Config struct {
	PollInterval time.Duration // minimum spacing between feed reads
	Lost         LostPolicy
}

// DefaultConfig returns a 200 ms poll interval and LostAbandon.
func DefaultConfig() Config {
	return Config{PollInterval: 200 * time.Millisecond, Lost: LostAbandon}
}

// Centered describes a light the rig converged on.
type Centered struct {
	ID          tracking.ID
	Observation blob.Observation
	Position    control.Snapshot
	Frames      int // frames spent pursuing this light
}

// Result summarises one Process call.
type Result struct {
	LightsSeen  int // lights in the frame that ended the search
	Frames      int
	Centered    []Centered
	Lost        int
	Unreachable int
}

// CenteredFunc is invoked once the rig has converged on a light, before the
// search continues. Returning an error aborts the step.
type CenteredFunc func(ctx context.Context, c Centered) error

// Orchestrator sequences searching, tracking, centering and restoring for a
// single scan step.
type Orchestrator struct {
	feed       Feed
	ctrl       Controller
	selector   Selector
	clock      timeutil.Clock
	cfg        Config
	session    *tracking.Session
	onCentered CenteredFunc

	current tracking.ID
	state   atomic.Int32

	// Mirrors of the session for concurrent readers.
	live     atomic.Int32
	pursuing atomic.Bool
}

// New returns an orchestrator with an empty session.
func New(feed Feed, ctrl Controller, selector Selector, clock timeutil.Clock, cfg Config) *Orchestrator {
	return &Orchestrator{
		feed:     feed,
		ctrl:     ctrl,
		selector: selector,
		clock:    clock,
		cfg:      cfg,
		session:  tracking.NewSession(),
	}
}

// OnCentered installs the hook run after each convergence.
func (o *Orchestrator) OnCentered(fn CenteredFunc) {
	o.onCentered = fn
}

// State returns the current state. Safe for concurrent use.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// Identities returns the number of live identity records and whether one of
// them is being pursued. Safe for concurrent use.
func (o *Orchestrator) Identities() (live int, pursuing bool) {
	return int(o.live.Load()), o.pursuing.Load()
}

func (o *Orchestrator) publish() {
	o.live.Store(int32(o.session.Len()))
	o.pursuing.Store(o.session.Pursuing())
}

// Reset clears the identity records and any tracker state held by the feed.
// Called at the start of every elevation band.
func (o *Orchestrator) Reset() {
	o.session.Reset()
	o.current = 0
	o.publish()
	if r, ok := o.feed.(resetter); ok {
		r.Reset()
	}
}

// Process searches the current field of view, centres on every eligible
// light in turn, then restores the actuators to where they started. When the
// search fails after the positions were captured, the actuators are still
// walked back before the error is returned.
func (o *Orchestrator) Process(ctx context.Context) (Result, error) {
	defer o.setState(StateIdle)
	o.setState(StateSearching)

	var res Result
	if _, err := o.ctrl.CapturePositions(ctx); err != nil {
		return res, fmt.Errorf("capture positions: %w", err)
	}

	lights, err := o.search(ctx, &res)
	if err != nil {
		o.abandon(ctx)
		return res, err
	}
	res.LightsSeen = len(lights)
	o.setState(StateDone)

	if err := o.restore(ctx); err != nil {
		o.abandon(ctx)
		return res, err
	}
	return res, nil
}

// abandon ends an aborted step: the pursuit is released and the actuators
// return to the captured snapshot without reading the feed.
func (o *Orchestrator) abandon(ctx context.Context) {
	if o.current != 0 {
		o.session.Release(o.current)
		o.current = 0
		o.publish()
	}
	if ctx.Err() != nil {
		return
	}
	o.setState(StateRestoring)
	for {
		done, err := o.ctrl.RestorePositions(ctx)
		if err != nil {
			monitoring.Logf("failed to restore positions after an aborted search: %v", err)
			return
		}
		if done {
			return
		}
		if err := o.clock.Sleep(ctx, o.cfg.PollInterval); err != nil {
			return
		}
	}
}

func (o *Orchestrator) poll(ctx context.Context) ([]tracking.Light, error) {
	if err := o.clock.Sleep(ctx, o.cfg.PollInterval); err != nil {
		return nil, err
	}
	lights, err := o.feed.Lights(ctx)
	if err != nil {
		return nil, fmt.Errorf("read lights: %w", err)
	}
	o.session.Sync(lights)
	o.publish()
	return lights, nil
}

// search runs until no eligible light remains and returns the final frame.
func (o *Orchestrator) search(ctx context.Context, res *Result) ([]tracking.Light, error) {
	pursuitFrames := 0
	for {
		lights, err := o.poll(ctx)
		if err != nil {
			return nil, err
		}
		res.Frames++

		target, ok := o.session.Target(lights)
		if !ok && o.current != 0 {
			monitoring.Logf("  the tracked light %d disappeared", o.current)
			o.current = 0
			if o.cfg.Lost == LostComplete {
				res.Lost++
				continue
			}
		}

		if !ok {
			candidate, found := o.begin(lights)
			if !found {
				return lights, nil
			}
			o.current = candidate.ID
			target = candidate
			pursuitFrames = 0
			o.setState(StateTracking)
			monitoring.Logf("  tracking light %d at %d, %d", target.ID, target.X, target.Y)
		} else {
			o.setState(StateCentering)
		}
		pursuitFrames++

		centered, err := o.ctrl.Center(ctx, target.X, target.Y)
		if errors.Is(err, control.ErrElevationOutOfRange) {
			monitoring.Logf("  light %d unreachable: %v", target.ID, err)
			o.session.Complete(target.ID)
			o.current = 0
			o.publish()
			res.Unreachable++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("center light %d: %w", target.ID, err)
		}
		if !centered {
			monitoring.Debugf("  tracking light %d at %d, %d", target.ID, target.X, target.Y)
			continue
		}

		o.session.Complete(target.ID)
		o.current = 0
		o.publish()
		pos, err := o.ctrl.Positions(ctx)
		if err != nil {
			return nil, fmt.Errorf("read final positions: %w", err)
		}
		c := Centered{ID: target.ID, Observation: target.Observation, Position: pos, Frames: pursuitFrames}
		res.Centered = append(res.Centered, c)
		monitoring.Logf("  centered on light %d at %d, %d: elevation %f & azimuth %.0f",
			target.ID, target.X, target.Y, pos.Elevation, pos.Azimuth)

		if o.onCentered != nil {
			if err := o.onCentered(ctx, c); err != nil {
				return nil, fmt.Errorf("handle centered light %d: %w", target.ID, err)
			}
		}
		o.setState(StateSearching)
	}
}

// begin selects the next untracked light and marks it as the pursuit target.
// A candidate the session refuses is dropped and selection is retried.
func (o *Orchestrator) begin(lights []tracking.Light) (tracking.Light, bool) {
	candidates := o.session.Untracked(lights)
	for attempt := 0; attempt <= len(lights); attempt++ {
		candidate, found := o.selector.Select(candidates)
		if !found {
			return tracking.Light{}, false
		}
		if o.session.Begin(candidate.ID) {
			o.publish()
			return candidate, true
		}
		monitoring.Logf("  light %d cannot be pursued, skipping it", candidate.ID)
		candidates = without(candidates, candidate.ID)
	}
	return tracking.Light{}, false
}

func without(lights []tracking.Light, id tracking.ID) []tracking.Light {
	out := make([]tracking.Light, 0, len(lights))
	for _, l := range lights {
		if l.ID != id {
			out = append(out, l)
		}
	}
	return out
}

// restore walks the actuators back to the captured snapshot, one bounded
// step per frame, keeping the identity records current while it does so.
func (o *Orchestrator) restore(ctx context.Context) error {
	o.setState(StateRestoring)
	for {
		done, err := o.ctrl.RestorePositions(ctx)
		if err != nil {
			return fmt.Errorf("restore positions: %w", err)
		}
		if done {
			return nil
		}
		if _, err := o.poll(ctx); err != nil {
			return err
		}
	}
}
