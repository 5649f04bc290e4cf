// Package scan sweeps the rig over a grid of elevation bands and azimuth
// steps, running one search at every step.
package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/lightsearch/internal/control"
	"github.com/banshee-data/lightsearch/internal/monitoring"
	"github.com/banshee-data/lightsearch/internal/search"
	"github.com/banshee-data/lightsearch/internal/timeutil"
)

// ErrPositionMismatch is matched by every *PositionFault.
var ErrPositionMismatch = errors.New("unexpected actuator positions")

// PositionFault reports that the actuators did not return to where they were
// before a search step.
type PositionFault struct {
	Band   int
	Step   int
	Before control.Snapshot
	After  control.Snapshot
}

func (f *PositionFault) Error() string {
	return fmt.Sprintf("%v at band %d step %d: azimuth %.0f vs %.0f, elevation %f vs %f",
		ErrPositionMismatch, f.Band, f.Step,
		f.After.Azimuth, f.Before.Azimuth, f.After.Elevation, f.Before.Elevation)
}

// Is makes errors.Is(fault, ErrPositionMismatch) succeed.
func (f *PositionFault) Is(target error) bool {
	return target == ErrPositionMismatch
}

// Processor runs the search at the current rig position.
type Processor interface {
	Process(ctx context.Context) (search.Result, error)
	Reset()
}

// StepReport describes one executed or skipped scan step.
type StepReport struct {
	Pass      int
	Band      int
	Step      int
	Position  control.Snapshot // positions before the search
	Skipped   bool
	Result    search.Result
	Error     string // why the search was aborted, if it was
	StartedAt time.Time
	Duration  time.Duration
}

// Journal receives a report for every step. Journal errors are logged and
// do not stop the scan.
type Journal interface {
	RecordStep(ctx context.Context, r StepReport) error
}

// Config describes the scan grid and skip heuristic.
type Config struct {
	ElevationSteps     int     // number of equal elevation bands
	AzimuthStep        int     // azimuth steps moved left between searches
	SkipAfter          int     // consecutive empty steps before skipping starts
	RecheckEvery       int     // while skipping, search when the empty count is a multiple of this
	ElevationTolerance float64 // allowed elevation drift across a search
	Bands              []int   // band indices to scan; empty scans all
	StartAzimuth       *float64
	Passes             int // full scans to run; zero runs until cancelled
}

// DefaultConfig returns a four band scan with 40 step azimuth increments.
func DefaultConfig() Config {
	return Config{
		ElevationSteps:     4,
		AzimuthStep:        40,
		SkipAfter:          10,
		RecheckEvery:       20,
		ElevationTolerance: 1e-4,
	}
}

// Validate checks the grid parameters.
func (c Config) Validate() error {
	if c.ElevationSteps <= 0 {
		return fmt.Errorf("elevation steps must be positive, got %d", c.ElevationSteps)
	}
	if c.AzimuthStep <= 0 {
		return fmt.Errorf("azimuth step must be positive, got %d", c.AzimuthStep)
	}
	if c.RecheckEvery <= 0 {
		return fmt.Errorf("recheck interval must be positive, got %d", c.RecheckEvery)
	}
	if c.SkipAfter < 0 || c.ElevationTolerance < 0 || c.Passes < 0 {
		return errors.New("skip threshold, elevation tolerance and passes must be non-negative")
	}
	for _, b := range c.Bands {
		if b < 0 || b >= c.ElevationSteps {
			return fmt.Errorf("band %d outside [0, %d)", b, c.ElevationSteps)
		}
	}
	return nil
}

// Midpoint returns the elevation at the centre of band.
func (c Config) Midpoint(band int) float64 {
	width := 1.0 / float64(c.ElevationSteps)
	return float64(band)*width + width/2
}

func (c Config) bands() []int {
	if len(c.Bands) > 0 {
		return c.Bands
	}
	out := make([]int, c.ElevationSteps)
	for i := range out {
		out[i] = i
	}
	return out
}

// Status is the sequencer's run state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Summary accumulates counts over a run.
type Summary struct {
	Passes      int `json:"passes"`
	Steps       int `json:"steps"`
	Skipped     int `json:"skipped"`
	Centered    int `json:"centered"`
	Lost        int `json:"lost"`
	Unreachable int `json:"unreachable"`
	Failed      int `json:"failed"`
}

func (s *Summary) add(r StepReport) {
	if r.Skipped {
		s.Skipped++
		return
	}
	s.Steps++
	if r.Error != "" {
		s.Failed++
	}
	s.Centered += len(r.Result.Centered)
	s.Lost += r.Result.Lost
	s.Unreachable += r.Result.Unreachable
}

// State is a snapshot of a running or finished scan.
type State struct {
	Status    Status     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Pass      int        `json:"pass"`
	Band      int        `json:"band"`
	Step      int        `json:"step"`
	Summary   Summary    `json:"summary"`
	Error     string     `json:"error,omitempty"`
}

// Sequencer drives the scan grid.
type Sequencer struct {
	cfg       Config
	azimuth   control.Azimuth
	elevation control.Axis
	processor Processor
	journal   Journal
	clock     timeutil.Clock

	mu    sync.RWMutex
	state State
}

// NewSequencer returns a sequencer. journal may be nil.
func NewSequencer(cfg Config, azimuth control.Azimuth, elevation control.Axis, processor Processor, journal Journal, clock timeutil.Clock) *Sequencer {
	return &Sequencer{
		cfg:       cfg,
		azimuth:   azimuth,
		elevation: elevation,
		processor: processor,
		journal:   journal,
		clock:     clock,
		state:     State{Status: StatusIdle},
	}
}

// State returns a copy of the current scan state.
func (s *Sequencer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.StartedAt != nil {
		t := *st.StartedAt
		st.StartedAt = &t
	}
	return st
}

func (s *Sequencer) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
}

// Run performs the configured number of passes over every selected band.
// With Passes zero it scans until ctx is cancelled, which then ends the run
// without error.
func (s *Sequencer) Run(ctx context.Context) (Summary, error) {
	if err := s.cfg.Validate(); err != nil {
		return Summary{}, err
	}
	now := s.clock.Now()
	s.update(func(st *State) {
		*st = State{Status: StatusRunning, StartedAt: &now}
	})

	var err error
	for pass := 0; s.cfg.Passes == 0 || pass < s.cfg.Passes; pass++ {
		if err = s.runPass(ctx, pass); err != nil {
			break
		}
		s.update(func(st *State) { st.Summary.Passes++ })
	}

	if s.cfg.Passes == 0 && errors.Is(err, context.Canceled) {
		err = nil
	}
	s.update(func(st *State) {
		st.Status = StatusComplete
		if err != nil {
			st.Status = StatusError
			st.Error = err.Error()
		}
	})
	return s.State().Summary, err
}

func (s *Sequencer) runPass(ctx context.Context, pass int) error {
	for _, band := range s.cfg.bands() {
		if err := s.ScanBand(ctx, pass, band); err != nil {
			return err
		}
	}
	return nil
}

// ScanBand sweeps one elevation band. The identity state is reset before the
// sweep starts. A failed search aborts only its own step; the band stops on
// cancellation, actuator errors outside the search and position faults.
func (s *Sequencer) ScanBand(ctx context.Context, pass, band int) error {
	if s.cfg.StartAzimuth != nil {
		if _, err := s.azimuth.MoveTo(ctx, *s.cfg.StartAzimuth, 0); err != nil {
			return fmt.Errorf("move to start azimuth: %w", err)
		}
	}
	if _, err := s.elevation.MoveTo(ctx, s.cfg.Midpoint(band), 0); err != nil {
		return fmt.Errorf("move to band %d: %w", band, err)
	}
	s.processor.Reset()

	total, err := s.azimuth.TotalSteps(ctx)
	if err != nil {
		return fmt.Errorf("read azimuth total steps: %w", err)
	}

	withoutLight := 0
	for step, azimuth := 0, 0; azimuth < total; step, azimuth = step+1, azimuth+s.cfg.AzimuthStep {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.update(func(st *State) { st.Pass, st.Band, st.Step = pass, band, step })

		if err := s.azimuth.MoveLeft(ctx, float64(s.cfg.AzimuthStep)); err != nil {
			return fmt.Errorf("advance azimuth: %w", err)
		}

		report := StepReport{Pass: pass, Band: band, Step: step, StartedAt: s.clock.Now()}
		before, err := s.positions(ctx)
		if err != nil {
			return err
		}
		report.Position = before
		monitoring.Logf("@ elevation %f & azimuth %.0f", before.Elevation, before.Azimuth)

		if withoutLight > s.cfg.SkipAfter && withoutLight%s.cfg.RecheckEvery != 0 {
			withoutLight++
			monitoring.Logf("  skipped because last %d scans were without any lights", withoutLight)
			report.Skipped = true
			s.record(ctx, report)
			continue
		}

		res, err := s.processor.Process(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			monitoring.Logf("  step %d of band %d aborted: %v", step, band, err)
			report.Error = err.Error()
		case res.LightsSeen == 0:
			withoutLight++
		default:
			withoutLight = 0
		}

		after, err := s.positions(ctx)
		if err != nil {
			return err
		}
		if after.Azimuth != before.Azimuth || math.Abs(after.Elevation-before.Elevation) > s.cfg.ElevationTolerance {
			return &PositionFault{Band: band, Step: step, Before: before, After: after}
		}

		report.Result = res
		report.Duration = s.clock.Now().Sub(report.StartedAt)
		s.record(ctx, report)
	}
	return nil
}

func (s *Sequencer) positions(ctx context.Context) (control.Snapshot, error) {
	az, err := s.azimuth.Position(ctx)
	if err != nil {
		return control.Snapshot{}, fmt.Errorf("read azimuth: %w", err)
	}
	el, err := s.elevation.Position(ctx)
	if err != nil {
		return control.Snapshot{}, fmt.Errorf("read elevation: %w", err)
	}
	return control.Snapshot{Azimuth: az, Elevation: el}, nil
}

func (s *Sequencer) record(ctx context.Context, r StepReport) {
	s.update(func(st *State) { st.Summary.add(r) })
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordStep(ctx, r); err != nil {
		monitoring.Logf("failed to record step %d of band %d: %v", r.Step, r.Band, err)
	}
}
