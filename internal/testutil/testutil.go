// Package testutil provides shared test fakes for the rig collaborators.
//
// The fakes record every call so tests can assert on the exact commands a
// controller or orchestrator issued.
package testutil

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/banshee-data/lightsearch/internal/tracking"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Call is one recorded actuator command.
type Call struct {
	Method string
	Args   []float64
}

// FakeAxis is an in-memory actuator. MoveLeft decreases the position and
// MoveRight increases it.
type FakeAxis struct {
	mu    sync.Mutex
	pos   float64
	steps int
	calls []Call

	// Err, when set, is returned by every method.
	Err error
	// ReadOnlyCalls controls whether Position and TotalSteps are recorded.
	ReadOnlyCalls bool
	// Drift is added to the position after every MoveLeft/MoveRight, to
	// simulate a slipping actuator.
	Drift float64
}

// NewFakeAxis returns an axis at pos with the given steps per revolution.
func NewFakeAxis(pos float64, steps int) *FakeAxis {
	return &FakeAxis{pos: pos, steps: steps}
}

func (a *FakeAxis) record(method string, args ...float64) {
	a.calls = append(a.calls, Call{Method: method, Args: args})
}

// Position returns the current position.
func (a *FakeAxis) Position(context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ReadOnlyCalls {
		a.record("Position")
	}
	if a.Err != nil {
		return 0, a.Err
	}
	return a.pos, nil
}

// MoveLeft decreases the position by amount.
func (a *FakeAxis) MoveLeft(_ context.Context, amount float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("MoveLeft", amount)
	if a.Err != nil {
		return a.Err
	}
	a.pos -= amount
	a.pos += a.Drift
	return nil
}

// MoveRight increases the position by amount.
func (a *FakeAxis) MoveRight(_ context.Context, amount float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("MoveRight", amount)
	if a.Err != nil {
		return a.Err
	}
	a.pos += amount
	a.pos += a.Drift
	return nil
}

// MoveTo moves toward target by at most maxStep (unbounded when zero).
func (a *FakeAxis) MoveTo(_ context.Context, target, maxStep float64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("MoveTo", target, maxStep)
	if a.Err != nil {
		return false, a.Err
	}
	diff := target - a.pos
	if maxStep > 0 && math.Abs(diff) > maxStep {
		a.pos += math.Copysign(maxStep, diff)
		return false, nil
	}
	a.pos = target
	return true, nil
}

// TotalSteps returns the steps per revolution.
func (a *FakeAxis) TotalSteps(context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ReadOnlyCalls {
		a.record("TotalSteps")
	}
	if a.Err != nil {
		return 0, a.Err
	}
	return a.steps, nil
}

// Set moves the axis without recording a call.
func (a *FakeAxis) Set(pos float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = pos
}

// Calls returns a copy of the recorded calls.
func (a *FakeAxis) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// Count returns how many times method was called.
func (a *FakeAxis) Count(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (a *FakeAxis) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}

// ScriptFeed replays scripted frames of identified lights. Once the script
// is exhausted the last frame repeats.
type ScriptFeed struct {
	mu     sync.Mutex
	frames [][]tracking.Light
	calls  int
	resets int

	// Err, when set, is returned by Lights.
	Err error
}

// NewScriptFeed returns a feed replaying frames in order.
func NewScriptFeed(frames ...[]tracking.Light) *ScriptFeed {
	return &ScriptFeed{frames: frames}
}

// Lights returns the next scripted frame.
func (f *ScriptFeed) Lights(context.Context) ([]tracking.Light, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.frames) == 0 {
		return nil, nil
	}
	frame := f.frames[0]
	if len(f.frames) > 1 {
		f.frames = f.frames[1:]
	}
	out := make([]tracking.Light, len(frame))
	copy(out, frame)
	return out, nil
}

// Reset counts tracker resets.
func (f *ScriptFeed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

// Calls returns how many frames were read.
func (f *ScriptFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Resets returns how many times Reset was called.
func (f *ScriptFeed) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// Light builds an identified light.
func Light(id tracking.ID, x, y, size int) tracking.Light {
	l := tracking.Light{ID: id}
	l.X, l.Y, l.Size = x, y, size
	return l
}
