package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightsearch/internal/control"
	"github.com/banshee-data/lightsearch/internal/testutil"
	"github.com/banshee-data/lightsearch/internal/timeutil"
	"github.com/banshee-data/lightsearch/internal/tracking"
)

// selectFirst accepts any candidate.
type selectFirst struct{}

func (selectFirst) Select(candidates []tracking.Light) (tracking.Light, bool) {
	if len(candidates) == 0 {
		return tracking.Light{}, false
	}
	return candidates[0], true
}

// fixedLight is a light at a fixed actuator position.
type fixedLight struct {
	id        tracking.ID
	azimuth   float64
	elevation float64
	size      int
}

// projectedFeed renders fixed lights into a 640x480 frame from the current
// actuator positions, using the inverse of the default gains.
type projectedFeed struct {
	azimuth   *testutil.FakeAxis
	elevation *testutil.FakeAxis
	lights    []fixedLight
	resets    int
}

func (f *projectedFeed) Lights(ctx context.Context) ([]tracking.Light, error) {
	az, _ := f.azimuth.Position(ctx)
	el, _ := f.elevation.Position(ctx)
	var out []tracking.Light
	for _, l := range f.lights {
		x := 320 + int(math.Round((l.azimuth-az)/5))
		y := 240 + int(math.Round((l.elevation-el)/0.0005))
		if x < 0 || x >= 640 || y < 0 || y >= 480 {
			continue
		}
		out = append(out, testutil.Light(l.id, x, y, l.size))
	}
	return out, nil
}

func (f *projectedFeed) Reset() { f.resets++ }

func newProjectedRig(lights ...fixedLight) (*projectedFeed, *control.ErrorController) {
	azimuth := testutil.NewFakeAxis(1000, 24000)
	elevation := testutil.NewFakeAxis(0.5, 0)
	feed := &projectedFeed{azimuth: azimuth, elevation: elevation, lights: lights}
	return feed, control.NewErrorController(control.DefaultConfig(), azimuth, elevation)
}

func newClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestProcess_CentersAndRestores(t *testing.T) {
	// One light at pixel (400, 240), size 10.
	feed, ctrl := newProjectedRig(fixedLight{id: 1, azimuth: 1400, elevation: 0.5, size: 10})
	clock := newClock()
	o := New(feed, ctrl, selectFirst{}, clock, DefaultConfig())

	var hookCalls int
	o.OnCentered(func(_ context.Context, c Centered) error {
		hookCalls++
		rec, ok := o.session.Record(c.ID)
		require.True(t, ok)
		assert.True(t, rec.Tracked)
		assert.False(t, rec.InTracking)
		return nil
	})

	res, err := o.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, hookCalls)
	require.Len(t, res.Centered, 1)
	got := res.Centered[0]
	assert.Equal(t, tracking.ID(1), got.ID)
	assert.Equal(t, 9, got.Frames)
	assert.Equal(t, control.Snapshot{Azimuth: 1400, Elevation: 0.5}, got.Position)
	assert.Equal(t, 10, got.Observation.Size)

	assert.Equal(t, 10, res.Frames)
	assert.Equal(t, 1, res.LightsSeen)
	assert.Zero(t, res.Lost)
	assert.Zero(t, res.Unreachable)

	// First correction for (400, 240) is 50 steps right and nothing else.
	first := feed.azimuth.Calls()[0]
	assert.Equal(t, testutil.Call{Method: "MoveRight", Args: []float64{50}}, first)
	assert.Equal(t, 8, feed.azimuth.Count("MoveRight"))
	assert.Equal(t, 8, feed.elevation.Count("MoveTo"), "elevation is only commanded by the restore")

	pos, err := ctrl.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, control.Snapshot{Azimuth: 1000, Elevation: 0.5}, pos)

	// Ten search frames plus seven frames between restore steps.
	sleeps := clock.Sleeps()
	assert.Len(t, sleeps, 17)
	for _, d := range sleeps {
		assert.Equal(t, 200*time.Millisecond, d)
	}
	assert.Equal(t, StateIdle, o.State())
}

func TestProcess_CentersEveryLightOnce(t *testing.T) {
	feed, ctrl := newProjectedRig(
		fixedLight{id: 1, azimuth: 1400, elevation: 0.5, size: 10},
		fixedLight{id: 2, azimuth: 1100, elevation: 0.52, size: 4},
	)
	o := New(feed, ctrl, selectFirst{}, newClock(), DefaultConfig())

	res, err := o.Process(context.Background())
	require.NoError(t, err)

	var ids []tracking.ID
	for _, c := range res.Centered {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]tracking.ID{1, 2}, ids); diff != "" {
		t.Errorf("centered order mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0.52, res.Centered[1].Position.Elevation, 1e-9)
	assert.Equal(t, 1100.0, res.Centered[1].Position.Azimuth)
	assert.Equal(t, 2, res.LightsSeen)
}

// fakeController converges whenever the target sits exactly at (320, 240).
type fakeController struct {
	centerErr    map[int]error // keyed by x
	captureErr   error
	onCenter     func()
	centers      [][2]int
	captures     int
	restores     int
	restoreAfter int
}

func (c *fakeController) Center(_ context.Context, x, y int) (bool, error) {
	c.centers = append(c.centers, [2]int{x, y})
	if c.onCenter != nil {
		c.onCenter()
	}
	if err := c.centerErr[x]; err != nil {
		return false, err
	}
	return x == 320 && y == 240, nil
}

func (c *fakeController) CapturePositions(context.Context) (control.Snapshot, error) {
	c.captures++
	return control.Snapshot{}, c.captureErr
}

func (c *fakeController) RestorePositions(context.Context) (bool, error) {
	c.restores++
	return c.restores > c.restoreAfter, nil
}

func (c *fakeController) Positions(context.Context) (control.Snapshot, error) {
	return control.Snapshot{Azimuth: 7, Elevation: 0.25}, nil
}

func TestProcess_TrackedLightIsNotPursuedAgain(t *testing.T) {
	feed := testutil.NewScriptFeed([]tracking.Light{testutil.Light(1, 320, 240, 5)})
	ctrl := &fakeController{}
	o := New(feed, ctrl, selectFirst{}, newClock(), DefaultConfig())

	res, err := o.Process(context.Background())
	require.NoError(t, err)

	assert.Len(t, ctrl.centers, 1)
	assert.Len(t, res.Centered, 1)
	assert.Equal(t, 2, res.Frames)
	assert.Equal(t, 1, ctrl.captures)
	assert.Equal(t, 1, ctrl.restores)
}

func TestProcess_LostPolicies(t *testing.T) {
	script := func() *testutil.ScriptFeed {
		return testutil.NewScriptFeed(
			[]tracking.Light{testutil.Light(1, 330, 240, 5), testutil.Light(2, 320, 240, 5)},
			[]tracking.Light{testutil.Light(2, 320, 240, 5)},
		)
	}
	tests := []struct {
		name   string
		policy LostPolicy
		frames int
		lost   int
	}{
		{"abandon reselects in the same frame", LostAbandon, 3, 0},
		{"complete waits for the next frame", LostComplete, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{}
			cfg := DefaultConfig()
			cfg.Lost = tt.policy
			o := New(script(), ctrl, selectFirst{}, newClock(), cfg)

			res, err := o.Process(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.lost, res.Lost)
			assert.Equal(t, tt.frames, res.Frames)
			require.Len(t, res.Centered, 1)
			assert.Equal(t, tracking.ID(2), res.Centered[0].ID)
			if diff := cmp.Diff([][2]int{{330, 240}, {320, 240}}, ctrl.centers); diff != "" {
				t.Errorf("center calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcess_UnreachableLightIsSkipped(t *testing.T) {
	feed := testutil.NewScriptFeed(
		[]tracking.Light{testutil.Light(1, 330, 240, 5), testutil.Light(2, 320, 240, 5)},
	)
	ctrl := &fakeController{centerErr: map[int]error{
		330: fmt.Errorf("%w: 1.2 not in [0, 1]", control.ErrElevationOutOfRange),
	}}
	o := New(feed, ctrl, selectFirst{}, newClock(), DefaultConfig())

	res, err := o.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Unreachable)
	require.Len(t, res.Centered, 1)
	assert.Equal(t, tracking.ID(2), res.Centered[0].ID)

	rec, ok := o.session.Record(1)
	require.True(t, ok)
	assert.True(t, rec.Tracked)
}

func TestProcess_Errors(t *testing.T) {
	boom := errors.New("boom")
	light := []tracking.Light{testutil.Light(1, 330, 240, 5)}

	t.Run("feed failure", func(t *testing.T) {
		feed := testutil.NewScriptFeed()
		feed.Err = boom
		c := &fakeController{}
		o := New(feed, c, selectFirst{}, newClock(), DefaultConfig())
		_, err := o.Process(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StateIdle, o.State())
		assert.Equal(t, 1, c.restores, "captured positions are restored")
	})

	t.Run("actuator failure", func(t *testing.T) {
		ctrl := &fakeController{centerErr: map[int]error{330: boom}}
		o := New(testutil.NewScriptFeed(light), ctrl, selectFirst{}, newClock(), DefaultConfig())
		_, err := o.Process(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, ctrl.restores)

		rec, ok := o.session.Record(1)
		require.True(t, ok)
		assert.False(t, rec.InTracking, "the aborted pursuit is released")
		assert.False(t, rec.Tracked)
		_, pursuing := o.Identities()
		assert.False(t, pursuing)
	})

	t.Run("hook failure", func(t *testing.T) {
		ctrl := &fakeController{}
		feed := testutil.NewScriptFeed([]tracking.Light{testutil.Light(1, 320, 240, 5)})
		o := New(feed, ctrl, selectFirst{}, newClock(), DefaultConfig())
		o.OnCentered(func(context.Context, Centered) error { return boom })
		_, err := o.Process(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, ctrl.restores)
	})

	t.Run("capture failure moves nothing", func(t *testing.T) {
		ctrl := &fakeController{captureErr: boom}
		o := New(testutil.NewScriptFeed(light), ctrl, selectFirst{}, newClock(), DefaultConfig())
		_, err := o.Process(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, ctrl.restores)
		assert.Empty(t, ctrl.centers)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := &fakeController{}
		o := New(testutil.NewScriptFeed(light), c, selectFirst{}, newClock(), DefaultConfig())
		_, err := o.Process(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, c.restores)
	})
}

func TestProcess_RestorePollsBetweenSteps(t *testing.T) {
	feed := testutil.NewScriptFeed(nil)
	ctrl := &fakeController{restoreAfter: 3}
	o := New(feed, ctrl, selectFirst{}, newClock(), DefaultConfig())

	res, err := o.Process(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.LightsSeen)
	assert.Equal(t, 4, ctrl.restores)
	assert.Equal(t, 1+3, feed.Calls())
}

func TestProcess_AbortRestoresWithoutReadingTheFeed(t *testing.T) {
	feed := testutil.NewScriptFeed([]tracking.Light{testutil.Light(1, 330, 240, 5)})
	ctrl := &fakeController{
		centerErr:    map[int]error{330: errors.New("link down")},
		restoreAfter: 2,
	}
	clock := newClock()
	o := New(feed, ctrl, selectFirst{}, clock, DefaultConfig())

	_, err := o.Process(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, ctrl.restores)
	assert.Equal(t, 1, feed.Calls())
	assert.Len(t, clock.Sleeps(), 1+2)
	assert.Equal(t, StateIdle, o.State())
}

// refuseFirst returns a light the session has never seen before deferring to
// selectFirst.
type refuseFirst struct{ calls *int }

func (s refuseFirst) Select(candidates []tracking.Light) (tracking.Light, bool) {
	*s.calls++
	if *s.calls == 1 {
		return testutil.Light(42, 320, 240, 5), true
	}
	return selectFirst{}.Select(candidates)
}

func TestProcess_RefusedCandidateIsSkipped(t *testing.T) {
	feed := testutil.NewScriptFeed([]tracking.Light{testutil.Light(1, 320, 240, 5)})
	ctrl := &fakeController{}
	calls := 0
	o := New(feed, ctrl, refuseFirst{calls: &calls}, newClock(), DefaultConfig())

	res, err := o.Process(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Centered, 1)
	assert.Equal(t, tracking.ID(1), res.Centered[0].ID)
	if diff := cmp.Diff([][2]int{{320, 240}}, ctrl.centers); diff != "" {
		t.Errorf("center calls mismatch (-want +got):\n%s", diff)
	}
	_, ok := o.session.Record(42)
	assert.False(t, ok)
}

func TestIdentities(t *testing.T) {
	feed := testutil.NewScriptFeed(
		[]tracking.Light{testutil.Light(1, 330, 240, 5)},
		[]tracking.Light{testutil.Light(1, 320, 240, 5)},
	)
	ctrl := &fakeController{}
	o := New(feed, ctrl, selectFirst{}, newClock(), DefaultConfig())

	type seen struct {
		live     int
		pursuing bool
	}
	var during []seen
	ctrl.onCenter = func() {
		live, pursuing := o.Identities()
		during = append(during, seen{live, pursuing})
	}
	var atHook seen
	o.OnCentered(func(context.Context, Centered) error {
		atHook.live, atHook.pursuing = o.Identities()
		return nil
	})

	_, err := o.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []seen{{1, true}, {1, true}}, during)
	assert.Equal(t, seen{1, false}, atHook, "a centred light is no longer pursued")
}

func TestReset(t *testing.T) {
	feed := testutil.NewScriptFeed([]tracking.Light{testutil.Light(1, 320, 240, 5)})
	o := New(feed, &fakeController{}, selectFirst{}, newClock(), DefaultConfig())
	_, err := o.Process(context.Background())
	require.NoError(t, err)
	live, _ := o.Identities()
	require.Equal(t, 1, live)

	o.Reset()
	live, _ = o.Identities()
	assert.Zero(t, live)
	assert.Equal(t, 1, feed.Resets())
}

func TestParseLostPolicy(t *testing.T) {
	p, err := ParseLostPolicy("complete")
	require.NoError(t, err)
	assert.Equal(t, LostComplete, p)

	p, err = ParseLostPolicy("")
	require.NoError(t, err)
	assert.Equal(t, LostAbandon, p)

	_, err = ParseLostPolicy("ignore")
	assert.Error(t, err)
	assert.Equal(t, "restoring", StateRestoring.String())
}
