package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightsearch/internal/blob"
	"github.com/banshee-data/lightsearch/internal/collimation"
	"github.com/banshee-data/lightsearch/internal/control"
	"github.com/banshee-data/lightsearch/internal/search"
	"github.com/banshee-data/lightsearch/internal/spectrometer"
	"github.com/banshee-data/lightsearch/internal/timeutil"
	"github.com/banshee-data/lightsearch/internal/tracking"
)

func oneLightSim() *SimRig {
	cfg := DefaultSimConfig()
	cfg.Lights = []SimLight{{Azimuth: 10, Elevation: 0.501, Radius: 1, Peak: 589}}
	return NewSimRig(cfg)
}

func TestSim_AxisWraps(t *testing.T) {
	rig := oneLightSim().Connect()
	defer rig.Close()
	ctx := context.Background()

	require.NoError(t, rig.Azimuth.MoveLeft(ctx, 40))
	pos, err := rig.Azimuth.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, 23960.0, pos)

	_, err = rig.Elevation.MoveTo(ctx, 1.5, 0)
	assert.Error(t, err)

	steps, err := rig.Azimuth.TotalSteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24000, steps)
}

func TestSim_FeedsAgree(t *testing.T) {
	rig := oneLightSim().Connect()
	defer rig.Close()
	ctx := context.Background()

	remote, err := rig.Lights.Lights(ctx)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, blob.Observation{X: 322, Y: 242, Size: 8}, remote[0].Observation)

	local := tracking.NewLocalFeed(rig.Camera, blob.NewDetector(), tracking.NewTracker(tracking.DefaultTrackerConfig()))
	detected, err := local.Lights(ctx)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.Equal(t, remote[0].Observation, detected[0].Observation)
}

func TestSim_CenterCollimateCapture(t *testing.T) {
	rig := oneLightSim().Connect()
	defer rig.Close()
	ctx := context.Background()
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	ctrl := control.NewErrorController(control.DefaultConfig(), rig.Azimuth, rig.Elevation)
	feed := tracking.NewLocalFeed(rig.Camera, blob.NewDetector(), tracking.NewTracker(tracking.DefaultTrackerConfig()))
	sel, err := search.NewSelector(search.SelectorCenterBand, 640, 480)
	require.NoError(t, err)
	o := search.New(feed, ctrl, sel, clock, search.DefaultConfig())

	refiner := collimation.NewRefiner(collimation.DefaultConfig(), rig.Elevation,
		collimation.NewROISampler(rig.Collimation, collimation.DefaultROI()), clock)
	require.NoError(t, rig.Spectrometer.SetIntegration(ctx, spectrometer.IntegrationMicros(20)))

	var outcome collimation.Outcome
	var spectrum spectrometer.Spectrum
	o.OnCentered(func(ctx context.Context, c search.Centered) error {
		var err error
		if outcome, err = refiner.Refine(ctx); err != nil {
			return err
		}
		spectrum, err = spectrometer.Capture(ctx, rig.Spectrometer, clock.Now())
		return err
	})

	res, err := o.Process(ctx)
	require.NoError(t, err)
	require.Len(t, res.Centered, 1)
	assert.Equal(t, 10.0, res.Centered[0].Position.Azimuth)
	assert.InDelta(t, 0.501, res.Centered[0].Position.Elevation, 1e-9)

	assert.True(t, outcome.OK)
	assert.Equal(t, 3, outcome.Trials)
	assert.Equal(t, 2, outcome.Nudges)

	require.Len(t, spectrum.Wavelengths, 131)
	assert.Equal(t, 350.0, spectrum.Wavelengths[0])
	assert.Equal(t, spectrometer.StatusSuccess, spectrum.Status)

	pos, err := ctrl.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pos.Azimuth)
	assert.InDelta(t, 0.5, pos.Elevation, 1e-9)
}

func TestSim_StatusBeforeIntegration(t *testing.T) {
	rig := oneLightSim().Connect()
	defer rig.Close()
	_, err := spectrometer.Capture(context.Background(), rig.Spectrometer, time.Time{})
	assert.ErrorIs(t, err, spectrometer.ErrCaptureFailed)
}
