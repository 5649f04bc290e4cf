package measure

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightsearch/internal/collimation"
	"github.com/banshee-data/lightsearch/internal/control"
	"github.com/banshee-data/lightsearch/internal/search"
	"github.com/banshee-data/lightsearch/internal/timeutil"
)

type fakeRefiner struct {
	outcome collimation.Outcome
	err     error
	calls   int
}

func (r *fakeRefiner) Refine(context.Context) (collimation.Outcome, error) {
	r.calls++
	return r.outcome, r.err
}

type fakeDevice struct {
	status      string
	err         error
	integration float64
	captures    int
}

func (d *fakeDevice) SetIntegration(_ context.Context, micros float64) error {
	d.integration = micros
	return d.err
}
func (d *fakeDevice) Wavelengths(context.Context) (string, error) { return "400 500 600", d.err }
func (d *fakeDevice) Spectrum(context.Context) (string, error) {
	d.captures++
	return "1200 9000 3000", d.err
}
func (d *fakeDevice) Status(context.Context) (string, error) { return d.status, d.err }

type memRecorder struct {
	got []Measurement
	err error
}

func (r *memRecorder) RecordMeasurement(_ context.Context, m Measurement) error {
	r.got = append(r.got, m)
	return r.err
}

var light = search.Centered{ID: 3, Position: control.Snapshot{Azimuth: 17250, Elevation: 0.625}}

func newClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC))
}

func TestOnCentered_FullMeasurement(t *testing.T) {
	clock := newClock()
	refiner := &fakeRefiner{outcome: collimation.Outcome{OK: true, Trials: 3, Nudges: 2, Elevation: 0.6245}}
	dev := &fakeDevice{status: "Success"}
	rec := &memRecorder{}
	cfg := DefaultConfig()
	cfg.PlotDir = t.TempDir()
	p := NewPipeline(cfg, refiner, dev, rec, clock)

	require.NoError(t, p.Prepare(context.Background(), 20))
	assert.Equal(t, 20e6, dev.integration)

	require.NoError(t, p.OnCentered(context.Background(), light))

	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Sleeps())
	require.Len(t, rec.got, 1)
	m := rec.got[0]
	assert.True(t, m.Collimated)
	assert.Equal(t, 3, m.Collimation.Trials)
	require.NotNil(t, m.Spectrum)
	assert.Equal(t, []int{1200, 9000, 3000}, m.Spectrum.Counts)
	assert.Empty(t, m.CaptureError)
	require.NotEmpty(t, m.PlotPath)
	_, err := os.Stat(m.PlotPath)
	assert.NoError(t, err)
}

func TestOnCentered_CollimationFailureSkipsCapture(t *testing.T) {
	dev := &fakeDevice{status: "Success"}
	rec := &memRecorder{}
	p := NewPipeline(DefaultConfig(), &fakeRefiner{outcome: collimation.Outcome{Trials: 30}}, dev, rec, newClock())

	require.NoError(t, p.OnCentered(context.Background(), light))
	assert.Zero(t, dev.captures)
	require.Len(t, rec.got, 1)
	assert.False(t, rec.got[0].Collimation.OK)
	assert.Nil(t, rec.got[0].Spectrum)
}

func TestOnCentered_CaptureFailureIsRecorded(t *testing.T) {
	rec := &memRecorder{}
	p := NewPipeline(DefaultConfig(), &fakeRefiner{outcome: collimation.Outcome{OK: true}}, &fakeDevice{status: "Saturated"}, rec, newClock())

	require.NoError(t, p.OnCentered(context.Background(), light))
	require.Len(t, rec.got, 1)
	assert.Contains(t, rec.got[0].CaptureError, "Saturated")
	assert.Nil(t, rec.got[0].Spectrum)
}

func TestOnCentered_DeviceErrorsAbortTheStep(t *testing.T) {
	boom := errors.New("link down")

	p := NewPipeline(DefaultConfig(), &fakeRefiner{err: boom}, nil, nil, newClock())
	assert.ErrorIs(t, p.OnCentered(context.Background(), light), boom)

	p = NewPipeline(DefaultConfig(), &fakeRefiner{outcome: collimation.Outcome{OK: true}}, &fakeDevice{err: boom}, nil, newClock())
	assert.ErrorIs(t, p.OnCentered(context.Background(), light), boom)
}

func TestOnCentered_RecordOnly(t *testing.T) {
	clock := newClock()
	rec := &memRecorder{err: errors.New("readonly database")}
	p := NewPipeline(DefaultConfig(), nil, nil, rec, clock)

	require.NoError(t, p.OnCentered(context.Background(), light))
	assert.Empty(t, clock.Sleeps(), "no settle without collimation")
	require.Len(t, rec.got, 1)
	assert.False(t, rec.got[0].Collimated)
	assert.Equal(t, clock.Now(), rec.got[0].MeasuredAt)
	require.NoError(t, p.Prepare(context.Background(), 20))
}
