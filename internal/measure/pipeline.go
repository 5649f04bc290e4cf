// Package measure runs the per-light measurement after the rig has centred
// on a light: settle, collimate, capture a spectrum, plot it and record the
// result.
package measure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lightsearch/internal/collimation"
	"github.com/banshee-data/lightsearch/internal/monitoring"
	"github.com/banshee-data/lightsearch/internal/search"
	"github.com/banshee-data/lightsearch/internal/spectrometer"
	"github.com/banshee-data/lightsearch/internal/timeutil"
)

// Refiner collimates the rig on the current light.
type Refiner interface {
	Refine(ctx context.Context) (collimation.Outcome, error)
}

// Measurement is everything learned about one centred light.
type Measurement struct {
	Light        search.Centered
	Collimated   bool // false when no refiner is configured
	Collimation  collimation.Outcome
	Spectrum     *spectrometer.Spectrum
	CaptureError string
	PlotPath     string
	MeasuredAt   time.Time
}

// Recorder persists measurements.
type Recorder interface {
	RecordMeasurement(ctx context.Context, m Measurement) error
}

// Config controls the pipeline.
type Config struct {
	Settle  time.Duration // wait after centring before collimation
	PlotDir string        // spectrum plots are skipped when empty
}

// DefaultConfig returns a 5 s settle and no plots.
func DefaultConfig() Config {
	return Config{Settle: 5 * time.Second}
}

// Pipeline measures centred lights. Any stage may be nil: without a refiner
// there is no settle or collimation, and without a device no capture.
type Pipeline struct {
	cfg      Config
	refiner  Refiner
	device   spectrometer.Device
	recorder Recorder
	clock    timeutil.Clock
}

// NewPipeline returns a pipeline.
func NewPipeline(cfg Config, refiner Refiner, device spectrometer.Device, recorder Recorder, clock timeutil.Clock) *Pipeline {
	return &Pipeline{cfg: cfg, refiner: refiner, device: device, recorder: recorder, clock: clock}
}

// Prepare sets the spectrometer integration time.
func (p *Pipeline) Prepare(ctx context.Context, integrationSeconds float64) error {
	if p.device == nil {
		return nil
	}
	if err := p.device.SetIntegration(ctx, spectrometer.IntegrationMicros(integrationSeconds)); err != nil {
		return fmt.Errorf("set integration time: %w", err)
	}
	return nil
}

// OnCentered measures c. Collimation exhaustion and failed captures are
// recorded and do not stop the scan; transport failures do.
func (p *Pipeline) OnCentered(ctx context.Context, c search.Centered) error {
	m := Measurement{Light: c}
	monitoring.Logf("  Final elevation %f & azimuth %.0f", c.Position.Elevation, c.Position.Azimuth)

	if p.refiner != nil {
		if err := p.clock.Sleep(ctx, p.cfg.Settle); err != nil {
			return err
		}
		outcome, err := p.refiner.Refine(ctx)
		if err != nil {
			return fmt.Errorf("collimate light %d: %w", c.ID, err)
		}
		m.Collimated = true
		m.Collimation = outcome
		if !outcome.OK {
			monitoring.Logf("  Collimation failed")
			p.record(ctx, m)
			return nil
		}
		monitoring.Logf("  Collimation succeeded, final elevation %f", outcome.Elevation)
	}

	if p.device != nil {
		if err := p.capture(ctx, &m); err != nil {
			return err
		}
	}
	p.record(ctx, m)
	return nil
}

func (p *Pipeline) capture(ctx context.Context, m *Measurement) error {
	monitoring.Logf("  Capturing spectrum...")
	s, err := spectrometer.Capture(ctx, p.device, p.clock.Now())
	if errors.Is(err, spectrometer.ErrCaptureFailed) {
		monitoring.Logf("  The spectrum capture failed: %v", err)
		m.CaptureError = err.Error()
		return nil
	}
	if err != nil {
		return fmt.Errorf("capture spectrum for light %d: %w", m.Light.ID, err)
	}
	m.Spectrum = &s

	if p.cfg.PlotDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.cfg.PlotDir, 0o755); err != nil {
		monitoring.Logf("  failed to create plot directory: %v", err)
		return nil
	}
	path := filepath.Join(p.cfg.PlotDir, fmt.Sprintf("light-%d-%s.png", m.Light.ID, s.CapturedAt.UTC().Format("20060102T150405Z")))
	title := fmt.Sprintf("Light %d at azimuth %.0f, elevation %.4f", m.Light.ID, m.Light.Position.Azimuth, m.Light.Position.Elevation)
	if err := spectrometer.WritePlot(s, title, path); err != nil {
		monitoring.Logf("  failed to plot spectrum: %v", err)
		return nil
	}
	m.PlotPath = path
	return nil
}

func (p *Pipeline) record(ctx context.Context, m Measurement) {
	if p.recorder == nil {
		return
	}
	m.MeasuredAt = p.clock.Now()
	if err := p.recorder.RecordMeasurement(ctx, m); err != nil {
		monitoring.Logf("failed to record measurement for light %d: %v", m.Light.ID, err)
	}
}
