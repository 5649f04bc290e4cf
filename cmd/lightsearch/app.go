package main

import (
	"context"
	"errors"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/lightsearch/internal/blob"
	"github.com/banshee-data/lightsearch/internal/collimation"
	"github.com/banshee-data/lightsearch/internal/config"
	"github.com/banshee-data/lightsearch/internal/control"
	"github.com/banshee-data/lightsearch/internal/db"
	"github.com/banshee-data/lightsearch/internal/httputil"
	"github.com/banshee-data/lightsearch/internal/measure"
	"github.com/banshee-data/lightsearch/internal/monitoring"
	"github.com/banshee-data/lightsearch/internal/rigio"
	"github.com/banshee-data/lightsearch/internal/scan"
	"github.com/banshee-data/lightsearch/internal/search"
	"github.com/banshee-data/lightsearch/internal/services"
	"github.com/banshee-data/lightsearch/internal/spectrometer"
	"github.com/banshee-data/lightsearch/internal/timeutil"
	"github.com/banshee-data/lightsearch/internal/tracking"
	"github.com/banshee-data/lightsearch/internal/version"
)

// app is one scan run wired to a rig and the journal.
type app struct {
	cfg       *config.RigConfig
	rig       *services.Rig
	clock     timeutil.Clock
	orch      *search.Orchestrator
	pipeline  *measure.Pipeline
	sequencer *scan.Sequencer
	run       *db.Run
}

// newApp builds the search stack for cfg's deployment and opens a run in
// store. passes overrides the configured pass count when non-negative.
func newApp(ctx context.Context, cfg *config.RigConfig, rig *services.Rig, store *db.DB, clock timeutil.Clock, passes int) (*app, error) {
	feed, err := newFeed(cfg, rig)
	if err != nil {
		return nil, err
	}
	selector, err := cfg.NewSelector()
	if err != nil {
		return nil, err
	}
	searchCfg, err := cfg.SearchConfig()
	if err != nil {
		return nil, err
	}
	ctrl := control.NewErrorController(cfg.ControlConfig(), rig.Azimuth, rig.Elevation)
	orch := search.New(feed, ctrl, selector, clock, searchCfg)

	scanCfg := cfg.ScanConfig()
	if passes >= 0 {
		scanCfg.Passes = passes
	}

	var refiner measure.Refiner
	if cfg.GetCollimate() {
		if rig.Collimation == nil {
			return nil, errors.New("collimation is enabled but no collimation camera is connected")
		}
		sampler := collimation.NewROISampler(rig.Collimation, cfg.GetROI())
		refiner = collimation.NewRefiner(cfg.CollimationConfig(), rig.Elevation, sampler, clock)
	}
	var device spectrometer.Device
	if rig.Spectrometer != nil {
		device = rig.Spectrometer
	}

	run, err := store.StartRun(ctx, db.RunInfo{
		Deployment: cfg.GetDeployment(),
		Selector:   cfg.GetSelector(),
		Config:     cfg,
	}, clock.Now())
	if err != nil {
		return nil, err
	}
	pipeline := measure.NewPipeline(cfg.MeasureConfig(), refiner, device, run, clock)
	orch.OnCentered(pipeline.OnCentered)

	return &app{
		cfg:       cfg,
		rig:       rig,
		clock:     clock,
		orch:      orch,
		pipeline:  pipeline,
		sequencer: scan.NewSequencer(scanCfg, rig.Azimuth, rig.Elevation, orch, run, clock),
		run:       run,
	}, nil
}

func newFeed(cfg *config.RigConfig, rig *services.Rig) (search.Feed, error) {
	switch cfg.GetDeployment() {
	case config.DeploymentRemote:
		if rig.Lights == nil {
			return nil, errors.New("remote deployment needs a lights endpoint")
		}
		return rig.Lights, nil
	default:
		if rig.Camera == nil {
			return nil, errors.New("combined deployment needs a camera endpoint")
		}
		tracker := tracking.NewTracker(cfg.TrackerConfig())
		return tracking.NewLocalFeed(rig.Camera, blob.NewDetector(), tracker), nil
	}
}

// Run prepares the spectrometer, scans, and closes the run in the journal.
func (a *app) Run(ctx context.Context) (scan.Summary, error) {
	var sum scan.Summary
	err := a.pipeline.Prepare(ctx, a.cfg.GetIntegrationSeconds())
	if err == nil {
		sum, err = a.sequencer.Run(ctx)
	}
	if ferr := a.run.Finish(context.WithoutCancel(ctx), sum, err, a.clock.Now()); ferr != nil {
		monitoring.Logf("failed to close run %s: %v", a.run.ID, ferr)
	}
	return sum, err
}

type status struct {
	Version    string     `json:"version"`
	RunID      string     `json:"run_id"`
	Search     string     `json:"search"`
	Identities int        `json:"identities"`
	Pursuing   bool       `json:"pursuing"`
	Scan       scan.State `json:"scan"`
}

// attachRoutes mounts the journal, rig and progress pages on mux.
func (a *app) attachRoutes(mux *http.ServeMux, store *db.DB) {
	store.AttachAdminRoutes(mux)
	rigio.AttachAdminRoutes(mux, a.rig.Conns()...)
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("scan", "Scan progress (JSON)", func(w http.ResponseWriter, r *http.Request) {
		live, pursuing := a.orch.Identities()
		httputil.WriteJSON(w, http.StatusOK, status{
			Version:    version.Version,
			RunID:      a.run.ID,
			Search:     a.orch.State().String(),
			Identities: live,
			Pursuing:   pursuing,
			Scan:       a.sequencer.State(),
		})
	})
}
