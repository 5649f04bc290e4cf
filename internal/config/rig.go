package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lightsearch/internal/collimation"
	"github.com/banshee-data/lightsearch/internal/control"
	"github.com/banshee-data/lightsearch/internal/measure"
	"github.com/banshee-data/lightsearch/internal/rigio"
	"github.com/banshee-data/lightsearch/internal/scan"
	"github.com/banshee-data/lightsearch/internal/search"
	"github.com/banshee-data/lightsearch/internal/services"
	"github.com/banshee-data/lightsearch/internal/tracking"
)

// DefaultConfigPath is the path to the canonical rig defaults file.
const DefaultConfigPath = "config/rig.defaults.json"

// Deployments.
const (
	// DeploymentCombined runs detection and tracking in-process on frames
	// from a camera service.
	DeploymentCombined = "combined"
	// DeploymentRemote consumes an already identified light feed.
	DeploymentRemote = "remote"
)

// RigConfig is the root configuration of a rig. Every field is optional; the
// Get* methods and the *Config builders supply defaults for omitted values,
// so partial configs are safe.
type RigConfig struct {
	Deployment   *string `json:"deployment,omitempty"`
	Selector     *string `json:"selector,omitempty"`
	LostPolicy   *string `json:"lost_policy,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty"` // duration string like "200ms"

	// Controller
	FrameWidth    *int     `json:"frame_width,omitempty"`
	FrameHeight   *int     `json:"frame_height,omitempty"`
	Tolerance     *float64 `json:"tolerance,omitempty"`
	AzimuthGain   *float64 `json:"azimuth_gain,omitempty"`
	ElevationGain *float64 `json:"elevation_gain,omitempty"`
	MaxMultiplier *float64 `json:"max_multiplier,omitempty"`
	ElevationMin  *float64 `json:"elevation_min,omitempty"`
	ElevationMax  *float64 `json:"elevation_max,omitempty"`

	// Tracker
	MaxDisplacement    *float64 `json:"max_displacement,omitempty"`
	MaxResizeFactor    *float64 `json:"max_resize_factor,omitempty"`
	DisplacementWeight *float64 `json:"displacement_weight,omitempty"`

	// Scan grid
	ElevationSteps     *int     `json:"elevation_steps,omitempty"`
	AzimuthStep        *int     `json:"azimuth_step,omitempty"`
	SkipAfter          *int     `json:"skip_after,omitempty"`
	RecheckEvery       *int     `json:"recheck_every,omitempty"`
	ElevationTolerance *float64 `json:"elevation_tolerance,omitempty"`
	Bands              []int    `json:"bands,omitempty"`
	StartAzimuth       *float64 `json:"start_azimuth,omitempty"`
	Passes             *int     `json:"passes,omitempty"`

	// Measurement
	Settle             *string          `json:"settle,omitempty"`
	IntegrationSeconds *float64         `json:"integration_seconds,omitempty"`
	PlotDir            *string          `json:"plot_dir,omitempty"`
	Collimate          *bool            `json:"collimate,omitempty"`
	CollimationTrials  *int             `json:"collimation_trials,omitempty"`
	CollimationSettle  *string          `json:"collimation_settle,omitempty"`
	MinIntensity       *float64         `json:"min_intensity,omitempty"`
	CollimationNudge   *float64         `json:"collimation_nudge,omitempty"`
	ROI                *collimation.ROI `json:"roi,omitempty"`

	// Services
	Endpoints *services.Endpoints `json:"endpoints,omitempty"`
	Serial    *rigio.PortOptions  `json:"serial,omitempty"`
}

// EmptyRigConfig returns a RigConfig with all fields unset.
func EmptyRigConfig() *RigConfig {
	return &RigConfig{}
}

// LoadRigConfig loads a RigConfig from a JSON file. The file must have a
// .json extension and be at most 1MB.
func LoadRigConfig(path string) (*RigConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRigConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *RigConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadRigConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *RigConfig) Validate() error {
	switch c.GetDeployment() {
	case DeploymentCombined, DeploymentRemote:
	default:
		return fmt.Errorf("unknown deployment %q", c.GetDeployment())
	}
	if _, err := search.NewSelector(c.GetSelector(), 1, 1); err != nil {
		return err
	}
	if _, err := search.ParseLostPolicy(c.GetLostPolicy()); err != nil {
		return err
	}

	durations := map[string]*string{
		"poll_interval":      c.PollInterval,
		"settle":             c.Settle,
		"collimation_settle": c.CollimationSettle,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if err := c.ControlConfig().Validate(); err != nil {
		return err
	}
	if err := c.ScanConfig().Validate(); err != nil {
		return err
	}
	if c.MaxResizeFactor != nil && *c.MaxResizeFactor < 1 {
		return fmt.Errorf("max_resize_factor must be at least 1, got %f", *c.MaxResizeFactor)
	}
	if c.DisplacementWeight != nil && (*c.DisplacementWeight < 0 || *c.DisplacementWeight > 1) {
		return fmt.Errorf("displacement_weight must be between 0 and 1, got %f", *c.DisplacementWeight)
	}
	if c.IntegrationSeconds != nil && *c.IntegrationSeconds <= 0 {
		return fmt.Errorf("integration_seconds must be positive, got %f", *c.IntegrationSeconds)
	}
	if c.CollimationTrials != nil && *c.CollimationTrials <= 0 {
		return fmt.Errorf("collimation_trials must be positive, got %d", *c.CollimationTrials)
	}
	if c.ROI != nil {
		if err := c.ROI.Validate(); err != nil {
			return err
		}
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return err
		}
	}
	if c.Endpoints != nil {
		if err := c.CheckEndpoints(); err != nil {
			return err
		}
	}
	return nil
}

// CheckEndpoints reports whether the endpoints needed by the deployment are
// configured.
func (c *RigConfig) CheckEndpoints() error {
	eps := c.GetEndpoints()
	var missing []string
	if eps.Azimuth == "" {
		missing = append(missing, "azimuth")
	}
	if eps.Elevation == "" {
		missing = append(missing, "elevation")
	}
	switch c.GetDeployment() {
	case DeploymentCombined:
		if eps.Camera == "" {
			missing = append(missing, "camera")
		}
	case DeploymentRemote:
		if eps.Lights == "" {
			missing = append(missing, "lights")
		}
	}
	if c.GetCollimate() && eps.Collimation == "" {
		missing = append(missing, "collimation")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s deployment is missing endpoints: %v", c.GetDeployment(), missing)
	}
	return nil
}

// GetDeployment returns the deployment, defaulting to combined.
func (c *RigConfig) GetDeployment() string {
	if c.Deployment == nil || *c.Deployment == "" {
		return DeploymentCombined
	}
	return *c.Deployment
}

// GetSelector returns the selection policy. The remote deployment defaults
// to the rightmost light in the left half.
func (c *RigConfig) GetSelector() string {
	if c.Selector != nil && *c.Selector != "" {
		return *c.Selector
	}
	if c.GetDeployment() == DeploymentRemote {
		return search.SelectorRightmostLeftHalf
	}
	return search.SelectorCenterBand
}

// GetLostPolicy returns the lost target policy name.
func (c *RigConfig) GetLostPolicy() string {
	if c.LostPolicy == nil || *c.LostPolicy == "" {
		return "abandon"
	}
	return *c.LostPolicy
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetPollInterval returns the minimum spacing between feed reads.
func (c *RigConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, search.DefaultConfig().PollInterval)
}

// GetSettle returns the wait between centring and collimation.
func (c *RigConfig) GetSettle() time.Duration {
	return durationOr(c.Settle, measure.DefaultConfig().Settle)
}

// GetIntegrationSeconds returns the spectrometer integration time.
func (c *RigConfig) GetIntegrationSeconds() float64 {
	if c.IntegrationSeconds == nil {
		return 20
	}
	return *c.IntegrationSeconds
}

// GetPlotDir returns where spectrum plots are written; empty disables plots.
func (c *RigConfig) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}

// GetCollimate reports whether centred lights are collimated. It defaults
// to true for the remote deployment.
func (c *RigConfig) GetCollimate() bool {
	if c.Collimate != nil {
		return *c.Collimate
	}
	return c.GetDeployment() == DeploymentRemote
}

// GetPasses returns the number of full scans; zero scans until stopped.
func (c *RigConfig) GetPasses() int {
	if c.Passes == nil {
		return 1
	}
	return *c.Passes
}

// GetEndpoints returns the configured endpoints, or none.
func (c *RigConfig) GetEndpoints() services.Endpoints {
	if c.Endpoints == nil {
		return services.Endpoints{}
	}
	return *c.Endpoints
}

// GetSerial returns the serial line options.
func (c *RigConfig) GetSerial() rigio.PortOptions {
	if c.Serial == nil {
		return rigio.PortOptions{}
	}
	return *c.Serial
}

// ControlConfig builds the error controller configuration. The remote
// deployment starts from the gentler refined gains.
func (c *RigConfig) ControlConfig() control.Config {
	cfg := control.DefaultConfig()
	if c.GetDeployment() == DeploymentRemote {
		cfg = control.RefinedConfig()
	}
	setInt(&cfg.FrameWidth, c.FrameWidth)
	setInt(&cfg.FrameHeight, c.FrameHeight)
	setFloat(&cfg.Tolerance, c.Tolerance)
	setFloat(&cfg.AzimuthGain, c.AzimuthGain)
	setFloat(&cfg.ElevationGain, c.ElevationGain)
	setFloat(&cfg.MaxMultiplier, c.MaxMultiplier)
	setFloat(&cfg.ElevationMin, c.ElevationMin)
	setFloat(&cfg.ElevationMax, c.ElevationMax)
	return cfg
}

// TrackerConfig builds the correspondence gates.
func (c *RigConfig) TrackerConfig() tracking.TrackerConfig {
	cfg := tracking.DefaultTrackerConfig()
	setFloat(&cfg.MaxDisplacement, c.MaxDisplacement)
	setFloat(&cfg.MaxResizeFactor, c.MaxResizeFactor)
	setFloat(&cfg.DisplacementWeight, c.DisplacementWeight)
	return cfg
}

// SearchConfig builds the orchestrator configuration.
func (c *RigConfig) SearchConfig() (search.Config, error) {
	lost, err := search.ParseLostPolicy(c.GetLostPolicy())
	if err != nil {
		return search.Config{}, err
	}
	return search.Config{PollInterval: c.GetPollInterval(), Lost: lost}, nil
}

// NewSelector builds the configured selection policy for the frame size.
func (c *RigConfig) NewSelector() (search.Selector, error) {
	ctl := c.ControlConfig()
	return search.NewSelector(c.GetSelector(), ctl.FrameWidth, ctl.FrameHeight)
}

// ScanConfig builds the scan grid. Passes is taken from the file; callers
// may override it.
func (c *RigConfig) ScanConfig() scan.Config {
	cfg := scan.DefaultConfig()
	setInt(&cfg.ElevationSteps, c.ElevationSteps)
	setInt(&cfg.AzimuthStep, c.AzimuthStep)
	setInt(&cfg.SkipAfter, c.SkipAfter)
	setInt(&cfg.RecheckEvery, c.RecheckEvery)
	setFloat(&cfg.ElevationTolerance, c.ElevationTolerance)
	if len(c.Bands) > 0 {
		cfg.Bands = append([]int(nil), c.Bands...)
	}
	if c.StartAzimuth != nil {
		start := *c.StartAzimuth
		cfg.StartAzimuth = &start
	}
	cfg.Passes = c.GetPasses()
	return cfg
}

// CollimationConfig builds the refiner configuration.
func (c *RigConfig) CollimationConfig() collimation.Config {
	cfg := collimation.DefaultConfig()
	setInt(&cfg.MaxTrials, c.CollimationTrials)
	setFloat(&cfg.MinIntensity, c.MinIntensity)
	setFloat(&cfg.Nudge, c.CollimationNudge)
	cfg.Settle = durationOr(c.CollimationSettle, cfg.Settle)
	ctl := c.ControlConfig()
	cfg.ElevationMin, cfg.ElevationMax = ctl.ElevationMin, ctl.ElevationMax
	return cfg
}

// GetROI returns the collimation region of interest.
func (c *RigConfig) GetROI() collimation.ROI {
	if c.ROI == nil {
		return collimation.DefaultROI()
	}
	return *c.ROI
}

// MeasureConfig builds the measurement pipeline configuration.
func (c *RigConfig) MeasureConfig() measure.Config {
	return measure.Config{Settle: c.GetSettle(), PlotDir: c.GetPlotDir()}
}

// ErrNoEndpoints is returned when a hardware run has no endpoints configured.
var ErrNoEndpoints = errors.New("no service endpoints configured")

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
