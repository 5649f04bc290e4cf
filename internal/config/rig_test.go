package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightsearch/internal/collimation"
	"github.com/banshee-data/lightsearch/internal/control"
	"github.com/banshee-data/lightsearch/internal/scan"
	"github.com/banshee-data/lightsearch/internal/search"
	"github.com/banshee-data/lightsearch/internal/tracking"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	assert.Equal(t, DeploymentCombined, cfg.GetDeployment())
	assert.Equal(t, search.SelectorCenterBand, cfg.GetSelector())
	assert.Equal(t, 200*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 5*time.Second, cfg.GetSettle())
	assert.Equal(t, 20.0, cfg.GetIntegrationSeconds())
	assert.False(t, cfg.GetCollimate())

	// The defaults file restates the built-in defaults.
	assert.Equal(t, control.DefaultConfig(), cfg.ControlConfig())
	assert.Equal(t, tracking.DefaultTrackerConfig(), cfg.TrackerConfig())
	want := scan.DefaultConfig()
	want.Passes = 1
	if diff := cmp.Diff(want, cfg.ScanConfig()); diff != "" {
		t.Errorf("scan config mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, cfg.CheckEndpoints())
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyRigConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DeploymentCombined, cfg.GetDeployment())
	assert.Equal(t, "abandon", cfg.GetLostPolicy())
	assert.Equal(t, 1, cfg.GetPasses())
	assert.Empty(t, cfg.GetPlotDir())
	assert.Equal(t, collimation.DefaultROI(), cfg.GetROI())
	assert.Equal(t, collimation.DefaultConfig(), cfg.CollimationConfig())

	sc, err := cfg.SearchConfig()
	require.NoError(t, err)
	assert.Equal(t, search.DefaultConfig(), sc)

	assert.ErrorContains(t, cfg.CheckEndpoints(), "azimuth")
}

func TestRemoteDeploymentDefaults(t *testing.T) {
	cfg := EmptyRigConfig()
	remote := DeploymentRemote
	cfg.Deployment = &remote

	assert.Equal(t, search.SelectorRightmostLeftHalf, cfg.GetSelector())
	assert.True(t, cfg.GetCollimate())
	assert.Equal(t, control.RefinedConfig(), cfg.ControlConfig())

	sel, err := cfg.NewSelector()
	require.NoError(t, err)
	assert.Equal(t, search.RightmostLeftHalf{FrameWidth: 640, MinSize: 7}, sel)
}

func TestLoadRigConfig_Remote(t *testing.T) {
	for _, path := range []string{"../../config/rig.remote.json", "config/rig.remote.json"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := LoadRigConfig(path)
		require.NoError(t, err)

		sc := cfg.ScanConfig()
		assert.Equal(t, []int{2}, sc.Bands)
		require.NotNil(t, sc.StartAzimuth)
		assert.Equal(t, 17250.0, *sc.StartAzimuth)
		assert.Equal(t, 0, sc.Passes)
		assert.Equal(t, 120, sc.AzimuthStep)

		scfg, err := cfg.SearchConfig()
		require.NoError(t, err)
		assert.Equal(t, search.LostComplete, scfg.Lost)
		assert.Equal(t, "/dev/ttyUSB0", strings.TrimPrefix(cfg.GetEndpoints().Azimuth, "serial://"))
		return
	}
	t.Skip("rig.remote.json not found")
}

func TestLoadRigConfig_Partial(t *testing.T) {
	path := writeConfig(t, "rig.json", `{"azimuth_step": 80, "elevation_gain": 0.001, "collimation_settle": "250ms", "elevation_min": 0.2}`)
	cfg, err := LoadRigConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 80, cfg.ScanConfig().AzimuthStep)
	assert.Equal(t, 10, cfg.ScanConfig().SkipAfter)
	assert.Equal(t, 0.001, cfg.ControlConfig().ElevationGain)
	assert.Equal(t, 5.0, cfg.ControlConfig().AzimuthGain)
	assert.Equal(t, 250*time.Millisecond, cfg.CollimationConfig().Settle)
	assert.Equal(t, 0.2, cfg.CollimationConfig().ElevationMin)
	assert.Equal(t, 1.0, cfg.CollimationConfig().ElevationMax)
}

func TestLoadRigConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"extension", "rig.yaml", `{}`, ".json extension"},
		{"syntax", "rig.json", `{"azimuth_step":`, "parse config JSON"},
		{"deployment", "rig.json", `{"deployment": "cloud"}`, "unknown deployment"},
		{"selector", "rig.json", `{"selector": "nearest"}`, "unknown selection policy"},
		{"lost policy", "rig.json", `{"lost_policy": "retry"}`, "unknown lost policy"},
		{"duration", "rig.json", `{"settle": "soon"}`, "invalid settle"},
		{"negative duration", "rig.json", `{"poll_interval": "-1s"}`, "non-negative"},
		{"elevation range", "rig.json", `{"elevation_min": 0.8, "elevation_max": 0.2}`, "elevation range"},
		{"azimuth step", "rig.json", `{"azimuth_step": 0}`, "azimuth step"},
		{"band", "rig.json", `{"bands": [4]}`, "band 4"},
		{"resize", "rig.json", `{"max_resize_factor": 0.5}`, "max_resize_factor"},
		{"weight", "rig.json", `{"displacement_weight": 2}`, "displacement_weight"},
		{"integration", "rig.json", `{"integration_seconds": 0}`, "integration_seconds"},
		{"parity", "rig.json", `{"serial": {"parity": "mark"}}`, "parity"},
		{"remote endpoints", "rig.json",
			`{"deployment": "remote", "endpoints": {"azimuth": "tcp://a:1", "elevation": "tcp://b:1"}}`,
			"lights"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadRigConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRigConfig_TooLarge(t *testing.T) {
	body := `{"plot_dir": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadRigConfig(writeConfig(t, "big.json", body))
	assert.ErrorContains(t, err, "too large")
}

func TestLoadRigConfig_Missing(t *testing.T) {
	_, err := LoadRigConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat config file")
}
