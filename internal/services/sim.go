package services

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/lightsearch/internal/collimation"
	"github.com/banshee-data/lightsearch/internal/rigio"
)

// Endpoint names served by the simulated rig.
const (
	EndpointAzimuth      = "azimuth"
	EndpointElevation    = "elevation"
	EndpointLights       = "lights"
	EndpointCamera       = "camera"
	EndpointCollimation  = "collimation"
	EndpointSpectrometer = "spectrometer"
)

// SimLight is a point source fixed in rig coordinates.
type SimLight struct {
	Azimuth   float64
	Elevation float64
	Radius    int     // half side of the rendered square, in pixels
	Peak      float64 // spectral peak wavelength
}

// SimConfig describes the simulated geometry.
type SimConfig struct {
	FrameWidth        int
	FrameHeight       int
	TotalSteps        int
	StepsPerPixel     float64
	ElevationPerPixel float64
	// CollimationOffset is the elevation difference between the centred
	// position and the best fibre coupling.
	CollimationOffset float64
	Lights            []SimLight
}

// DefaultSimConfig returns a rig matching the default controller gains, with
// a handful of lights spread over the middle bands.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		FrameWidth:        640,
		FrameHeight:       480,
		TotalSteps:        24000,
		StepsPerPixel:     5,
		ElevationPerPixel: 0.0005,
		CollimationOffset: -0.0005,
		Lights: []SimLight{
			{Azimuth: 17000, Elevation: 0.62, Radius: 1, Peak: 589},
			{Azimuth: 16400, Elevation: 0.64, Radius: 2, Peak: 656},
			{Azimuth: 9000, Elevation: 0.37, Radius: 1, Peak: 486},
			{Azimuth: 3000, Elevation: 0.13, Radius: 1, Peak: 434},
		},
	}
}

// SimRig is an in-process rig. Responder returns line handlers that can sit
// behind a rigio.TestablePort, so the simulated services are reached through
// the same transport and clients as real ones.
type SimRig struct {
	mu          sync.Mutex
	cfg         SimConfig
	azimuth     float64
	elevation   float64
	integration float64
}

// NewSimRig returns a rig pointing at azimuth 0, elevation 0.5.
func NewSimRig(cfg SimConfig) *SimRig {
	return &SimRig{cfg: cfg, elevation: 0.5}
}

// Dial returns a connection to the named simulated endpoint.
func (s *SimRig) Dial(endpoint string) *rigio.Conn {
	return rigio.NewConn("sim://"+endpoint, rigio.NewTestablePort(s.Responder(endpoint)))
}

// Responder returns the request handler for endpoint.
func (s *SimRig) Responder(endpoint string) func(line string) string {
	return func(line string) string {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return "ERR empty request"
		}
		args := make([]float64, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return "ERR bad argument " + f
			}
			args = append(args, v)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		payload, err := s.handle(endpoint, fields[0], args)
		if err != nil {
			return "ERR " + err.Error()
		}
		if payload == "" {
			return "OK"
		}
		return "OK " + payload
	}
}

func (s *SimRig) handle(endpoint, method string, args []float64) (string, error) {
	switch endpoint {
	case EndpointAzimuth:
		return s.handleAxis(&s.azimuth, true, method, args)
	case EndpointElevation:
		return s.handleAxis(&s.elevation, false, method, args)
	case EndpointLights:
		if method == "get_lights" {
			return s.lightsJSON()
		}
	case EndpointCamera:
		if method == "capture_frame" {
			return s.frame(), nil
		}
	case EndpointCollimation:
		if method == "get_image" {
			return base64.StdEncoding.EncodeToString(s.collimationImage()), nil
		}
	case EndpointSpectrometer:
		return s.handleSpectrometer(method, args)
	default:
		return "", fmt.Errorf("unknown endpoint %s", endpoint)
	}
	return "", fmt.Errorf("unknown method %s", method)
}

func (s *SimRig) handleAxis(pos *float64, wraps bool, method string, args []float64) (string, error) {
	arg := func(i int) float64 {
		if i < len(args) {
			return args[i]
		}
		return 0
	}
	switch method {
	case "position":
		return rigio.FormatFloat(*pos), nil
	case "move_left":
		*pos = s.wrap(*pos-arg(0), wraps)
	case "move_right":
		*pos = s.wrap(*pos+arg(0), wraps)
	case "move_to":
		target, maxStep := arg(0), arg(1)
		if !wraps && (target < 0 || target > 1) {
			return "", fmt.Errorf("target %f out of range", target)
		}
		diff := target - *pos
		if maxStep > 0 && math.Abs(diff) > maxStep {
			*pos = s.wrap(*pos+math.Copysign(maxStep, diff), wraps)
			return "false", nil
		}
		*pos = target
		return "true", nil
	case "total_steps":
		if wraps {
			return strconv.Itoa(s.cfg.TotalSteps), nil
		}
		return "0", nil
	default:
		return "", fmt.Errorf("unknown method %s", method)
	}
	return "", nil
}

func (s *SimRig) wrap(v float64, wraps bool) float64 {
	if !wraps || s.cfg.TotalSteps <= 0 {
		return v
	}
	total := float64(s.cfg.TotalSteps)
	v = math.Mod(v, total)
	if v < 0 {
		v += total
	}
	return v
}

// project returns the pixel position of l at the current pointing.
func (s *SimRig) project(l SimLight) (int, int, bool) {
	dAz := l.Azimuth - s.azimuth
	if total := float64(s.cfg.TotalSteps); total > 0 {
		dAz = math.Mod(dAz, total)
		if dAz > total/2 {
			dAz -= total
		} else if dAz < -total/2 {
			dAz += total
		}
	}
	x := s.cfg.FrameWidth/2 + int(math.Round(dAz/s.cfg.StepsPerPixel))
	y := s.cfg.FrameHeight/2 + int(math.Round((l.Elevation-s.elevation)/s.cfg.ElevationPerPixel))
	r := l.Radius
	visible := x-r >= 0 && x+r < s.cfg.FrameWidth && y-r >= 0 && y+r < s.cfg.FrameHeight
	return x, y, visible
}

func (s *SimRig) lightsJSON() (string, error) {
	out := []remoteLight{}
	for i, l := range s.cfg.Lights {
		x, y, ok := s.project(l)
		if !ok {
			continue
		}
		var r remoteLight
		r.GUID = fmt.Sprintf("sim-%d", i)
		r.Light.X, r.Light.Y, r.Light.Area = x, y, 8*l.Radius
		out = append(out, r)
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func (s *SimRig) frame() string {
	w, h := s.cfg.FrameWidth, s.cfg.FrameHeight
	pix := make([]byte, w*h)
	for _, l := range s.cfg.Lights {
		x, y, ok := s.project(l)
		if !ok {
			continue
		}
		for yy := y - l.Radius; yy <= y+l.Radius; yy++ {
			for xx := x - l.Radius; xx <= x+l.Radius; xx++ {
				pix[yy*w+xx] = 255
			}
		}
	}
	return fmt.Sprintf("%d %d 1 %s", w, h, base64.StdEncoding.EncodeToString(pix))
}

// nearest returns the light closest to the frame centre.
func (s *SimRig) nearest() (SimLight, bool) {
	var best SimLight
	bestDist := math.Inf(1)
	for _, l := range s.cfg.Lights {
		x, y, ok := s.project(l)
		if !ok {
			continue
		}
		d := math.Hypot(float64(x-s.cfg.FrameWidth/2), float64(y-s.cfg.FrameHeight/2))
		if d < bestDist {
			best, bestDist = l, d
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// collimationImage renders the fibre window brighter the closer elevation is
// to the best coupling position of the nearest light.
func (s *SimRig) collimationImage() []byte {
	roi := collimation.DefaultROI()
	img := make([]byte, roi.Width*roi.Height*3)
	l, ok := s.nearest()
	if !ok {
		return img
	}
	d := s.elevation - (l.Elevation + s.cfg.CollimationOffset)
	level := byte(60 * math.Exp(-(d*d)/(0.0003*0.0003)))
	for y := roi.FiberY - roi.DY; y < roi.FiberY+roi.DY; y++ {
		for x := roi.FiberX - roi.DX; x < roi.FiberX+roi.DX; x++ {
			off := (y*roi.Width + x) * 3
			img[off], img[off+1], img[off+2] = level, level, level
		}
	}
	return img
}

func (s *SimRig) handleSpectrometer(method string, args []float64) (string, error) {
	switch method {
	case "set_integration":
		if len(args) != 1 || args[0] <= 0 {
			return "", fmt.Errorf("integration time required")
		}
		s.integration = args[0]
		return "", nil
	case "get_wavelengths":
		var b strings.Builder
		for wl := 350; wl <= 1000; wl += 5 {
			fmt.Fprintf(&b, "%d ", wl)
		}
		return strings.TrimSpace(b.String()), nil
	case "get_spectrum":
		peak := 600.0
		if l, ok := s.nearest(); ok {
			peak = l.Peak
		}
		var b strings.Builder
		for wl := 350; wl <= 1000; wl += 5 {
			d := float64(wl) - peak
			fmt.Fprintf(&b, "%d ", 1000+int(12000*math.Exp(-(d*d)/(2*15*15))))
		}
		return strings.TrimSpace(b.String()), nil
	case "get_current_status":
		if s.integration <= 0 {
			return "Integration not set", nil
		}
		return "Success", nil
	}
	return "", fmt.Errorf("unknown method %s", method)
}
