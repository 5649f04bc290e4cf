// Package services adapts the rig's remote services to the interfaces the
// search, collimation and measurement code consume, and provides an
// in-process simulated rig.
package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/lightsearch/internal/blob"
	"github.com/banshee-data/lightsearch/internal/rigio"
	"github.com/banshee-data/lightsearch/internal/tracking"
)

// Caller issues one request to a service. *rigio.Conn implements it.
type Caller interface {
	Call(ctx context.Context, method string, args ...string) (string, error)
}

// Axis is a remote actuator.
type Axis struct {
	c Caller
}

// NewAxis returns an actuator client.
func NewAxis(c Caller) *Axis {
	return &Axis{c: c}
}

func (a *Axis) Position(ctx context.Context) (float64, error) {
	payload, err := a.c.Call(ctx, "position")
	if err != nil {
		return 0, err
	}
	return parseFloat("position", payload)
}

func (a *Axis) MoveLeft(ctx context.Context, amount float64) error {
	_, err := a.c.Call(ctx, "move_left", rigio.FormatFloat(amount))
	return err
}

func (a *Axis) MoveRight(ctx context.Context, amount float64) error {
	_, err := a.c.Call(ctx, "move_right", rigio.FormatFloat(amount))
	return err
}

func (a *Axis) MoveTo(ctx context.Context, target, maxStep float64) (bool, error) {
	payload, err := a.c.Call(ctx, "move_to", rigio.FormatFloat(target), rigio.FormatFloat(maxStep))
	if err != nil {
		return false, err
	}
	reached, err := strconv.ParseBool(strings.TrimSpace(payload))
	if err != nil {
		return false, fmt.Errorf("move_to: unexpected payload %q", payload)
	}
	return reached, nil
}

func (a *Axis) TotalSteps(ctx context.Context) (int, error) {
	payload, err := a.c.Call(ctx, "total_steps")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return 0, fmt.Errorf("total_steps: unexpected payload %q", payload)
	}
	return n, nil
}

func parseFloat(method, payload string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: unexpected payload %q", method, payload)
	}
	return v, nil
}

// remoteLight is one entry of the light service's get_lights response.
type remoteLight struct {
	GUID  string `json:"guid"`
	Light struct {
		X    int `json:"x"`
		Y    int `json:"y"`
		Area int `json:"area"`
	} `json:"light"`
}

// LightFeed reads already-identified lights from the light service. Service
// identifiers are mapped to local IDs, which are never reused.
type LightFeed struct {
	c      Caller
	ids    map[string]tracking.ID
	nextID tracking.ID
}

// NewLightFeed returns a feed reading from the light service.
func NewLightFeed(c Caller) *LightFeed {
	return &LightFeed{c: c, ids: make(map[string]tracking.ID)}
}

// Lights returns the service's current lights in service order.
func (f *LightFeed) Lights(ctx context.Context) ([]tracking.Light, error) {
	payload, err := f.c.Call(ctx, "get_lights")
	if err != nil {
		return nil, err
	}
	var raw []remoteLight
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("decode lights: %w", err)
	}

	seen := make(map[string]tracking.ID, len(raw))
	out := make([]tracking.Light, 0, len(raw))
	for _, r := range raw {
		id, ok := f.ids[r.GUID]
		if !ok {
			f.nextID++
			id = f.nextID
		}
		seen[r.GUID] = id
		out = append(out, tracking.Light{
			ID:          id,
			Observation: blob.Observation{X: r.Light.X, Y: r.Light.Y, Size: r.Light.Area},
		})
	}
	f.ids = seen
	return out, nil
}

// Reset forgets the identifier mapping.
func (f *LightFeed) Reset() {
	f.ids = make(map[string]tracking.ID)
}

// CollimationCamera fetches base64 encoded BGR images.
type CollimationCamera struct {
	c Caller
}

// NewCollimationCamera returns a camera client.
func NewCollimationCamera(c Caller) *CollimationCamera {
	return &CollimationCamera{c: c}
}

func (cc *CollimationCamera) Image(ctx context.Context) ([]byte, error) {
	payload, err := cc.c.Call(ctx, "get_image")
	if err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("decode collimation image: %w", err)
	}
	return img, nil
}

// Camera fetches frames for in-process detection. The payload is
// "width height channels base64".
type Camera struct {
	c Caller
}

// NewCamera returns a frame source client.
func NewCamera(c Caller) *Camera {
	return &Camera{c: c}
}

func (cam *Camera) Frame(ctx context.Context) (blob.Frame, error) {
	payload, err := cam.c.Call(ctx, "capture_frame")
	if err != nil {
		return blob.Frame{}, err
	}
	fields := strings.Fields(payload)
	if len(fields) != 4 {
		return blob.Frame{}, fmt.Errorf("%w: frame header has %d fields", blob.ErrInvalidFrame, len(fields))
	}
	var dims [3]int
	for i := range dims {
		if dims[i], err = strconv.Atoi(fields[i]); err != nil {
			return blob.Frame{}, fmt.Errorf("%w: %v", blob.ErrInvalidFrame, err)
		}
	}
	pix, err := base64.StdEncoding.DecodeString(fields[3])
	if err != nil {
		return blob.Frame{}, fmt.Errorf("%w: %v", blob.ErrInvalidFrame, err)
	}
	return blob.Frame{Width: dims[0], Height: dims[1], Channels: dims[2], Pix: pix}, nil
}

// Spectrometer is the spectrometer service client.
type Spectrometer struct {
	c Caller
}

// NewSpectrometer returns a spectrometer client.
func NewSpectrometer(c Caller) *Spectrometer {
	return &Spectrometer{c: c}
}

func (s *Spectrometer) SetIntegration(ctx context.Context, micros float64) error {
	_, err := s.c.Call(ctx, "set_integration", rigio.FormatFloat(micros))
	return err
}

func (s *Spectrometer) Wavelengths(ctx context.Context) (string, error) {
	return s.c.Call(ctx, "get_wavelengths")
}

func (s *Spectrometer) Spectrum(ctx context.Context) (string, error) {
	return s.c.Call(ctx, "get_spectrum")
}

func (s *Spectrometer) Status(ctx context.Context) (string, error) {
	return s.c.Call(ctx, "get_current_status")
}
