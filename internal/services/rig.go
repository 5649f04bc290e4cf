package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/lightsearch/internal/rigio"
)

// Endpoints locates each service. Empty optional endpoints leave the
// matching client nil.
type Endpoints struct {
	Azimuth      string `json:"azimuth"`
	Elevation    string `json:"elevation"`
	Lights       string `json:"lights,omitempty"`
	Camera       string `json:"camera,omitempty"`
	Collimation  string `json:"collimation,omitempty"`
	Spectrometer string `json:"spectrometer,omitempty"`
}

// Rig bundles the service clients for one deployment.
type Rig struct {
	Azimuth      *Axis
	Elevation    *Axis
	Lights       *LightFeed
	Camera       *Camera
	Collimation  *CollimationCamera
	Spectrometer *Spectrometer

	conns []*rigio.Conn
}

// Connect dials every configured endpoint. On failure the connections made
// so far are closed.
func Connect(ctx context.Context, eps Endpoints, opts rigio.PortOptions) (*Rig, error) {
	if eps.Azimuth == "" || eps.Elevation == "" {
		return nil, errors.New("azimuth and elevation endpoints are required")
	}
	r := &Rig{}
	dial := func(endpoint string) (Caller, error) {
		c, err := rigio.Dial(ctx, endpoint, opts)
		if err != nil {
			return nil, err
		}
		r.conns = append(r.conns, c)
		return c, nil
	}

	steps := []struct {
		endpoint string
		bind     func(Caller)
	}{
		{eps.Azimuth, func(c Caller) { r.Azimuth = NewAxis(c) }},
		{eps.Elevation, func(c Caller) { r.Elevation = NewAxis(c) }},
		{eps.Lights, func(c Caller) { r.Lights = NewLightFeed(c) }},
		{eps.Camera, func(c Caller) { r.Camera = NewCamera(c) }},
		{eps.Collimation, func(c Caller) { r.Collimation = NewCollimationCamera(c) }},
		{eps.Spectrometer, func(c Caller) { r.Spectrometer = NewSpectrometer(c) }},
	}
	for _, s := range steps {
		if s.endpoint == "" {
			continue
		}
		c, err := dial(s.endpoint)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("connect rig: %w", err)
		}
		s.bind(c)
	}
	return r, nil
}

// Connect returns clients for every simulated endpoint.
func (s *SimRig) Connect() *Rig {
	r := &Rig{}
	dial := func(name string) Caller {
		c := s.Dial(name)
		r.conns = append(r.conns, c)
		return c
	}
	r.Azimuth = NewAxis(dial(EndpointAzimuth))
	r.Elevation = NewAxis(dial(EndpointElevation))
	r.Lights = NewLightFeed(dial(EndpointLights))
	r.Camera = NewCamera(dial(EndpointCamera))
	r.Collimation = NewCollimationCamera(dial(EndpointCollimation))
	r.Spectrometer = NewSpectrometer(dial(EndpointSpectrometer))
	return r
}

// Conns returns the underlying connections.
func (r *Rig) Conns() []*rigio.Conn {
	return r.conns
}

// Close closes every connection.
func (r *Rig) Close() error {
	var errs []error
	for _, c := range r.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
