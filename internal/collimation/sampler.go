package collimation

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/lightsearch/internal/blob"
)

// ErrInvalidImage is returned when a collimation image does not match the
// configured geometry.
var ErrInvalidImage = errors.New("invalid collimation image")

// Camera returns raw 8-bit BGR images, row major, without padding.
type Camera interface {
	Image(ctx context.Context) ([]byte, error)
}

// ROI is the image geometry and the window around the fibre entrance.
type ROI struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	FiberX int `json:"fiber_x"`
	FiberY int `json:"fiber_y"`
	DX     int `json:"dx"` // half extents of the window
	DY     int `json:"dy"`
}

// DefaultROI returns the window for the 190x170 collimation camera.
func DefaultROI() ROI {
	return ROI{Width: 190, Height: 170, FiberX: 75, FiberY: 77, DX: 25, DY: 4}
}

// Validate checks that the window lies inside the image.
func (r ROI) Validate() error {
	if r.Width <= 0 || r.Height <= 0 || r.DX <= 0 || r.DY <= 0 {
		return fmt.Errorf("%w: non-positive geometry %+v", ErrInvalidImage, r)
	}
	if r.FiberX-r.DX < 0 || r.FiberX+r.DX > r.Width || r.FiberY-r.DY < 0 || r.FiberY+r.DY > r.Height {
		return fmt.Errorf("%w: window %+v outside the image", ErrInvalidImage, r)
	}
	return nil
}

// ROISampler sums the gray levels of the fibre window.
type ROISampler struct {
	camera Camera
	roi    ROI
}

// NewROISampler returns a sampler reading from camera.
func NewROISampler(camera Camera, roi ROI) *ROISampler {
	return &ROISampler{camera: camera, roi: roi}
}

// Intensity captures one image and returns the window sum.
func (s *ROISampler) Intensity(ctx context.Context) (float64, error) {
	img, err := s.camera.Image(ctx)
	if err != nil {
		return 0, fmt.Errorf("capture collimation image: %w", err)
	}
	return s.roi.Sum(img)
}

// Sum converts the window of a BGR image to gray and sums it. Rows span
// [FiberY-DY, FiberY+DY) and columns [FiberX-DX, FiberX+DX).
func (r ROI) Sum(img []byte) (float64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	if want := r.Width * r.Height * 3; len(img) != want {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidImage, len(img), want)
	}
	row := make([]float64, 2*r.DX)
	var total float64
	for y := r.FiberY - r.DY; y < r.FiberY+r.DY; y++ {
		for i, x := 0, r.FiberX-r.DX; x < r.FiberX+r.DX; i, x = i+1, x+1 {
			off := (y*r.Width + x) * 3
			row[i] = float64(blob.GrayBGR(img[off], img[off+1], img[off+2]))
		}
		total += floats.Sum(row)
	}
	return total, nil
}
