// Package blob turns a camera frame into light observations.
//
// Detection is a brightness threshold followed by connected-region
// extraction. Each region is reduced to the centroid of its boundary pixels
// and the boundary pixel count, which stands in for the region's area.
package blob

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ErrInvalidFrame is returned when a frame's geometry and buffer disagree.
var ErrInvalidFrame = errors.New("invalid frame")

const (
	// DefaultThreshold is the gray level a pixel must exceed to count as lit.
	DefaultThreshold = 87
	// DefaultMinArea is the smallest boundary point count emitted as a light.
	DefaultMinArea = 2
)

// Observation is one detected light in one frame.
type Observation struct {
	X    int
	Y    int
	Size int // boundary point count
}

// Frame is a raw image buffer. Three channel frames are BGR interleaved,
// single channel frames are gray.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// Validate checks that the frame geometry is usable.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if f.Channels != 1 && f.Channels != 3 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrInvalidFrame, f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return fmt.Errorf("%w: buffer has %d bytes, want %d", ErrInvalidFrame, len(f.Pix), want)
	}
	return nil
}

// Gray returns the gray level of pixel (x, y) using BT.601 luma weights.
func (f Frame) Gray(x, y int) uint8 {
	i := (y*f.Width + x) * f.Channels
	if f.Channels == 1 {
		return f.Pix[i]
	}
	return GrayBGR(f.Pix[i], f.Pix[i+1], f.Pix[i+2])
}

// GrayBGR converts one BGR pixel to gray, rounding to nearest.
func GrayBGR(b, g, r uint8) uint8 {
	v := 0.114*float64(b) + 0.587*float64(g) + 0.299*float64(r)
	return uint8(v + 0.5)
}

// Detector extracts light observations from frames.
type Detector struct {
	Threshold uint8
	MinArea   int
}

// NewDetector returns a detector with the default threshold and minimum area.
func NewDetector() *Detector {
	return &Detector{Threshold: DefaultThreshold, MinArea: DefaultMinArea}
}

type point struct{ x, y int }

// Detect returns one observation per lit region whose boundary has at least
// MinArea points. The result order is unspecified.
func (d *Detector) Detect(f Frame) ([]Observation, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	w, h := f.Width, f.Height
	lit := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			lit[y*w+x] = f.Gray(x, y) > d.Threshold
		}
	}

	visited := make([]bool, w*h)
	var lights []Observation
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if !lit[idx] || visited[idx] {
				continue
			}
			region := floodFill(lit, visited, x, y, w, h)
			if obs, ok := d.observe(region, lit, w, h); ok {
				lights = append(lights, obs)
			}
		}
	}
	return lights, nil
}

// observe reduces a region to its boundary centroid and boundary size.
func (d *Detector) observe(region []point, lit []bool, w, h int) (Observation, bool) {
	xs := make([]float64, 0, len(region))
	ys := make([]float64, 0, len(region))
	for _, p := range region {
		if onBoundary(p, lit, w, h) {
			xs = append(xs, float64(p.x))
			ys = append(ys, float64(p.y))
		}
	}
	if len(xs) < d.MinArea || len(xs) == 0 {
		return Observation{}, false
	}
	return Observation{
		X:    int(stat.Mean(xs, nil)),
		Y:    int(stat.Mean(ys, nil)),
		Size: len(xs),
	}, true
}

// onBoundary reports whether p has a 4-neighbour that is unlit or outside
// the frame.
func onBoundary(p point, lit []bool, w, h int) bool {
	for _, n := range [4]point{{p.x + 1, p.y}, {p.x - 1, p.y}, {p.x, p.y + 1}, {p.x, p.y - 1}} {
		if n.x < 0 || n.x >= w || n.y < 0 || n.y >= h || !lit[n.y*w+n.x] {
			return true
		}
	}
	return false
}

// floodFill collects the 8-connected lit region containing (startX, startY).
func floodFill(lit, visited []bool, startX, startY, w, h int) []point {
	var region []point
	stack := []point{{startX, startY}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.x < 0 || p.x >= w || p.y < 0 || p.y >= h {
			continue
		}
		idx := p.y*w + p.x
		if visited[idx] || !lit[idx] {
			continue
		}
		visited[idx] = true
		region = append(region, p)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 {
					stack = append(stack, point{p.x + dx, p.y + dy})
				}
			}
		}
	}
	return region
}
