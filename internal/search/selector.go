package search

import (
	"fmt"

	"github.com/banshee-data/lightsearch/internal/tracking"
)

// Selector picks the next light to pursue from the untracked candidates of
// the current frame.
type Selector interface {
	Select(candidates []tracking.Light) (tracking.Light, bool)
}

// CenterBand selects the first candidate near the vertical centre line and
// inside the middle half of the frame.
type CenterBand struct {
	FrameWidth  int
	FrameHeight int
	HalfWidth   int // horizontal half-width of the band in pixels
}

// Select returns the first in-range candidate in feed order.
func (s CenterBand) Select(candidates []tracking.Light) (tracking.Light, bool) {
	for _, l := range candidates {
		if s.inRange(l) {
			return l, true
		}
	}
	return tracking.Light{}, false
}

func (s CenterBand) inRange(l tracking.Light) bool {
	cx := s.FrameWidth / 2
	return l.X > cx-s.HalfWidth && l.X < cx+s.HalfWidth &&
		l.Y > s.FrameHeight/4 && l.Y < 3*(s.FrameHeight/4)
}

// RightmostLeftHalf selects the right-most candidate in the left half of the
// frame whose size reaches MinSize. The sweep moves left, so this is the
// light closest to leaving the frame.
type RightmostLeftHalf struct {
	FrameWidth int
	MinSize    int
}

// Select returns the eligible candidate with the largest x.
func (s RightmostLeftHalf) Select(candidates []tracking.Light) (tracking.Light, bool) {
	var best tracking.Light
	found := false
	for _, l := range candidates {
		if l.X > s.FrameWidth/2 || l.Size < s.MinSize {
			continue
		}
		if !found || l.X > best.X {
			best, found = l, true
		}
	}
	return best, found
}

const (
	SelectorCenterBand        = "center_band"
	SelectorRightmostLeftHalf = "rightmost_left_half"
)

// NewSelector builds a selector by name for a frame of the given size.
func NewSelector(name string, frameWidth, frameHeight int) (Selector, error) {
	switch name {
	case SelectorCenterBand, "":
		return CenterBand{FrameWidth: frameWidth, FrameHeight: frameHeight, HalfWidth: 10}, nil
	case SelectorRightmostLeftHalf:
		return RightmostLeftHalf{FrameWidth: frameWidth, MinSize: 7}, nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", name)
	}
}
