package tracking

import (
	"context"
	"fmt"

	"github.com/banshee-data/lightsearch/internal/blob"
)

// FrameSource captures camera frames.
type FrameSource interface {
	Frame(ctx context.Context) (blob.Frame, error)
}

// LocalFeed produces identified lights by running detection and tracking
// in-process on frames from a camera.
type LocalFeed struct {
	source   FrameSource
	detector *blob.Detector
	tracker  *Tracker
}

// NewLocalFeed wires a frame source to a detector and tracker.
func NewLocalFeed(source FrameSource, detector *blob.Detector, tracker *Tracker) *LocalFeed {
	return &LocalFeed{source: source, detector: detector, tracker: tracker}
}

// Lights captures one frame, detects lights in it and identifies them.
func (f *LocalFeed) Lights(ctx context.Context) ([]Light, error) {
	frame, err := f.source.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}
	observations, err := f.detector.Detect(frame)
	if err != nil {
		return nil, err
	}
	return f.tracker.Track(observations), nil
}

// Reset clears the tracker state.
func (f *LocalFeed) Reset() {
	f.tracker.Reset()
}
