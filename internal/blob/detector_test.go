package blob

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func grayFrame(w, h int) Frame {
	return Frame{Width: w, Height: h, Channels: 1, Pix: make([]byte, w*h)}
}

func fillRect(f Frame, x0, y0, x1, y1 int, v byte) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			f.Pix[y*f.Width+x] = v
		}
	}
}

func sortObservations(obs []Observation) {
	sort.Slice(obs, func(i, j int) bool {
		if obs[i].X != obs[j].X {
			return obs[i].X < obs[j].X
		}
		return obs[i].Y < obs[j].Y
	})
}

func TestDetect_Regions(t *testing.T) {
	tests := []struct {
		name  string
		rects [][4]int
		want  []Observation
	}{
		{
			name:  "empty frame",
			rects: nil,
			want:  nil,
		},
		{
			name:  "single pixel is below min area",
			rects: [][4]int{{10, 10, 10, 10}},
			want:  nil,
		},
		{
			name:  "two pixel segment",
			rects: [][4]int{{10, 10, 11, 10}},
			want:  []Observation{{X: 10, Y: 10, Size: 2}},
		},
		{
			name:  "3x3 square counts its ring",
			rects: [][4]int{{99, 49, 101, 51}},
			want:  []Observation{{X: 100, Y: 50, Size: 8}},
		},
		{
			name:  "5x5 square",
			rects: [][4]int{{200, 100, 204, 104}},
			want:  []Observation{{X: 202, Y: 102, Size: 16}},
		},
		{
			name:  "two separate lights",
			rects: [][4]int{{20, 20, 22, 22}, {300, 200, 302, 202}},
			want:  []Observation{{X: 21, Y: 21, Size: 8}, {X: 301, Y: 201, Size: 8}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := grayFrame(640, 480)
			for _, r := range tt.rects {
				fillRect(f, r[0], r[1], r[2], r[3], 255)
			}
			got, err := NewDetector().Detect(f)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			sortObservations(got)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("observations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetect_DiagonalPixelsJoin(t *testing.T) {
	f := grayFrame(32, 32)
	f.Pix[5*32+5] = 200
	f.Pix[6*32+6] = 200

	got, err := NewDetector().Detect(f)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("diagonal neighbours should form one region, got %v", got)
	}
	if got[0].Size != 2 {
		t.Errorf("Size = %d, want 2", got[0].Size)
	}
}

func TestDetect_ThresholdIsStrict(t *testing.T) {
	f := grayFrame(16, 16)
	fillRect(f, 2, 2, 4, 4, DefaultThreshold)

	got, err := NewDetector().Detect(f)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("pixels at the threshold should not be lit, got %v", got)
	}
}

func TestDetect_BGRFrame(t *testing.T) {
	w, h := 64, 48
	f := Frame{Width: w, Height: h, Channels: 3, Pix: make([]byte, w*h*3)}
	set := func(x, y int, b, g, r byte) {
		i := (y*w + x) * 3
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = b, g, r
	}
	// A white blob and a pure red blob; red converts to gray 76 and stays dark.
	for y := 10; y <= 12; y++ {
		for x := 10; x <= 12; x++ {
			set(x, y, 255, 255, 255)
			set(x+30, y+20, 0, 0, 255)
		}
	}

	got, err := NewDetector().Detect(f)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if diff := cmp.Diff([]Observation{{X: 11, Y: 11, Size: 8}}, got); diff != "" {
		t.Errorf("observations mismatch (-want +got):\n%s", diff)
	}
}

func TestDetect_InvalidFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"zero width", Frame{Width: 0, Height: 10, Channels: 1}},
		{"short buffer", Frame{Width: 10, Height: 10, Channels: 1, Pix: make([]byte, 99)}},
		{"two channels", Frame{Width: 2, Height: 2, Channels: 2, Pix: make([]byte, 8)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector().Detect(tt.frame)
			if !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Detect error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestGrayBGR(t *testing.T) {
	if got := GrayBGR(255, 255, 255); got != 255 {
		t.Errorf("white = %d, want 255", got)
	}
	if got := GrayBGR(0, 0, 255); got != 76 {
		t.Errorf("red = %d, want 76", got)
	}
	if got := GrayBGR(0, 255, 0); got != 150 {
		t.Errorf("green = %d, want 150", got)
	}
}
