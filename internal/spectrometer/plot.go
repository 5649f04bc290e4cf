package spectrometer

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotRange is the fixed intensity axis of spectrum plots.
var PlotRange = struct{ Min, Max float64 }{1000, 16500}

// WritePlot renders s as a line plot to path. The image format follows the
// file extension.
func WritePlot(s Spectrum, title, path string) error {
	if len(s.Wavelengths) == 0 || len(s.Wavelengths) != len(s.Counts) {
		return fmt.Errorf("plot spectrum: %d wavelengths for %d counts", len(s.Wavelengths), len(s.Counts))
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Wavelength"
	p.Y.Label.Text = "Intensity"

	pts := make(plotter.XYs, len(s.Counts))
	for i := range s.Counts {
		pts[i] = plotter.XY{X: s.Wavelengths[i], Y: float64(s.Counts[i])}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("plot spectrum: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{B: 200, A: 255}
	p.Add(line)

	// Add widens the axes to the data; pin them afterwards.
	p.X.Min = s.Wavelengths[0]
	p.X.Max = s.Wavelengths[len(s.Wavelengths)-1]
	p.Y.Min = PlotRange.Min
	p.Y.Max = PlotRange.Max

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save spectrum plot: %w", err)
	}
	return nil
}
