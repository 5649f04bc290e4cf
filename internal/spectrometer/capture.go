// Package spectrometer captures spectra from a remote spectrometer and
// renders them as plots.
package spectrometer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StatusSuccess is the status the device reports after a good capture.
const StatusSuccess = "Success"

// ErrCaptureFailed is returned when the device reports a status other than
// StatusSuccess or returns data that cannot be paired up.
var ErrCaptureFailed = errors.New("spectrum capture failed")

// Device is the remote spectrometer. Wavelengths and Spectrum return
// whitespace-separated values.
type Device interface {
	SetIntegration(ctx context.Context, micros float64) error
	Wavelengths(ctx context.Context) (string, error)
	Spectrum(ctx context.Context) (string, error)
	Status(ctx context.Context) (string, error)
}

// IntegrationMicros converts an integration time in seconds to the
// microseconds the device expects.
func IntegrationMicros(seconds float64) float64 {
	return seconds * 1e6
}

// Spectrum is one capture.
type Spectrum struct {
	Wavelengths []float64
	Counts      []int
	Status      string
	CapturedAt  time.Time
}

// Capture reads wavelengths, counts and status from dev.
func Capture(ctx context.Context, dev Device, now time.Time) (Spectrum, error) {
	rawWl, err := dev.Wavelengths(ctx)
	if err != nil {
		return Spectrum{}, fmt.Errorf("read wavelengths: %w", err)
	}
	rawCounts, err := dev.Spectrum(ctx)
	if err != nil {
		return Spectrum{}, fmt.Errorf("read spectrum: %w", err)
	}
	status, err := dev.Status(ctx)
	if err != nil {
		return Spectrum{}, fmt.Errorf("read status: %w", err)
	}
	s := Spectrum{Status: status, CapturedAt: now}
	if status != StatusSuccess {
		return s, fmt.Errorf("%w: status %q", ErrCaptureFailed, status)
	}

	if s.Wavelengths, err = parseFloats(rawWl); err != nil {
		return s, fmt.Errorf("%w: wavelengths: %v", ErrCaptureFailed, err)
	}
	if s.Counts, err = parseInts(rawCounts); err != nil {
		return s, fmt.Errorf("%w: spectrum: %v", ErrCaptureFailed, err)
	}
	if len(s.Wavelengths) == 0 || len(s.Wavelengths) != len(s.Counts) {
		return s, fmt.Errorf("%w: %d wavelengths for %d counts", ErrCaptureFailed, len(s.Wavelengths), len(s.Counts))
	}
	return s, nil
}

func parseFloats(raw string) ([]float64, error) {
	fields := strings.Fields(raw)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(raw string) ([]int, error) {
	fields := strings.Fields(raw)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
