package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lightsearch/internal/measure"
	"github.com/banshee-data/lightsearch/internal/scan"
)

// RunInfo describes how a run was configured.
type RunInfo struct {
	Deployment string
	Selector   string
	Config     any // stored as JSON
}

// Run is an open scan run. It implements scan.Journal and measure.Recorder.
type Run struct {
	db *DB
	ID string
}

// StartRun inserts a new run in the running state.
func (db *DB) StartRun(ctx context.Context, info RunInfo, at time.Time) (*Run, error) {
	var configJSON sql.NullString
	if info.Config != nil {
		b, err := json.Marshal(info.Config)
		if err != nil {
			return nil, fmt.Errorf("marshal run config: %w", err)
		}
		configJSON = sql.NullString{String: string(b), Valid: true}
	}

	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO scan_runs (run_id, deployment, selector, config_json, started_unix_nanos, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, info.Deployment, info.Selector, configJSON, at.UnixNano(), string(scan.StatusRunning),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{db: db, ID: id}, nil
}

// RecordStep stores one scan step.
func (r *Run) RecordStep(ctx context.Context, s scan.StepReport) error {
	var stepErr sql.NullString
	if s.Error != "" {
		stepErr = sql.NullString{String: s.Error, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scan_steps (
			run_id, pass, band, step, azimuth, elevation, skipped,
			lights_seen, frames, centered, lost, unreachable,
			started_unix_nanos, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, s.Pass, s.Band, s.Step, s.Position.Azimuth, s.Position.Elevation, s.Skipped,
		s.Result.LightsSeen, s.Result.Frames, len(s.Result.Centered), s.Result.Lost, s.Result.Unreachable,
		s.StartedAt.UnixNano(), s.Duration.Milliseconds(), stepErr,
	)
	if err != nil {
		return fmt.Errorf("insert step %d of band %d: %w", s.Step, s.Band, err)
	}
	return nil
}

// RecordMeasurement stores a centred light and, when one was attempted, its
// spectrum capture.
func (r *Run) RecordMeasurement(ctx context.Context, m measure.Measurement) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var finalElevation sql.NullFloat64
	if m.Collimated {
		finalElevation = sql.NullFloat64{Float64: m.Collimation.Elevation, Valid: true}
	}
	c := m.Light
	res, err := tx.ExecContext(ctx,
		`INSERT INTO centered_lights (
			run_id, light_id, x, y, size, azimuth, elevation, frames,
			collimated, collimation_ok, collimation_trials, intensity, final_elevation,
			measured_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, int64(c.ID), c.Observation.X, c.Observation.Y, c.Observation.Size,
		c.Position.Azimuth, c.Position.Elevation, c.Frames,
		m.Collimated, m.Collimation.OK, m.Collimation.Trials, m.Collimation.Intensity, finalElevation,
		m.MeasuredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert centered light %d: %w", c.ID, err)
	}

	if m.Spectrum != nil || m.CaptureError != "" {
		centeredID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := insertSpectrum(ctx, tx, centeredID, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertSpectrum(ctx context.Context, tx *sql.Tx, centeredID int64, m measure.Measurement) error {
	var (
		status               string
		wavelengths, counts  sql.NullString
		captureErr, plotPath sql.NullString
		capturedAt           sql.NullInt64
	)
	if m.Spectrum != nil {
		status = m.Spectrum.Status
		w, err := json.Marshal(m.Spectrum.Wavelengths)
		if err != nil {
			return err
		}
		c, err := json.Marshal(m.Spectrum.Counts)
		if err != nil {
			return err
		}
		wavelengths = sql.NullString{String: string(w), Valid: true}
		counts = sql.NullString{String: string(c), Valid: true}
		capturedAt = sql.NullInt64{Int64: m.Spectrum.CapturedAt.UnixNano(), Valid: true}
	}
	if m.CaptureError != "" {
		captureErr = sql.NullString{String: m.CaptureError, Valid: true}
		if status == "" {
			status = "failed"
		}
	}
	if m.PlotPath != "" {
		plotPath = sql.NullString{String: m.PlotPath, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO spectra (
			centered_id, status, wavelengths_json, counts_json, capture_error, plot_path, captured_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		centeredID, status, wavelengths, counts, captureErr, plotPath, capturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert spectrum: %w", err)
	}
	return nil
}

// Finish closes the run with its final summary. A non-nil runErr marks the
// run as failed.
func (r *Run) Finish(ctx context.Context, sum scan.Summary, runErr error, at time.Time) error {
	status := string(scan.StatusComplete)
	var errText sql.NullString
	if runErr != nil {
		status = string(scan.StatusError)
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE scan_runs SET
			finished_unix_nanos = ?, status = ?, error = ?,
			passes = ?, steps = ?, skipped = ?, centered = ?, lost = ?, unreachable = ?, failed = ?
		 WHERE run_id = ?`,
		at.UnixNano(), status, errText,
		sum.Passes, sum.Steps, sum.Skipped, sum.Centered, sum.Lost, sum.Unreachable, sum.Failed,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	return nil
}

// RunRecord is a stored run.
type RunRecord struct {
	ID         string       `json:"id"`
	Deployment string       `json:"deployment"`
	Selector   string       `json:"selector"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Summary    scan.Summary `json:"summary"`
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, deployment, selector, status, error, started_unix_nanos, finished_unix_nanos,
			passes, steps, skipped, centered, lost, unreachable, failed
		 FROM scan_runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec      RunRecord
			errText  sql.NullString
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Deployment, &rec.Selector, &rec.Status, &errText, &started, &finished,
			&rec.Summary.Passes, &rec.Summary.Steps, &rec.Summary.Skipped,
			&rec.Summary.Centered, &rec.Summary.Lost, &rec.Summary.Unreachable, &rec.Summary.Failed,
		); err != nil {
			return nil, err
		}
		rec.Error = errText.String
		rec.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			rec.FinishedAt = &t
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// LatestRunID returns the most recently started run, or "" when there is none.
func (db *DB) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := db.QueryRowContext(ctx,
		`SELECT run_id FROM scan_runs ORDER BY started_unix_nanos DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// SweepPoint is the most lights seen at one grid position over all passes.
type SweepPoint struct {
	Band    int     `json:"band"`
	Step    int     `json:"step"`
	Azimuth float64 `json:"azimuth"`
	Lights  int     `json:"lights"`
	Skipped bool    `json:"skipped"` // skipped on every pass
	Failed  bool    `json:"failed"`  // aborted on at least one pass
}

// SweepPoints returns the scan grid of a run ordered by band and step.
func (db *DB) SweepPoints(ctx context.Context, runID string) ([]SweepPoint, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT band, step, MIN(azimuth), MAX(lights_seen), MIN(skipped), COUNT(error)
		 FROM scan_steps WHERE run_id = ?
		 GROUP BY band, step ORDER BY band, step`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []SweepPoint
	for rows.Next() {
		var p SweepPoint
		var skipped, failed int64
		if err := rows.Scan(&p.Band, &p.Step, &p.Azimuth, &p.Lights, &skipped, &failed); err != nil {
			return nil, err
		}
		p.Skipped = skipped != 0
		p.Failed = failed > 0
		points = append(points, p)
	}
	return points, rows.Err()
}

// CenteredLight is a stored measurement.
type CenteredLight struct {
	LightID        uint64    `json:"light_id"`
	X              int       `json:"x"`
	Y              int       `json:"y"`
	Size           int       `json:"size"`
	Azimuth        float64   `json:"azimuth"`
	Elevation      float64   `json:"elevation"`
	Frames         int       `json:"frames"`
	Collimated     bool      `json:"collimated"`
	CollimationOK  bool      `json:"collimation_ok"`
	Trials         int       `json:"collimation_trials"`
	Intensity      float64   `json:"intensity"`
	SpectrumStatus string    `json:"spectrum_status,omitempty"`
	CaptureError   string    `json:"capture_error,omitempty"`
	PlotPath       string    `json:"plot_path,omitempty"`
	MeasuredAt     time.Time `json:"measured_at"`
}

// CenteredLights returns the measurements of a run in the order they were
// taken.
func (db *DB) CenteredLights(ctx context.Context, runID string) ([]CenteredLight, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT c.light_id, c.x, c.y, c.size, c.azimuth, c.elevation, c.frames,
			c.collimated, c.collimation_ok, c.collimation_trials, c.intensity, c.measured_unix_nanos,
			s.status, s.capture_error, s.plot_path
		 FROM centered_lights c LEFT JOIN spectra s ON s.centered_id = c.centered_id
		 WHERE c.run_id = ? ORDER BY c.centered_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CenteredLight
	for rows.Next() {
		var (
			c                        CenteredLight
			lightID, measured        int64
			status, captureErr, plot sql.NullString
		)
		if err := rows.Scan(
			&lightID, &c.X, &c.Y, &c.Size, &c.Azimuth, &c.Elevation, &c.Frames,
			&c.Collimated, &c.CollimationOK, &c.Trials, &c.Intensity, &measured,
			&status, &captureErr, &plot,
		); err != nil {
			return nil, err
		}
		c.LightID = uint64(lightID)
		c.MeasuredAt = time.Unix(0, measured).UTC()
		c.SpectrumStatus = status.String
		c.CaptureError = captureErr.String
		c.PlotPath = plot.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// Spectrum returns the stored wavelengths and counts of the n-th measurement
// of a run, counting from zero.
func (db *DB) Spectrum(ctx context.Context, runID string, n int) (wavelengths, counts []float64, err error) {
	var w, c sql.NullString
	err = db.QueryRowContext(ctx,
		`SELECT s.wavelengths_json, s.counts_json
		 FROM centered_lights c JOIN spectra s ON s.centered_id = c.centered_id
		 WHERE c.run_id = ? ORDER BY c.centered_id LIMIT 1 OFFSET ?`, runID, n).Scan(&w, &c)
	if err != nil {
		return nil, nil, err
	}
	if w.Valid {
		if err := json.Unmarshal([]byte(w.String), &wavelengths); err != nil {
			return nil, nil, fmt.Errorf("decode wavelengths: %w", err)
		}
	}
	if c.Valid {
		if err := json.Unmarshal([]byte(c.String), &counts); err != nil {
			return nil, nil, fmt.Errorf("decode counts: %w", err)
		}
	}
	return wavelengths, counts, nil
}
