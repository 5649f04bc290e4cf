package db

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lightsearch/internal/httputil"
)

// AttachAdminRoutes mounts the journal's debug pages on mux: live SQL, a
// backup download, the run list and charts of a run.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.Path()), db.DB, &tailsql.DBOptions{
		Label: "Scan journal",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
	debug.Handle("runs", "Recent scan runs (JSON)", http.HandlerFunc(db.handleRuns))
	debug.Handle("sweep", "Lights seen per azimuth step of a run (?run=)", http.HandlerFunc(db.handleSweepChart))
	debug.Handle("spectrum", "Spectrum of a centred light (?run=&n=)", http.HandlerFunc(db.handleSpectrumChart))
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "lightsearch-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup directory: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("Failed to remove backup directory: %v", err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		log.Printf("Failed to write backup file: %v", err)
	}
}

func (db *DB) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := db.Runs(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

// runParam returns the ?run= value, defaulting to the latest run.
func (db *DB) runParam(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("run"); id != "" {
		return id, nil
	}
	id, err := db.LatestRunID(r.Context())
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errNoRuns
	}
	return id, nil
}

var (
	errNoRuns     = errors.New("no scan runs recorded")
	errNoSteps    = errors.New("no steps recorded")
	errNoSpectrum = errors.New("no spectrum recorded")
)

func (db *DB) handleSweepChart(w http.ResponseWriter, r *http.Request) {
	runID, err := db.runParam(r)
	if err != nil {
		httputil.WriteError(w, err, errNoRuns)
		return
	}
	points, err := db.SweepPoints(r.Context(), runID)
	if err == nil && len(points) == 0 {
		err = fmt.Errorf("run %s: %w", runID, errNoSteps)
	}
	if err != nil {
		httputil.WriteError(w, err, errNoSteps)
		return
	}

	// One series per band, indexed by step.
	steps := 0
	bands := map[int][]opts.BarData{}
	var order []int
	for _, p := range points {
		if p.Step+1 > steps {
			steps = p.Step + 1
		}
		if _, ok := bands[p.Band]; !ok {
			order = append(order, p.Band)
		}
		bands[p.Band] = append(bands[p.Band], opts.BarData{Value: p.Lights})
	}
	x := make([]string, steps)
	for _, p := range points {
		if x[p.Step] == "" {
			x[p.Step] = strconv.FormatFloat(p.Azimuth, 'f', 0, 64)
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan sweep", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Lights per azimuth step", Subtitle: "run=" + runID}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "azimuth"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "lights"}),
	)
	bar.SetXAxis(x)
	for _, b := range order {
		bar.AddSeries(fmt.Sprintf("band %d", b), bands[b])
	}

	writeChart(w, bar)
}

func (db *DB) handleSpectrumChart(w http.ResponseWriter, r *http.Request) {
	runID, err := db.runParam(r)
	if err != nil {
		httputil.WriteError(w, err, errNoRuns)
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	wavelengths, counts, err := db.Spectrum(r.Context(), runID, n)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(wavelengths) == 0) {
		err = fmt.Errorf("run %s light %d: %w", runID, n, errNoSpectrum)
	}
	if err != nil {
		httputil.WriteError(w, err, errNoSpectrum)
		return
	}

	x := make([]string, len(wavelengths))
	data := make([]opts.LineData, len(counts))
	for i, wl := range wavelengths {
		x[i] = strconv.FormatFloat(wl, 'f', -1, 64)
	}
	for i, c := range counts {
		data[i] = opts.LineData{Value: c}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Spectrum", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Spectrum", Subtitle: fmt.Sprintf("run=%s light=%d", runID, n)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "wavelength (nm)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "counts"}),
	)
	line.SetXAxis(x).AddSeries("counts", data)

	writeChart(w, line)
}

type renderer interface {
	Render(w io.Writer) error
}

func writeChart(w http.ResponseWriter, c renderer) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
