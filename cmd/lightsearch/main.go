// Command lightsearch scans the sky with a two axis rig, centres on every
// light it finds and measures its spectrum.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/lightsearch/internal/config"
	"github.com/banshee-data/lightsearch/internal/db"
	"github.com/banshee-data/lightsearch/internal/monitoring"
	"github.com/banshee-data/lightsearch/internal/services"
	"github.com/banshee-data/lightsearch/internal/timeutil"
	"github.com/banshee-data/lightsearch/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Path to the rig configuration (JSON)")
	dbPath     = flag.String("db", "lightsearch.db", "Path to the scan journal database")
	listen     = flag.String("listen", ":8080", "Listen address for the debug pages (empty disables)")
	devMode    = flag.Bool("dev", false, "Run against an in-process simulated rig")
	passes     = flag.Int("passes", -1, "Full scans to run; 0 scans until interrupted, -1 uses the config")
	verbose    = flag.Bool("verbose", false, "Log every controller correction")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := config.LoadRigConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rig, err := connectRig(ctx, cfg, *devMode)
	if err != nil {
		log.Fatalf("failed to connect to the rig: %v", err)
	}
	defer rig.Close()

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	a, err := newApp(ctx, cfg, rig, store, timeutil.RealClock{}, *passes)
	if err != nil {
		log.Fatalf("failed to set up scan: %v", err)
	}

	var wg sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if *listen != "" {
		mux := http.NewServeMux()
		a.attachRoutes(mux, store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(serverCtx, *listen, mux)
		}()
	}

	log.Printf("%s: starting %s scan, run %s", version.String(), cfg.GetDeployment(), a.run.ID)
	sum, err := a.Run(ctx)
	stopServer()
	wg.Wait()
	if err != nil {
		log.Fatalf("scan failed: %v", err)
	}
	log.Printf("scan complete: %d passes, %d steps (%d skipped, %d failed), %d lights centred, %d lost, %d unreachable",
		sum.Passes, sum.Steps, sum.Skipped, sum.Failed, sum.Centered, sum.Lost, sum.Unreachable)
}

// connectRig dials the configured services, or starts the simulated rig in
// dev mode.
func connectRig(ctx context.Context, cfg *config.RigConfig, dev bool) (*services.Rig, error) {
	if dev {
		log.Print("dev mode: using the simulated rig")
		sim := services.DefaultSimConfig()
		ctl := cfg.ControlConfig()
		sim.FrameWidth, sim.FrameHeight = ctl.FrameWidth, ctl.FrameHeight
		return services.NewSimRig(sim).Connect(), nil
	}
	if cfg.Endpoints == nil {
		return nil, config.ErrNoEndpoints
	}
	if err := cfg.CheckEndpoints(); err != nil {
		return nil, err
	}
	return services.Connect(ctx, cfg.GetEndpoints(), cfg.GetSerial())
}

func serve(ctx context.Context, addr string, handler http.Handler) {
	server := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
