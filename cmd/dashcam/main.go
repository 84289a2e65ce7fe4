// Command dashcam runs the live perception pipeline: capture,
// preprocess, inference, tracking, and visualization, with the monitor
// surfaces and optional run recording.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
	"github.com/banshee-data/dashcam.report/internal/monitor"
	"github.com/banshee-data/dashcam.report/internal/pipeline"
	"github.com/banshee-data/dashcam.report/internal/storage/sqlite"
	"github.com/banshee-data/dashcam.report/internal/tracks"
	"github.com/banshee-data/dashcam.report/internal/version"
	"github.com/banshee-data/dashcam.report/internal/viz"
)

var (
	configPath = flag.String("config", "configs/dashcam.yaml", "Path to the YAML configuration")
	maxRuntime = flag.Duration("max-runtime", 0, "Stop the pipeline after this duration (0 = run until interrupted)")
	devMode    = flag.Bool("dev", false, "Dev mode: force the synthetic detector and disable the display window")
	verbose    = flag.Bool("verbose", false, "Enable the diagnostic log stream")
	trace      = flag.Bool("trace", false, "Enable the per-frame trace log stream (implies -verbose)")
	watch      = flag.Bool("watch", true, "Reload tracking tuning when the config file changes")
	showVer    = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("dashcam %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	var diagW, traceW io.Writer
	if *verbose || *trace {
		diagW = os.Stderr
	}
	if *trace {
		traceW = os.Stderr
	}
	infra.SetLogWriters(infra.LogWriters{Ops: os.Stderr, Diag: diagW, Trace: traceW})

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Configuration failures abort before any stage thread spawns.
		log.Fatalf("configuration error: %v", err)
	}
	if *devMode {
		cfg.Inference.Backend = "synthetic"
		cfg.Visualization.Enabled = false
	}

	opts := pipeline.Options{}

	// Run recording.
	var store *sqlite.Store
	if cfg.Storage.Enabled {
		store, err = sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			log.Fatalf("open track store: %v", err)
		}
		snapshot, _ := yaml.Marshal(cfg)
		runID, err := store.BeginRun(string(snapshot))
		if err != nil {
			log.Fatalf("begin run: %v", err)
		}
		infra.Opsf("recording run %s to %s", runID, cfg.Storage.DBPath)
		opts.Sink = store
	}

	p, err := pipeline.New(cfg, opts)
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}

	// Observers.
	sampler := monitor.NewSampler(p.Metrics(), p.QueueViews(),
		time.Duration(cfg.Monitor.SampleIntervalMS)*time.Millisecond, csvPath(cfg))
	if err := sampler.Start(p.Token()); err != nil {
		log.Fatalf("start sampler: %v", err)
	}

	var dashboard *monitor.Dashboard
	if cfg.Monitor.AnsiDashboard {
		dashboard = monitor.NewDashboard(p.Metrics(), p.QueueViews(), os.Stdout)
		if err := dashboard.Start(p.Token()); err != nil {
			log.Fatalf("start dashboard: %v", err)
		}
	}

	hub := monitor.NewHub()
	webCtx, webCancel := context.WithCancel(context.Background())
	defer webCancel()
	if cfg.Monitor.Listen != "" {
		var runs monitor.RunLister
		if store != nil {
			runs = store
		}
		server := monitor.NewWebServer(monitor.WebServerConfig{
			Address: cfg.Monitor.Listen,
			Sampler: sampler,
			Hub:     hub,
			Runs:    runs,
		})
		if err := server.Start(webCtx); err != nil {
			log.Fatalf("start monitor webserver: %v", err)
		}
	}

	// Live tuning.
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(tc config.TrackingConfig) {
			p.Tracker().SetConfig(tracks.ConfigFromApp(tc))
		})
		if err != nil {
			infra.Opsf("config watcher unavailable: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	if err := p.Start(); err != nil {
		log.Fatalf("start pipeline: %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	sink := viz.NewSink(cfg.Visualization, hub)
	start := time.Now()

	// Visualization/main event loop: consume render frames and watch for
	// the three stop triggers.
	for !p.StopRequested() {
		select {
		case <-interrupt:
			infra.Opsf("interrupt received, shutting down")
			p.RequestStop()
		default:
		}

		if *maxRuntime > 0 && time.Since(start) >= *maxRuntime {
			infra.Opsf("run limit %v reached, shutting down", *maxRuntime)
			p.RequestStop()
			break
		}

		var rf core.RenderFrame
		if !p.RenderOut().TryPopFor(&rf, 5*time.Millisecond) {
			continue
		}
		if !sink.Consume(&rf) {
			p.RequestStop()
		}
	}

	// Producers first, then consumers; observers last.
	p.Stop()
	sampler.Stop()
	if dashboard != nil {
		dashboard.Stop()
	}
	webCancel()
	hub.Close()
	sink.Close()

	if store != nil {
		if err := store.Close(); err != nil {
			infra.Opsf("close track store: %v", err)
		}
	}

	infra.Opsf("clean shutdown after %v", time.Since(start).Round(time.Millisecond))
}

func csvPath(cfg *config.Config) string {
	if cfg.Monitor.MetricsCSV.Enabled {
		return cfg.Monitor.MetricsCSV.OutputPath
	}
	return ""
}
