// Command replay runs the perception pipeline over a recorded video
// file instead of a live camera: same stages, same channels, but the
// capture source is the file and the detector defaults to the synthetic
// backend so replays are reproducible without a model.
package main

import (
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
	"github.com/banshee-data/dashcam.report/internal/pipeline"
	"github.com/banshee-data/dashcam.report/internal/viz"
)

var (
	configPath = flag.String("config", "configs/dashcam.yaml", "Path to the YAML configuration")
	inputPath  = flag.String("input", "", "Video file to replay (required)")
	useModel   = flag.Bool("use-model", false, "Run the configured detector backend instead of the synthetic one")
	verbose    = flag.Bool("verbose", false, "Enable the diagnostic log stream")
)

func main() {
	flag.Parse()

	if *inputPath == "" {
		log.Fatal("replay requires -input")
	}

	var diagW io.Writer
	if *verbose {
		diagW = os.Stderr
	}
	infra.SetLogWriters(infra.LogWriters{Ops: os.Stderr, Diag: diagW})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	cfg.Camera.Source = "file"
	cfg.Camera.FilePath = *inputPath
	if !*useModel {
		cfg.Inference.Backend = "synthetic"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	p, err := pipeline.New(cfg, pipeline.Options{})
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}
	if err := p.Start(); err != nil {
		log.Fatalf("start pipeline: %v", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	sink := viz.NewSink(cfg.Visualization, nil)
	start := time.Now()
	frames := 0

	// A file source reports read failure at EOF; the camera stage keeps
	// retrying, so the replay ends when frames stop arriving.
	idleSince := time.Now()
	for !p.StopRequested() {
		select {
		case <-interrupt:
			infra.Opsf("interrupt received, stopping replay")
			p.RequestStop()
		default:
		}

		var rf core.RenderFrame
		if !p.RenderOut().TryPopFor(&rf, 5*time.Millisecond) {
			if frames > 0 && time.Since(idleSince) > 2*time.Second {
				infra.Opsf("input drained after %d frames", frames)
				p.RequestStop()
			}
			continue
		}
		idleSince = time.Now()
		frames++
		if !sink.Consume(&rf) {
			p.RequestStop()
		}
	}

	p.Stop()
	sink.Close()
	infra.Opsf("replay finished: %d frames in %v", frames, time.Since(start).Round(time.Millisecond))
}
