// Package pipeline is the composition root: it builds the channels and
// stages of the perception graph, starts consumers before producers,
// and stops producers before consumers so queues drain naturally on the
// way down.
//
// Topology (fast stream left to right, slow stream through the
// registers):
//
//	camera ──q──► preprocess ──q──► tracking ──q──► visualization (main thread)
//	                  │                 ▲
//	                  ▼                 │
//	               L_pre ─► inference ─► L_det
package pipeline

import (
	"fmt"

	"github.com/banshee-data/dashcam.report/internal/camera"
	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/detect"
	"github.com/banshee-data/dashcam.report/internal/infra"
	"github.com/banshee-data/dashcam.report/internal/monitor"
	"github.com/banshee-data/dashcam.report/internal/preprocess"
	"github.com/banshee-data/dashcam.report/internal/tracks"
)

// Options allows callers (tests, replay) to substitute collaborators.
type Options struct {
	// Source overrides the capture source; nil opens the configured one.
	Source camera.Source
	// Detector overrides the detector backend; nil builds the configured
	// one when inference is enabled.
	Detector detect.Detector
	// Sink receives world states for persistence; may be nil.
	Sink tracks.PersistenceSink
}

// Pipeline owns the shared channels and the four worker stages. The
// fifth stage, visualization, runs on the caller's (main) thread
// consuming RenderOut.
type Pipeline struct {
	cfg     *config.Config
	metrics *infra.Metrics
	signal  *infra.StopSignal

	camToPre  *infra.BoundedQueue[core.Frame]
	preToTrk  *infra.BoundedQueue[core.Frame]
	trkToViz  *infra.BoundedQueue[core.RenderFrame]
	preLatest *infra.LatestStore[core.PreprocessedFrame]
	detLatest *infra.LatestStore[core.Detections]

	cameraStage     *camera.Stage
	preprocessStage *preprocess.Stage
	inferenceStage  *detect.Stage // nil when inference disabled
	trackingStage   *tracks.Stage

	started bool
}

// New builds the pipeline from configuration. No thread is spawned
// until Start.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	p := &Pipeline{
		cfg:     cfg,
		metrics: infra.NewMetrics(),
		signal:  infra.NewStopSignal(),
	}

	// Channels first: stable endpoints that outlive any single stage.
	qcfg := cfg.Buffering.Queues
	p.camToPre = infra.NewBoundedQueue[core.Frame](qcfg.CameraToPreprocess.Capacity, qcfg.CameraToPreprocess.DropPolicy.Infra())
	p.camToPre.SetOnDrop(func(f core.Frame) { f.Release() })

	p.preToTrk = infra.NewBoundedQueue[core.Frame](qcfg.PreprocessToTracking.Capacity, qcfg.PreprocessToTracking.DropPolicy.Infra())
	p.preToTrk.SetOnDrop(func(f core.Frame) { f.Release() })

	p.trkToViz = infra.NewBoundedQueue[core.RenderFrame](qcfg.TrackingToVisualization.Capacity, qcfg.TrackingToVisualization.DropPolicy.Infra())
	p.trkToViz.SetOnDrop(func(rf core.RenderFrame) { rf.Release() })

	p.preLatest = infra.NewLatestStore[core.PreprocessedFrame]()
	p.preLatest.SetOnReplace(func(pf core.PreprocessedFrame) { pf.Release() })
	p.detLatest = infra.NewLatestStore[core.Detections]()

	// Stages, with their capture/detector collaborators.
	src := opts.Source
	if src == nil {
		opened, err := camera.Open(cfg.Camera)
		if err != nil {
			return nil, fmt.Errorf("open capture source: %w", err)
		}
		src = opened
	}
	p.cameraStage = camera.NewStage(p.metrics.MakeStage("camera"), cfg.Camera, src, p.camToPre)

	p.preprocessStage = preprocess.NewStage(p.metrics.MakeStage("preprocess"), cfg.Preprocess,
		p.camToPre, p.preToTrk, p.preLatest)

	if cfg.Inference.Enabled {
		det := opts.Detector
		if det == nil {
			built, err := detect.NewDetector(cfg.Inference)
			if err != nil {
				return nil, fmt.Errorf("build detector: %w", err)
			}
			det = built
		}
		p.inferenceStage = detect.NewStage(p.metrics.MakeStage("inference"), cfg.Inference, det,
			p.preLatest, p.detLatest)
	} else {
		infra.Opsf("inference disabled; tracking will see no detections")
	}

	tracker := tracks.NewTracker(tracks.ConfigFromApp(cfg.Tracking))
	p.trackingStage = tracks.NewStage(p.metrics.MakeStage("tracking"), tracker,
		p.preToTrk, p.detLatest, p.trkToViz, opts.Sink)

	return p, nil
}

// Start launches the stage threads, consumers before producers, so no
// stage ever pushes into a channel nothing will drain.
func (p *Pipeline) Start() error {
	if p.started {
		return fmt.Errorf("pipeline already started")
	}
	p.started = true

	token := p.signal.Token()
	if err := p.trackingStage.Start(token); err != nil {
		return err
	}
	if p.inferenceStage != nil {
		if err := p.inferenceStage.Start(token); err != nil {
			return err
		}
	}
	if err := p.preprocessStage.Start(token); err != nil {
		return err
	}
	return p.cameraStage.Start(token)
}

// Stop requests the global stop and brings stages down producers first,
// so a stopped consumer never leaves its upstream filling and dropping.
func (p *Pipeline) Stop() {
	p.signal.RequestStop()

	p.cameraStage.Stop()
	p.preprocessStage.Stop()
	if p.inferenceStage != nil {
		p.inferenceStage.Stop()
	}
	p.trackingStage.Stop()

	// Release anything still parked in the channels.
	p.camToPre.Clear()
	p.preToTrk.Clear()
	p.trkToViz.Clear()
}

// RequestStop sets the global stop flag without joining.
func (p *Pipeline) RequestStop() { p.signal.RequestStop() }

// StopRequested reports the global stop flag.
func (p *Pipeline) StopRequested() bool { return p.signal.StopRequested() }

// Token returns the global stop token for observers.
func (p *Pipeline) Token() infra.StopToken { return p.signal.Token() }

// Metrics returns the pipeline's metrics registry.
func (p *Pipeline) Metrics() *infra.Metrics { return p.metrics }

// RenderOut is the tracking→visualization queue, consumed by the main
// thread.
func (p *Pipeline) RenderOut() *infra.BoundedQueue[core.RenderFrame] { return p.trkToViz }

// Tracker exposes the live tracker for config hot-reload.
func (p *Pipeline) Tracker() *tracks.Tracker { return p.trackingStage.Tracker() }

// QueueViews exposes the queues' counters to the monitor surfaces.
func (p *Pipeline) QueueViews() []monitor.QueueView {
	return []monitor.QueueView{
		{
			Name:     "camera_to_preprocess",
			Capacity: p.camToPre.Capacity(),
			Size:     p.camToPre.Size,
			Pushes:   p.camToPre.PushesTotal,
			Pops:     p.camToPre.PopsTotal,
			Drops:    p.camToPre.DropsTotal,
		},
		{
			Name:     "preprocess_to_tracking",
			Capacity: p.preToTrk.Capacity(),
			Size:     p.preToTrk.Size,
			Pushes:   p.preToTrk.PushesTotal,
			Pops:     p.preToTrk.PopsTotal,
			Drops:    p.preToTrk.DropsTotal,
		},
		{
			Name:     "tracking_to_visualization",
			Capacity: p.trkToViz.Capacity(),
			Size:     p.trkToViz.Size,
			Pushes:   p.trkToViz.PushesTotal,
			Pops:     p.trkToViz.PopsTotal,
			Drops:    p.trkToViz.DropsTotal,
		},
	}
}
