package detect

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
)

// stubDetector records the frames it sees; an optional gate makes each
// call block until the test releases it, and fail makes calls error.
type stubDetector struct {
	gate     chan struct{}
	fail     atomic.Bool
	seen     []uint64
	seenMu   chan struct{} // 1-token mutex so the test can read seen safely
	started  atomic.Int64
	detected atomic.Int64
	closed   atomic.Bool
}

func newStubDetector(gated bool) *stubDetector {
	d := &stubDetector{seenMu: make(chan struct{}, 1)}
	if gated {
		d.gate = make(chan struct{})
	}
	return d
}

func (d *stubDetector) Detect(pf core.PreprocessedFrame) (core.Detections, error) {
	d.started.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	d.seenMu <- struct{}{}
	d.seen = append(d.seen, pf.SourceFrameID)
	<-d.seenMu
	d.detected.Add(1)

	if d.fail.Load() {
		return core.Detections{}, errors.New("backend exploded")
	}
	return core.Detections{
		InferenceTime:  time.Now(),
		SourceFrameID:  pf.SourceFrameID,
		PreprocessInfo: pf.Info,
		Items:          []core.Detection{{BBox: core.BBox{X: 1, Y: 1, W: 2, H: 2}, ClassID: 2, Confidence: 0.9}},
	}, nil
}

func (d *stubDetector) Close() error { d.closed.Store(true); return nil }

func (d *stubDetector) seenFrames() []uint64 {
	d.seenMu <- struct{}{}
	out := append([]uint64(nil), d.seen...)
	<-d.seenMu
	return out
}

func pfWithID(id uint64) core.PreprocessedFrame {
	return core.PreprocessedFrame{
		SourceFrameID: id,
		Info:          core.PreprocessInfo{ResizeWidth: 640, ResizeHeight: 360},
	}
}

func startInference(t *testing.T, det Detector, cfg config.InferenceConfig) (*Stage, *infra.LatestStore[core.PreprocessedFrame], *infra.LatestStore[core.Detections], *infra.StopSignal) {
	t.Helper()
	pre := infra.NewLatestStore[core.PreprocessedFrame]()
	out := infra.NewLatestStore[core.Detections]()
	metrics := infra.NewMetrics().MakeStage("inference")
	stage := NewStage(metrics, cfg, det, pre, out)

	sig := infra.NewStopSignal()
	if err := stage.Start(sig.Token()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return stage, pre, out, sig
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestInferencePublishesDetections(t *testing.T) {
	det := newStubDetector(false)
	stage, pre, out, sig := startInference(t, det, config.InferenceConfig{})
	defer func() { sig.RequestStop(); stage.Stop() }()

	pre.Write(pfWithID(7))

	waitFor(t, time.Second, func() bool { return out.HasValue() })
	dets, _ := out.ReadLatest()
	if dets.SourceFrameID != 7 {
		t.Errorf("detections source = %d, want 7", dets.SourceFrameID)
	}
	if len(dets.Items) != 1 {
		t.Errorf("items = %d, want 1", len(dets.Items))
	}
	if dets.PreprocessInfo.ResizeWidth != 640 {
		t.Error("preprocess info must be carried through")
	}
}

func TestInferenceSkipsToNewestVersion(t *testing.T) {
	// A slow detector must consume only the newest frame after each
	// inference, skipping every intermediate write.
	det := newStubDetector(true)
	stage, pre, out, sig := startInference(t, det, config.InferenceConfig{})
	defer func() { sig.RequestStop(); stage.Stop(); close(det.gate) }()

	pre.Write(pfWithID(1))
	waitFor(t, time.Second, func() bool { return det.started.Load() == 1 })

	// Burst of writes while the first inference is still in flight.
	for id := uint64(2); id <= 9; id++ {
		pre.Write(pfWithID(id))
	}

	det.gate <- struct{}{} // finish inference on frame 1
	det.gate <- struct{}{} // second inference: must be frame 9
	waitFor(t, time.Second, func() bool { return out.Version() >= 2 })

	seen := det.seenFrames()
	if len(seen) < 2 {
		t.Fatalf("detector ran %d times, want >= 2", len(seen))
	}
	if seen[0] != 1 {
		t.Errorf("first inference saw frame %d, want 1", seen[0])
	}
	if seen[1] != 9 {
		t.Errorf("second inference saw frame %d, want 9 (newest wins)", seen[1])
	}
}

func TestInferenceDegradesToEmptyOnError(t *testing.T) {
	det := newStubDetector(false)
	det.fail.Store(true)
	stage, pre, out, sig := startInference(t, det, config.InferenceConfig{})
	defer func() { sig.RequestStop(); stage.Stop() }()

	pre.Write(pfWithID(3))

	waitFor(t, time.Second, func() bool { return out.HasValue() })
	dets, _ := out.ReadLatest()
	if dets.SourceFrameID != 3 {
		t.Errorf("failed inference must keep provenance, got frame %d", dets.SourceFrameID)
	}
	if len(dets.Items) != 0 {
		t.Errorf("failed inference must publish empty items, got %d", len(dets.Items))
	}
}

func TestInferenceClosesDetectorOnStop(t *testing.T) {
	det := newStubDetector(false)
	stage, _, _, sig := startInference(t, det, config.InferenceConfig{})

	sig.RequestStop()
	stage.Stop()
	if !det.closed.Load() {
		t.Error("stage must close the detector on exit")
	}
}

func TestSyntheticDetectorDeterministic(t *testing.T) {
	d := NewSyntheticDetector(config.InferenceConfig{ConfidenceThreshold: 0.5})
	a, _ := d.Detect(pfWithID(42))
	b, _ := d.Detect(pfWithID(42))
	if len(a.Items) != len(b.Items) {
		t.Fatalf("synthetic backend not deterministic: %d vs %d items", len(a.Items), len(b.Items))
	}
	for i := range a.Items {
		if a.Items[i].BBox != b.Items[i].BBox {
			t.Errorf("item %d box differs between identical calls", i)
		}
	}
	if len(a.Items) == 0 {
		t.Fatal("synthetic backend produced no detections")
	}
}
