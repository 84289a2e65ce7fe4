package preprocess

import (
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
)

func startPreprocess(t *testing.T, cfg config.PreprocessConfig) (*Stage, *infra.BoundedQueue[core.Frame], *infra.BoundedQueue[core.Frame], *infra.LatestStore[core.PreprocessedFrame], *infra.StopSignal) {
	t.Helper()
	in := infra.NewBoundedQueue[core.Frame](8, infra.DropOldest)
	out := infra.NewBoundedQueue[core.Frame](8, infra.DropOldest)
	out.SetOnDrop(func(f core.Frame) { f.Release() })
	latest := infra.NewLatestStore[core.PreprocessedFrame]()
	latest.SetOnReplace(func(pf core.PreprocessedFrame) { pf.Release() })

	stage := NewStage(infra.NewMetrics().MakeStage("preprocess"), cfg, in, out, latest)
	sig := infra.NewStopSignal()
	if err := stage.Start(sig.Token()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return stage, in, out, latest, sig
}

func TestPreprocessForksBothStreams(t *testing.T) {
	cfg := config.PreprocessConfig{ResizeWidth: 320, ResizeHeight: 180}
	stage, in, out, latest, sig := startPreprocess(t, cfg)
	defer func() { sig.RequestStop(); stage.Stop() }()

	img := gocv.NewMatWithSize(720, 1280, gocv.MatTypeCV8UC3)
	in.TryPush(core.Frame{SequenceID: 42, CaptureTime: time.Now(), Image: img})

	// Fast path: the frame comes through unchanged.
	var f core.Frame
	if !out.TryPopFor(&f, time.Second) {
		t.Fatal("fast path emitted nothing")
	}
	if f.SequenceID != 42 {
		t.Errorf("fast path sequence = %d, want 42", f.SequenceID)
	}

	// Slow path: a resized copy with the mapping info.
	deadline := time.Now().Add(time.Second)
	for !latest.HasValue() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	pf, ok := latest.ReadLatestWith(func(v core.PreprocessedFrame) core.PreprocessedFrame {
		if v.Image.Ptr() != nil {
			v.Image = v.Image.Clone()
		}
		return v
	})
	if !ok {
		t.Fatal("slow path never published")
	}
	defer pf.Release()
	defer f.Release()

	if pf.SourceFrameID != 42 {
		t.Errorf("preprocessed source = %d, want 42", pf.SourceFrameID)
	}
	if pf.Image.Cols() != 320 || pf.Image.Rows() != 180 {
		t.Errorf("resized to %dx%d, want 320x180", pf.Image.Cols(), pf.Image.Rows())
	}
	wantRoi := core.Rect{X: 0, Y: 0, Width: 1280, Height: 720}
	if pf.Info.Roi != wantRoi {
		t.Errorf("info roi = %+v, want full image %+v", pf.Info.Roi, wantRoi)
	}
	if pf.Info.RoiApplied {
		t.Error("roi_applied must be false when cropping is disabled")
	}
	if pf.PreprocessTime.IsZero() {
		t.Error("preprocess time not stamped")
	}
}

func TestPreprocessAppliesRoi(t *testing.T) {
	cfg := config.PreprocessConfig{
		ResizeWidth:  320,
		ResizeHeight: 180,
		CropRoi:      config.RoiConfig{Enabled: true, X: 100, Y: 50, Width: 640, Height: 360},
	}
	stage, in, out, latest, sig := startPreprocess(t, cfg)
	defer func() { sig.RequestStop(); stage.Stop() }()

	img := gocv.NewMatWithSize(720, 1280, gocv.MatTypeCV8UC3)
	in.TryPush(core.Frame{SequenceID: 1, CaptureTime: time.Now(), Image: img})

	var f core.Frame
	if !out.TryPopFor(&f, time.Second) {
		t.Fatal("fast path emitted nothing")
	}
	defer f.Release()

	deadline := time.Now().Add(time.Second)
	for !latest.HasValue() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	pf, ok := latest.ReadLatestWith(func(v core.PreprocessedFrame) core.PreprocessedFrame {
		if v.Image.Ptr() != nil {
			v.Image = v.Image.Clone()
		}
		return v
	})
	if !ok {
		t.Fatal("slow path never published")
	}
	defer pf.Release()

	want := core.Rect{X: 100, Y: 50, Width: 640, Height: 360}
	if pf.Info.Roi != want {
		t.Errorf("info roi = %+v, want %+v", pf.Info.Roi, want)
	}
	if !pf.Info.RoiApplied {
		t.Error("roi_applied must be true")
	}
	if pf.Image.Cols() != 320 || pf.Image.Rows() != 180 {
		t.Errorf("resized to %dx%d, want 320x180", pf.Image.Cols(), pf.Image.Rows())
	}
}

func TestPreprocessIdlesOnTimeout(t *testing.T) {
	cfg := config.PreprocessConfig{ResizeWidth: 64, ResizeHeight: 64}
	stage, _, out, latest, sig := startPreprocess(t, cfg)

	// No input: the stage just heartbeats.
	time.Sleep(50 * time.Millisecond)
	if out.Size() != 0 || latest.HasValue() {
		t.Error("idle stage must not emit")
	}

	sig.RequestStop()
	done := make(chan struct{})
	go func() { stage.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("idle stage did not stop promptly")
	}
}
