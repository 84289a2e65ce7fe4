package tracks

import (
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
)

type recordingSink struct {
	mu     sync.Mutex
	states []core.WorldState
}

func (r *recordingSink) RecordWorldState(ws *core.WorldState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, *ws)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func startTracking(t *testing.T, cfg Config, sink PersistenceSink) (*Stage, *infra.BoundedQueue[core.Frame], *infra.LatestStore[core.Detections], *infra.BoundedQueue[core.RenderFrame], *infra.StopSignal) {
	t.Helper()
	in := infra.NewBoundedQueue[core.Frame](16, infra.DropOldest)
	dets := infra.NewLatestStore[core.Detections]()
	out := infra.NewBoundedQueue[core.RenderFrame](64, infra.DropOldest)
	metrics := infra.NewMetrics().MakeStage("tracking")
	stage := NewStage(metrics, NewTracker(cfg), in, dets, out, sink)

	sig := infra.NewStopSignal()
	if err := stage.Start(sig.Token()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return stage, in, dets, out, sig
}

func frame(id uint64) core.Frame {
	return core.Frame{CaptureTime: time.Now(), SequenceID: id}
}

func popRender(t *testing.T, out *infra.BoundedQueue[core.RenderFrame]) core.RenderFrame {
	t.Helper()
	var rf core.RenderFrame
	if !out.TryPopFor(&rf, time.Second) {
		t.Fatal("no render frame emitted")
	}
	return rf
}

func TestTrackingEmitsWorldStatePerFrame(t *testing.T) {
	cfg := Config{IouThreshold: 0.3, MaxMissedFrames: 5, MinConfirmedFrames: 1}
	stage, in, _, out, sig := startTracking(t, cfg, nil)
	defer func() { sig.RequestStop(); stage.Stop() }()

	for id := uint64(1); id <= 3; id++ {
		in.TryPush(frame(id))
	}

	for id := uint64(1); id <= 3; id++ {
		rf := popRender(t, out)
		if rf.World.FrameID != id {
			t.Errorf("world frame_id = %d, want %d (must match input frame)", rf.World.FrameID, id)
		}
		if rf.Frame.SequenceID != id {
			t.Errorf("render frame carries sequence %d, want %d", rf.Frame.SequenceID, id)
		}
	}
}

func TestTrackingProvenanceZeroWithoutDetections(t *testing.T) {
	cfg := Config{IouThreshold: 0.3, MaxMissedFrames: 5, MinConfirmedFrames: 1}
	stage, in, _, out, sig := startTracking(t, cfg, nil)
	defer func() { sig.RequestStop(); stage.Stop() }()

	in.TryPush(frame(1))
	rf := popRender(t, out)
	if rf.World.DetectionsSourceFrameID != 0 {
		t.Errorf("provenance = %d, want 0 before any detections", rf.World.DetectionsSourceFrameID)
	}
	if len(rf.World.Tracks) != 0 {
		t.Errorf("tracks = %d, want 0", len(rf.World.Tracks))
	}
}

func TestTrackingSamplesAndCachesDetections(t *testing.T) {
	cfg := Config{IouThreshold: 0.3, MaxMissedFrames: 10, MinConfirmedFrames: 1}
	stage, in, dets, out, sig := startTracking(t, cfg, nil)
	defer func() { sig.RequestStop(); stage.Stop() }()

	dets.Write(*detsFor(1, det(10, 10, 50, 50, 2, 0.9)))

	// Frame 2 sees the detections from frame 1; frames 3 and 4 keep
	// using the cached copy with no new inference result.
	for id := uint64(2); id <= 4; id++ {
		in.TryPush(frame(id))
	}
	for id := uint64(2); id <= 4; id++ {
		rf := popRender(t, out)
		if rf.World.DetectionsSourceFrameID != 1 {
			t.Errorf("frame %d: provenance = %d, want 1 (cached)", id, rf.World.DetectionsSourceFrameID)
		}
		if rf.World.FrameID < rf.World.DetectionsSourceFrameID {
			t.Errorf("detections from the future: frame %d, provenance %d", rf.World.FrameID, rf.World.DetectionsSourceFrameID)
		}
		if len(rf.World.Tracks) != 1 {
			t.Errorf("frame %d: tracks = %d, want 1", id, len(rf.World.Tracks))
		}
	}
}

func TestTrackingPersistsThroughSink(t *testing.T) {
	sink := &recordingSink{}
	cfg := Config{IouThreshold: 0.3, MaxMissedFrames: 5, MinConfirmedFrames: 1}
	stage, in, _, out, sig := startTracking(t, cfg, sink)
	defer func() { sig.RequestStop(); stage.Stop() }()

	in.TryPush(frame(1))
	in.TryPush(frame(2))
	popRender(t, out)
	popRender(t, out)

	if got := sink.count(); got != 2 {
		t.Errorf("sink recorded %d world states, want 2", got)
	}
}
