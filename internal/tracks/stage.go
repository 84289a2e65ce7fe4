package tracks

import (
	"sync/atomic"
	"time"

	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
)

// popTimeout is the stage heartbeat on the fast stream.
const popTimeout = 5 * time.Millisecond

// PersistenceSink receives each emitted world state for storage. It is
// an adapter, not a pipeline stage; implementations live outside this
// package (internal/storage/sqlite). A nil sink disables persistence.
type PersistenceSink interface {
	RecordWorldState(ws *core.WorldState) error
}

// Stage consumes fast-stream frames at camera rate, samples the
// detections register opportunistically, and emits one RenderFrame per
// input frame. Staleness is reported through the world state's
// provenance fields, never waited out.
type Stage struct {
	*infra.Stage

	metrics *infra.StageMetrics
	tracker *Tracker
	in      *infra.BoundedQueue[core.Frame]
	dets    *infra.LatestStore[core.Detections]
	out     *infra.BoundedQueue[core.RenderFrame]
	sink    PersistenceSink
}

// NewStage builds the tracking stage. sink may be nil.
func NewStage(metrics *infra.StageMetrics, tracker *Tracker,
	in *infra.BoundedQueue[core.Frame],
	dets *infra.LatestStore[core.Detections],
	out *infra.BoundedQueue[core.RenderFrame],
	sink PersistenceSink) *Stage {
	s := &Stage{
		metrics: metrics,
		tracker: tracker,
		in:      in,
		dets:    dets,
		out:     out,
		sink:    sink,
	}
	s.Stage = infra.NewStage("tracking", s.run)
	return s
}

// Tracker exposes the stage's tracker for live tuning.
func (s *Stage) Tracker() *Tracker { return s.tracker }

func (s *Stage) run(global infra.StopToken, local *atomic.Bool) {
	// The cached detections persist across iterations so tracking keeps
	// running with the last known result between inference updates.
	var cached *core.Detections
	sinkErrLogged := false

	for !infra.Stopping(global, local) {
		var f core.Frame
		if !s.in.TryPopFor(&f, popTimeout) {
			continue
		}

		t0 := time.Now()

		if d, ok := s.dets.ReadLatest(); ok {
			cached = &d
		}

		live := s.tracker.Step(f.SequenceID, cached)

		ws := core.WorldState{
			FrameID:   f.SequenceID,
			Timestamp: time.Now(),
			Tracks:    live,
		}
		if cached != nil {
			ws.DetectionsSourceFrameID = cached.SourceFrameID
			ws.DetectionsInferenceTime = cached.InferenceTime
		}

		if s.sink != nil {
			if err := s.sink.RecordWorldState(&ws); err != nil {
				if !sinkErrLogged {
					infra.Opsf("persistence sink error (continuing): %v", err)
					sinkErrLogged = true
				}
			} else {
				sinkErrLogged = false
			}
		}

		infra.Tracef("tracking frame %d: %d tracks (detections from frame %d)",
			ws.FrameID, len(ws.Tracks), ws.DetectionsSourceFrameID)

		s.out.TryPush(core.RenderFrame{Frame: f, World: ws})

		s.metrics.OnItem(uint64(time.Since(t0).Nanoseconds()))
	}
}
