package detect

import (
	"sync/atomic"
	"time"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
)

// pollInterval is the sleep between version checks. The slow stream
// polls instead of blocking so it stays responsive to stop requests.
const pollInterval = 5 * time.Millisecond

// Stage is the version-polled consumer of the preprocessed-frame
// register and producer of the detections register. A preprocessed frame
// arriving mid-inference simply overwrites the register; the next loop
// iteration consumes the newest one and skips everything in between,
// which bounds staleness by one inference duration rather than by any
// queue depth.
type Stage struct {
	*infra.Stage

	metrics  *infra.StageMetrics
	cfg      config.InferenceConfig
	detector Detector
	pre      *infra.LatestStore[core.PreprocessedFrame]
	det      *infra.LatestStore[core.Detections]
}

// NewStage builds the inference stage. The stage takes ownership of the
// detector and closes it when the loop exits.
func NewStage(metrics *infra.StageMetrics, cfg config.InferenceConfig, detector Detector,
	pre *infra.LatestStore[core.PreprocessedFrame],
	det *infra.LatestStore[core.Detections]) *Stage {
	s := &Stage{
		metrics:  metrics,
		cfg:      cfg,
		detector: detector,
		pre:      pre,
		det:      det,
	}
	s.Stage = infra.NewStage("inference", s.run)
	return s
}

// clonePreprocessed deep-copies the image so the producer's next
// overwrite cannot release pixels this stage is still reading.
func clonePreprocessed(pf core.PreprocessedFrame) core.PreprocessedFrame {
	if pf.Image.Ptr() != nil {
		pf.Image = pf.Image.Clone()
	}
	return pf
}

func (s *Stage) run(global infra.StopToken, local *atomic.Bool) {
	defer s.detector.Close()

	var lastSeen uint64
	var minInterval time.Duration
	if s.cfg.TargetFPS > 0 {
		minInterval = time.Duration(float64(time.Second) / float64(s.cfg.TargetFPS))
	}
	var lastRun time.Time
	errLogged := false

	for !infra.Stopping(global, local) {
		ver := s.pre.Version()
		if ver == lastSeen {
			time.Sleep(pollInterval)
			continue
		}

		if minInterval > 0 && !lastRun.IsZero() {
			if wait := minInterval - time.Since(lastRun); wait > 0 {
				time.Sleep(wait)
				continue
			}
		}

		pf, ok := s.pre.ReadLatestWith(clonePreprocessed)
		if !ok {
			time.Sleep(pollInterval)
			continue
		}

		t0 := time.Now()

		// Mark the version consumed before running inference, so a write
		// arriving mid-inference is picked up immediately on the next
		// iteration.
		lastSeen = ver
		lastRun = t0

		dets, err := s.detector.Detect(pf)
		if err != nil {
			// Detector failures degrade to an empty result with correct
			// provenance; the pipeline never tears down on the data path.
			if !errLogged {
				infra.Opsf("detector error (degrading to empty detections): %v", err)
				errLogged = true
			}
			dets = core.Detections{
				InferenceTime:  time.Now(),
				SourceFrameID:  pf.SourceFrameID,
				PreprocessInfo: pf.Info,
			}
		} else if errLogged {
			infra.Opsf("detector recovered")
			errLogged = false
		}
		pf.Release()

		s.det.Write(dets)
		infra.Tracef("inference frame %d -> %d detections", dets.SourceFrameID, len(dets.Items))

		s.metrics.OnItem(uint64(time.Since(t0).Nanoseconds()))
	}
}
