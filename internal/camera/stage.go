package camera

import (
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
	"github.com/banshee-data/dashcam.report/internal/timeutil"
)

// fallbackFPS is used when neither the config nor the source reports a
// plausible capture rate.
const fallbackFPS = 30

// maxPlausibleFPS guards against sources reporting garbage (some V4L2
// drivers return 0 or very large values).
const maxPlausibleFPS = 240

// readRetryDelay paces retries after a failed capture read.
const readRetryDelay = 5 * time.Millisecond

// Stage owns the capture source and emits Frames at the target rate.
// Dropped pushes on a full output queue are expected under backpressure
// and are never errors.
type Stage struct {
	*infra.Stage

	metrics *infra.StageMetrics
	cfg     config.CameraConfig
	src     Source
	out     *infra.BoundedQueue[core.Frame]
	clock   timeutil.Clock

	nextID uint64
}

// NewStage builds the camera stage. The stage takes ownership of src and
// closes it when its loop exits.
func NewStage(metrics *infra.StageMetrics, cfg config.CameraConfig, src Source, out *infra.BoundedQueue[core.Frame]) *Stage {
	s := &Stage{
		metrics: metrics,
		cfg:     cfg,
		src:     src,
		out:     out,
		clock:   timeutil.RealClock{},
		// Sequence ids start at 1; 0 is reserved to mean "no frame" in
		// detection provenance fields.
		nextID: 1,
	}
	s.Stage = infra.NewStage("camera", s.run)
	return s
}

// effectiveFPS resolves the pacing rate: configured value first, then the
// source's report, then the fallback.
func (s *Stage) effectiveFPS() float64 {
	if fps := float64(s.cfg.FPS); fps > 0 && fps <= maxPlausibleFPS {
		return fps
	}
	if fps := s.src.ReportedFPS(); fps > 0 && fps <= maxPlausibleFPS {
		return fps
	}
	return fallbackFPS
}

func (s *Stage) run(global infra.StopToken, local *atomic.Bool) {
	defer s.src.Close()

	fps := s.effectiveFPS()
	interval := time.Duration(float64(time.Second) / fps)
	infra.Diagf("camera pacing at %.1f fps (interval %v)", fps, interval)

	nextTick := s.clock.Now()
	readFailLogged := false

	for !infra.Stopping(global, local) {
		// Monotonic tick schedule: sleep out any lead, and reset rather
		// than play catch-up after a stall of more than 100 ms.
		now := s.clock.Now()
		if nextTick.After(now) {
			s.clock.Sleep(nextTick.Sub(now))
		} else if now.Sub(nextTick) > 100*time.Millisecond {
			nextTick = now
		}
		nextTick = nextTick.Add(interval)

		t0 := s.clock.Now()
		img, ok := s.src.Read()
		if !ok {
			if !readFailLogged {
				infra.Opsf("camera read failed, retrying")
				readFailLogged = true
			}
			s.clock.Sleep(readRetryDelay)
			continue
		}
		if readFailLogged {
			infra.Opsf("camera read recovered")
			readFailLogged = false
		}

		if img.Ptr() != nil {
			if s.cfg.FlipVertical {
				gocv.Flip(img, &img, 0)
			}
			if s.cfg.FlipHorizontal {
				gocv.Flip(img, &img, 1)
			}
		}

		f := core.Frame{
			CaptureTime: s.clock.Now(),
			SequenceID:  s.nextID,
			Image:       img,
		}
		s.nextID++

		accepted := s.out.TryPush(f)
		if !accepted {
			infra.Tracef("camera frame %d dropped on push", f.SequenceID)
		}

		s.metrics.OnItem(uint64(s.clock.Since(t0).Nanoseconds()))
	}
}
