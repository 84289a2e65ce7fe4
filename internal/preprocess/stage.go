package preprocess

import (
	"image"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
)

// popTimeout is the stage heartbeat: an empty pop is idle time, not an
// error, and the loop re-checks the stop flags on each beat.
const popTimeout = 5 * time.Millisecond

// Stage is the fork point between the fast and slow streams. The fast
// path forwards the frame untouched and must never wait on the slow
// path; the slow path materialises the ROI, resizes, and overwrites the
// inference register.
type Stage struct {
	*infra.Stage

	metrics *infra.StageMetrics
	cfg     config.PreprocessConfig
	in      *infra.BoundedQueue[core.Frame]
	out     *infra.BoundedQueue[core.Frame]
	latest  *infra.LatestStore[core.PreprocessedFrame]
}

// NewStage builds the preprocess stage between the camera queue, the
// tracking queue, and the inference latest-frame register.
func NewStage(metrics *infra.StageMetrics, cfg config.PreprocessConfig,
	in, out *infra.BoundedQueue[core.Frame],
	latest *infra.LatestStore[core.PreprocessedFrame]) *Stage {
	s := &Stage{
		metrics: metrics,
		cfg:     cfg,
		in:      in,
		out:     out,
		latest:  latest,
	}
	s.Stage = infra.NewStage("preprocess", s.run)
	return s
}

func (s *Stage) run(global infra.StopToken, local *atomic.Bool) {
	for !infra.Stopping(global, local) {
		var f core.Frame
		if !s.in.TryPopFor(&f, popTimeout) {
			continue
		}

		t0 := time.Now()

		// Slow-path copy is materialised while this stage still owns the
		// frame; the crop+resize is bounded work and never waits on the
		// inference stage (the register write cannot block).
		pf, havePf := s.preprocess(f)

		// Fast path: forward the frame unchanged, transferring ownership
		// downstream.
		s.out.TryPush(f)

		// Publish newest-wins for inference.
		if havePf {
			s.latest.Write(pf)
		}

		s.metrics.OnItem(uint64(time.Since(t0).Nanoseconds()))
	}
}

// preprocess builds the PreprocessedFrame for one raw frame. Returns
// false for frames without pixels (nothing to hand the detector).
func (s *Stage) preprocess(f core.Frame) (core.PreprocessedFrame, bool) {
	if f.Image.Ptr() == nil || f.Image.Empty() {
		return core.PreprocessedFrame{}, false
	}

	imgW := f.Image.Cols()
	imgH := f.Image.Rows()
	roi := ComputeRoi(s.cfg.CropRoi, imgW, imgH)

	view := f.Image
	cropped := false
	if roi.X != 0 || roi.Y != 0 || roi.Width != imgW || roi.Height != imgH {
		view = f.Image.Region(image.Rect(roi.X, roi.Y, roi.X+roi.Width, roi.Y+roi.Height))
		cropped = true
	}

	resized := gocv.NewMat()
	gocv.Resize(view, &resized, image.Pt(s.cfg.ResizeWidth, s.cfg.ResizeHeight), 0, 0, gocv.InterpolationLinear)
	if cropped {
		view.Close()
	}

	return core.PreprocessedFrame{
		SourceFrameID:  f.SequenceID,
		CaptureTime:    f.CaptureTime,
		PreprocessTime: time.Now(),
		Image:          resized,
		Info: core.PreprocessInfo{
			RoiApplied:   s.cfg.CropRoi.Enabled,
			Roi:          roi,
			ResizeWidth:  s.cfg.ResizeWidth,
			ResizeHeight: s.cfg.ResizeHeight,
		},
	}, true
}
