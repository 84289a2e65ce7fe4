package detect

import (
	"math"
	"time"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
)

// SyntheticDetector emits deterministic boxes derived from the source
// frame id: a "car" gliding horizontally and a "person" bobbing near the
// bottom edge. It exercises the full tracking path in dev and replay
// runs without a model file, and its determinism makes replay output
// reproducible.
type SyntheticDetector struct {
	conf float32
}

// NewSyntheticDetector builds the synthetic backend.
func NewSyntheticDetector(cfg config.InferenceConfig) *SyntheticDetector {
	return &SyntheticDetector{conf: float32(cfg.ConfidenceThreshold)}
}

// Detect implements Detector. Box positions are a pure function of the
// frame id, so consecutive frames produce heavily overlapping boxes and
// tracks confirm quickly.
func (d *SyntheticDetector) Detect(pf core.PreprocessedFrame) (core.Detections, error) {
	out := core.Detections{
		InferenceTime:  time.Now(),
		SourceFrameID:  pf.SourceFrameID,
		PreprocessInfo: pf.Info,
	}

	w := float32(pf.Info.ResizeWidth)
	h := float32(pf.Info.ResizeHeight)
	if w <= 0 || h <= 0 {
		return out, nil
	}

	phase := float64(pf.SourceFrameID) * 0.02

	carW := w * 0.18
	carH := h * 0.22
	carX := (w - carW) * float32(0.5+0.4*math.Sin(phase))
	carY := h * 0.45

	personW := w * 0.06
	personH := h * 0.28
	personX := w * 0.2
	personY := (h - personH) * float32(0.85+0.05*math.Sin(phase*3))

	out.Items = []core.Detection{
		{BBox: core.BBox{X: carX, Y: carY, W: carW, H: carH}, ClassID: 2, Confidence: 0.9},
		{BBox: core.BBox{X: personX, Y: personY, W: personW, H: personH}, ClassID: 0, Confidence: 0.8},
	}

	// Honour the confidence gate like a real backend would.
	filtered := out.Items[:0]
	for _, it := range out.Items {
		if it.Confidence >= d.conf {
			filtered = append(filtered, it)
		}
	}
	out.Items = filtered
	return out, nil
}

// Close implements Detector.
func (d *SyntheticDetector) Close() error { return nil }
