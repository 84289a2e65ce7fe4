// Package detect runs the object detector on the slow stream. The
// detector is an external collaborator behind a narrow interface; the
// version-polled stage in this package is what bounds detection
// staleness to one inference duration.
package detect

import (
	"fmt"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
)

// Detector is the inference collaborator. Implementations return boxes
// in the preprocessed-frame coordinate space, tolerate being called at
// arbitrary intervals, and hold no state visible across calls.
type Detector interface {
	Detect(pf core.PreprocessedFrame) (core.Detections, error)
	Close() error
}

// NewDetector builds the backend named by the config.
func NewDetector(cfg config.InferenceConfig) (Detector, error) {
	switch cfg.Backend {
	case "dnn":
		return NewDnnDetector(cfg)
	case "synthetic":
		return NewSyntheticDetector(cfg), nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}
