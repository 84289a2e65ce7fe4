// Package preprocess forks the camera stream: frames pass through
// unchanged on the fast path, and an ROI-cropped, resized copy is
// published to the inference register on the slow path.
package preprocess

import (
	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
)

// ComputeRoi resolves the configured ROI against an image of the given
// dimensions. Disabled configs yield the full image. Normalized
// coordinates are fractions of the image size. The result is clamped to
// the image bounds; if nothing remains, the bottom half of the image is
// used instead (the road, for a dashcam mount).
func ComputeRoi(cfg config.RoiConfig, imgWidth, imgHeight int) core.Rect {
	full := core.Rect{X: 0, Y: 0, Width: imgWidth, Height: imgHeight}
	if !cfg.Enabled {
		return full
	}

	var r core.Rect
	if cfg.Normalized {
		r = core.Rect{
			X:      int(cfg.X * float64(imgWidth)),
			Y:      int(cfg.Y * float64(imgHeight)),
			Width:  int(cfg.Width * float64(imgWidth)),
			Height: int(cfg.Height * float64(imgHeight)),
		}
	} else {
		r = core.Rect{
			X:      int(cfg.X),
			Y:      int(cfg.Y),
			Width:  int(cfg.Width),
			Height: int(cfg.Height),
		}
	}

	r = clamp(r, imgWidth, imgHeight)
	if r.Empty() {
		// Fall back to the bottom half.
		return core.Rect{X: 0, Y: imgHeight / 2, Width: imgWidth, Height: imgHeight - imgHeight/2}
	}
	return r
}

// clamp intersects r with the image bounds.
func clamp(r core.Rect, imgWidth, imgHeight int) core.Rect {
	x1 := r.X
	y1 := r.Y
	x2 := r.X + r.Width
	y2 := r.Y + r.Height

	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > imgWidth {
		x2 = imgWidth
	}
	if y2 > imgHeight {
		y2 = imgHeight
	}

	return core.Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}
