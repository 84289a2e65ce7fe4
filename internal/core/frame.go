package core

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is one raw captured image. Created by the camera stage, read-only
// after emission, released when no downstream holds it.
type Frame struct {
	// CaptureTime is from the monotonic clock.
	CaptureTime time.Time

	// SequenceID is assigned by the camera and strictly increasing.
	SequenceID uint64

	// Image holds the pixels. The Mat handle shares ownership of the
	// underlying buffer.
	Image gocv.Mat
}

// Release closes the frame's image buffer. Safe on a zero frame.
func (f *Frame) Release() {
	if f.Image.Ptr() != nil {
		f.Image.Close()
	}
}

// Rect is an axis-aligned rectangle in raw-image pixel coordinates.
type Rect struct {
	X, Y, Width, Height int
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// PreprocessInfo records the geometric mapping from the preprocessed
// (cropped + resized) frame back to raw pixel space.
type PreprocessInfo struct {
	RoiApplied   bool
	Roi          Rect
	ResizeWidth  int
	ResizeHeight int
}

// MapToRaw transforms a box from preprocessed-frame coordinates to
// raw-image coordinates using the recorded ROI and resize parameters.
// Zero denominators are substituted with 1.
func (pi PreprocessInfo) MapToRaw(b BBox) BBox {
	rw := pi.ResizeWidth
	if rw == 0 {
		rw = 1
	}
	rh := pi.ResizeHeight
	if rh == 0 {
		rh = 1
	}
	sx := float32(pi.Roi.Width) / float32(rw)
	sy := float32(pi.Roi.Height) / float32(rh)
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	return BBox{
		X: float32(pi.Roi.X) + b.X*sx,
		Y: float32(pi.Roi.Y) + b.Y*sy,
		W: b.W * sx,
		H: b.H * sy,
	}
}

// PreprocessedFrame is a frame after ROI crop and resize, destined for
// inference. Written to the latest-frame register (newest wins).
type PreprocessedFrame struct {
	SourceFrameID  uint64
	CaptureTime    time.Time
	PreprocessTime time.Time

	// Image holds the resized pixels.
	Image gocv.Mat

	// Info maps detector output back to raw pixel space.
	Info PreprocessInfo
}

// Release closes the preprocessed image buffer.
func (pf *PreprocessedFrame) Release() {
	if pf.Image.Ptr() != nil {
		pf.Image.Close()
	}
}
