package core

import "time"

// BBox is an axis-aligned bounding box (x, y, width, height) in
// single-precision floats. The coordinate space depends on context:
// detector output is in preprocessed-frame coordinates, track boxes are
// in raw-image coordinates.
type BBox struct {
	X, Y, W, H float32
}

// Area returns the box area, treating negative extents as zero.
func (b BBox) Area() float32 {
	w := b.W
	if w < 0 {
		w = 0
	}
	h := b.H
	if h < 0 {
		h = 0
	}
	return w * h
}

// IoU returns the intersection-over-union of two boxes, 0 when the union
// area is not positive.
func IoU(a, b BBox) float32 {
	ix1 := maxf(a.X, b.X)
	iy1 := maxf(a.Y, b.Y)
	ix2 := minf(a.X+a.W, b.X+b.W)
	iy2 := minf(a.Y+a.H, b.Y+b.H)

	iw := maxf(0, ix2-ix1)
	ih := maxf(0, iy2-iy1)
	inter := iw * ih

	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// Detection is one detected object in preprocessed-frame coordinates.
type Detection struct {
	BBox       BBox
	ClassID    int
	Confidence float32
}

// Detections is one inference result. PreprocessInfo is carried through
// so tracking can map boxes back to raw pixels without consulting the
// frame that produced them.
type Detections struct {
	InferenceTime  time.Time
	SourceFrameID  uint64
	PreprocessInfo PreprocessInfo
	Items          []Detection
}
