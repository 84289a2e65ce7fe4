package core

import (
	"math"
	"testing"
)

func TestIoU(t *testing.T) {
	cases := []struct {
		name string
		a, b BBox
		want float32
	}{
		{"identical", BBox{0, 0, 10, 10}, BBox{0, 0, 10, 10}, 1.0},
		{"disjoint", BBox{0, 0, 10, 10}, BBox{20, 20, 10, 10}, 0.0},
		{"half overlap", BBox{0, 0, 10, 10}, BBox{5, 0, 10, 10}, 50.0 / 150.0},
		{"zero area both", BBox{0, 0, 0, 0}, BBox{0, 0, 0, 0}, 0.0},
		{"negative extent", BBox{0, 0, -5, 10}, BBox{0, 0, 10, 10}, 0.0},
	}
	for _, c := range cases {
		got := IoU(c.a, c.b)
		if math.Abs(float64(got-c.want)) > 1e-6 {
			t.Errorf("%s: IoU = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMapToRawIdentity(t *testing.T) {
	// Identity ROI and equal resize dimensions: raw == preprocessed.
	pi := PreprocessInfo{
		RoiApplied:   false,
		Roi:          Rect{X: 0, Y: 0, Width: 640, Height: 360},
		ResizeWidth:  640,
		ResizeHeight: 360,
	}
	in := BBox{X: 10, Y: 20, W: 30, H: 40}
	got := pi.MapToRaw(in)
	if got != in {
		t.Errorf("identity mapping changed box: %+v -> %+v", in, got)
	}
}

func TestMapToRawScalesAndOffsets(t *testing.T) {
	// ROI (100,50) 640x360 on the raw image, resized to 320x180:
	// scale is 2x in both axes.
	pi := PreprocessInfo{
		RoiApplied:   true,
		Roi:          Rect{X: 100, Y: 50, Width: 640, Height: 360},
		ResizeWidth:  320,
		ResizeHeight: 180,
	}
	got := pi.MapToRaw(BBox{X: 10, Y: 20, W: 30, H: 40})
	want := BBox{X: 120, Y: 90, W: 60, H: 80}
	if got != want {
		t.Errorf("MapToRaw = %+v, want %+v", got, want)
	}
}

func TestMapToRawZeroDenominators(t *testing.T) {
	pi := PreprocessInfo{Roi: Rect{X: 5, Y: 5, Width: 0, Height: 0}}
	got := pi.MapToRaw(BBox{X: 1, Y: 2, W: 3, H: 4})
	// With zero dimensions every scale falls back to 1.
	want := BBox{X: 6, Y: 7, W: 3, H: 4}
	if got != want {
		t.Errorf("MapToRaw with zero denominators = %+v, want %+v", got, want)
	}
}

func TestClassName(t *testing.T) {
	if got := ClassName(2); got != "car" {
		t.Errorf("ClassName(2) = %q, want car", got)
	}
	if got := ClassName(-1); got != "unknown" {
		t.Errorf("ClassName(-1) = %q, want unknown", got)
	}
	if got := ClassName(len(GeneralLabels)); got != "unknown" {
		t.Errorf("ClassName(out of range) = %q, want unknown", got)
	}
}
