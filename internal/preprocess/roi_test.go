package preprocess

import (
	"testing"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
)

func TestComputeRoi(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.RoiConfig
		w, h int
		want core.Rect
	}{
		{
			"disabled yields full image",
			config.RoiConfig{Enabled: false},
			1280, 720,
			core.Rect{X: 0, Y: 0, Width: 1280, Height: 720},
		},
		{
			"pixel coordinates taken directly",
			config.RoiConfig{Enabled: true, X: 100, Y: 200, Width: 400, Height: 300},
			1280, 720,
			core.Rect{X: 100, Y: 200, Width: 400, Height: 300},
		},
		{
			"normalized coordinates scale by image size",
			config.RoiConfig{Enabled: true, Normalized: true, X: 0.25, Y: 0.5, Width: 0.5, Height: 0.5},
			1280, 720,
			core.Rect{X: 320, Y: 360, Width: 640, Height: 360},
		},
		{
			"clamped against image bounds",
			config.RoiConfig{Enabled: true, X: 1000, Y: 600, Width: 600, Height: 600},
			1280, 720,
			core.Rect{X: 1000, Y: 600, Width: 280, Height: 120},
		},
		{
			"negative origin clamped",
			config.RoiConfig{Enabled: true, X: -100, Y: -50, Width: 300, Height: 200},
			1280, 720,
			core.Rect{X: 0, Y: 0, Width: 200, Height: 150},
		},
		{
			"empty after clamp falls back to bottom half",
			config.RoiConfig{Enabled: true, X: 2000, Y: 2000, Width: 100, Height: 100},
			1280, 720,
			core.Rect{X: 0, Y: 360, Width: 1280, Height: 360},
		},
		{
			"zero-size roi falls back to bottom half",
			config.RoiConfig{Enabled: true, X: 0, Y: 0, Width: 0, Height: 0},
			1280, 721,
			core.Rect{X: 0, Y: 360, Width: 1280, Height: 361},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ComputeRoi(c.cfg, c.w, c.h)
			if got != c.want {
				t.Errorf("ComputeRoi = %+v, want %+v", got, c.want)
			}
		})
	}
}
