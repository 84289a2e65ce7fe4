// Package viz renders world state onto frames and delivers them to the
// configured sinks: a display window, an MP4 recorder, and the live
// websocket hub. Rendering happens on the main thread's event loop, not
// on a pipeline stage.
package viz

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
)

var (
	confirmedColor = color.RGBA{0, 255, 0, 255}   // green
	tentativeColor = color.RGBA{255, 255, 0, 255} // yellow
	hudTextColor   = color.RGBA{255, 255, 255, 255}
	staleColor     = color.RGBA{255, 0, 0, 255} // red
)

// Overlay draws track boxes and the HUD status line in place.
type Overlay struct {
	cfg config.VisualizationConfig
}

// NewOverlay builds an overlay renderer.
func NewOverlay(cfg config.VisualizationConfig) *Overlay {
	return &Overlay{cfg: cfg}
}

// Draw renders the world state onto the render frame's image.
// fps and stalenessFrames feed the HUD status line.
func (o *Overlay) Draw(rf *core.RenderFrame, fps float64, stalenessFrames int64) {
	img := &rf.Frame.Image
	if img.Ptr() == nil || img.Empty() {
		return
	}

	if o.cfg.ShowBoxes {
		for _, track := range rf.World.Tracks {
			o.drawTrack(img, track)
		}
	}

	if o.cfg.ShowHud {
		o.drawStatusLine(img, rf, fps, stalenessFrames)
	}
}

func (o *Overlay) drawTrack(img *gocv.Mat, track core.Track) {
	rect := image.Rect(
		int(track.BBox.X), int(track.BBox.Y),
		int(track.BBox.X+track.BBox.W), int(track.BBox.Y+track.BBox.H),
	)

	boxColor := tentativeColor
	thickness := 1
	if track.Confirmed {
		boxColor = confirmedColor
		thickness = 2
	}
	gocv.Rectangle(img, rect, boxColor, thickness)

	label := core.ClassName(track.ClassID)
	if o.cfg.ShowTrackIDs {
		label = fmt.Sprintf("#%d %s", track.ID, label)
	}
	if o.cfg.ShowConfidence {
		label = fmt.Sprintf("%s %.2f", label, track.Confidence)
	}

	labelPos := image.Pt(rect.Min.X, rect.Min.Y-5)
	if labelPos.Y < 12 {
		labelPos.Y = rect.Min.Y + 14
	}
	gocv.PutText(img, label, labelPos, gocv.FontHersheySimplex, 0.4, boxColor, 1)
}

func (o *Overlay) drawStatusLine(img *gocv.Mat, rf *core.RenderFrame, fps float64, stalenessFrames int64) {
	status := fmt.Sprintf("frame %d  %.1f fps  tracks %d",
		rf.World.FrameID, fps, len(rf.World.Tracks))

	textColor := hudTextColor
	if rf.World.DetectionsSourceFrameID == 0 {
		status += "  det: none"
	} else {
		status += fmt.Sprintf("  det: -%d frames", stalenessFrames)
		if stalenessFrames > 15 {
			textColor = staleColor
		}
	}

	pos := image.Pt(8, img.Rows()-10)
	gocv.PutText(img, status, pos, gocv.FontHersheySimplex, 0.5, textColor, 1)
}
