package viz

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
	"github.com/banshee-data/dashcam.report/internal/infra"
	"github.com/banshee-data/dashcam.report/internal/monitor"
)

// Sink consumes render frames on the caller's thread (window display
// must run on the main thread) and fans them out to the enabled
// outputs. The sink owns each frame it is handed and releases it.
type Sink struct {
	cfg     config.VisualizationConfig
	overlay *Overlay
	hub     *monitor.Hub // may be nil

	window   *gocv.Window
	recorder *gocv.VideoWriter

	// Smoothed display rate for the HUD.
	lastFrameAt time.Time
	fps         float64
}

// NewSink builds the sink. The window is opened lazily on the first
// frame so headless runs never touch the display.
func NewSink(cfg config.VisualizationConfig, hub *monitor.Hub) *Sink {
	return &Sink{
		cfg:     cfg,
		overlay: NewOverlay(cfg),
		hub:     hub,
	}
}

// Consume renders one frame to every enabled output and releases it.
// Returns false if the user closed the window or pressed q/ESC.
func (s *Sink) Consume(rf *core.RenderFrame) bool {
	defer rf.Release()

	now := time.Now()
	if !s.lastFrameAt.IsZero() {
		if dt := now.Sub(s.lastFrameAt).Seconds(); dt > 0 {
			inst := 1.0 / dt
			if s.fps == 0 {
				s.fps = inst
			} else {
				s.fps = s.fps*0.875 + inst*0.125
			}
		}
	}
	s.lastFrameAt = now

	staleness := int64(0)
	if src := rf.World.DetectionsSourceFrameID; src != 0 && rf.World.FrameID >= src {
		staleness = int64(rf.World.FrameID - src)
	}

	s.overlay.Draw(rf, s.fps, staleness)

	if rf.Frame.Image.Ptr() == nil || rf.Frame.Image.Empty() {
		return true
	}

	if s.hub != nil && s.hub.ClientCount() > 0 {
		s.broadcast(rf)
	}

	if s.cfg.Recording.Enabled {
		s.record(rf)
	}

	if s.cfg.Enabled {
		return s.display(rf)
	}
	return true
}

func (s *Sink) display(rf *core.RenderFrame) bool {
	if s.window == nil {
		s.window = gocv.NewWindow(s.cfg.WindowName)
	}
	s.window.IMShow(rf.Frame.Image)
	key := s.window.WaitKey(1)
	if key == 'q' || key == 27 || !s.window.IsOpen() {
		infra.Opsf("user exit requested from window")
		return false
	}
	return true
}

func (s *Sink) record(rf *core.RenderFrame) {
	if s.recorder == nil {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Recording.OutputPath), 0o755); err != nil {
			infra.Opsf("recorder: create output dir: %v", err)
			s.cfg.Recording.Enabled = false
			return
		}
		w, err := gocv.VideoWriterFile(
			s.cfg.Recording.OutputPath, "mp4v", float64(s.cfg.Recording.FPS),
			rf.Frame.Image.Cols(), rf.Frame.Image.Rows(), true)
		if err != nil {
			infra.Opsf("recorder: open %s: %v", s.cfg.Recording.OutputPath, err)
			s.cfg.Recording.Enabled = false
			return
		}
		s.recorder = w
		infra.Opsf("recording to %s", s.cfg.Recording.OutputPath)
	}
	if err := s.recorder.Write(rf.Frame.Image); err != nil {
		infra.Diagf("recorder write failed: %v", err)
	}
}

// liveState is the world-state JSON shape broadcast to websocket clients.
type liveState struct {
	FrameID         uint64      `json:"frame_id"`
	Tracks          []liveTrack `json:"tracks"`
	DetectionsFrame uint64      `json:"detections_frame"`
}

type liveTrack struct {
	ID         uint64  `json:"id"`
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	W          float32 `json:"w"`
	H          float32 `json:"h"`
	Confirmed  bool    `json:"confirmed"`
}

func (s *Sink) broadcast(rf *core.RenderFrame) {
	buf, err := gocv.IMEncode(".jpg", rf.Frame.Image)
	if err != nil {
		infra.Diagf("live view: jpeg encode failed: %v", err)
		return
	}
	jpeg := make([]byte, len(buf.GetBytes()))
	copy(jpeg, buf.GetBytes())
	buf.Close()
	s.hub.BroadcastFrame(jpeg)

	state := liveState{
		FrameID:         rf.World.FrameID,
		DetectionsFrame: rf.World.DetectionsSourceFrameID,
	}
	for _, track := range rf.World.Tracks {
		state.Tracks = append(state.Tracks, liveTrack{
			ID:         track.ID,
			Class:      core.ClassName(track.ClassID),
			Confidence: track.Confidence,
			X:          track.BBox.X,
			Y:          track.BBox.Y,
			W:          track.BBox.W,
			H:          track.BBox.H,
			Confirmed:  track.Confirmed,
		})
	}
	if data, err := json.Marshal(state); err == nil {
		s.hub.BroadcastState(data)
	}
}

// Close releases the window and recorder.
func (s *Sink) Close() error {
	var firstErr error
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close recorder: %w", err)
		}
		s.recorder = nil
	}
	if s.window != nil {
		if err := s.window.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close window: %w", err)
		}
		s.window = nil
	}
	return firstErr
}
