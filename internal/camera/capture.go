// Package camera produces timestamped frames from a capture source at a
// target rate and pushes them onto the fast stream.
package camera

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/banshee-data/dashcam.report/internal/config"
)

// Source is the capture collaborator. Read blocks for at most a few
// milliseconds and reports failure instead of erroring; transient
// failures are retried by the stage.
type Source interface {
	// Read returns one image. ok is false on a failed or empty read; the
	// returned Mat is owned by the caller when ok.
	Read() (img gocv.Mat, ok bool)
	// ReportedFPS returns the rate the source claims, 0 if unknown.
	ReportedFPS() float64
	Close() error
}

// VideoSource wraps a gocv VideoCapture over a device or a file.
type VideoSource struct {
	cap *gocv.VideoCapture
}

// OpenDevice opens a camera device and requests the configured capture
// parameters. The device may ignore them; the stage re-checks the
// reported rate.
func OpenDevice(cfg config.CameraConfig) (*VideoSource, error) {
	cap, err := gocv.OpenVideoCapture(cfg.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("open capture device %d: %w", cfg.DeviceIndex, err)
	}
	if cfg.Width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}
	return &VideoSource{cap: cap}, nil
}

// OpenFile opens a video file as the capture source.
func OpenFile(path string) (*VideoSource, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file %s: %w", path, err)
	}
	return &VideoSource{cap: cap}, nil
}

// Open selects the source named by the config.
func Open(cfg config.CameraConfig) (Source, error) {
	if cfg.Source == "file" {
		return OpenFile(cfg.FilePath)
	}
	return OpenDevice(cfg)
}

// Read implements Source.
func (s *VideoSource) Read() (gocv.Mat, bool) {
	img := gocv.NewMat()
	if !s.cap.Read(&img) || img.Empty() {
		img.Close()
		return gocv.Mat{}, false
	}
	return img, true
}

// ReportedFPS implements Source.
func (s *VideoSource) ReportedFPS() float64 {
	return s.cap.Get(gocv.VideoCaptureFPS)
}

// Close implements Source.
func (s *VideoSource) Close() error {
	return s.cap.Close()
}
