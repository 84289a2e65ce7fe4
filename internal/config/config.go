// Package config loads and validates the pipeline's YAML configuration.
//
// Missing keys take defaults, unknown keys are ignored, and invalid
// values produce a path-qualified error before any stage starts.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/dashcam.report/internal/infra"
)

// DropPolicy is the YAML spelling of a queue drop policy.
type DropPolicy string

const (
	DropOldest DropPolicy = "drop_oldest"
	DropNewest DropPolicy = "drop_newest"
)

// Infra converts the config spelling to the queue policy.
func (p DropPolicy) Infra() infra.DropPolicy {
	if p == DropNewest {
		return infra.DropNewest
	}
	return infra.DropOldest
}

// CameraConfig selects and parameterises the capture source.
type CameraConfig struct {
	Source      string `yaml:"source"` // "device" | "file"
	DeviceIndex int    `yaml:"device_index"`
	FilePath    string `yaml:"file_path"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`

	FlipVertical   bool `yaml:"flip_vertical"`
	FlipHorizontal bool `yaml:"flip_horizontal"`
}

// RoiConfig describes the crop applied before resize. Coordinates are
// raw pixels, or fractions of the image dimensions when Normalized.
type RoiConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Normalized bool    `yaml:"normalized"`
	X          float64 `yaml:"x"`
	Y          float64 `yaml:"y"`
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
}

// PreprocessConfig controls the ROI + resize applied on the slow stream.
type PreprocessConfig struct {
	ResizeWidth  int       `yaml:"resize_width"`
	ResizeHeight int       `yaml:"resize_height"`
	CropRoi      RoiConfig `yaml:"crop_roi"`
}

// QueueConfig sizes one inter-stage queue.
type QueueConfig struct {
	Capacity   int        `yaml:"capacity"`
	DropPolicy DropPolicy `yaml:"drop_policy"`
}

// QueuesConfig names the three bounded edges of the topology.
type QueuesConfig struct {
	CameraToPreprocess      QueueConfig `yaml:"camera_to_preprocess"`
	PreprocessToTracking    QueueConfig `yaml:"preprocess_to_tracking"`
	TrackingToVisualization QueueConfig `yaml:"tracking_to_visualization"`
}

// BufferingConfig groups the queue settings.
type BufferingConfig struct {
	Queues QueuesConfig `yaml:"queues"`
}

// ModelConfig locates the detector model.
type ModelConfig struct {
	Path        string `yaml:"path"`
	ConfigPath  string `yaml:"config_path"`
	InputWidth  int    `yaml:"input_width"`
	InputHeight int    `yaml:"input_height"`
}

// InferenceConfig gates and parameterises the detector.
type InferenceConfig struct {
	Enabled             bool        `yaml:"enabled"`
	Backend             string      `yaml:"backend"` // "dnn" | "synthetic"
	TargetFPS           int         `yaml:"target_fps"`
	ConfidenceThreshold float64     `yaml:"confidence_threshold"`
	Model               ModelConfig `yaml:"model"`
}

// TrackingConfig is the tracker policy surface.
type TrackingConfig struct {
	IouThreshold       float64 `yaml:"iou_threshold"`
	MaxMissedFrames    int     `yaml:"max_missed_frames"`
	MinConfirmedFrames int     `yaml:"min_confirmed_frames"`
}

// RecordingConfig enables MP4 recording of rendered frames.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputPath string `yaml:"output_path"`
	FPS        int    `yaml:"fps"`
}

// VisualizationConfig controls the display sink and the HUD.
type VisualizationConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WindowName string `yaml:"window_name"`

	ShowBoxes      bool `yaml:"show_boxes"`
	ShowTrackIDs   bool `yaml:"show_track_ids"`
	ShowConfidence bool `yaml:"show_confidence"`
	ShowHud        bool `yaml:"show_hud"`

	Recording RecordingConfig `yaml:"recording"`
}

// CsvMetricsConfig enables periodic CSV append of stage metrics.
type CsvMetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputPath string `yaml:"output_path"`
}

// MonitorConfig controls the observer surfaces: the ANSI dashboard, the
// HTTP monitor, and CSV metrics.
type MonitorConfig struct {
	AnsiDashboard    bool             `yaml:"ansi_dashboard"`
	Listen           string           `yaml:"listen"`
	SampleIntervalMS int              `yaml:"sample_interval_ms"`
	MetricsCSV       CsvMetricsConfig `yaml:"metrics_csv"`
}

// StorageConfig enables the sqlite run/track store.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// Config is the root of the application configuration.
type Config struct {
	Camera        CameraConfig        `yaml:"camera"`
	Preprocess    PreprocessConfig    `yaml:"preprocess"`
	Buffering     BufferingConfig     `yaml:"buffering"`
	Inference     InferenceConfig     `yaml:"inference"`
	Tracking      TrackingConfig      `yaml:"tracking"`
	Visualization VisualizationConfig `yaml:"visualization"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Storage       StorageConfig       `yaml:"storage"`
}

// Default returns a Config fully populated with safe defaults. Loading
// overlays the file's keys on top, so partial configs are fine.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Source:      "device",
			DeviceIndex: 0,
			Width:       1280,
			Height:      720,
			FPS:         30,
		},
		Preprocess: PreprocessConfig{
			ResizeWidth:  640,
			ResizeHeight: 360,
		},
		Buffering: BufferingConfig{
			Queues: QueuesConfig{
				CameraToPreprocess:      QueueConfig{Capacity: 4, DropPolicy: DropOldest},
				PreprocessToTracking:    QueueConfig{Capacity: 4, DropPolicy: DropOldest},
				TrackingToVisualization: QueueConfig{Capacity: 4, DropPolicy: DropOldest},
			},
		},
		Inference: InferenceConfig{
			Enabled:             true,
			Backend:             "synthetic",
			TargetFPS:           10,
			ConfidenceThreshold: 0.5,
			Model: ModelConfig{
				InputWidth:  640,
				InputHeight: 360,
			},
		},
		Tracking: TrackingConfig{
			IouThreshold:       0.3,
			MaxMissedFrames:    5,
			MinConfirmedFrames: 3,
		},
		Visualization: VisualizationConfig{
			Enabled:        true,
			WindowName:     "Dashcam Perception",
			ShowBoxes:      true,
			ShowTrackIDs:   true,
			ShowConfidence: true,
			ShowHud:        true,
			Recording: RecordingConfig{
				OutputPath: "output/run.mp4",
				FPS:        30,
			},
		},
		Monitor: MonitorConfig{
			AnsiDashboard:    false,
			Listen:           "",
			SampleIntervalMS: 1000,
			MetricsCSV: CsvMetricsConfig{
				OutputPath: "logs/metrics.csv",
			},
		},
		Storage: StorageConfig{
			DBPath: "dashcam.db",
		},
	}
}

// Load reads path, overlays it on the defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse overlays YAML bytes on the defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func pathErr(path, format string, args ...interface{}) error {
	return fmt.Errorf("config error at '%s': %s", path, fmt.Sprintf(format, args...))
}

// Validate checks every recognised option and returns a path-qualified
// error for the first invalid value.
func (c *Config) Validate() error {
	switch c.Camera.Source {
	case "device", "file":
	default:
		return pathErr("camera.source", "unknown source %q. Use: device | file", c.Camera.Source)
	}
	if c.Camera.Source == "file" && c.Camera.FilePath == "" {
		return pathErr("camera.file_path", "required when camera.source is 'file'")
	}
	if c.Camera.FPS < 0 {
		return pathErr("camera.fps", "must be >= 0, got %d", c.Camera.FPS)
	}

	if c.Preprocess.ResizeWidth <= 0 {
		return pathErr("preprocess.resize_width", "must be > 0, got %d", c.Preprocess.ResizeWidth)
	}
	if c.Preprocess.ResizeHeight <= 0 {
		return pathErr("preprocess.resize_height", "must be > 0, got %d", c.Preprocess.ResizeHeight)
	}
	roi := c.Preprocess.CropRoi
	if roi.Enabled && roi.Normalized {
		for name, v := range map[string]float64{"x": roi.X, "y": roi.Y, "width": roi.Width, "height": roi.Height} {
			if v < 0 || v > 1 {
				return pathErr("preprocess.crop_roi."+name, "normalized values must be in [0,1], got %v", v)
			}
		}
	}

	queues := map[string]QueueConfig{
		"buffering.queues.camera_to_preprocess":      c.Buffering.Queues.CameraToPreprocess,
		"buffering.queues.preprocess_to_tracking":    c.Buffering.Queues.PreprocessToTracking,
		"buffering.queues.tracking_to_visualization": c.Buffering.Queues.TrackingToVisualization,
	}
	for path, q := range queues {
		if q.Capacity < 1 {
			return pathErr(path+".capacity", "must be >= 1, got %d", q.Capacity)
		}
		switch q.DropPolicy {
		case DropOldest, DropNewest:
		default:
			return pathErr(path+".drop_policy", "unknown drop_policy %q. Use: drop_oldest | drop_newest", q.DropPolicy)
		}
	}

	switch c.Inference.Backend {
	case "dnn", "synthetic":
	default:
		return pathErr("inference.backend", "unknown backend %q. Use: dnn | synthetic", c.Inference.Backend)
	}
	if ct := c.Inference.ConfidenceThreshold; ct < 0 || ct > 1 {
		return pathErr("inference.confidence_threshold", "must be in [0,1], got %v", ct)
	}
	if c.Inference.TargetFPS < 0 {
		return pathErr("inference.target_fps", "must be >= 0, got %d", c.Inference.TargetFPS)
	}
	if c.Inference.Enabled && c.Inference.Backend == "dnn" && c.Inference.Model.Path == "" {
		return pathErr("inference.model.path", "required when inference backend is 'dnn'")
	}
	if c.Inference.Model.InputWidth <= 0 || c.Inference.Model.InputHeight <= 0 {
		return pathErr("inference.model", "input_width and input_height must be > 0")
	}

	if it := c.Tracking.IouThreshold; it < 0 || it > 1 {
		return pathErr("tracking.iou_threshold", "must be in [0,1], got %v", it)
	}
	if c.Tracking.MaxMissedFrames < 0 {
		return pathErr("tracking.max_missed_frames", "must be >= 0, got %d", c.Tracking.MaxMissedFrames)
	}
	if c.Tracking.MinConfirmedFrames < 1 {
		return pathErr("tracking.min_confirmed_frames", "must be >= 1, got %d", c.Tracking.MinConfirmedFrames)
	}

	if c.Visualization.Recording.Enabled {
		if c.Visualization.Recording.OutputPath == "" {
			return pathErr("visualization.recording.output_path", "required when recording is enabled")
		}
		if c.Visualization.Recording.FPS <= 0 {
			return pathErr("visualization.recording.fps", "must be > 0, got %d", c.Visualization.Recording.FPS)
		}
	}

	if c.Monitor.SampleIntervalMS <= 0 {
		return pathErr("monitor.sample_interval_ms", "must be > 0, got %d", c.Monitor.SampleIntervalMS)
	}
	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return pathErr("storage.db_path", "required when storage is enabled")
	}

	return nil
}
