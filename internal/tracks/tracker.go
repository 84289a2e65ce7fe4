// Package tracks maintains persistent object hypotheses by greedy
// max-IoU association between possibly-stale detections and the live
// track set, and emits a per-frame world state on the fast stream.
package tracks

import (
	"sync"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
)

// Config is the tracker policy surface.
type Config struct {
	// IouThreshold is the minimum overlap for a detection to update an
	// existing track rather than spawn a new one.
	IouThreshold float32
	// MaxMissedFrames evicts a track once its consecutive misses exceed it.
	MaxMissedFrames int
	// MinConfirmedFrames is the age at which a track becomes confirmed.
	MinConfirmedFrames int
}

// ConfigFromApp converts the loaded app config group.
func ConfigFromApp(cfg config.TrackingConfig) Config {
	return Config{
		IouThreshold:       float32(cfg.IouThreshold),
		MaxMissedFrames:    cfg.MaxMissedFrames,
		MinConfirmedFrames: cfg.MinConfirmedFrames,
	}
}

// Tracker holds the live track set. It is safe for concurrent use; the
// tracking stage steps it per frame while config reloads may retune it.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	tracks []core.Track
	nextID uint64
}

// NewTracker returns an empty tracker. Track ids start at 1 and are
// never reused within a run.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, nextID: 1}
}

// SetConfig applies new tuning. Takes effect on the next Step; existing
// tracks are kept (a lowered MaxMissedFrames evicts stale ones then).
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
}

// Config returns the current tuning.
func (t *Tracker) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Step advances the tracker by one frame. dets may be nil (no detections
// yet) or stale (from an older frame); tracks age and are evicted either
// way. The returned slice is a copy of the live track set.
//
// Association is greedy max-IoU restricted to equal class ids:
// detections are processed in list order; each claims at most one track
// and each track is claimed at most once per step. Detection boxes are
// mapped to raw-pixel coordinates before comparison, so IoU is computed
// in the same space the tracks live in.
func (t *Tracker) Step(frameID uint64, dets *core.Detections) []core.Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Age step: every track tentatively missed until matched below.
	for i := range t.tracks {
		t.tracks[i].AgeFrames++
		t.tracks[i].MissedFrames++
	}

	if dets != nil {
		used := make([]bool, len(t.tracks))

		for _, det := range dets.Items {
			raw := dets.PreprocessInfo.MapToRaw(det.BBox)

			bestIdx := -1
			var bestIoU float32
			for i := range t.tracks {
				if used[i] || t.tracks[i].ClassID != det.ClassID {
					continue
				}
				// Ties keep the first track encountered.
				if iou := core.IoU(t.tracks[i].BBox, raw); iou > bestIoU {
					bestIoU = iou
					bestIdx = i
				}
			}

			if bestIdx >= 0 && bestIoU >= t.cfg.IouThreshold {
				tr := &t.tracks[bestIdx]
				tr.BBox = raw
				tr.Confidence = det.Confidence
				tr.ClassID = det.ClassID
				tr.LastUpdateFrameID = frameID
				tr.MissedFrames = 0
				tr.Confirmed = tr.AgeFrames >= t.cfg.MinConfirmedFrames
				used[bestIdx] = true
			} else {
				t.tracks = append(t.tracks, core.Track{
					ID:                t.nextID,
					BBox:              raw,
					ClassID:           det.ClassID,
					Confidence:        det.Confidence,
					LastUpdateFrameID: frameID,
					AgeFrames:         1,
					MissedFrames:      0,
					Confirmed:         t.cfg.MinConfirmedFrames <= 1,
				})
				t.nextID++
				used = append(used, true)
			}
		}
	}

	// Eviction step.
	live := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.MissedFrames <= t.cfg.MaxMissedFrames {
			live = append(live, tr)
		}
	}
	t.tracks = live

	out := make([]core.Track, len(t.tracks))
	copy(out, t.tracks)
	return out
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
