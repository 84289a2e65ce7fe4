package core

import "time"

// Track is a persistent object hypothesis maintained by the tracker.
// Box coordinates are raw-image pixels.
type Track struct {
	ID         uint64
	BBox       BBox
	ClassID    int
	Confidence float32

	LastUpdateFrameID uint64
	AgeFrames         int
	MissedFrames      int
	Confirmed         bool
}

// WorldState is the tracker output for one frame. The detection
// provenance fields report staleness: DetectionsSourceFrameID is 0 when
// no detections have arrived yet, and otherwise refers to a frame no
// newer than FrameID.
type WorldState struct {
	FrameID   uint64
	Timestamp time.Time
	Tracks    []Track

	DetectionsSourceFrameID uint64
	DetectionsInferenceTime time.Time
}

// RenderFrame pairs a raw frame with the world state aligned to it,
// delivered to the visualization sink.
type RenderFrame struct {
	Frame Frame
	World WorldState
}

// Release closes the render frame's image buffer.
func (rf *RenderFrame) Release() {
	rf.Frame.Release()
}
