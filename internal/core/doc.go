// Package core defines the data model shared by all pipeline stages:
// frames, preprocessed frames, detections, tracks, and the per-frame
// world state handed to visualization.
//
// Values flowing between stages are read-only after emission. Image
// buffers are gocv Mats with shared, reference-counted pixel ownership;
// cloning a Frame clones the handle, not the pixels.
package core
