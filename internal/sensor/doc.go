// Package sensor owns per-frame enrichment for head-mounted device sensor
// streams.
//
// Responsibilities: turning a raw frame delivered by a frame reader into an
// immutable SensorFrame (universal timestamp, frame-to-origin pose, camera
// view transform, intrinsics, private image copy), handing it to a Sink,
// and keeping the latest frame available to any goroutine.
// Key types: ReaderContext, SensorFrame, LatestFrameSlot, Float4x4.
//
// The frame reader, the spatial tracker and the consumers are external
// collaborators reached only through the interfaces declared here.
package sensor
