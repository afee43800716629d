package sensor

import (
	"context"

	"github.com/google/uuid"

	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// Side-channel property keys attached to frames by the capture pipeline.
var (
	// PropertyCameraCoordinateSystem holds a CoordinateSystem for the camera
	// at exposure time.
	PropertyCameraCoordinateSystem = uuid.MustParse("9d13c82f-2199-4e67-91cd-d1a4181f2534")

	// PropertyCameraViewTransform holds a 64-byte float4x4 blob.
	PropertyCameraViewTransform = uuid.MustParse("4e251fa4-830f-4770-859a-4b8d99aa809b")

	// PropertyCameraIntrinsics holds an IntrinsicsHandle. Readers that use a
	// different key configure it on the ReaderContext.
	PropertyCameraIntrinsics = uuid.NewSHA1(uuid.NameSpaceOID, []byte("sensorstreaming.camera-intrinsics"))
)

// Properties is a frame's side-channel metadata.
type Properties map[uuid.UUID]any

// Lookup returns the value stored under key.
func (p Properties) Lookup(key uuid.UUID) (any, bool) {
	v, ok := p[key]
	return v, ok
}

// HasKey reports whether key is present.
func (p Properties) HasKey(key uuid.UUID) bool {
	_, ok := p[key]
	return ok
}

// VideoMediaFrame is the video payload of a raw frame.
type VideoMediaFrame struct {
	// Bitmap may be recycled by the reader once the next frame is acquired.
	Bitmap *Bitmap
}

// RawFrame is a frame reference handed out by a frame reader.
type RawFrame struct {
	// SystemRelativeTime is the exposure start relative to the device epoch.
	SystemRelativeTime timeutil.Ticks

	// VideoMediaFrame is nil when the frame carries no decodable video.
	VideoMediaFrame *VideoMediaFrame

	Properties Properties
}

// FrameSource is what an arrival notification carries.
type FrameSource interface {
	// TryAcquireLatestFrame returns the newest frame not yet acquired, or nil
	// if there is none or the reader is not started.
	TryAcquireLatestFrame() *RawFrame
}

// FrameReader delivers arrival notifications on its own goroutine.
type FrameReader interface {
	RegisterCallback(fn func(FrameSource))
	Start(ctx context.Context) error
	Stop() error
}
