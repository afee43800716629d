package sensor

import (
	"github.com/google/uuid"

	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// SensorFrame is an enriched frame. It is immutable once constructed and
// safe to share between goroutines; newer data produces a new SensorFrame.
type SensorFrame struct {
	id                  uuid.UUID
	sensorType          SensorType
	timestamp           timeutil.UniversalTime
	relativeTime        timeutil.Ticks
	bitmap              *Bitmap
	frameToOrigin       Float4x4
	cameraViewTransform Float4x4
	intrinsics          *CameraIntrinsics
}

// FrameFields are the inputs to NewSensorFrame.
type FrameFields struct {
	// ID is generated when zero.
	ID                  uuid.UUID
	SensorType          SensorType
	Timestamp           timeutil.UniversalTime
	RelativeTime        timeutil.Ticks
	Bitmap              *Bitmap
	FrameToOrigin       Float4x4
	CameraViewTransform Float4x4
	Intrinsics          *CameraIntrinsics
}

// NewSensorFrame builds a frame from f. The bitmap is taken as-is; callers
// hand over ownership of a private copy.
func NewSensorFrame(f FrameFields) *SensorFrame {
	id := f.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &SensorFrame{
		id:                  id,
		sensorType:          f.SensorType,
		timestamp:           f.Timestamp,
		relativeTime:        f.RelativeTime,
		bitmap:              f.Bitmap,
		frameToOrigin:       f.FrameToOrigin,
		cameraViewTransform: f.CameraViewTransform,
		intrinsics:          f.Intrinsics,
	}
}

// ID uniquely identifies the frame across sinks.
func (f *SensorFrame) ID() uuid.UUID { return f.id }

// SensorType returns the producing sensor.
func (f *SensorFrame) SensorType() SensorType { return f.sensorType }

// Timestamp returns the universal exposure start time.
func (f *SensorFrame) Timestamp() timeutil.UniversalTime { return f.timestamp }

// RelativeTime returns the exposure start as reported by the device.
func (f *SensorFrame) RelativeTime() timeutil.Ticks { return f.relativeTime }

// Bitmap returns the frame's private image. It must not be modified.
func (f *SensorFrame) Bitmap() *Bitmap { return f.bitmap }

// FrameToOrigin returns the sensor-to-origin transform or ZeroFloat4x4.
func (f *SensorFrame) FrameToOrigin() Float4x4 { return f.frameToOrigin }

// CameraViewTransform returns the camera view transform or ZeroFloat4x4.
func (f *SensorFrame) CameraViewTransform() Float4x4 { return f.cameraViewTransform }

// CameraIntrinsics returns the intrinsics, or nil if the frame had none.
func (f *SensorFrame) CameraIntrinsics() *CameraIntrinsics { return f.intrinsics }

// HasPose reports whether FrameToOrigin holds a real transform.
func (f *SensorFrame) HasPose() bool { return !f.frameToOrigin.IsZero() }

// HasCameraView reports whether CameraViewTransform holds a real transform.
func (f *SensorFrame) HasCameraView() bool { return !f.cameraViewTransform.IsZero() }

// CameraToOrigin composes the inverse camera view transform with
// FrameToOrigin, mapping camera-space points to the origin. It returns
// ZeroFloat4x4 if either transform is missing or the view is singular.
func (f *SensorFrame) CameraToOrigin() Float4x4 {
	if !f.HasPose() || !f.HasCameraView() {
		return ZeroFloat4x4
	}
	viewInverse, ok := f.cameraViewTransform.Inverse()
	if !ok {
		return ZeroFloat4x4
	}
	return viewInverse.Mul(f.frameToOrigin)
}
