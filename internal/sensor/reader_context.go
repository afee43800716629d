package sensor

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// visibleLightWidthFactor converts a packed visible-light bitmap width into
// the width its intrinsics were calibrated against.
const visibleLightWidthFactor = 4

// ReaderContextConfig configures a ReaderContext.
type ReaderContextConfig struct {
	SensorType SensorType

	// Converter maps device-relative exposure ticks to universal time.
	Converter timeutil.TimeConverter

	// Spatial resolves poses. With a nil tracker every frame carries the
	// zero frame-to-origin sentinel.
	Spatial SpatialPerception

	// Sink receives every enriched frame. Nil means cache-only.
	Sink Sink

	// IntrinsicsKey overrides PropertyCameraIntrinsics.
	IntrinsicsKey uuid.UUID
}

// ReaderStats is a snapshot of a ReaderContext's counters.
type ReaderStats struct {
	Arrived        uint64 `json:"arrived"`
	Enriched       uint64 `json:"enriched"`
	Dropped        uint64 `json:"dropped"`
	PoseFailures   uint64 `json:"pose_failures"`
	OriginMisses   uint64 `json:"origin_misses"`
	ViewMisses     uint64 `json:"view_misses"`
	MalformedViews uint64 `json:"malformed_views"`
}

// ReaderContext enriches the frames of one sensor stream and keeps the
// latest one. Enrich runs on the reader's delivery goroutine;
// GetLatestSensorFrame may be called from any goroutine.
type ReaderContext struct {
	sensorType    SensorType
	converter     timeutil.TimeConverter
	spatial       SpatialPerception
	sink          Sink
	intrinsicsKey uuid.UUID

	latest LatestFrameSlot

	arrived        atomic.Uint64
	enriched       atomic.Uint64
	dropped        atomic.Uint64
	poseFailures   atomic.Uint64
	originMisses   atomic.Uint64
	viewMisses     atomic.Uint64
	malformedViews atomic.Uint64
}

// NewReaderContext creates a ReaderContext. It panics if cfg.SensorType is
// not a known sensor type.
func NewReaderContext(cfg ReaderContextConfig) *ReaderContext {
	if !cfg.SensorType.Valid() {
		panic(fmt.Sprintf("sensor: invalid sensor type %d", int32(cfg.SensorType)))
	}
	key := cfg.IntrinsicsKey
	if key == uuid.Nil {
		key = PropertyCameraIntrinsics
	}
	return &ReaderContext{
		sensorType:    cfg.SensorType,
		converter:     cfg.Converter,
		spatial:       cfg.Spatial,
		sink:          cfg.Sink,
		intrinsicsKey: key,
	}
}

// SensorType returns the stream's sensor type.
func (rc *ReaderContext) SensorType() SensorType { return rc.sensorType }

// Attach registers FrameArrived as the reader's arrival callback.
func (rc *ReaderContext) Attach(r FrameReader) {
	r.RegisterCallback(rc.FrameArrived)
}

// GetLatestSensorFrame returns the most recent enriched frame, or nil
// before the first one.
func (rc *ReaderContext) GetLatestSensorFrame() *SensorFrame {
	return rc.latest.Get()
}

// FrameArrived handles one arrival notification.
func (rc *ReaderContext) FrameArrived(src FrameSource) {
	rc.Enrich(src.TryAcquireLatestFrame())
}

// Enrich turns raw into a SensorFrame, sends it to the sink and publishes
// it as the latest frame. It returns false, touching neither sink nor
// cache, when raw has no image to enrich.
func (rc *ReaderContext) Enrich(raw *RawFrame) (*SensorFrame, bool) {
	rc.arrived.Add(1)

	switch {
	case raw == nil:
		rc.dropf("frame is nil")
		return nil, false
	case raw.VideoMediaFrame == nil:
		rc.dropf("frame.VideoMediaFrame is nil")
		return nil, false
	case raw.VideoMediaFrame.Bitmap == nil:
		rc.dropf("frame.VideoMediaFrame.Bitmap is nil")
		return nil, false
	}

	Tracef("FrameArrived: sensor=%s (%d), timestamp=%d (relative)",
		rc.sensorType, int32(rc.sensorType), int64(raw.SystemRelativeTime))

	timestamp := rc.converter.RelativeToAbsolute(raw.SystemRelativeTime)
	pose := rc.resolvePose(timestamp)

	// The reader recycles its bitmaps; keep a private copy.
	bitmap := raw.VideoMediaFrame.Bitmap.Copy()

	frame := NewSensorFrame(FrameFields{
		SensorType:          rc.sensorType,
		Timestamp:           timestamp,
		RelativeTime:        raw.SystemRelativeTime,
		Bitmap:              bitmap,
		FrameToOrigin:       rc.frameToOrigin(raw.Properties, pose),
		CameraViewTransform: rc.cameraViewTransform(raw.Properties),
		Intrinsics:          rc.cameraIntrinsics(raw.Properties, bitmap),
	})

	if rc.sink != nil {
		rc.sink.Send(frame)
	}
	rc.latest.Set(frame)
	rc.enriched.Add(1)

	return frame, true
}

// Stats returns the current counters.
func (rc *ReaderContext) Stats() ReaderStats {
	return ReaderStats{
		Arrived:        rc.arrived.Load(),
		Enriched:       rc.enriched.Load(),
		Dropped:        rc.dropped.Load(),
		PoseFailures:   rc.poseFailures.Load(),
		OriginMisses:   rc.originMisses.Load(),
		ViewMisses:     rc.viewMisses.Load(),
		MalformedViews: rc.malformedViews.Load(),
	}
}

func (rc *ReaderContext) dropf(reason string) {
	rc.dropped.Add(1)
	Tracef("FrameArrived: sensor=%s (%d), %s", rc.sensorType, int32(rc.sensorType), reason)
}

// resolvePose returns nil when the tracker cannot place the timestamp; the
// frame is still produced with sentinel transforms.
func (rc *ReaderContext) resolvePose(t timeutil.UniversalTime) PoseContext {
	if rc.spatial == nil {
		return nil
	}
	pose, err := rc.spatial.PoseAt(t)
	if err != nil {
		rc.poseFailures.Add(1)
		Diagf("FrameArrived: sensor=%s, PoseAt(%d) failed: %v", rc.sensorType, int64(t), err)
		return nil
	}
	return pose
}

func (rc *ReaderContext) frameToOrigin(props Properties, pose PoseContext) Float4x4 {
	if pose == nil {
		rc.originMisses.Add(1)
		return ZeroFloat4x4
	}
	v, ok := props.Lookup(PropertyCameraCoordinateSystem)
	if !ok {
		rc.originMisses.Add(1)
		return ZeroFloat4x4
	}
	cs, ok := v.(CoordinateSystem)
	if !ok || isNilHandle(cs) {
		rc.originMisses.Add(1)
		return ZeroFloat4x4
	}
	origin := rc.spatial.OriginCoordinateSystem()
	if isNilHandle(origin) {
		rc.originMisses.Add(1)
		return ZeroFloat4x4
	}
	m, ok := cs.TryGetTransformTo(origin, pose)
	if !ok {
		rc.originMisses.Add(1)
		return ZeroFloat4x4
	}
	if traceEnabled() {
		Tracef("frameToOrigin=%s", m)
	}
	return m
}

func (rc *ReaderContext) cameraViewTransform(props Properties) Float4x4 {
	v, ok := props.Lookup(PropertyCameraViewTransform)
	if !ok {
		rc.viewMisses.Add(1)
		return ZeroFloat4x4
	}
	blob, ok := v.([]byte)
	if !ok {
		rc.malformedViews.Add(1)
		Diagf("FrameArrived: sensor=%s, camera view transform has type %T, ignoring", rc.sensorType, v)
		return ZeroFloat4x4
	}
	m, ok := DecodeFloat4x4(blob)
	if !ok {
		rc.malformedViews.Add(1)
		Diagf("FrameArrived: sensor=%s, camera view transform is %d bytes, want %d",
			rc.sensorType, len(blob), Float4x4Size)
		return ZeroFloat4x4
	}
	if traceEnabled() {
		Tracef("cameraViewTransform=%s", m)
	}
	return m
}

func (rc *ReaderContext) cameraIntrinsics(props Properties, bitmap *Bitmap) *CameraIntrinsics {
	v, ok := props.Lookup(rc.intrinsicsKey)
	if !ok {
		return nil
	}
	h, ok := v.(IntrinsicsHandle)
	if !ok || h == nil {
		Diagf("FrameArrived: sensor=%s, intrinsics property has type %T, ignoring", rc.sensorType, v)
		return nil
	}

	width := bitmap.Width
	if rc.sensorType.IsVisibleLight() {
		width *= visibleLightWidthFactor
	}
	return NewCameraIntrinsics(h, width, bitmap.Height)
}

// isNilHandle reports whether h is nil, including a nil pointer stored in a
// non-nil interface.
func isNilHandle(h any) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
