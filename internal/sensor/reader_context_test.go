package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/banshee-data/sensorframe/internal/timeutil"
)

type fakePose struct{ t timeutil.UniversalTime }

func (p fakePose) Timestamp() timeutil.UniversalTime { return p.t }

type fakeCoordinateSystem struct {
	name      string
	transform Float4x4
	ok        bool
	queriedAt []timeutil.UniversalTime
}

func (c *fakeCoordinateSystem) TryGetTransformTo(target CoordinateSystem, at PoseContext) (Float4x4, bool) {
	c.queriedAt = append(c.queriedAt, at.Timestamp())
	return c.transform, c.ok
}

type fakeSpatial struct {
	origin  CoordinateSystem
	err     error
	queries []timeutil.UniversalTime
}

func (s *fakeSpatial) PoseAt(t timeutil.UniversalTime) (PoseContext, error) {
	s.queries = append(s.queries, t)
	if s.err != nil {
		return nil, s.err
	}
	return fakePose{t: t}, nil
}

func (s *fakeSpatial) OriginCoordinateSystem() CoordinateSystem { return s.origin }

type recordingSink struct {
	mu     sync.Mutex
	frames []*SensorFrame
}

func (r *recordingSink) Send(f *SensorFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recordingSink) sent() []*SensorFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*SensorFrame(nil), r.frames...)
}

type stubIntrinsics struct{}

func (stubIntrinsics) MapImagePointToCameraUnitPlane(x, y float32) (float32, float32, bool) {
	return x, y, true
}

func (stubIntrinsics) MapCameraSpaceToImagePoint(x, y, z float32) (float32, float32, bool) {
	return x, y, true
}

type staticSource struct{ frame *RawFrame }

func (s staticSource) TryAcquireLatestFrame() *RawFrame { return s.frame }

var poseTransform = Float4x4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0.5, 1.5, -2, 1,
}

var viewTransform = Float4x4{
	1, 0, 0, 0,
	0, -1, 0, 0,
	0, 0, -1, 0,
	0.1, 0, 0, 1,
}

// fullRawFrame returns a frame carrying every recognised side channel.
func fullRawFrame(relative timeutil.Ticks, width, height int) *RawFrame {
	bitmap := NewBitmap(PixelFormatGray8, width, height)
	for i := range bitmap.Pix {
		bitmap.Pix[i] = byte(i)
	}
	return &RawFrame{
		SystemRelativeTime: relative,
		VideoMediaFrame:    &VideoMediaFrame{Bitmap: bitmap},
		Properties: Properties{
			PropertyCameraCoordinateSystem: &fakeCoordinateSystem{name: "camera", transform: poseTransform, ok: true},
			PropertyCameraViewTransform:    viewTransform.Encode(),
			PropertyCameraIntrinsics:       stubIntrinsics{},
		},
	}
}

func newTestContext(st SensorType, spatial SpatialPerception, sink Sink) *ReaderContext {
	return NewReaderContext(ReaderContextConfig{
		SensorType: st,
		Converter:  timeutil.NewTimeConverter(50_000_000),
		Spatial:    spatial,
		Sink:       sink,
	})
}

func TestEnrich_FullFrame(t *testing.T) {
	spatial := &fakeSpatial{origin: &fakeCoordinateSystem{name: "origin"}}
	sink := &recordingSink{}
	rc := newTestContext(LongThrowToFDepth, spatial, sink)

	raw := fullRawFrame(1_000_000, 8, 4)
	frame, ok := rc.Enrich(raw)
	if !ok {
		t.Fatal("Enrich rejected a complete frame")
	}

	// 1,000,000 relative ticks + 50,000,000 offset.
	if frame.Timestamp() != 51_000_000 {
		t.Errorf("Timestamp() = %d, want 51000000", frame.Timestamp())
	}
	if frame.RelativeTime() != 1_000_000 {
		t.Errorf("RelativeTime() = %d, want 1000000", frame.RelativeTime())
	}
	if diff := cmp.Diff([]timeutil.UniversalTime{51_000_000}, spatial.queries); diff != "" {
		t.Errorf("PoseAt queries mismatch (-want +got):\n%s", diff)
	}
	if frame.FrameToOrigin() != poseTransform {
		t.Errorf("FrameToOrigin() = %v, want %v", frame.FrameToOrigin(), poseTransform)
	}
	if frame.CameraViewTransform() != viewTransform {
		t.Errorf("CameraViewTransform() = %v, want %v", frame.CameraViewTransform(), viewTransform)
	}
	if frame.SensorType() != LongThrowToFDepth {
		t.Errorf("SensorType() = %v", frame.SensorType())
	}

	ci := frame.CameraIntrinsics()
	if ci == nil {
		t.Fatal("CameraIntrinsics() = nil with intrinsics key present")
	}
	if ci.ImageWidth() != 8 || ci.ImageHeight() != 4 {
		t.Errorf("intrinsics size = %dx%d, want 8x4", ci.ImageWidth(), ci.ImageHeight())
	}

	cs := raw.Properties[PropertyCameraCoordinateSystem].(*fakeCoordinateSystem)
	if diff := cmp.Diff([]timeutil.UniversalTime{51_000_000}, cs.queriedAt); diff != "" {
		t.Errorf("transform resolved at wrong pose (-want +got):\n%s", diff)
	}
}

func TestEnrich_DeepCopiesBitmap(t *testing.T) {
	rc := newTestContext(PhotoVideo, &fakeSpatial{origin: &fakeCoordinateSystem{}}, nil)
	raw := fullRawFrame(10, 4, 4)

	frame, ok := rc.Enrich(raw)
	if !ok {
		t.Fatal("Enrich failed")
	}

	// Simulate the reader recycling its buffer.
	for i := range raw.VideoMediaFrame.Bitmap.Pix {
		raw.VideoMediaFrame.Bitmap.Pix[i] = 0xee
	}

	for i, v := range frame.Bitmap().Pix {
		if v != byte(i) {
			t.Fatalf("frame pixel %d = %#x after source reuse, want %#x", i, v, byte(i))
		}
	}
}

// No coordinate system key means a zero frame-to-origin.
func TestEnrich_MissingCoordinateSystemYieldsZeroSentinel(t *testing.T) {
	rc := newTestContext(ShortThrowToFDepth, &fakeSpatial{origin: &fakeCoordinateSystem{}}, nil)

	for i := 0; i < 3; i++ {
		raw := fullRawFrame(timeutil.Ticks(i), 2, 2)
		delete(raw.Properties, PropertyCameraCoordinateSystem)

		frame, ok := rc.Enrich(raw)
		if !ok {
			t.Fatal("Enrich failed")
		}
		if !frame.FrameToOrigin().IsZero() || frame.HasPose() {
			t.Errorf("FrameToOrigin() = %v, want zero sentinel", frame.FrameToOrigin())
		}
	}
}

func TestEnrich_FrameToOriginFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"transform unavailable", &fakeCoordinateSystem{transform: poseTransform, ok: false}},
		{"wrong handle type", "not a coordinate system"},
		{"nil handle", nil},
		{"nil pointer handle", (*fakeCoordinateSystem)(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := newTestContext(PhotoVideo, &fakeSpatial{origin: &fakeCoordinateSystem{}}, nil)
			raw := fullRawFrame(1, 2, 2)
			raw.Properties[PropertyCameraCoordinateSystem] = tt.value

			frame, ok := rc.Enrich(raw)
			if !ok {
				t.Fatal("Enrich failed")
			}
			if !frame.FrameToOrigin().IsZero() {
				t.Errorf("FrameToOrigin() = %v, want zero sentinel", frame.FrameToOrigin())
			}
			if rc.Stats().OriginMisses != 1 {
				t.Errorf("OriginMisses = %d, want 1", rc.Stats().OriginMisses)
			}
		})
	}
}

func TestEnrich_NilPointerOriginIsAMiss(t *testing.T) {
	rc := newTestContext(PhotoVideo, &fakeSpatial{origin: (*fakeCoordinateSystem)(nil)}, nil)

	frame, ok := rc.Enrich(fullRawFrame(1, 2, 2))
	if !ok {
		t.Fatal("Enrich failed")
	}
	if frame.HasPose() {
		t.Errorf("FrameToOrigin() = %v, want zero sentinel", frame.FrameToOrigin())
	}
	if rc.Stats().OriginMisses != 1 {
		t.Errorf("OriginMisses = %d, want 1", rc.Stats().OriginMisses)
	}
}

// No camera view key means a zero view; everything else is populated.
func TestEnrich_MissingCameraViewKey(t *testing.T) {
	rc := newTestContext(PhotoVideo, &fakeSpatial{origin: &fakeCoordinateSystem{}}, nil)
	raw := fullRawFrame(1_000_000, 4, 2)
	delete(raw.Properties, PropertyCameraViewTransform)

	frame, ok := rc.Enrich(raw)
	if !ok {
		t.Fatal("Enrich failed")
	}
	if !frame.CameraViewTransform().IsZero() || frame.HasCameraView() {
		t.Errorf("CameraViewTransform() = %v, want zero sentinel", frame.CameraViewTransform())
	}
	if frame.FrameToOrigin() != poseTransform {
		t.Errorf("FrameToOrigin() = %v, want %v", frame.FrameToOrigin(), poseTransform)
	}
	if frame.CameraIntrinsics() == nil || frame.Bitmap() == nil {
		t.Error("intrinsics or bitmap missing")
	}
	if frame.Timestamp() != 51_000_000 {
		t.Errorf("Timestamp() = %d", frame.Timestamp())
	}
	if !frame.CameraToOrigin().IsZero() {
		t.Error("CameraToOrigin() should be zero without a view transform")
	}
}

func TestEnrich_MalformedCameraViewBlob(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"short blob", make([]byte, 32)},
		{"long blob", make([]byte, 65)},
		{"empty blob", []byte{}},
		{"wrong type", [16]float32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := newTestContext(PhotoVideo, &fakeSpatial{origin: &fakeCoordinateSystem{}}, nil)
			raw := fullRawFrame(1, 2, 2)
			raw.Properties[PropertyCameraViewTransform] = tt.value

			frame, ok := rc.Enrich(raw)
			if !ok {
				t.Fatal("Enrich failed")
			}
			if !frame.CameraViewTransform().IsZero() {
				t.Errorf("CameraViewTransform() = %v, want zero sentinel", frame.CameraViewTransform())
			}
			if rc.Stats().MalformedViews != 1 {
				t.Errorf("MalformedViews = %d, want 1", rc.Stats().MalformedViews)
			}
		})
	}
}

// Visible-light intrinsics are keyed by four times the bitmap width.
func TestEnrich_EffectiveIntrinsicsWidth(t *testing.T) {
	for _, st := range SensorTypes() {
		t.Run(st.String(), func(t *testing.T) {
			rc := newTestContext(st, &fakeSpatial{origin: &fakeCoordinateSystem{}}, nil)
			frame, ok := rc.Enrich(fullRawFrame(1, 640, 480))
			if !ok {
				t.Fatal("Enrich failed")
			}

			want := 640
			if st.IsVisibleLight() {
				want = 2560
			}
			ci := frame.CameraIntrinsics()
			if ci.ImageWidth() != want {
				t.Errorf("ImageWidth() = %d, want %d", ci.ImageWidth(), want)
			}
			if ci.ImageHeight() != 480 {
				t.Errorf("ImageHeight() = %d, want 480", ci.ImageHeight())
			}
			if frame.Bitmap().Width != 640 {
				t.Errorf("bitmap width = %d, want 640 (unchanged)", frame.Bitmap().Width)
			}
		})
	}
}

func TestEnrich_IntrinsicsAbsent(t *testing.T) {
	rc := newTestContext(VisibleLightLeftFront, &fakeSpatial{origin: &fakeCoordinateSystem{}}, nil)
	raw := fullRawFrame(1, 640, 480)
	delete(raw.Properties, PropertyCameraIntrinsics)

	frame, ok := rc.Enrich(raw)
	if !ok {
		t.Fatal("Enrich failed")
	}
	if frame.CameraIntrinsics() != nil {
		t.Errorf("CameraIntrinsics() = %v, want nil", frame.CameraIntrinsics())
	}
}

func TestEnrich_CustomIntrinsicsKey(t *testing.T) {
	key := uuid.New()
	rc := NewReaderContext(ReaderContextConfig{
		SensorType:    PhotoVideo,
		IntrinsicsKey: key,
	})
	raw := fullRawFrame(1, 10, 10)
	delete(raw.Properties, PropertyCameraIntrinsics)
	raw.Properties[key] = stubIntrinsics{}

	frame, ok := rc.Enrich(raw)
	if !ok {
		t.Fatal("Enrich failed")
	}
	if frame.CameraIntrinsics() == nil {
		t.Error("intrinsics not read from configured key")
	}
}

// Aborted enrichment leaves the cache and sink untouched.
func TestEnrich_AbortLeavesCacheUntouched(t *testing.T) {
	sink := &recordingSink{}
	rc := newTestContext(PhotoVideo, &fakeSpatial{origin: &fakeCoordinateSystem{}}, sink)

	if rc.GetLatestSensorFrame() != nil {
		t.Fatal("cache should start empty")
	}

	first, ok := rc.Enrich(fullRawFrame(1, 2, 2))
	if !ok {
		t.Fatal("Enrich failed")
	}

	aborts := []*RawFrame{
		nil,
		{SystemRelativeTime: 2},
		{SystemRelativeTime: 3, VideoMediaFrame: &VideoMediaFrame{}},
	}
	for _, raw := range aborts {
		frame, ok := rc.Enrich(raw)
		if ok || frame != nil {
			t.Errorf("Enrich(%+v) = (%v, %v), want (nil, false)", raw, frame, ok)
		}
		if got := rc.GetLatestSensorFrame(); got != first {
			t.Errorf("cache changed after aborted enrichment")
		}
	}

	if n := len(sink.sent()); n != 1 {
		t.Errorf("sink received %d frames, want 1", n)
	}

	stats := rc.Stats()
	if stats.Arrived != 4 || stats.Enriched != 1 || stats.Dropped != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

// The sink and the cache see the same instance, the sink exactly once.
func TestEnrich_SinkAndCacheShareFrame(t *testing.T) {
	sink := &recordingSink{}
	rc := newTestContext(PhotoVideo, &fakeSpatial{origin: &fakeCoordinateSystem{}}, sink)

	frame, ok := rc.Enrich(fullRawFrame(5, 2, 2))
	if !ok {
		t.Fatal("Enrich failed")
	}

	sent := sink.sent()
	if len(sent) != 1 {
		t.Fatalf("sink received %d frames, want 1", len(sent))
	}
	if sent[0] != frame {
		t.Error("sink received a different instance than Enrich returned")
	}
	if rc.GetLatestSensorFrame() != frame {
		t.Error("cache holds a different instance than Enrich returned")
	}
}

// A pose failure still produces, sends and caches the frame.
func TestEnrich_PoseFailureDegrades(t *testing.T) {
	spatial := &fakeSpatial{
		origin: &fakeCoordinateSystem{},
		err:    errors.New("timestamp outside tracked history"),
	}
	sink := &recordingSink{}
	rc := newTestContext(VisibleLightRightRight, spatial, sink)

	raw := fullRawFrame(1_000_000, 16, 8)
	frame, ok := rc.Enrich(raw)
	if !ok {
		t.Fatal("Enrich aborted on pose failure")
	}
	if !frame.FrameToOrigin().IsZero() {
		t.Errorf("FrameToOrigin() = %v, want zero sentinel", frame.FrameToOrigin())
	}
	if frame.CameraViewTransform() != viewTransform {
		t.Error("camera view should not depend on the pose")
	}
	if frame.CameraIntrinsics().ImageWidth() != 64 {
		t.Errorf("ImageWidth() = %d, want 64", frame.CameraIntrinsics().ImageWidth())
	}
	if len(sink.sent()) != 1 {
		t.Errorf("sink received %d frames, want 1", len(sink.sent()))
	}
	if rc.GetLatestSensorFrame() != frame {
		t.Error("cache not updated after pose failure")
	}
	if rc.Stats().PoseFailures != 1 {
		t.Errorf("PoseFailures = %d, want 1", rc.Stats().PoseFailures)
	}

	cs := raw.Properties[PropertyCameraCoordinateSystem].(*fakeCoordinateSystem)
	if len(cs.queriedAt) != 0 {
		t.Error("transform queried without a pose context")
	}
}

func TestEnrich_NoTrackerConfigured(t *testing.T) {
	rc := newTestContext(PhotoVideo, nil, nil)
	frame, ok := rc.Enrich(fullRawFrame(1, 2, 2))
	if !ok {
		t.Fatal("Enrich failed")
	}
	if frame.HasPose() {
		t.Error("frame has a pose without a tracker")
	}
}

func TestFrameArrived_AcquiresFromSource(t *testing.T) {
	sink := &recordingSink{}
	rc := newTestContext(PhotoVideo, &fakeSpatial{origin: &fakeCoordinateSystem{}}, sink)

	rc.FrameArrived(staticSource{frame: nil})
	if rc.GetLatestSensorFrame() != nil {
		t.Error("nil acquisition updated the cache")
	}

	rc.FrameArrived(staticSource{frame: fullRawFrame(9, 2, 2)})
	latest := rc.GetLatestSensorFrame()
	if latest == nil || latest.RelativeTime() != 9 {
		t.Errorf("latest frame = %v, want relative time 9", latest)
	}
}

type callbackReader struct {
	fn func(FrameSource)
}

func (r *callbackReader) RegisterCallback(fn func(FrameSource)) { r.fn = fn }
func (r *callbackReader) Start(ctx context.Context) error       { return nil }
func (r *callbackReader) Stop() error                           { return nil }

func TestAttach_RegistersFrameArrived(t *testing.T) {
	rc := newTestContext(PhotoVideo, nil, nil)
	reader := &callbackReader{}
	rc.Attach(reader)

	if reader.fn == nil {
		t.Fatal("Attach did not register a callback")
	}
	reader.fn(staticSource{frame: fullRawFrame(3, 1, 1)})
	if rc.GetLatestSensorFrame() == nil {
		t.Error("callback did not enrich the frame")
	}
}

func TestNewReaderContext_PanicsOnInvalidSensorType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid sensor type")
		}
	}()
	NewReaderContext(ReaderContextConfig{SensorType: SensorType(99)})
}

func TestSensorFrame_CameraToOrigin(t *testing.T) {
	frame := NewSensorFrame(FrameFields{
		FrameToOrigin:       poseTransform,
		CameraViewTransform: viewTransform,
	})

	c2o := frame.CameraToOrigin()
	if c2o.IsZero() {
		t.Fatal("CameraToOrigin() is zero with both transforms present")
	}

	// The frame's own origin, seen from the camera, lands on the frame's
	// position in the world.
	cx, cy, cz := viewTransform.TransformPoint(0, 0, 0)
	x, y, z := c2o.TransformPoint(cx, cy, cz)
	wx, wy, wz := poseTransform.Translation()
	if !approxEqual(Float4x4{x, y, z}, Float4x4{wx, wy, wz}, 1e-5) {
		t.Errorf("camera origin maps to (%f, %f, %f), want (%f, %f, %f)", x, y, z, wx, wy, wz)
	}

	if NewSensorFrame(FrameFields{}).ID() == NewSensorFrame(FrameFields{}).ID() {
		t.Error("frames share an ID")
	}
}
