package monitor

import (
	"time"

	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// frameView is the JSON form of an enriched frame. Unknown transforms are
// omitted rather than sent as zero matrices.
type frameView struct {
	ID               string                 `json:"id"`
	Sensor           string                 `json:"sensor"`
	Timestamp        timeutil.UniversalTime `json:"timestamp_ticks"`
	Time             time.Time              `json:"time"`
	RelativeTime     timeutil.Ticks         `json:"relative_ticks"`
	Width            int                    `json:"width,omitempty"`
	Height           int                    `json:"height,omitempty"`
	PixelFormat      string                 `json:"pixel_format,omitempty"`
	FrameToOrigin    *sensor.Float4x4       `json:"frame_to_origin,omitempty"`
	CameraView       *sensor.Float4x4       `json:"camera_view,omitempty"`
	CameraToOrigin   *sensor.Float4x4       `json:"camera_to_origin,omitempty"`
	IntrinsicsWidth  int                    `json:"intrinsics_width,omitempty"`
	IntrinsicsHeight int                    `json:"intrinsics_height,omitempty"`
}

func newFrameView(f *sensor.SensorFrame) frameView {
	v := frameView{
		ID:           f.ID().String(),
		Sensor:       f.SensorType().String(),
		Timestamp:    f.Timestamp(),
		Time:         f.Timestamp().Time(),
		RelativeTime: f.RelativeTime(),
	}
	if bm := f.Bitmap(); bm != nil {
		v.Width = bm.Width
		v.Height = bm.Height
		v.PixelFormat = bm.Format.String()
	}
	if f.HasPose() {
		m := f.FrameToOrigin()
		v.FrameToOrigin = &m
	}
	if f.HasCameraView() {
		m := f.CameraViewTransform()
		v.CameraView = &m
	}
	if c2o := f.CameraToOrigin(); !c2o.IsZero() {
		v.CameraToOrigin = &c2o
	}
	if ci := f.CameraIntrinsics(); ci != nil {
		v.IntrinsicsWidth = ci.ImageWidth()
		v.IntrinsicsHeight = ci.ImageHeight()
	}
	return v
}
