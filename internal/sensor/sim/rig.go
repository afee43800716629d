// Package sim provides a synthetic headset: frame readers for each sensor
// stream and a tracker that follows a scripted head path. It stands in for
// the device drivers in tests, demos and replay-free development.
package sim

import (
	"math"

	"github.com/banshee-data/sensorframe/internal/sensor"
)

// SensorSpec describes one camera on the synthetic rig.
type SensorSpec struct {
	Width  int
	Height int
	Format sensor.PixelFormat

	// Mount is the sensor-to-head transform.
	Mount sensor.Float4x4

	// View maps sensor coordinates into the camera's view space
	// (x right, y down, looking along +z).
	View sensor.Float4x4

	// FieldOfView is the horizontal field of view in radians, used to derive
	// the pinhole focal length.
	FieldOfView float64
}

// DefaultSpec returns the rig geometry for st.
func DefaultSpec(st sensor.SensorType) SensorSpec {
	switch st {
	case sensor.PhotoVideo:
		return SensorSpec{
			Width: 760, Height: 428, Format: sensor.PixelFormatBGRA8,
			Mount: mount(0, 0.03, -0.08, 0), View: cameraView(), FieldOfView: 64.7 * math.Pi / 180,
		}
	case sensor.ShortThrowToFDepth, sensor.ShortThrowToFReflectivity:
		return SensorSpec{
			Width: 512, Height: 512, Format: sensor.PixelFormatGray16,
			Mount: mount(0, 0.01, -0.09, 0), View: cameraView(), FieldOfView: 120 * math.Pi / 180,
		}
	case sensor.LongThrowToFDepth, sensor.LongThrowToFReflectivity:
		return SensorSpec{
			Width: 320, Height: 288, Format: sensor.PixelFormatGray16,
			Mount: mount(0, 0.01, -0.09, 0), View: cameraView(), FieldOfView: 75 * math.Pi / 180,
		}
	case sensor.VisibleLightLeftLeft:
		return visibleLight(-0.06, math.Pi/2)
	case sensor.VisibleLightLeftFront:
		return visibleLight(-0.05, 0)
	case sensor.VisibleLightRightFront:
		return visibleLight(0.05, 0)
	case sensor.VisibleLightRightRight:
		return visibleLight(0.06, -math.Pi/2)
	}
	return SensorSpec{}
}

// Visible-light frames arrive packed: the bitmap is a quarter of the
// calibrated image width.
func visibleLight(x, yaw float64) SensorSpec {
	return SensorSpec{
		Width: 160, Height: 480, Format: sensor.PixelFormatGray8,
		Mount: mount(x, 0.02, -0.07, yaw), View: cameraView(), FieldOfView: 83 * math.Pi / 180,
	}
}

// Intrinsics builds a distortion-free pinhole calibration for the spec at
// the given calibrated image size.
func (s SensorSpec) Intrinsics(imageWidth, imageHeight int) *sensor.PinholeIntrinsics {
	f := float32(float64(imageWidth) / 2 / math.Tan(s.FieldOfView/2))
	return &sensor.PinholeIntrinsics{
		FocalLength:    [2]float32{f, f},
		PrincipalPoint: [2]float32{float32(imageWidth) / 2, float32(imageHeight) / 2},
	}
}

// mount builds a yaw rotation about +y followed by a translation, in the
// row-vector convention.
func mount(x, y, z, yaw float64) sensor.Float4x4 {
	m := yawMatrix(yaw)
	m[12], m[13], m[14] = float32(x), float32(y), float32(z)
	return m
}

func yawMatrix(yaw float64) sensor.Float4x4 {
	c, s := float32(math.Cos(yaw)), float32(math.Sin(yaw))
	return sensor.Float4x4{
		c, 0, -s, 0,
		0, 1, 0, 0,
		s, 0, c, 0,
		0, 0, 0, 1,
	}
}

// cameraView flips y and z: sensor space is y-up looking along -z.
func cameraView() sensor.Float4x4 {
	return sensor.Float4x4{
		1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, -1, 0,
		0, 0, 0, 1,
	}
}
