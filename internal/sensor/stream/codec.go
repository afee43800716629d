package stream

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// Wire field numbers of an encoded frame. The encoding is a plain protobuf
// message so non-Go clients can decode it with a one-message .proto:
//
//	message SensorFrame {
//	  bytes  id                = 1;  // 16-byte UUID
//	  int32  sensor_type       = 2;
//	  int64  timestamp_ticks   = 3;  // 100 ns since 1601-01-01 UTC
//	  int64  relative_ticks    = 4;
//	  int32  width             = 5;
//	  int32  height            = 6;
//	  int32  pixel_format      = 7;
//	  bytes  frame_to_origin   = 8;  // 64-byte float4x4, absent when unknown
//	  bytes  camera_view       = 9;  // 64-byte float4x4, absent when unknown
//	  int32  intrinsics_width  = 10;
//	  int32  intrinsics_height = 11;
//	  bytes  pixels            = 12; // tightly packed rows, only when the publisher streams pixels
//	}
const (
	fieldID               protowire.Number = 1
	fieldSensorType       protowire.Number = 2
	fieldTimestamp        protowire.Number = 3
	fieldRelativeTime     protowire.Number = 4
	fieldWidth            protowire.Number = 5
	fieldHeight           protowire.Number = 6
	fieldPixelFormat      protowire.Number = 7
	fieldFrameToOrigin    protowire.Number = 8
	fieldCameraView       protowire.Number = 9
	fieldIntrinsicsWidth  protowire.Number = 10
	fieldIntrinsicsHeight protowire.Number = 11
	fieldPixels           protowire.Number = 12
)

// FrameMessage is a decoded frame as a remote subscriber sees it.
type FrameMessage struct {
	ID               uuid.UUID
	SensorType       sensor.SensorType
	Timestamp        timeutil.UniversalTime
	RelativeTime     timeutil.Ticks
	Width            int
	Height           int
	PixelFormat      sensor.PixelFormat
	FrameToOrigin    sensor.Float4x4
	CameraView       sensor.Float4x4
	IntrinsicsWidth  int
	IntrinsicsHeight int
	Pixels           []byte
}

// EncodeFrame serialises f. Zero-sentinel transforms and absent intrinsics
// are omitted.
func EncodeFrame(f *sensor.SensorFrame, includePixels bool) []byte {
	var b []byte

	id := f.ID()
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, id[:])

	b = appendVarint(b, fieldSensorType, uint64(f.SensorType()))
	b = appendVarint(b, fieldTimestamp, uint64(f.Timestamp()))
	b = appendVarint(b, fieldRelativeTime, uint64(f.RelativeTime()))

	if bm := f.Bitmap(); bm != nil {
		b = appendVarint(b, fieldWidth, uint64(bm.Width))
		b = appendVarint(b, fieldHeight, uint64(bm.Height))
		b = appendVarint(b, fieldPixelFormat, uint64(bm.Format))
		if includePixels {
			b = protowire.AppendTag(b, fieldPixels, protowire.BytesType)
			b = protowire.AppendBytes(b, bm.Packed())
		}
	}
	if f.HasPose() {
		b = protowire.AppendTag(b, fieldFrameToOrigin, protowire.BytesType)
		b = protowire.AppendBytes(b, f.FrameToOrigin().Encode())
	}
	if f.HasCameraView() {
		b = protowire.AppendTag(b, fieldCameraView, protowire.BytesType)
		b = protowire.AppendBytes(b, f.CameraViewTransform().Encode())
	}
	if ci := f.CameraIntrinsics(); ci != nil {
		b = appendVarint(b, fieldIntrinsicsWidth, uint64(ci.ImageWidth()))
		b = appendVarint(b, fieldIntrinsicsHeight, uint64(ci.ImageHeight()))
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

var errMalformedFrame = errors.New("malformed frame message")

// DecodeFrame parses a message produced by EncodeFrame. Unknown fields are
// skipped.
func DecodeFrame(b []byte) (*FrameMessage, error) {
	msg := &FrameMessage{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", errMalformedFrame, num, protowire.ParseError(n))
			}
			b = b[n:]
			msg.setVarint(num, v)

		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", errMalformedFrame, num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := msg.setBytes(num, v); err != nil {
				return nil, err
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", errMalformedFrame, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return msg, nil
}

func (m *FrameMessage) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldSensorType:
		m.SensorType = sensor.SensorType(int32(v))
	case fieldTimestamp:
		m.Timestamp = timeutil.UniversalTime(int64(v))
	case fieldRelativeTime:
		m.RelativeTime = timeutil.Ticks(int64(v))
	case fieldWidth:
		m.Width = int(v)
	case fieldHeight:
		m.Height = int(v)
	case fieldPixelFormat:
		m.PixelFormat = sensor.PixelFormat(v)
	case fieldIntrinsicsWidth:
		m.IntrinsicsWidth = int(v)
	case fieldIntrinsicsHeight:
		m.IntrinsicsHeight = int(v)
	}
}

func (m *FrameMessage) setBytes(num protowire.Number, v []byte) error {
	switch num {
	case fieldID:
		id, err := uuid.FromBytes(v)
		if err != nil {
			return fmt.Errorf("%w: id: %v", errMalformedFrame, err)
		}
		m.ID = id
	case fieldFrameToOrigin, fieldCameraView:
		mat, ok := sensor.DecodeFloat4x4(v)
		if !ok {
			return fmt.Errorf("%w: field %d is %d bytes, want %d", errMalformedFrame, num, len(v), sensor.Float4x4Size)
		}
		if num == fieldFrameToOrigin {
			m.FrameToOrigin = mat
		} else {
			m.CameraView = mat
		}
	case fieldPixels:
		m.Pixels = append([]byte(nil), v...)
	}
	return nil
}

// Bitmap returns the streamed pixels as a tightly packed Bitmap, or nil if
// the publisher did not include them.
func (m *FrameMessage) Bitmap() *sensor.Bitmap {
	if m.Pixels == nil {
		return nil
	}
	return &sensor.Bitmap{
		Format: m.PixelFormat,
		Width:  m.Width,
		Height: m.Height,
		Stride: m.Width * m.PixelFormat.BytesPerPixel(),
		Pix:    m.Pixels,
	}
}
