package recorder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/timeutil"
)

func openTestRecorder(t *testing.T, opts Options) (*Recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.db")
	r, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, path
}

func testFrame(st sensor.SensorType, ts timeutil.UniversalTime, withPose bool) *sensor.SensorFrame {
	bitmap := sensor.NewBitmap(sensor.PixelFormatGray8, 4, 2)
	for i := range bitmap.Pix {
		bitmap.Pix[i] = byte(10 * i)
	}
	fields := sensor.FrameFields{
		SensorType:          st,
		Timestamp:           ts,
		RelativeTime:        timeutil.Ticks(ts) - 1000,
		Bitmap:              bitmap,
		CameraViewTransform: sensor.Identity4x4,
		Intrinsics: sensor.NewCameraIntrinsics(&sensor.PinholeIntrinsics{
			FocalLength: [2]float32{10, 10},
		}, 16, 2),
	}
	if withPose {
		fields.FrameToOrigin = sensor.Identity4x4
	}
	return sensor.NewSensorFrame(fields)
}

func flush(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

func TestOpen_MigratesSchema(t *testing.T) {
	t.Parallel()

	r, _ := openTestRecorder(t, Options{})

	version, dirty, err := schemaVersion(r.DB())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestOpen_ReopenKeepsSessions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "frames.db")

	first, err := Open(path, Options{})
	require.NoError(t, err)
	first.Send(testFrame(sensor.PhotoVideo, 100, true))
	require.NoError(t, first.Close())

	second, err := Open(path, Options{})
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.SessionID(), second.SessionID())

	sessions, err := second.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	var closed *Session
	for i := range sessions {
		if sessions[i].SessionID == first.SessionID().String() {
			closed = &sessions[i]
		}
	}
	require.NotNil(t, closed)
	assert.NotNil(t, closed.EndedAt)
	assert.Equal(t, int64(1), closed.Frames)
}

func TestRecorder_SendAndRecentFrames(t *testing.T) {
	t.Parallel()

	r, _ := openTestRecorder(t, Options{})

	r.Send(testFrame(sensor.PhotoVideo, 1000, true))
	r.Send(testFrame(sensor.LongThrowToFDepth, 2000, false))
	r.Send(testFrame(sensor.PhotoVideo, 3000, true))
	flush(t, r)

	all, err := r.RecentFrames(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, timeutil.UniversalTime(3000), all[0].Timestamp, "newest first")
	assert.Equal(t, timeutil.UniversalTime(1000), all[2].Timestamp)

	depth := all[1]
	assert.Equal(t, sensor.LongThrowToFDepth, depth.SensorType)
	assert.Equal(t, "LongThrowToFDepth", depth.SensorName)
	assert.Nil(t, depth.FrameToOrigin, "zero sentinel stored as NULL")
	require.NotNil(t, depth.CameraView)
	assert.Equal(t, sensor.Identity4x4, *depth.CameraView)
	assert.Equal(t, 16, depth.IntrinsicsWidth)
	assert.Equal(t, 2, depth.IntrinsicsHeight)
	assert.Equal(t, timeutil.Ticks(1000), depth.RelativeTime)
	assert.False(t, depth.HasPixels)

	pv := sensor.PhotoVideo
	filtered, err := r.RecentFrames(context.Background(), &pv, 1)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, timeutil.UniversalTime(3000), filtered[0].Timestamp)
	require.NotNil(t, filtered[0].FrameToOrigin)

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.Written)
	assert.Equal(t, uint64(0), stats.Dropped)
}

func TestRecorder_RecordPixels(t *testing.T) {
	t.Parallel()

	r, _ := openTestRecorder(t, Options{RecordPixels: true})

	f := testFrame(sensor.VisibleLightLeftLeft, 500, true)
	r.Send(f)
	flush(t, r)

	b, err := r.FramePixels(context.Background(), f.ID().String())
	require.NoError(t, err)
	assert.Equal(t, f.Bitmap().Pix, b.Pix)
	assert.Equal(t, sensor.PixelFormatGray8, b.Format)

	_, err = r.FramePixels(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrFrameNotFound)
}

func TestRecorder_RecordPixelsPaddedStride(t *testing.T) {
	t.Parallel()

	r, _ := openTestRecorder(t, Options{RecordPixels: true})

	f := sensor.NewSensorFrame(sensor.FrameFields{
		SensorType: sensor.VisibleLightLeftFront,
		Timestamp:  600,
		Bitmap: &sensor.Bitmap{
			Format: sensor.PixelFormatGray8,
			Width:  3,
			Height: 2,
			Stride: 4,
			Pix:    []byte{1, 2, 3, 0xee, 4, 5, 6, 0xee},
		},
	})
	r.Send(f)
	flush(t, r)

	b, err := r.FramePixels(context.Background(), f.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 3, b.Stride)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, b.Pix)
}

func TestRecorder_FramePixelsWithoutPixels(t *testing.T) {
	t.Parallel()

	r, _ := openTestRecorder(t, Options{})

	f := testFrame(sensor.PhotoVideo, 700, false)
	r.Send(f)
	flush(t, r)

	_, err := r.FramePixels(context.Background(), f.ID().String())
	assert.ErrorIs(t, err, ErrNoPixels)
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	// No writer goroutine: the queue never drains.
	r := &Recorder{queue: make(chan *sensor.SensorFrame, 2)}

	const sends = 50
	for i := 0; i < sends; i++ {
		r.Send(testFrame(sensor.PhotoVideo, timeutil.UniversalTime(i), false))
	}

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Queued)
	assert.Equal(t, uint64(sends-2), stats.Dropped)
}

func TestRecorder_SendAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "frames.db")
	r, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	assert.NotPanics(t, func() { r.Send(testFrame(sensor.PhotoVideo, 1, false)) })
	assert.NoError(t, r.Close(), "second Close")
}

func TestRecorder_AsSink(t *testing.T) {
	t.Parallel()

	r, _ := openTestRecorder(t, Options{})
	var sink sensor.Sink = r

	rc := sensor.NewReaderContext(sensor.ReaderContextConfig{
		SensorType: sensor.ShortThrowToFDepth,
		Converter:  timeutil.NewTimeConverter(50_000_000),
		Sink:       sink,
	})
	raw := &sensor.RawFrame{
		SystemRelativeTime: 1_000_000,
		VideoMediaFrame:    &sensor.VideoMediaFrame{Bitmap: sensor.NewBitmap(sensor.PixelFormatGray16, 2, 2)},
	}
	_, ok := rc.Enrich(raw)
	require.True(t, ok)
	flush(t, r)

	frames, err := r.RecentFrames(context.Background(), nil, 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, timeutil.UniversalTime(51_000_000), frames[0].Timestamp)
	assert.Nil(t, frames[0].CameraView)
	assert.Zero(t, frames[0].IntrinsicsWidth)
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()

	r, _ := openTestRecorder(t, Options{})
	mux := http.NewServeMux()
	require.NoError(t, r.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/recorder", "/debug/tailsql/"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			// Debug routes may refuse non-local callers.
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/recorder", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code == http.StatusOK {
		var body struct {
			SchemaVersion uint      `json:"schema_version"`
			Sessions      []Session `json:"sessions"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, uint(2), body.SchemaVersion)
		assert.Len(t, body.Sessions, 1)
	}
}
