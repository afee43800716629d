package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// DefaultBufferCount is the number of bitmaps a Device cycles through.
const DefaultBufferCount = 3

// DeviceConfig configures a Device.
type DeviceConfig struct {
	SensorType sensor.SensorType

	// Width and Height override the rig's delivered bitmap size.
	Width, Height int

	// FrameRate is frames per second.
	FrameRate float64

	// BufferCount is how many bitmaps are recycled. A frame's bitmap is
	// overwritten BufferCount captures later.
	BufferCount int

	// Clock drives capture and provides exposure times.
	Clock timeutil.Clock

	// Tracker records the head pose at each capture and provides the
	// frame's coordinate system. Nil omits the coordinate system property.
	Tracker *Tracker

	// OmitCameraView leaves out the camera view transform property.
	OmitCameraView bool
}

// Device is a synthetic frame reader for one sensor stream. It implements
// sensor.FrameReader and sensor.FrameSource, and is its own
// timeutil.RelativeClock: exposure times count from the moment the device
// was created.
type Device struct {
	cfg        DeviceConfig
	spec       SensorSpec
	epoch      timeutil.UniversalTime
	intrinsics *sensor.PinholeIntrinsics
	viewBlob   []byte

	buffers []*sensor.Bitmap
	next    int
	seq     uint64

	mu       sync.Mutex
	callback func(sensor.FrameSource)
	pending  *sensor.RawFrame

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	captured atomic.Uint64
	overrun  atomic.Uint64
}

// NewDevice creates a stopped Device.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	if !cfg.SensorType.Valid() {
		return nil, fmt.Errorf("invalid sensor type %d", int32(cfg.SensorType))
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.BufferCount < 1 {
		cfg.BufferCount = DefaultBufferCount
	}

	spec := DefaultSpec(cfg.SensorType)
	if cfg.Width > 0 {
		spec.Width = cfg.Width
	}
	if cfg.Height > 0 {
		spec.Height = cfg.Height
	}
	cfg.Width, cfg.Height = spec.Width, spec.Height

	calibratedWidth := spec.Width
	if cfg.SensorType.IsVisibleLight() {
		calibratedWidth *= 4
	}

	d := &Device{
		cfg:        cfg,
		spec:       spec,
		epoch:      timeutil.UniversalTimeFromTime(cfg.Clock.Now()),
		intrinsics: spec.Intrinsics(calibratedWidth, spec.Height),
		viewBlob:   spec.View.Encode(),
		buffers:    make([]*sensor.Bitmap, cfg.BufferCount),
	}
	for i := range d.buffers {
		d.buffers[i] = sensor.NewBitmap(spec.Format, spec.Width, spec.Height)
	}
	return d, nil
}

// SensorType returns the stream's sensor type.
func (d *Device) SensorType() sensor.SensorType { return d.cfg.SensorType }

// Intrinsics returns the calibration attached to every frame.
func (d *Device) Intrinsics() *sensor.PinholeIntrinsics { return d.intrinsics }

// SinceEpoch implements timeutil.RelativeClock.
func (d *Device) SinceEpoch() timeutil.Ticks {
	return timeutil.UniversalTimeFromTime(d.cfg.Clock.Now()).Sub(d.epoch)
}

// RegisterCallback implements sensor.FrameReader.
func (d *Device) RegisterCallback(fn func(sensor.FrameSource)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = fn
}

// Start begins delivering frames on a new goroutine until ctx is done or
// Stop is called.
func (d *Device) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("device already started")
	}
	ctx, d.cancel = context.WithCancel(ctx)

	interval := time.Duration(float64(time.Second) / d.cfg.FrameRate)
	ticker := d.cfg.Clock.NewTicker(interval)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C():
				d.Capture(now)
			}
		}
	}()

	sensor.Opsf("device %s started at %.1f Hz, %dx%d %s",
		d.cfg.SensorType, d.cfg.FrameRate, d.spec.Width, d.spec.Height, d.spec.Format)
	return nil
}

// Stop halts delivery and waits for the delivery goroutine to exit.
func (d *Device) Stop() error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	d.cancel()
	d.wg.Wait()

	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()

	sensor.Opsf("device %s stopped after %d frames (%d never acquired)",
		d.cfg.SensorType, d.captured.Load(), d.overrun.Load())
	return nil
}

// TryAcquireLatestFrame implements sensor.FrameSource. A frame can be
// acquired once.
func (d *Device) TryAcquireLatestFrame() *sensor.RawFrame {
	if !d.running.Load() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.pending
	d.pending = nil
	return f
}

// Capture exposes one frame at now and notifies the callback on the
// calling goroutine.
func (d *Device) Capture(now time.Time) {
	exposure := timeutil.UniversalTimeFromTime(now)
	if d.cfg.Tracker != nil {
		d.cfg.Tracker.Record(exposure)
	}

	bitmap := d.buffers[d.next]
	d.next = (d.next + 1) % len(d.buffers)
	d.seq++
	paint(bitmap, d.seq)

	props := sensor.Properties{
		sensor.PropertyCameraIntrinsics: sensor.IntrinsicsHandle(d.intrinsics),
	}
	if d.cfg.Tracker != nil {
		props[sensor.PropertyCameraCoordinateSystem] = d.cfg.Tracker.Attached(d.spec.Mount)
	}
	if !d.cfg.OmitCameraView {
		props[sensor.PropertyCameraViewTransform] = d.viewBlob
	}

	raw := &sensor.RawFrame{
		SystemRelativeTime: exposure.Sub(d.epoch),
		VideoMediaFrame:    &sensor.VideoMediaFrame{Bitmap: bitmap},
		Properties:         props,
	}

	d.mu.Lock()
	if d.pending != nil {
		d.overrun.Add(1)
	}
	d.pending = raw
	fn := d.callback
	d.mu.Unlock()
	d.captured.Add(1)

	if fn != nil {
		fn(d)
	}
}

// paint fills b with a diagonal gradient that scrolls with seq.
func paint(b *sensor.Bitmap, seq uint64) {
	bpp := b.Format.BytesPerPixel()
	shift := int(seq)
	for y := 0; y < b.Height; y++ {
		row := b.Pix[y*b.Stride:]
		for x := 0; x < b.Width; x++ {
			v := byte(x + y + shift)
			px := row[x*bpp : (x+1)*bpp]
			for i := range px {
				px[i] = v
			}
			if b.Format == sensor.PixelFormatBGRA8 {
				px[3] = 0xff
			}
		}
	}
}
