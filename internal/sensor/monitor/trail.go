package monitor

import (
	"sync"

	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// DefaultTrailSize is the number of poses a trail keeps when none is given.
const DefaultTrailSize = 600

// TrailPoint is the sensor position of one posed frame in origin
// coordinates.
type TrailPoint struct {
	Sensor    string                 `json:"sensor"`
	Timestamp timeutil.UniversalTime `json:"timestamp_ticks"`
	X         float64                `json:"x"`
	Y         float64                `json:"y"`
	Z         float64                `json:"z"`
}

// PoseTrail keeps the most recent sensor positions. It is a sensor.Sink;
// frames without a pose are counted and skipped.
type PoseTrail struct {
	mu       sync.Mutex
	points   []TrailPoint
	next     int
	full     bool
	unposed  uint64
	received uint64
}

// NewPoseTrail creates a trail holding up to size points.
func NewPoseTrail(size int) *PoseTrail {
	if size <= 0 {
		size = DefaultTrailSize
	}
	return &PoseTrail{points: make([]TrailPoint, size)}
}

// Send implements sensor.Sink.
func (t *PoseTrail) Send(f *sensor.SensorFrame) {
	if f == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.received++
	if !f.HasPose() {
		t.unposed++
		return
	}

	x, y, z := f.FrameToOrigin().Translation()
	t.points[t.next] = TrailPoint{
		Sensor:    f.SensorType().String(),
		Timestamp: f.Timestamp(),
		X:         float64(x),
		Y:         float64(y),
		Z:         float64(z),
	}
	t.next = (t.next + 1) % len(t.points)
	if t.next == 0 {
		t.full = true
	}
}

// Points returns the trail oldest first.
func (t *PoseTrail) Points() []TrailPoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]TrailPoint(nil), t.points[:t.next]...)
	}
	out := make([]TrailPoint, 0, len(t.points))
	out = append(out, t.points[t.next:]...)
	return append(out, t.points[:t.next]...)
}

// Counts returns how many frames the trail has seen and how many of those
// had no pose.
func (t *PoseTrail) Counts() (received, unposed uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received, t.unposed
}
