package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// History is the number of recorded poses kept. Timestamps older than
	// the oldest kept pose cannot be resolved.
	History int

	// Tolerance widens the resolvable window at both ends.
	Tolerance timeutil.Ticks

	// FailEvery makes every Nth PoseAt query fail. Zero disables it.
	FailEvery int

	// Radius and Period describe the head path: a horizontal circle walked
	// once per Period, facing along the tangent.
	Radius float64
	Period time.Duration
	Height float64
}

// DefaultTrackerConfig returns a tracker that keeps about two seconds of
// history at 30 Hz and never fails on purpose.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		History:   64,
		Tolerance: timeutil.TicksFromDuration(10 * time.Millisecond),
		Radius:    1.5,
		Period:    20 * time.Second,
		Height:    1.6,
	}
}

// Tracker is a sensor.SpatialPerception following a scripted path. Poses
// become resolvable once Record has been called for a nearby time.
type Tracker struct {
	cfg    TrackerConfig
	origin *originSystem

	mu      sync.Mutex
	start   timeutil.UniversalTime
	started bool
	times   []timeutil.UniversalTime
	head    int
	size    int
	queries int
}

// NewTracker creates a Tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.History < 1 {
		cfg.History = DefaultTrackerConfig().History
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultTrackerConfig().Period
	}
	t := &Tracker{
		cfg:   cfg,
		times: make([]timeutil.UniversalTime, cfg.History),
	}
	t.origin = &originSystem{tracker: t}
	return t
}

// Record marks at as tracked, evicting the oldest pose when full.
func (t *Tracker) Record(at timeutil.UniversalTime) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		t.start = at
		t.started = true
	}
	t.times[t.head] = at
	t.head = (t.head + 1) % len(t.times)
	if t.size < len(t.times) {
		t.size++
	}
}

// window returns the oldest and newest recorded times. Callers hold mu.
func (t *Tracker) window() (oldest, newest timeutil.UniversalTime) {
	n := len(t.times)
	oldest = t.times[(t.head-t.size+n)%n]
	newest = t.times[(t.head-1+n)%n]
	return oldest, newest
}

// PoseAt implements sensor.SpatialPerception.
func (t *Tracker) PoseAt(at timeutil.UniversalTime) (sensor.PoseContext, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queries++
	if t.cfg.FailEvery > 0 && t.queries%t.cfg.FailEvery == 0 {
		return nil, fmt.Errorf("tracking lost at query %d: %w", t.queries, sensor.ErrPoseUnavailable)
	}
	if t.size == 0 {
		return nil, fmt.Errorf("no tracking history: %w", sensor.ErrPoseUnavailable)
	}
	oldest, newest := t.window()
	if at < oldest.Add(-t.cfg.Tolerance) || at > newest.Add(t.cfg.Tolerance) {
		return nil, fmt.Errorf("time %d outside tracked history [%d, %d]: %w",
			int64(at), int64(oldest), int64(newest), sensor.ErrPoseUnavailable)
	}
	return &pose{tracker: t, at: at}, nil
}

// OriginCoordinateSystem implements sensor.SpatialPerception.
func (t *Tracker) OriginCoordinateSystem() sensor.CoordinateSystem {
	return t.origin
}

// Attached returns the coordinate system of a sensor rigidly mounted on the
// head with the given sensor-to-head transform.
func (t *Tracker) Attached(mount sensor.Float4x4) sensor.CoordinateSystem {
	return &attachedSystem{tracker: t, mount: mount}
}

// HeadToOrigin returns the head pose at the given time.
func (t *Tracker) HeadToOrigin(at timeutil.UniversalTime) sensor.Float4x4 {
	t.mu.Lock()
	start := t.start
	t.mu.Unlock()

	elapsed := at.Sub(start).Duration().Seconds()
	angle := 2 * math.Pi * elapsed / t.cfg.Period.Seconds()

	// Walk counter-clockwise, facing along the tangent.
	m := yawMatrix(angle)
	m[12] = float32(t.cfg.Radius * math.Cos(angle))
	m[13] = float32(t.cfg.Height)
	m[14] = float32(-t.cfg.Radius * math.Sin(angle))
	return m
}

// Queries returns the number of PoseAt calls so far.
func (t *Tracker) Queries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queries
}

type pose struct {
	tracker *Tracker
	at      timeutil.UniversalTime
}

func (p *pose) Timestamp() timeutil.UniversalTime { return p.at }

type originSystem struct {
	tracker *Tracker
}

func (o *originSystem) TryGetTransformTo(target sensor.CoordinateSystem, at sensor.PoseContext) (sensor.Float4x4, bool) {
	if target == sensor.CoordinateSystem(o) {
		return sensor.Identity4x4, true
	}
	return sensor.ZeroFloat4x4, false
}

type attachedSystem struct {
	tracker *Tracker
	mount   sensor.Float4x4
}

// TryGetTransformTo relates the sensor to its own tracker's origin only, and
// only for poses that tracker issued.
func (a *attachedSystem) TryGetTransformTo(target sensor.CoordinateSystem, at sensor.PoseContext) (sensor.Float4x4, bool) {
	p, ok := at.(*pose)
	if !ok || p.tracker != a.tracker {
		return sensor.ZeroFloat4x4, false
	}
	if target != sensor.CoordinateSystem(a.tracker.origin) {
		return sensor.ZeroFloat4x4, false
	}
	return a.mount.Mul(a.tracker.HeadToOrigin(p.at)), true
}
