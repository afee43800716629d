// Package recorder persists enriched frames to SQLite. A Recorder is a
// sensor.Sink: Send only enqueues, and a single writer goroutine drains the
// queue so the delivery goroutine never waits on disk.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/sensorframe/internal/sensor"
)

// DefaultQueueSize is the number of frames buffered ahead of the writer.
const DefaultQueueSize = 64

// Options configures a Recorder.
type Options struct {
	// QueueSize bounds the frames waiting to be written. Frames sent while
	// the queue is full are dropped and counted.
	QueueSize int

	// RecordPixels stores each frame's bitmap alongside its metadata.
	RecordPixels bool
}

// Stats is a snapshot of recorder counters.
type Stats struct {
	SessionID string `json:"session_id"`
	Queued    uint64 `json:"queued"`
	Written   uint64 `json:"written"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Recorder writes frames to a SQLite database within one session.
type Recorder struct {
	db      *sql.DB
	path    string
	session uuid.UUID
	opts    Options

	mu     sync.RWMutex
	closed bool
	queue  chan *sensor.SensorFrame
	done   chan struct{}

	queued  atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Open opens (creating if needed) the database at path, migrates it, and
// starts a new recording session.
func Open(path string, opts Options) (*Recorder, error) {
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultQueueSize
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	r := &Recorder{
		db:      db,
		path:    path,
		session: uuid.New(),
		opts:    opts,
		queue:   make(chan *sensor.SensorFrame, opts.QueueSize),
		done:    make(chan struct{}),
	}
	if _, err := db.Exec(`INSERT INTO sessions (session_id) VALUES (?)`, r.session.String()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	go r.run()

	sensor.Opsf("recorder: session %s recording to %s", r.session, path)
	return r, nil
}

// SessionID identifies the current recording session.
func (r *Recorder) SessionID() uuid.UUID { return r.session }

// DB returns the underlying database handle.
func (r *Recorder) DB() *sql.DB { return r.db }

// Send implements sensor.Sink. It never blocks.
func (r *Recorder) Send(f *sensor.SensorFrame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- f:
		r.queued.Add(1)
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			sensor.Diagf("recorder: queue full, dropped %d frames so far", n)
		}
	}
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		SessionID: r.session.String(),
		Queued:    r.queued.Load(),
		Written:   r.written.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
	}
}

// Close drains queued frames, ends the session and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done

	_, err := r.db.Exec(`UPDATE sessions SET ended_at = CURRENT_TIMESTAMP, frames = ?, dropped = ? WHERE session_id = ?`,
		r.written.Load(), r.dropped.Load(), r.session.String())
	if err != nil {
		sensor.Opsf("recorder: failed to end session %s: %v", r.session, err)
	}
	sensor.Opsf("recorder: session %s closed, %d written, %d dropped", r.session, r.written.Load(), r.dropped.Load())

	if cerr := r.db.Close(); cerr != nil {
		return fmt.Errorf("failed to close recorder database: %w", cerr)
	}
	return err
}

// Flush blocks until every frame queued before the call has been written or
// ctx is done.
func (r *Recorder) Flush(ctx context.Context) error {
	target := r.queued.Load()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for r.written.Load()+r.failed.Load() < target {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for f := range r.queue {
		if err := r.insert(f); err != nil {
			r.failed.Add(1)
			sensor.Opsf("recorder: failed to write frame %s: %v", f.ID(), err)
			continue
		}
		r.written.Add(1)
	}
}

func (r *Recorder) insert(f *sensor.SensorFrame) error {
	var frameToOrigin, cameraView, pixels []byte
	if f.HasPose() {
		frameToOrigin = f.FrameToOrigin().Encode()
	}
	if f.HasCameraView() {
		cameraView = f.CameraViewTransform().Encode()
	}

	var width, height int
	format := sensor.PixelFormatUnknown
	if b := f.Bitmap(); b != nil {
		width, height, format = b.Width, b.Height, b.Format
		if r.opts.RecordPixels {
			pixels = b.Packed()
		}
	}

	var intrinsicsWidth, intrinsicsHeight sql.NullInt64
	if ci := f.CameraIntrinsics(); ci != nil {
		intrinsicsWidth = sql.NullInt64{Int64: int64(ci.ImageWidth()), Valid: true}
		intrinsicsHeight = sql.NullInt64{Int64: int64(ci.ImageHeight()), Valid: true}
	}

	_, err := r.db.Exec(`
		INSERT INTO frames (
			frame_id, session_id, sensor_type, sensor_name,
			timestamp_ticks, relative_ticks, width, height, pixel_format,
			frame_to_origin, camera_view, intrinsics_width, intrinsics_height, pixels
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID().String(), r.session.String(), int32(f.SensorType()), f.SensorType().String(),
		int64(f.Timestamp()), int64(f.RelativeTime()), width, height, format.String(),
		frameToOrigin, cameraView, intrinsicsWidth, intrinsicsHeight, pixels,
	)
	return err
}
