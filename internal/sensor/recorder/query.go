package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/sensorframe/internal/sensor"
	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// FrameRecord is a stored frame's metadata.
type FrameRecord struct {
	FrameID          string                 `json:"frame_id"`
	SessionID        string                 `json:"session_id"`
	SensorType       sensor.SensorType      `json:"-"`
	SensorName       string                 `json:"sensor"`
	Timestamp        timeutil.UniversalTime `json:"timestamp_ticks"`
	Time             time.Time              `json:"time"`
	RelativeTime     timeutil.Ticks         `json:"relative_ticks"`
	Width            int                    `json:"width"`
	Height           int                    `json:"height"`
	PixelFormat      string                 `json:"pixel_format"`
	FrameToOrigin    *sensor.Float4x4       `json:"frame_to_origin,omitempty"`
	CameraView       *sensor.Float4x4       `json:"camera_view,omitempty"`
	IntrinsicsWidth  int                    `json:"intrinsics_width,omitempty"`
	IntrinsicsHeight int                    `json:"intrinsics_height,omitempty"`
	HasPixels        bool                   `json:"has_pixels"`
}

// Session is one recording session.
type Session struct {
	SessionID string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Frames    int64      `json:"frames"`
	Dropped   int64      `json:"dropped"`
}

// RecentFrames returns up to limit frames, newest first. A nil sensorType
// matches every sensor.
func (r *Recorder) RecentFrames(ctx context.Context, sensorType *sensor.SensorType, limit int) ([]FrameRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT frame_id, session_id, sensor_type, sensor_name, timestamp_ticks, relative_ticks,
		       width, height, pixel_format, frame_to_origin, camera_view,
		       intrinsics_width, intrinsics_height, pixels IS NOT NULL
		FROM frames`
	args := []interface{}{}
	if sensorType != nil {
		query += ` WHERE sensor_type = ?`
		args = append(args, int32(*sensorType))
	}
	query += ` ORDER BY timestamp_ticks DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var records []FrameRecord
	for rows.Next() {
		var (
			rec                       FrameRecord
			st                        int32
			timestamp, relative       int64
			frameToOrigin, cameraView []byte
			intrinsicsW, intrinsicsH  sql.NullInt64
		)
		if err := rows.Scan(&rec.FrameID, &rec.SessionID, &st, &rec.SensorName,
			&timestamp, &relative, &rec.Width, &rec.Height, &rec.PixelFormat,
			&frameToOrigin, &cameraView, &intrinsicsW, &intrinsicsH, &rec.HasPixels); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}

		rec.SensorType = sensor.SensorType(st)
		rec.Timestamp = timeutil.UniversalTime(timestamp)
		rec.Time = rec.Timestamp.Time()
		rec.RelativeTime = timeutil.Ticks(relative)
		if m, ok := sensor.DecodeFloat4x4(frameToOrigin); ok {
			rec.FrameToOrigin = &m
		}
		if m, ok := sensor.DecodeFloat4x4(cameraView); ok {
			rec.CameraView = &m
		}
		rec.IntrinsicsWidth = int(intrinsicsW.Int64)
		rec.IntrinsicsHeight = int(intrinsicsH.Int64)

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate frames: %w", err)
	}
	return records, nil
}

var (
	// ErrFrameNotFound is returned when no frame has the requested ID.
	ErrFrameNotFound = errors.New("frame not found")
	// ErrNoPixels is returned for a frame recorded without its bitmap.
	ErrNoPixels = errors.New("frame was recorded without pixels")
)

// FramePixels returns the stored bitmap of a frame recorded with pixels.
// Pixels are stored with the stride padding removed, so the returned
// bitmap is tightly packed.
func (r *Recorder) FramePixels(ctx context.Context, frameID string) (*sensor.Bitmap, error) {
	var (
		width, height int
		format        string
		pix           []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT width, height, pixel_format, pixels FROM frames WHERE frame_id = ?`, frameID,
	).Scan(&width, &height, &format, &pix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, frameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load frame %s: %w", frameID, err)
	}
	if pix == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPixels, frameID)
	}

	pf := parsePixelFormat(format)
	b := &sensor.Bitmap{
		Format: pf,
		Width:  width,
		Height: height,
		Stride: width * pf.BytesPerPixel(),
		Pix:    pix,
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("frame %s: %w", frameID, err)
	}
	return b, nil
}

// Sessions returns every recording session, newest first.
func (r *Recorder) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.session_id, s.started_at, s.ended_at,
		       CASE WHEN s.ended_at IS NULL THEN (SELECT COUNT(*) FROM frames f WHERE f.session_id = s.session_id) ELSE s.frames END,
		       s.dropped
		FROM sessions s
		ORDER BY s.started_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s     Session
			ended sql.NullTime
		)
		if err := rows.Scan(&s.SessionID, &s.StartedAt, &ended, &s.Frames, &s.Dropped); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func parsePixelFormat(name string) sensor.PixelFormat {
	for _, pf := range []sensor.PixelFormat{sensor.PixelFormatGray8, sensor.PixelFormatGray16, sensor.PixelFormatBGRA8} {
		if pf.String() == name {
			return pf
		}
	}
	return sensor.PixelFormatUnknown
}
