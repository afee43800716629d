package sensor

import (
	"errors"

	"github.com/banshee-data/sensorframe/internal/timeutil"
)

// ErrPoseUnavailable is returned by trackers that have no pose for the
// requested time (outside tracked history, tracking lost).
var ErrPoseUnavailable = errors.New("pose unavailable")

// PoseContext is the tracking state resolved for one instant.
type PoseContext interface {
	Timestamp() timeutil.UniversalTime
}

// CoordinateSystem is a spatial reference owned by the tracker.
type CoordinateSystem interface {
	// TryGetTransformTo returns the transform from this coordinate system
	// into target as of the pose context. It returns false when the tracker
	// cannot relate the two.
	TryGetTransformTo(target CoordinateSystem, at PoseContext) (Float4x4, bool)
}

// SpatialPerception is the tracking service the pipeline queries.
type SpatialPerception interface {
	// PoseAt resolves the tracking state at a historical universal time.
	PoseAt(t timeutil.UniversalTime) (PoseContext, error)

	// OriginCoordinateSystem returns the stable world origin.
	OriginCoordinateSystem() CoordinateSystem
}
