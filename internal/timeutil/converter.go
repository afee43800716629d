package timeutil

import (
	"fmt"
	"time"
)

// Ticks is a duration in 100 ns units, the resolution device drivers use
// for exposure timestamps.
type Ticks int64

// TicksPerSecond is the number of Ticks in one second.
const TicksPerSecond Ticks = 10_000_000

// unixEpochTicks is the Unix epoch expressed in UniversalTime ticks.
const unixEpochTicks = 116_444_736_000_000_000

// TicksFromDuration truncates d to whole ticks.
func TicksFromDuration(d time.Duration) Ticks {
	return Ticks(d / 100)
}

// Duration converts t to a time.Duration.
func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * 100
}

// UniversalTime is an absolute timestamp: 100 ns ticks since
// 1601-01-01T00:00:00Z, the epoch of the host's universal clock.
type UniversalTime int64

// UniversalTimeFromTime converts t to UniversalTime, truncating to ticks.
func UniversalTimeFromTime(t time.Time) UniversalTime {
	return UniversalTime(t.Unix()*int64(TicksPerSecond) + int64(t.Nanosecond()/100) + unixEpochTicks)
}

// Time converts u back to a UTC time.Time.
func (u UniversalTime) Time() time.Time {
	ticks := int64(u) - unixEpochTicks
	return time.Unix(ticks/int64(TicksPerSecond), (ticks%int64(TicksPerSecond))*100).UTC()
}

// Sub returns u-v.
func (u UniversalTime) Sub(v UniversalTime) Ticks {
	return Ticks(u - v)
}

// Add returns u+d.
func (u UniversalTime) Add(d Ticks) UniversalTime {
	return u + UniversalTime(d)
}

func (u UniversalTime) String() string {
	return fmt.Sprintf("%d (%s)", int64(u), u.Time().Format(time.RFC3339Nano))
}

// TimeConverter maps device-relative ticks onto UniversalTime with a fixed
// offset established once. Both clocks are assumed to advance at the same
// rate; the offset is never re-measured, so long sessions accumulate drift.
type TimeConverter struct {
	offset Ticks
}

// NewTimeConverter returns a converter using a known offset.
func NewTimeConverter(offset Ticks) TimeConverter {
	return TimeConverter{offset: offset}
}

// CalibrateTimeConverter measures the offset between device and universal
// with a bracketed dual read: the universal reading is paired with the
// midpoint of two device readings taken around it.
func CalibrateTimeConverter(universal Clock, device RelativeClock) TimeConverter {
	before := device.SinceEpoch()
	now := UniversalTimeFromTime(universal.Now())
	after := device.SinceEpoch()

	mid := before + (after-before)/2
	return TimeConverter{offset: Ticks(now) - mid}
}

// Offset returns the fixed relative-to-universal offset.
func (c TimeConverter) Offset() Ticks {
	return c.offset
}

// RelativeToAbsolute converts a device-relative timestamp.
func (c TimeConverter) RelativeToAbsolute(relative Ticks) UniversalTime {
	return UniversalTime(relative + c.offset)
}
