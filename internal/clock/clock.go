// Package clock holds the small set of timestamp helpers shared by every
// worker that needs a monotonic-friendly wall-clock reading.
package clock

import (
	"fmt"
	"time"
)

// NowNano returns the current time as nanoseconds since the Unix epoch.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// NowMicro returns the current time as microseconds since the Unix epoch,
// the unit a qualified result's timestamp is carried in.
func NowMicro() int64 {
	return time.Now().UnixNano() / int64(time.Microsecond)
}

// NanoToTime converts a nanosecond Unix timestamp back to time.Time.
func NanoToTime(ns int64) time.Time {
	return time.Unix(0, ns)
}

// FormatTimestamp converts ns-epoch to a human-friendly string.
func FormatTimestamp(ns int64) string {
	return NanoToTime(ns).Format("2006-01-02_15-04-05.000000000")
}

// SessionName returns a unique, sortable directory name: <prefix>_YYYYMMDD_HHMMSS.
func SessionName(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, time.Now().Format("20060102_150405"))
}
