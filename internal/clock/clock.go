// Package clock abstracts the wall-clock source behind the timestamps
// attached to every mutation. Timestamps are informational only — LSN is
// the authoritative order — so the engine depends on this narrow interface
// rather than calling time.Now directly, which keeps deterministic tests
// possible without faking the filesystem too.
package clock

import "time"

// Clock returns the current time as nanoseconds since the Unix epoch.
type Clock interface {
	NowUnixNano() int64
}

// System is the real wall clock.
type System struct{}

// NowUnixNano returns time.Now() in nanoseconds since the Unix epoch.
func (System) NowUnixNano() int64 { return time.Now().UnixNano() }

// Default is the process-wide real clock.
var Default Clock = System{}
