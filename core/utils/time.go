package utils

import "time"

// NowUTC returns the current time in UTC truncated to microseconds so
// values survive a round trip through either database driver unchanged.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
