package util

import (
	"time"
)

// TimeConverter converts between time.Time and string.
type TimeConverter struct{}

// ToString converts time.Time to string.
func (tc *TimeConverter) ToString(timestamp time.Time) string {
	return timestamp.Format(time.RFC3339)
}

// FromMillis converts unix milliseconds, as reported by Flink, to string.
func (tc *TimeConverter) FromMillis(millis int64) string {
	if millis <= 0 {
		return ""
	}
	return tc.ToString(time.UnixMilli(millis).UTC())
}

// Clock returns the current time. Tests replace it to move time forward.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// NowMillis returns the clock's current time as unix milliseconds.
func (c Clock) NowMillis() int64 {
	return c.Now().UnixMilli()
}
