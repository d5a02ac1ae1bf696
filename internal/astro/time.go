package astro

import (
	"math"
	"time"
)

const (
	unixEpochJD = 2440587.5
	// J2000 is the Julian day of 2000-01-01T12:00:00Z.
	J2000 = 2451545.0
)

// JulianDay converts t to a Julian day number in UT. Seconds and
// nanoseconds are taken apart since UnixNano overflows outside 1678..2262.
func JulianDay(t time.Time) float64 {
	return float64(t.Unix())/86400 + float64(t.Nanosecond())/86400e9 + unixEpochJD
}

// TimeOf converts a Julian day back to UTC, rounded to the millisecond.
func TimeOf(jd float64) time.Time {
	ms := math.Round((jd - unixEpochJD) * 86400000)
	return time.UnixMilli(int64(ms)).UTC()
}

// Days returns d expressed in days.
func Days(d time.Duration) float64 {
	return d.Hours() / 24
}
