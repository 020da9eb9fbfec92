// SPDX-License-Identifier: GPL-2.0-or-later

package track

import (
	"fmt"
	"time"
)

// Point sources.
const (
	SourcePrimary5 = "primary-5"
	SourcePrimary9 = "primary-9"
	SourceVendorB  = "vendor-b"
)

// GeoPoint accepted GPS sample.
type GeoPoint struct {
	Lat       float64
	Lon       float64
	Elevation float64 // Meters.
	Time      time.Time
	Speed     float64 // 2D speed, m/s.
	Source    string

	// Extension fields, always zero.
	HeartRate   float64
	Cadence     float64
	Power       float64
	Temperature float64
	Distance    float64
}

// Stats counters of accepted and rejected samples.
type Stats struct {
	Ok            int
	BadFix        int
	BadFixSkipped int
	Empty         int
	BadDop        int
	BadDopSkipped int
}

// Total sum of all counters.
func (s Stats) Total() int {
	return s.Ok + s.BadFix + s.BadFixSkipped + s.Empty + s.BadDop + s.BadDopSkipped
}

// Result of a reducer run.
type Result struct {
	Points     []GeoPoint
	StartTime  time.Time // Zero if no GPS time was seen.
	DeviceName string
	Stats      Stats
}

// Summary returns the stats block that is logged after a run.
func (r Result) Summary(dopLimit int) []string {
	s := r.Stats
	return []string{
		fmt.Sprintf("Device: %v", r.DeviceName),
		fmt.Sprintf("- Ok:              %5d", s.Ok),
		fmt.Sprintf("- GPSFIX=0 (bad):  %5d (skipped: %d)", s.BadFix, s.BadFixSkipped),
		fmt.Sprintf("- GPSP>%4d (bad): %5d (skipped: %d)", dopLimit, s.BadDop, s.BadDopSkipped),
		fmt.Sprintf("- Empty (No data): %5d", s.Empty),
		fmt.Sprintf("Total points:      %5d", s.Total()),
	}
}

// FixLabel returns the label of a GPS fix value.
func FixLabel(fix int) string {
	switch fix {
	case 0:
		return "no lock"
	case 2:
		return "2D lock ok"
	case 3:
		return "3D lock ok"
	}
	return "unknown"
}

// DopRating rates a precision value, DOP x100.
func DopRating(dop int) string {
	switch {
	case dop < 100:
		return "Ideal"
	case dop < 200:
		return "Excellent"
	case dop < 500:
		return "Good"
	case dop < 1000:
		return "Moderate"
	case dop < 2000:
		return "Fair"
	default:
		return "Poor"
	}
}
