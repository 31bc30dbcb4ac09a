package batchlog

import (
	"fmt"
	"path/filepath"
	"time"
)

// NextBoundary returns the smallest time >= now that is a multiple of
// period counted from the start of the UTC day. The last window of a day is
// cut short at midnight, so periods that do not divide 24h never drift.
func NextBoundary(now time.Time, period time.Duration) time.Time {
	if period <= 0 {
		return now
	}
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := now.Sub(day)
	b := since / period * period
	if b < since {
		b += period
	}
	if b > 24*time.Hour {
		b = 24 * time.Hour
	}
	return day.Add(b)
}

// newWindow opens a window at now. A window opened exactly on a boundary
// lasts until the following one.
func newWindow(now time.Time, period time.Duration) RotationWindow {
	start := now.UTC()
	next := NextBoundary(start, period)
	if !next.After(start) {
		next = next.Add(period)
	}
	return RotationWindow{Start: start, NextBoundary: next}
}

// batchFilePath lays files out as <dir>/YYYY/MM/DD/<device>_data_<start>_UTC.csv.
// attempt > 0 adds a suffix to step around an existing file.
func batchFilePath(dir, device string, start time.Time, attempt int) string {
	start = start.UTC()
	name := fmt.Sprintf("%s_data_%s_UTC", device, start.Format("20060102_150405"))
	if attempt > 0 {
		name = fmt.Sprintf("%s_%d", name, attempt)
	}
	return filepath.Join(dir, start.Format("2006"), start.Format("01"), start.Format("02"), name+".csv")
}
