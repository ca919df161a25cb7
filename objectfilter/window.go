// Package objectfilter implements the window-quantization and object-key
// filtering rules shared by the Incremental Window Aggregator (section 4.5)
// and the Sweep Planner (section 4.6).
package objectfilter

import (
	"fmt"
	"time"
)

// WindowLabelLayout is the canonical UTC window-label format from section 3:
// YYYYMMDDTHHMMZ at window-start, minute always "00".
const WindowLabelLayout = "20060102T1504Z"

// WindowStart computes compute_window_start(event_time, h) as specified by
// invariant P1: the returned instant is in UTC, its hour is a multiple of h,
// minute/second/nanosecond are zero, and its date equals event_time's UTC date.
//
// hours must be > 0; callers are expected to have already skipped tiers with
// no configured window length (section 4.5 step 2).
func WindowStart(eventTime time.Time, hours int) (time.Time, error) {
	if hours <= 0 {
		return time.Time{}, fmt.Errorf("window hours must be positive, got %d", hours)
	}
	t := eventTime.UTC()
	flooredHour := (t.Hour() / hours) * hours
	return time.Date(t.Year(), t.Month(), t.Day(), flooredHour, 0, 0, 0, time.UTC), nil
}

// WindowLabel formats a window-start instant as the canonical window label.
func WindowLabel(windowStart time.Time) string {
	return windowStart.UTC().Format(WindowLabelLayout)
}

// ComputeWindowLabel is a convenience wrapper combining WindowStart and
// WindowLabel, the operation the Aggregator performs per event record
// (section 4.5 step 2).
func ComputeWindowLabel(eventTime time.Time, hours int) (string, time.Time, error) {
	start, err := WindowStart(eventTime, hours)
	if err != nil {
		return "", time.Time{}, err
	}
	return WindowLabel(start), start, nil
}

// ParseWindowLabel is the inverse of WindowLabel, used by the Restore
// Resolver and the Batch-Copy Launcher's default-window derivation.
func ParseWindowLabel(label string) (time.Time, error) {
	t, err := time.ParseInLocation(WindowLabelLayout, label, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid window label %q: %w", label, err)
	}
	return t, nil
}
