package metrics

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// RestoreReport is the final summary returned by the Restore Resolver
// (section 4.8 step 4): counts plus timing, printable and JSON-marshalable
// for CLI and workflow-engine consumption alike.
type RestoreReport struct {
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Restored    int64         `json:"restored"`
	Skipped     int64         `json:"skipped"`
	Errors      int64         `json:"errors"`
	DryRun      bool          `json:"dryRun"`
	ManifestKey string        `json:"manifestKey"`
	DataPrefix  string        `json:"dataPrefix"`
	Duration    time.Duration `json:"duration"`
}

// MarshalJSON renders Duration as a human string rather than a raw int64.
func (r RestoreReport) MarshalJSON() ([]byte, error) {
	type alias RestoreReport
	return json.Marshal(&struct {
		alias
		Duration string `json:"duration"`
	}{
		alias:    alias(r),
		Duration: r.Duration.String(),
	})
}

// String renders a human-readable console summary.
func (r RestoreReport) String() string {
	status := "restored"
	if r.DryRun {
		status = "dry-run"
	}
	return fmt.Sprintf(
		"Restore (%s) completed in %s\nRestored: %d\nSkipped: %d\nErrors: %d\nManifest: %s\nData prefix: %s",
		status, r.Duration, r.Restored, r.Skipped, r.Errors, r.ManifestKey, r.DataPrefix,
	)
}
