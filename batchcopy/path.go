// Package batchcopy implements the Batch-Copy Launcher from section 4.7,
// plus the job-submission core shared with the Incremental Window
// Aggregator (section 4.5 step 3): canonical path computation, manifest
// promotion, and deterministic-client-token job submission against the
// batch-copy store.
package batchcopy

import (
	"fmt"
	"time"

	"github.com/brinewave/vaultsweep/objectfilter"
)

// Prefixes are the three canonical roots a batch-copy job needs, derived
// from the central-container key grammar in section 6.
type Prefixes struct {
	ManifestPrefix string
	DataPrefix     string
	ReportsPrefix  string
}

// IncrementalPrefixes computes the canonical incremental manifest, data, and
// reports prefixes for (tier, initiative, source, window), per section 4.5
// step 3's target-key-prefix grammar.
func IncrementalPrefixes(tier, initiative, source, windowLabel string) (Prefixes, error) {
	windowStart, err := objectfilter.ParseWindowLabel(windowLabel)
	if err != nil {
		return Prefixes{}, err
	}
	datePath := dateComponents(windowStart)

	return Prefixes{
		ManifestPrefix: fmt.Sprintf("manifests/criticality=%s/backup_type=incremental/initiative=%s/bucket=%s/window=%s", tier, initiative, source, windowLabel),
		DataPrefix: fmt.Sprintf("backup/criticality=%s/backup_type=incremental/generation=%s/initiative=%s/bucket=%s/%s/window=%s",
			tier, "son", initiative, source, datePath, windowLabel),
		ReportsPrefix: fmt.Sprintf("reports/criticality=%s/backup_type=incremental/initiative=%s/bucket=%s/%s/window=%s", tier, initiative, source, datePath, windowLabel),
	}, nil
}

// CanonicalManifestKey is the canonical incremental manifest object key
// (section 4.5 step 3).
func CanonicalManifestKey(tier, initiative, source, windowLabel, runID string) string {
	return fmt.Sprintf("manifests/criticality=%s/backup_type=incremental/initiative=%s/bucket=%s/window=%s/manifest-%s.csv",
		tier, initiative, source, windowLabel, runID)
}

// SweepPrefixes computes the canonical sweep-mode manifest, data, and
// reports prefixes for (tier, mode, generation, initiative, source) rooted
// at the hour derived from windowStart, per section 4.7 step 1 and the
// canonical-sweep grammar in section 6.
func SweepPrefixes(tier, mode, generation, initiative, source string, windowStart time.Time) Prefixes {
	datePath := dateComponents(windowStart)
	return Prefixes{
		ManifestPrefix: fmt.Sprintf("manifests/criticality=%s/backup_type=%s/initiative=%s/bucket=%s/%s", tier, mode, initiative, source, datePath),
		DataPrefix: fmt.Sprintf("backup/criticality=%s/backup_type=%s/generation=%s/initiative=%s/bucket=%s/%s",
			tier, mode, generation, initiative, source, datePath),
		ReportsPrefix: fmt.Sprintf("reports/criticality=%s/backup_type=%s/initiative=%s/bucket=%s/%s", tier, mode, initiative, source, datePath),
	}
}

// dateComponents renders the year=/month=/day=/hour= path segment for t in
// UTC, per section 6's canonical-sweep grammar.
func dateComponents(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d/hour=%02d", u.Year(), u.Month(), u.Day(), u.Hour())
}

// CurrentHourWindowLabel returns the window label for the current hour,
// rounded down to the hour, used when the Launcher is invoked without an
// explicit window_label (section 4.7 step 1).
func CurrentHourWindowLabel(now time.Time) string {
	u := now.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
	return objectfilter.WindowLabel(start)
}
