// Package checkpoint implements the Checkpoint Store from section 4.1 of the
// design specification: per-(source, mode, window) markers persisted in the
// central container (or, via DynamoDBStore, a small DynamoDB table).
package checkpoint

import "context"

// Store is the contract every checkpoint backend implements. Section 4.1
// requires ReadSweep to fail soft (absence, including on unexpected faults,
// is reported as "no checkpoint" so callers process everything) and
// HasWindow/MarkWindow to be O(1).
type Store interface {
	// ReadSweep returns the high-water-mark timestamp for (source, mode) in
	// ISO-8601 UTC form, or ("", false) if no checkpoint exists or the read
	// failed — per section 4.1, a fault here is treated as "no checkpoint"
	// rather than propagated, since the safe behavior is to over-process.
	ReadSweep(ctx context.Context, source, mode string) (timestamp string, ok bool)

	// WriteSweep persists the new high-water-mark timestamp. Unlike
	// ReadSweep, a write failure IS propagated: section 4.1 only allows
	// ReadSweep to fail soft.
	WriteSweep(ctx context.Context, source, mode, timestamp string) error

	// HasWindow reports whether (source, tier, window) has already been
	// processed (section 4.5's window-idempotence invariant).
	HasWindow(ctx context.Context, source, tier, window string) (bool, error)

	// MarkWindow records that (source, tier, window) has been processed.
	// The payload is irrelevant; existence is the signal.
	MarkWindow(ctx context.Context, source, tier, window string) error
}

var (
	_ Store = (*S3Store)(nil)
	_ Store = (*DynamoDBStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
