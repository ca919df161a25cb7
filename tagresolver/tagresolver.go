// Package tagresolver implements the Tag/Criticality Resolver from section
// 4.3: reads the BackupCriticality tag from a source container and maps it
// onto the closed tier enum, memoizing per process lifetime.
package tagresolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/tiering"
)

// CriticalityTagKey is the bucket-tag key carrying the tier value.
const CriticalityTagKey = "BackupCriticality"

// Resolver resolves a source container's criticality tier, memoizing results
// for the lifetime of the process. There is no cross-process cache per
// section 9's design note.
type Resolver struct {
	client awsclient.S3Client
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]tiering.Tier
}

// New creates a new Resolver.
func New(client awsclient.S3Client, logger zerolog.Logger) *Resolver {
	return &Resolver{
		client: client,
		logger: logger,
		cache:  make(map[string]tiering.Tier),
	}
}

// Resolve returns the criticality tier for source. A missing tag set or a
// missing BackupCriticality tag both resolve to tiering.DefaultTier
// (LessCritical); any other fault from the store is propagated per section
// 4.3.
func (r *Resolver) Resolve(ctx context.Context, source string) (tiering.Tier, error) {
	r.mu.RLock()
	if tier, ok := r.cache[source]; ok {
		r.mu.RUnlock()
		return tier, nil
	}
	r.mu.RUnlock()

	tier, err := r.resolveUncached(ctx, source)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[source] = tier
	r.mu.Unlock()

	return tier, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, source string) (tiering.Tier, error) {
	out, err := r.client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: &source})
	if err != nil {
		if isNoSuchTagSet(err) {
			return tiering.DefaultTier, nil
		}
		return "", fmt.Errorf("failed to read tags for %s: %w", source, err)
	}

	for _, tag := range out.TagSet {
		if tag.Key != nil && *tag.Key == CriticalityTagKey {
			raw := ""
			if tag.Value != nil {
				raw = *tag.Value
			}
			tier, err := tiering.ParseTier(raw)
			if err != nil {
				r.logger.Warn().Str("source", source).Str("raw_tier", raw).Err(err).
					Msg("unrecognized criticality tag value; falling back to default tier")
				return tiering.DefaultTier, nil
			}
			return tier, nil
		}
	}

	return tiering.DefaultTier, nil
}

// Forget drops any memoized tier for source, so the next Resolve re-reads
// its tags from the store.
func (r *Resolver) Forget(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, source)
}

func isNoSuchTagSet(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchTagSet" || apiErr.ErrorCode() == "NoSuchTagSetError"
	}
	return false
}
