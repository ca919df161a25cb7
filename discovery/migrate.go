package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/tiering"
)

// legacyBackupTypeSegment is the backup_type segment of the per-criticality
// legacy layout this migration retires:
// backup/criticality=<tier>/backup_type=configurations/.
const legacyBackupTypeSegment = "/backup_type=configurations/"

// newConfigurationsRoot is the flattened layout configuration snapshots move
// to: criticality no longer partitions this backup type.
const newConfigurationsRoot = "backup/configurations/"

// MigrationOutcome is one legacy key's disposition.
type MigrationOutcome struct {
	SourceKey string
	DestKey   string
	Status    string // migrated|skipped|exists|error
	Detail    string
}

// MigrationReport summarizes a MigrateLegacyPrefix run.
type MigrationReport struct {
	Outcomes []MigrationOutcome
	Migrated int
	Skipped  int
	Existed  int
	Errors   int
}

// MigrateLegacyPrefixOptions configures one migration run.
type MigrateLegacyPrefixOptions struct {
	Criticalities []tiering.Tier // empty means all three tiers
	Initiative    string         // empty means all initiatives
	Overwrite     bool           // overwrite an existing destination object instead of skipping it
	DeleteSource  bool           // delete the legacy object after a verified copy
	DryRun        bool           // plan only, issue no copies
	Concurrency   int            // parallel copy workers, default 8
}

// MigrateLegacyPrefix moves configuration snapshots out of the legacy
// criticality-partitioned layout (backup/criticality=<tier>/backup_type=
// configurations/initiative=.../service=.../year=/month=/day=/hour=/...)
// into the flattened layout (backup/configurations/initiative=.../...),
// preserving every path segment after backup_type=configurations/.
//
// This supplements the per-source backup pipeline with the one-time layout
// migration the original deployment ran as a standalone script: configuration
// snapshots don't carry a criticality axis in the new layout, so this
// operation exists purely to relocate objects written under the old scheme.
func MigrateLegacyPrefix(ctx context.Context, client awsclient.S3Client, bucket string, opts MigrateLegacyPrefixOptions, logger zerolog.Logger) (*MigrationReport, error) {
	criticalities := opts.Criticalities
	if len(criticalities) == 0 {
		criticalities = []tiering.Tier{tiering.Critical, tiering.LessCritical, tiering.NonCritical}
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	var keys []string
	for _, tier := range criticalities {
		prefix := fmt.Sprintf("backup/criticality=%s%s", tier, legacyBackupTypeSegment)
		found, err := listAllKeys(ctx, client, bucket, prefix)
		if err != nil {
			return nil, fmt.Errorf("list legacy keys under %s: %w", prefix, err)
		}
		keys = append(keys, found...)
	}

	report := &MigrationReport{Outcomes: make([]MigrationOutcome, len(keys))}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for i, key := range keys {
		i, key := i, key
		group.Go(func() error {
			outcome := migrateOne(groupCtx, client, bucket, key, opts)
			report.Outcomes[i] = outcome
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for _, o := range report.Outcomes {
		switch o.Status {
		case "migrated":
			report.Migrated++
		case "skipped":
			report.Skipped++
		case "exists":
			report.Existed++
		case "error":
			report.Errors++
			logger.Warn().Str("key", o.SourceKey).Str("detail", o.Detail).Msg("migration failed for key")
		}
	}
	return report, nil
}

func migrateOne(ctx context.Context, client awsclient.S3Client, bucket, key string, opts MigrateLegacyPrefixOptions) MigrationOutcome {
	idx := strings.Index(key, legacyBackupTypeSegment)
	if idx == -1 {
		return MigrationOutcome{SourceKey: key, Status: "skipped", Detail: "not a configurations key"}
	}
	suffix := key[idx+len(legacyBackupTypeSegment):]
	meta := parseLegacySuffixMeta(suffix)

	if opts.Initiative != "" && meta["initiative"] != opts.Initiative {
		return MigrationOutcome{SourceKey: key, Status: "skipped", Detail: "initiative filter"}
	}

	destKey := newConfigurationsRoot + suffix

	exists, err := objectExists(ctx, client, bucket, destKey)
	if err != nil {
		return MigrationOutcome{SourceKey: key, DestKey: destKey, Status: "error", Detail: err.Error()}
	}
	if exists && !opts.Overwrite {
		return MigrationOutcome{SourceKey: key, DestKey: destKey, Status: "exists", Detail: "destination already present"}
	}

	if opts.DryRun {
		return MigrationOutcome{SourceKey: key, DestKey: destKey, Status: "migrated", Detail: "dry-run"}
	}

	source := fmt.Sprintf("%s/%s", bucket, key)
	if _, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:               &bucket,
		Key:                  &destKey,
		CopySource:           &source,
		MetadataDirective:    s3types.MetadataDirectiveCopy,
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	}); err != nil {
		return MigrationOutcome{SourceKey: key, DestKey: destKey, Status: "error", Detail: fmt.Sprintf("copy: %v", err)}
	}

	srcSize, srcErr := objectSize(ctx, client, bucket, key)
	dstSize, dstErr := objectSize(ctx, client, bucket, destKey)
	if srcErr != nil || dstErr != nil || srcSize != dstSize {
		return MigrationOutcome{SourceKey: key, DestKey: destKey, Status: "error", Detail: "verify failed: size mismatch or head missing"}
	}

	if opts.DeleteSource {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); err != nil {
			return MigrationOutcome{SourceKey: key, DestKey: destKey, Status: "error", Detail: fmt.Sprintf("copied but delete failed: %v", err)}
		}
	}

	return MigrationOutcome{SourceKey: key, DestKey: destKey, Status: "migrated"}
}

// parseLegacySuffixMeta pulls the key=value path segments
// (initiative=.../service=.../year=.../...) out of a legacy object's suffix.
func parseLegacySuffixMeta(suffix string) map[string]string {
	meta := make(map[string]string)
	parts := strings.Split(suffix, "/")
	for i, part := range parts {
		if i >= 6 {
			break
		}
		if k, v, ok := strings.Cut(part, "="); ok {
			meta[k] = v
		}
	}
	return meta
}

func listAllKeys(ctx context.Context, client awsclient.S3Client, bucket, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &bucket, Prefix: &prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

func objectExists(ctx context.Context, client awsclient.S3Client, bucket, key string) (bool, error) {
	_, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func objectSize(ctx context.Context, client awsclient.S3Client, bucket, key string) (int64, error) {
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return 0, err
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

