package batchcopy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	s3ctypes "github.com/aws/aws-sdk-go-v2/service/s3control/types"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/metrics"
)

// JobSpec describes one batch-copy job submission (section 4.5 step 3 and
// section 4.7 step 4).
type JobSpec struct {
	Source          string
	Mode            string // "incremental" or "full"
	Generation      string
	Tier            string
	WindowLabel     string
	ManifestBucket  string
	ManifestKey     string
	ManifestETag    string
	DataPrefix      string
	ReportsPrefix   string
	AccountID       string
	BatchRoleARN    string
	TargetBucketARN string
}

// ClientToken computes the deterministic client token from
// sha256("<source>|<mode>|<generation>|<tier>|<window_label>") (section 4.7
// step 4 / section 4.5 step 3), guaranteeing at-most-once job creation for
// identical inputs.
func ClientToken(source, mode, generation, tier, windowLabel string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s", source, mode, generation, tier, windowLabel)))
	return hex.EncodeToString(sum[:])
}

// Launcher submits and (for the full workflow step) promotes manifests for
// batch-copy jobs.
type Launcher struct {
	s3Client        awsclient.S3Client
	s3ControlClient awsclient.S3ControlClient
	logger          zerolog.Logger
}

// New creates a Launcher.
func New(s3Client awsclient.S3Client, s3ControlClient awsclient.S3ControlClient, logger zerolog.Logger) *Launcher {
	return &Launcher{s3Client: s3Client, s3ControlClient: s3ControlClient, logger: logger}
}

// Submit creates the batch-copy job for spec, retrying exactly once on an
// integrity-tag mismatch with a freshly re-read manifest ETag (section 4.7
// step 5). Returns the job id.
func (l *Launcher) Submit(ctx context.Context, spec JobSpec) (string, error) {
	jobID, err := l.createJob(ctx, spec)
	if err == nil {
		metrics.BatchCopyJobsSubmitted.WithLabelValues(spec.Tier, spec.Mode).Inc()
		return jobID, nil
	}
	if !isTagMismatch(err) {
		return "", fmt.Errorf("create batch-copy job: %w", err)
	}

	metrics.BatchCopyIntegrityRetries.Inc()
	freshTag, rerr := l.readManifestTag(ctx, spec.ManifestBucket, spec.ManifestKey)
	if rerr != nil {
		return "", fmt.Errorf("re-read manifest tag after integrity mismatch: %w", rerr)
	}
	spec.ManifestETag = freshTag

	jobID, err = l.createJob(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("create batch-copy job after integrity retry: %w", err)
	}
	metrics.BatchCopyJobsSubmitted.WithLabelValues(spec.Tier, spec.Mode).Inc()
	return jobID, nil
}

func (l *Launcher) createJob(ctx context.Context, spec JobSpec) (string, error) {
	token := ClientToken(spec.Source, spec.Mode, spec.Generation, spec.Tier, spec.WindowLabel)
	manifestARN := fmt.Sprintf("arn:aws:s3:::%s/%s", spec.ManifestBucket, spec.ManifestKey)
	reportsARN := fmt.Sprintf("arn:aws:s3:::%s", spec.ManifestBucket)

	out, err := l.s3ControlClient.CreateJob(ctx, &s3control.CreateJobInput{
		AccountId:           &spec.AccountID,
		ClientRequestToken:  &token,
		RoleArn:             &spec.BatchRoleARN,
		Priority:            int32Ptr(10),
		ConfirmationRequired: boolPtr(false),
		Manifest: &s3ctypes.JobManifest{
			Spec: &s3ctypes.JobManifestSpec{
				Format: s3ctypes.JobManifestFormatS3batchOperationsCsv20180820,
				Fields: []s3ctypes.JobManifestFieldName{
					s3ctypes.JobManifestFieldNameBucket,
					s3ctypes.JobManifestFieldNameKey,
				},
			},
			Location: &s3ctypes.JobManifestLocation{
				ObjectArn: &manifestARN,
				ETag:      &spec.ManifestETag,
			},
		},
		Operation: &s3ctypes.JobOperation{
			S3PutObjectCopy: &s3ctypes.S3CopyObjectOperation{
				TargetResource:  &spec.TargetBucketARN,
				TargetKeyPrefix: &spec.DataPrefix,
				NewObjectMetadata: &s3ctypes.S3ObjectMetadata{
					SSEAlgorithm: s3ctypes.S3SSEAlgorithmAes256,
				},
			},
		},
		Report: &s3ctypes.JobReport{
			Bucket:      &reportsARN,
			Prefix:      &spec.ReportsPrefix,
			Format:      s3ctypes.JobReportFormatReportCsv20180820,
			Enabled:     true,
			ReportScope: s3ctypes.JobReportScopeAllTasks,
		},
	})
	if err != nil {
		return "", err
	}
	return *out.JobId, nil
}

func (l *Launcher) readManifestTag(ctx context.Context, bucket, key string) (string, error) {
	head, err := l.s3Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return "", err
	}
	if head.ETag == nil {
		return "", fmt.Errorf("manifest %s/%s has no ETag", bucket, key)
	}
	return strings.Trim(*head.ETag, "\""), nil
}

// PromoteManifest copies a temp manifest to its canonical path (preserving
// metadata, enforcing server-side encryption), verifies the destination
// exists via a metadata read, and only then deletes the temp object (section
// 4.7 step 2). Returns the canonical object's integrity tag.
func (l *Launcher) PromoteManifest(ctx context.Context, bucket, tempKey, canonicalKey string) (string, error) {
	if tempKey == canonicalKey {
		return l.readManifestTag(ctx, bucket, canonicalKey)
	}

	source := fmt.Sprintf("%s/%s", bucket, tempKey)
	_, err := l.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:               &bucket,
		Key:                  &canonicalKey,
		CopySource:           &source,
		MetadataDirective:    "COPY",
		ServerSideEncryption: "AES256",
	})
	if err != nil {
		return "", fmt.Errorf("copy manifest to canonical path: %w", err)
	}

	tag, err := l.readManifestTag(ctx, bucket, canonicalKey)
	if err != nil {
		return "", fmt.Errorf("verify canonical manifest exists: %w", err)
	}

	if _, err := l.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &tempKey}); err != nil {
		l.logger.Warn().Err(err).Str("bucket", bucket).Str("key", tempKey).
			Msg("failed to delete temp manifest after promotion")
	}

	return tag, nil
}

func isTagMismatch(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "InvalidRequest" || code == "BadRequest" {
			return strings.Contains(strings.ToLower(err.Error()), "etag")
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "etag")
}

func int32Ptr(v int32) *int32 { return &v }
func boolPtr(v bool) *bool    { return &v }
