// Package discovery implements the Discovery Reconciler from section 4.4 of
// the design specification: a tag-scan of source containers, per-source
// criticality resolution, and idempotent convergence of each container's
// enumeration and notification configuration toward the configured policy.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	rgtTypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/metrics"
	"github.com/brinewave/vaultsweep/tagresolver"
	"github.com/brinewave/vaultsweep/tiering"
)

// BackupEnabledTagKey marks a container as a backup source.
const BackupEnabledTagKey = "BackupEnabled"

// NotificationID is the well-known identifier the reconciler uses to own one
// entry in each container's notification configuration, leaving any other
// entries an operator or another system has installed untouched.
const NotificationID = "BckIncrementalTrigger-SQS"

// EnumerationDestinationPrefix is the fixed inventory-destination prefix
// under the central container (section 6's "inventory-source" root).
const EnumerationDestinationPrefix = "inventory-source"

const maxConflictAttempts = 7

// SourceResult is one entry of the reconciler's output (section 4.4's
// "Output" clause).
type SourceResult struct {
	Source            string
	Tier              tiering.Tier
	EnumerationPrefix string
	CentralContainer  string
}

// SourceError pairs a source container with the error encountered
// reconciling it; the reconciler never aborts the whole run over one
// source's failure.
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string { return fmt.Sprintf("%s: %v", e.Source, e.Err) }

// Result is the reconciler's output: section 4.4's {sources, errors} pair.
type Result struct {
	Sources []SourceResult
	Errors  []SourceError
}

// Reconciler converges every BackupEnabled container's enumeration and
// notification configuration toward policy on each invocation.
type Reconciler struct {
	s3Client      awsclient.S3Client
	taggingClient awsclient.TaggingClient
	resolver      *tagresolver.Resolver
	policy        tiering.Policy
	logger        zerolog.Logger

	centralContainer string
	queueARN         string
}

// New creates a Reconciler.
func New(s3Client awsclient.S3Client, taggingClient awsclient.TaggingClient, resolver *tagresolver.Resolver, policy tiering.Policy, centralContainer, queueARN string, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		s3Client:         s3Client,
		taggingClient:    taggingClient,
		resolver:         resolver,
		policy:           policy,
		logger:           logger,
		centralContainer: centralContainer,
		queueARN:         queueARN,
	}
}

// Run performs one reconciliation pass: tag-scan, then per-source
// convergence of enumeration and notification configuration.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	sources, err := r.tagScan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tag-scan failed: %w", err)
	}

	result := &Result{}
	tierCounts := map[tiering.Tier]int{}

	for _, source := range sources {
		tier, err := r.resolver.Resolve(ctx, source)
		if err != nil {
			result.Errors = append(result.Errors, SourceError{Source: source, Err: fmt.Errorf("resolve criticality: %w", err)})
			metrics.DiscoveryErrorsTotal.WithLabelValues(source).Inc()
			continue
		}

		if err := r.reconcileEnumeration(ctx, source, tier); err != nil {
			result.Errors = append(result.Errors, SourceError{Source: source, Err: fmt.Errorf("reconcile enumeration: %w", err)})
			metrics.DiscoveryErrorsTotal.WithLabelValues(source).Inc()
			continue
		}

		if err := r.reconcileNotification(ctx, source, tier); err != nil {
			result.Errors = append(result.Errors, SourceError{Source: source, Err: fmt.Errorf("reconcile notification: %w", err)})
			metrics.DiscoveryErrorsTotal.WithLabelValues(source).Inc()
			continue
		}

		tierCounts[tier]++
		result.Sources = append(result.Sources, SourceResult{
			Source:            source,
			Tier:              tier,
			EnumerationPrefix: EnumerationDestinationPrefix,
			CentralContainer:  r.centralContainer,
		})
	}

	for tier, count := range tierCounts {
		metrics.SourcesDiscovered.WithLabelValues(string(tier)).Set(float64(count))
	}

	return result, nil
}

// ListSources reports every BackupEnabled container and its resolved
// criticality tier, without reconciling any configuration — the read-only
// counterpart to Run used by operator tooling.
func (r *Reconciler) ListSources(ctx context.Context) ([]SourceResult, error) {
	sources, err := r.tagScan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tag-scan failed: %w", err)
	}

	results := make([]SourceResult, 0, len(sources))
	for _, source := range sources {
		tier, err := r.resolver.Resolve(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("resolve criticality for %s: %w", source, err)
		}
		results = append(results, SourceResult{
			Source:            source,
			Tier:              tier,
			EnumerationPrefix: EnumerationDestinationPrefix,
			CentralContainer:  r.centralContainer,
		})
	}
	return results, nil
}

// tagScan finds every container tagged BackupEnabled=true via the
// cross-service tagging API (section 4.4 step 1).
func (r *Reconciler) tagScan(ctx context.Context) ([]string, error) {
	var sources []string
	var token *string

	for {
		out, err := r.taggingClient.GetResources(ctx, &resourcegroupstaggingapi.GetResourcesInput{
			ResourceTypeFilters: []string{"s3"},
			TagFilters: []rgtTypes.TagFilter{
				{Key: awsString(BackupEnabledTagKey), Values: []string{"true"}},
			},
			PaginationToken: token,
		})
		if err != nil {
			return nil, err
		}

		for _, mapping := range out.ResourceTagMappingList {
			if mapping.ResourceARN == nil {
				continue
			}
			sources = append(sources, bucketNameFromARN(*mapping.ResourceARN))
		}

		if out.PaginationToken == nil || *out.PaginationToken == "" {
			break
		}
		token = out.PaginationToken
	}

	return sources, nil
}

// reconcileEnumeration ensures an inventory configuration exists on source
// with the frequency the tier's policy demands, overwriting a
// differently-configured one and leaving a matching one untouched (section
// 4.4 step 3's idempotence requirement).
func (r *Reconciler) reconcileEnumeration(ctx context.Context, source string, tier tiering.Tier) error {
	frequency := r.policy.FrequencyFor(tier)
	configID := "backup-enumeration"

	existing, err := r.s3Client.GetBucketInventoryConfiguration(ctx, &s3.GetBucketInventoryConfigurationInput{
		Bucket: &source,
		Id:     &configID,
	})
	if err == nil && existing.InventoryConfiguration != nil {
		if existing.InventoryConfiguration.Schedule != nil &&
			string(existing.InventoryConfiguration.Schedule.Frequency) == string(frequency) {
			return nil
		}
	} else if err != nil && !isNotFound(err) {
		return fmt.Errorf("read inventory configuration: %w", err)
	}

	_, err = r.s3Client.PutBucketInventoryConfiguration(ctx, &s3.PutBucketInventoryConfigurationInput{
		Bucket: &source,
		Id:     &configID,
		InventoryConfiguration: &s3types.InventoryConfiguration{
			Id:        &configID,
			IsEnabled: boolPtr(true),
			Destination: &s3types.InventoryDestination{
				S3BucketDestination: &s3types.InventoryS3BucketDestination{
					Bucket: awsString(arnForBucket(r.centralContainer)),
					Format: s3types.InventoryFormatCsv,
					Prefix: awsString(EnumerationDestinationPrefix + "/" + source),
				},
			},
			IncludedObjectVersions: s3types.InventoryIncludedObjectVersionsCurrent,
			Schedule: &s3types.InventorySchedule{
				Frequency: s3types.InventoryFrequency(frequency),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put inventory configuration: %w", err)
	}
	return nil
}

// reconcileNotification adds or removes the BckIncrementalTrigger-SQS entry
// depending on whether tier requires notifications (section 4.4 step 4),
// retrying on conflict with jittered exponential backoff up to 7 attempts.
func (r *Reconciler) reconcileNotification(ctx context.Context, source string, tier tiering.Tier) error {
	requiresNotification := r.policy.NotificationsRequiredFor(tier)

	for attempt := 0; attempt < maxConflictAttempts; attempt++ {
		existing, err := r.s3Client.GetBucketNotificationConfiguration(ctx, &s3.GetBucketNotificationConfigurationInput{Bucket: &source})
		if err != nil {
			return fmt.Errorf("read notification configuration: %w", err)
		}

		queueConfigs := make([]s3types.QueueConfiguration, 0, len(existing.QueueConfigurations))
		found := false
		for _, qc := range existing.QueueConfigurations {
			if qc.Id != nil && *qc.Id == NotificationID {
				found = true
				if requiresNotification {
					queueConfigs = append(queueConfigs, qc)
				}
				continue
			}
			queueConfigs = append(queueConfigs, qc)
		}

		if requiresNotification && !found {
			queueConfigs = append(queueConfigs, s3types.QueueConfiguration{
				Id:       awsString(NotificationID),
				QueueArn: awsString(r.queueARN),
				Events:   []s3types.Event{s3types.EventS3ObjectCreated},
			})
		} else if !requiresNotification && !found {
			return nil
		} else if requiresNotification && found {
			return nil
		}

		_, err = r.s3Client.PutBucketNotificationConfiguration(ctx, &s3.PutBucketNotificationConfigurationInput{
			Bucket: &source,
			NotificationConfiguration: &s3types.NotificationConfiguration{
				QueueConfigurations:         queueConfigs,
				TopicConfigurations:         existing.TopicConfigurations,
				LambdaFunctionConfigurations: existing.LambdaFunctionConfigurations,
			},
		})
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("put notification configuration: %w", err)
		}

		if !backoffWait(ctx, attempt) {
			return ctx.Err()
		}
	}

	return fmt.Errorf("notification configuration for %s still conflicting after %d attempts", source, maxConflictAttempts)
}

// backoffWait sleeps for an exponentially increasing duration with jitter,
// matching the retry idiom used for store conflicts elsewhere in the
// ecosystem. Returns false if ctx is cancelled during the wait.
func backoffWait(ctx context.Context, attempt int) bool {
	base := 100 * time.Millisecond
	maxDelay := 10 * time.Second

	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay) + 1))
	delay += jitter

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func isConflict(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "OperationAborted" || code == "Conflict" || code == "409"
	}
	return false
}

func isNotFound(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchConfiguration" || code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func awsString(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }

// arnForBucket builds the S3 resource ARN PutBucketInventoryConfiguration
// requires for its destination bucket field; the inverse of
// bucketNameFromARN.
func arnForBucket(bucket string) string { return "arn:aws:s3:::" + bucket }

// bucketNameFromARN extracts the bucket name from an S3 resource ARN of the
// form "arn:aws:s3:::bucket-name".
func bucketNameFromARN(arn string) string {
	const prefix = "arn:aws:s3:::"
	if len(arn) > len(prefix) && arn[:len(prefix)] == prefix {
		return arn[len(prefix):]
	}
	return arn
}
