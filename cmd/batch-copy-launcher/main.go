// Package main submits one S3 Batch Operations copy job from a previously
// written manifest, first promoting it from its temporary key to its
// canonical key.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3control"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/batchcopy"
	"github.com/brinewave/vaultsweep/config"
	"github.com/brinewave/vaultsweep/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("batch-copy-launcher", flag.ExitOnError)
	region := fs.String("region", "", "AWS region (defaults to AWS_REGION env)")
	jsonLogs := fs.Bool("json-logs", true, "emit structured JSON logs")
	source := fs.String("source", "", "source container the manifest was built for")
	mode := fs.String("mode", "incremental", "incremental|full")
	generation := fs.String("generation", "", "retention generation label")
	tier := fs.String("tier", "", "source container's criticality tier")
	window := fs.String("window", "", "window label, for incremental jobs")
	manifestKey := fs.String("manifest-key", "", "temporary manifest key to promote and submit")
	dataPrefix := fs.String("data-prefix", "", "central-container prefix the copied objects land under")
	reportsPrefix := fs.String("reports-prefix", "batch-reports", "central-container prefix for the job completion report")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if *source == "" || *manifestKey == "" || *dataPrefix == "" {
		return fmt.Errorf("-source, -manifest-key and -data-prefix are required")
	}

	cfg, err := config.FromEnvironment()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.BatchRoleARN == "" {
		return fmt.Errorf("BATCH_ROLE_ARN is required to submit a batch copy job")
	}

	logging.Init(logging.Config{Level: logging.InfoLevel, JSONOutput: *jsonLogs})
	logger := logging.WithComponent("batch-copy-launcher")

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*region))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	s3Client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))
	s3ControlClient := awsclient.NewS3ControlClient(s3control.NewFromConfig(awsCfg))
	launcher := batchcopy.New(s3Client, s3ControlClient, logger)

	canonicalKey := canonicalManifestKey(*tier, *mode, cfg.Initiative, *source, *window, *manifestKey)
	etag, err := launcher.PromoteManifest(ctx, cfg.CentralBackupBucket, *manifestKey, canonicalKey)
	if err != nil {
		return fmt.Errorf("promote manifest: %w", err)
	}

	jobID, err := launcher.Submit(ctx, batchcopy.JobSpec{
		Source:          *source,
		Mode:            *mode,
		Generation:      *generation,
		Tier:            *tier,
		WindowLabel:     *window,
		ManifestBucket:  cfg.CentralBackupBucket,
		ManifestKey:     canonicalKey,
		ManifestETag:    etag,
		DataPrefix:      *dataPrefix,
		ReportsPrefix:   *reportsPrefix,
		AccountID:       cfg.AccountID,
		BatchRoleARN:    cfg.BatchRoleARN,
		TargetBucketARN: cfg.BackupBucketARN,
	})
	if err != nil {
		return fmt.Errorf("submit batch copy job: %w", err)
	}

	logger.Info().Str("job_id", jobID).Str("manifest_key", canonicalKey).Msg("batch copy job submitted")
	return nil
}

func canonicalManifestKey(tier, mode, initiative, source, window, tempKey string) string {
	root := fmt.Sprintf("manifests/criticality=%s/backup_type=%s/initiative=%s/bucket=%s/", tier, mode, initiative, source)
	if window != "" {
		root += fmt.Sprintf("window=%s/", window)
	}
	return root + manifestFileName(tempKey)
}

func manifestFileName(tempKey string) string {
	for i := len(tempKey) - 1; i >= 0; i-- {
		if tempKey[i] == '/' {
			return tempKey[i+1:]
		}
	}
	return tempKey
}
