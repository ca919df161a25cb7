// Package main runs one Discovery Reconciler pass: tag-scan every source
// container, resolve its criticality, and converge its enumeration and
// notification configuration toward policy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/config"
	"github.com/brinewave/vaultsweep/discovery"
	"github.com/brinewave/vaultsweep/logging"
	"github.com/brinewave/vaultsweep/tagresolver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("discovery-reconciler", flag.ExitOnError)
	region := fs.String("region", "", "AWS region (defaults to AWS_REGION env)")
	jsonLogs := fs.Bool("json-logs", true, "emit structured JSON logs")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg, err := config.FromEnvironment()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{Level: logging.InfoLevel, JSONOutput: *jsonLogs})
	logger := logging.WithComponent("discovery-reconciler")

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*region))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	s3Client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))
	taggingClient := awsclient.NewTaggingClient(resourcegroupstaggingapi.NewFromConfig(awsCfg))
	resolver := tagresolver.New(s3Client, logger)

	reconciler := discovery.New(s3Client, taggingClient, resolver, cfg.Policy(), cfg.CentralBackupBucket, cfg.SQSQueueARN, logger)

	result, err := reconciler.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	logger.Info().Int("sources", len(result.Sources)).Int("errors", len(result.Errors)).Msg("reconciliation pass complete")
	for _, sourceErr := range result.Errors {
		logger.Warn().Str("source", sourceErr.Source).Err(sourceErr.Err).Msg("source reconciliation failed")
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d source(s) failed reconciliation", len(result.Errors))
	}
	return nil
}
