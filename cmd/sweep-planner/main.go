// Package main runs one Sweep Planner invocation for a single source
// container: locate the freshest enumeration, stream matching rows into a
// manifest, and advance the sweep checkpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/checkpoint"
	"github.com/brinewave/vaultsweep/config"
	"github.com/brinewave/vaultsweep/inventory"
	"github.com/brinewave/vaultsweep/logging"
	"github.com/brinewave/vaultsweep/manifestwriter"
	"github.com/brinewave/vaultsweep/objectfilter"
	"github.com/brinewave/vaultsweep/sweep"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("sweep-planner", flag.ExitOnError)
	region := fs.String("region", "", "AWS region (defaults to AWS_REGION env)")
	jsonLogs := fs.Bool("json-logs", true, "emit structured JSON logs")
	source := fs.String("source", "", "source container to sweep")
	tier := fs.String("tier", "", "source container's criticality tier")
	mode := fs.String("mode", "incremental", "sweep mode: incremental|full")
	enumerationPrefix := fs.String("enumeration-prefix", "", "enumeration descriptor prefix under the central container")
	checkpointTable := fs.String("checkpoint-table", os.Getenv("CHECKPOINT_TABLE"), "DynamoDB table for checkpoints (empty uses the central container)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if *source == "" || *tier == "" {
		return fmt.Errorf("-source and -tier are required")
	}

	cfg, err := config.FromEnvironment()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{Level: logging.InfoLevel, JSONOutput: *jsonLogs})
	logger := logging.WithComponent("sweep-planner")

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*region))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	s3Client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))

	var checkpointStore checkpoint.Store
	if *checkpointTable != "" {
		checkpointStore = checkpoint.NewDynamoDBStore(awsclient.NewDynamoDBClient(dynamodb.NewFromConfig(awsCfg)), *checkpointTable, logger)
	} else {
		checkpointStore = checkpoint.NewS3Store(s3Client, cfg.CentralBackupBucket, logger)
	}

	filterRulesByTier := cfg.FilterRulesByTier()
	filterRules := make(map[string]objectfilter.Rules, len(filterRulesByTier))
	for t, rules := range filterRulesByTier {
		filterRules[string(t)] = rules
	}

	reader := inventory.New(s3Client, logger)
	writer := manifestwriter.New(s3Client, logger)

	planner := sweep.New(s3Client, reader, writer, checkpointStore, filterRules, sweep.Options{
		ForceFullOnFirstRun:      cfg.ForceFullOnFirstRun,
		FallbackMaxObjects:       cfg.FallbackMaxObjects,
		FallbackTimeLimitSeconds: cfg.FallbackTimeLimitSeconds,
	}, logger)

	result, err := planner.Run(ctx, sweep.Args{
		Source:            *source,
		CentralContainer:  cfg.CentralBackupBucket,
		Mode:              sweep.Mode(*mode),
		Tier:              *tier,
		EnumerationPrefix: *enumerationPrefix,
	})
	if err != nil {
		return fmt.Errorf("sweep %s: %w", *source, err)
	}

	logger.Info().Str("status", string(result.Status)).Str("key", result.Key).Int("rows", result.RowCount).Msg("sweep complete")
	return nil
}
