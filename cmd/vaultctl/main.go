// Package main implements vaultctl, the operator CLI for inspecting and
// driving the backup engine out of band: listing discovered source
// containers, triggering an on-demand backup or restore, migrating the
// legacy configuration-snapshot layout, and validating manifest coverage.
package main

import (
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gurre/s3streamer"
	"github.com/spf13/cobra"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/checkpoint"
	"github.com/brinewave/vaultsweep/config"
	"github.com/brinewave/vaultsweep/discovery"
	"github.com/brinewave/vaultsweep/inventory"
	"github.com/brinewave/vaultsweep/logging"
	"github.com/brinewave/vaultsweep/manifestwriter"
	"github.com/brinewave/vaultsweep/objectfilter"
	"github.com/brinewave/vaultsweep/restore"
	"github.com/brinewave/vaultsweep/sweep"
	"github.com/brinewave/vaultsweep/tagresolver"
)

var (
	flagRegion   string
	flagJSONLogs bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Operate the backup engine: inspect sources, trigger backups and restores",
	}
	root.PersistentFlags().StringVar(&flagRegion, "region", "", "AWS region (defaults to AWS_REGION env)")
	root.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "emit structured JSON logs instead of console output")

	root.AddCommand(newListAccountsCmd())
	root.AddCommand(newTriggerBackupCmd())
	root.AddCommand(newTriggerRestoreCmd())
	root.AddCommand(newMigrateLayoutCmd())
	root.AddCommand(newValidateCoverageCmd())
	return root
}

func initLogging() {
	logging.Init(logging.Config{Level: logging.InfoLevel, JSONOutput: flagJSONLogs})
}

func newListAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-accounts",
		Short: "List every BackupEnabled source container and its resolved criticality tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			logger := logging.WithComponent("vaultctl")

			ctx := cmd.Context()
			cfg, err := config.FromEnvironment()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(flagRegion))
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}

			s3Client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))
			taggingClient := awsclient.NewTaggingClient(resourcegroupstaggingapi.NewFromConfig(awsCfg))
			resolver := tagresolver.New(s3Client, logger)
			reconciler := discovery.New(s3Client, taggingClient, resolver, cfg.Policy(), cfg.CentralBackupBucket, cfg.SQSQueueARN, logger)

			sources, err := reconciler.ListSources(ctx)
			if err != nil {
				return fmt.Errorf("list sources: %w", err)
			}

			fmt.Printf("%-40s %-14s\n", "SOURCE", "TIER")
			for _, s := range sources {
				fmt.Printf("%-40s %-14s\n", s.Source, s.Tier)
			}
			return nil
		},
	}
}

func newTriggerBackupCmd() *cobra.Command {
	var account, criticality, backupType, enumerationPrefix string

	cmd := &cobra.Command{
		Use:   "trigger-backup",
		Short: "Run an on-demand sweep for one source container",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" || criticality == "" || backupType == "" {
				return fmt.Errorf("--account, --criticality and --backup-type are required")
			}
			initLogging()
			logger := logging.WithComponent("vaultctl")

			ctx := cmd.Context()
			cfg, err := config.FromEnvironment()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(flagRegion))
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}

			s3Client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))
			checkpointStore := checkpoint.NewS3Store(s3Client, cfg.CentralBackupBucket, logger)

			filterRulesByTier := cfg.FilterRulesByTier()
			rulesByTier := make(map[string]objectfilter.Rules, len(filterRulesByTier))
			for t, rules := range filterRulesByTier {
				rulesByTier[string(t)] = rules
			}

			reader := inventory.New(s3Client, logger)
			writer := manifestwriter.New(s3Client, logger)

			planner := sweep.New(s3Client, reader, writer, checkpointStore, rulesByTier, sweep.Options{
				ForceFullOnFirstRun:      cfg.ForceFullOnFirstRun,
				FallbackMaxObjects:       cfg.FallbackMaxObjects,
				FallbackTimeLimitSeconds: cfg.FallbackTimeLimitSeconds,
			}, logger)

			result, err := planner.Run(ctx, sweep.Args{
				Source:            account,
				CentralContainer:  cfg.CentralBackupBucket,
				Mode:              sweep.Mode(backupType),
				Tier:              criticality,
				EnumerationPrefix: enumerationPrefix,
			})
			if err != nil {
				return fmt.Errorf("trigger backup for %s: %w", account, err)
			}

			logger.Info().Str("status", string(result.Status)).Str("key", result.Key).Int("rows", result.RowCount).Msg("backup triggered")
			fmt.Printf("status=%s key=%s rows=%d\n", result.Status, result.Key, result.RowCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "source container to back up (required)")
	cmd.Flags().StringVar(&criticality, "criticality", "", "criticality tier (required)")
	cmd.Flags().StringVar(&backupType, "backup-type", "", "incremental|full (required)")
	cmd.Flags().StringVar(&enumerationPrefix, "enumeration-prefix", "", "override the enumeration descriptor prefix")
	return cmd
}

func newTriggerRestoreCmd() *cobra.Command {
	var (
		account, sourceBucket, criticality, backupType, generation, initiative, prefix, window string
		year, month, day, hour, maxObjects                                                      int
		resumeOffset                                                                            int64
		dryRun                                                                                   bool
	)

	cmd := &cobra.Command{
		Use:   "trigger-restore",
		Short: "Replay a backed-up window from the central container back to its source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceBucket == "" || criticality == "" || backupType == "" || generation == "" {
				return fmt.Errorf("--source-bucket, --criticality, --backup-type and --generation are required")
			}
			initLogging()
			logger := logging.WithComponent("vaultctl")

			ctx := cmd.Context()
			cfg, err := config.FromEnvironment()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(flagRegion))
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}

			rawS3Client := s3.NewFromConfig(awsCfg)
			s3Client := awsclient.NewS3Client(rawS3Client)
			streamer := s3streamer.NewS3Streamer(rawS3Client)
			resolver := restore.New(s3Client, streamer, cfg.CentralBackupBucket, logger)

			result, err := resolver.Run(ctx, restore.Args{
				Source:     sourceBucket,
				Tier:       criticality,
				Mode:       backupType,
				Generation: generation,
				Initiative: initiative,
				Window:     window,
				Year:       year,
				Month:      month,
				Day:        day,
				Hour:       hour,
				KeyPrefix:    prefix,
				MaxObjects:   maxObjects,
				ResumeOffset: resumeOffset,
				DryRun:       dryRun,
			})
			if err != nil {
				return fmt.Errorf("trigger restore for %s: %w", sourceBucket, err)
			}

			logger.Info().Str("account", account).Str("manifest", result.ManifestKey).Int("restored", result.Counts.Restored).Int("skipped", result.Counts.Skipped).Int("errors", result.Counts.Errors).Int64("last_offset", result.LastOffset).Msg("restore complete")
			fmt.Printf("restored=%d skipped=%d errors=%d manifest=%s last_offset=%d\n", result.Counts.Restored, result.Counts.Skipped, result.Counts.Errors, result.ManifestKey, result.LastOffset)
			if result.Counts.Errors > 0 {
				return fmt.Errorf("%d object(s) failed to restore", result.Counts.Errors)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account key, for logging/audit purposes")
	cmd.Flags().StringVar(&sourceBucket, "source-bucket", "", "source container to restore into (required)")
	cmd.Flags().StringVar(&criticality, "criticality", "", "criticality tier (required)")
	cmd.Flags().StringVar(&backupType, "backup-type", "", "incremental|full (required)")
	cmd.Flags().StringVar(&generation, "generation", "", "retention generation label (required)")
	cmd.Flags().StringVar(&initiative, "initiative", "", "initiative label")
	cmd.Flags().StringVar(&prefix, "prefix", "", "restrict restore to keys under this prefix")
	cmd.Flags().StringVar(&window, "window", "", "explicit window label; omit to auto-resolve the latest")
	cmd.Flags().IntVar(&year, "year", 0, "explicit sweep year, for date-path resolution")
	cmd.Flags().IntVar(&month, "month", 0, "explicit sweep month")
	cmd.Flags().IntVar(&day, "day", 0, "explicit sweep day")
	cmd.Flags().IntVar(&hour, "hour", 0, "explicit sweep hour")
	cmd.Flags().IntVar(&maxObjects, "max-objects", 0, "stop after restoring this many objects (0 = unlimited)")
	cmd.Flags().Int64Var(&resumeOffset, "resume-offset", 0, "byte offset into the manifest to resume from, from a prior run's last_offset")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count matching objects without copying them")
	return cmd
}

func newMigrateLayoutCmd() *cobra.Command {
	var initiative string
	var overwrite, deleteSource, dryRun bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "migrate-layout",
		Short: "Move configuration snapshots from the legacy criticality-partitioned layout to the flattened one",
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			logger := logging.WithComponent("vaultctl")

			ctx := cmd.Context()
			cfg, err := config.FromEnvironment()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(flagRegion))
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}

			s3Client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))

			report, err := discovery.MigrateLegacyPrefix(ctx, s3Client, cfg.CentralBackupBucket, discovery.MigrateLegacyPrefixOptions{
				Initiative:   initiative,
				Overwrite:    overwrite,
				DeleteSource: deleteSource,
				DryRun:       dryRun,
				Concurrency:  concurrency,
			}, logger)
			if err != nil {
				return fmt.Errorf("migrate layout: %w", err)
			}

			fmt.Printf("migrated=%d skipped=%d existed=%d errors=%d\n", report.Migrated, report.Skipped, report.Existed, report.Errors)
			if report.Errors > 0 {
				return fmt.Errorf("%d key(s) failed to migrate", report.Errors)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&initiative, "initiative", "", "only migrate this initiative")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite an existing destination object instead of skipping it")
	cmd.Flags().BoolVar(&deleteSource, "delete-source", false, "delete the legacy object after a verified copy")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "plan only, issue no copies")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "parallel copy workers")
	return cmd
}

func newValidateCoverageCmd() *cobra.Command {
	var sourceBucket, criticality, backupType, initiative string
	var windowHours, lookbackWindows int

	cmd := &cobra.Command{
		Use:   "validate-coverage",
		Short: "Report manifest coverage gaps for a source container over a lookback window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceBucket == "" || criticality == "" || backupType == "" {
				return fmt.Errorf("--source-bucket, --criticality and --backup-type are required")
			}
			initLogging()

			ctx := cmd.Context()
			cfg, err := config.FromEnvironment()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(flagRegion))
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}

			s3Client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))

			report, err := restore.ValidateCoverage(ctx, s3Client, cfg.CentralBackupBucket, criticality, backupType, initiative, sourceBucket, windowHours, lookbackWindows, time.Now())
			if err != nil {
				return fmt.Errorf("validate coverage: %w", err)
			}

			fmt.Println(report.String())
			if !report.Complete() {
				return fmt.Errorf("coverage incomplete: %d gap(s)", len(report.GapsFound))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceBucket, "source-bucket", "", "source container to validate (required)")
	cmd.Flags().StringVar(&criticality, "criticality", "", "criticality tier (required)")
	cmd.Flags().StringVar(&backupType, "backup-type", "", "incremental|full (required)")
	cmd.Flags().StringVar(&initiative, "initiative", "", "initiative label")
	cmd.Flags().IntVar(&windowHours, "window-hours", 24, "expected window length in hours")
	cmd.Flags().IntVar(&lookbackWindows, "lookback-windows", 7, "number of windows to check, counting back from now")
	return cmd
}
