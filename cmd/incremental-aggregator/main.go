// Package main runs the Incremental Window Aggregator as a long-poll SQS
// consumer: it receives batches of object-created notifications, groups them
// into windows, and commits a manifest and batch-copy job per newly-seen
// window.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/aggregator"
	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/batchcopy"
	"github.com/brinewave/vaultsweep/checkpoint"
	"github.com/brinewave/vaultsweep/config"
	"github.com/brinewave/vaultsweep/logging"
	"github.com/brinewave/vaultsweep/manifestwriter"
	"github.com/brinewave/vaultsweep/metrics"
	"github.com/brinewave/vaultsweep/tagresolver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("incremental-aggregator", flag.ExitOnError)
	region := fs.String("region", "", "AWS region (defaults to AWS_REGION env)")
	jsonLogs := fs.Bool("json-logs", true, "emit structured JSON logs")
	waitTime := fs.Int("wait-seconds", 20, "SQS long-poll wait time, seconds")
	maxMessages := fs.Int("max-messages", 10, "max messages per ReceiveMessage call")
	metricsAddr := fs.String("metrics-addr", ":9102", "address to serve /metrics on")
	checkpointTable := fs.String("checkpoint-table", os.Getenv("CHECKPOINT_TABLE"), "DynamoDB table for checkpoints (empty uses the central container)")
	shutdownTimeout := fs.Duration("shutdown-timeout", 30*time.Second, "grace period to finish an in-flight batch on shutdown")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg, err := config.FromEnvironment()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.SQSQueueARN == "" {
		return fmt.Errorf("SQS_QUEUE_ARN is required for the incremental aggregator")
	}

	logging.Init(logging.Config{Level: logging.InfoLevel, JSONOutput: *jsonLogs})
	logger := logging.WithComponent("incremental-aggregator")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// procCtx outlives ctx by the shutdown grace period, so a batch already
	// in flight when a signal arrives can finish processing and deletion.
	procCtx, procCancel := context.WithCancel(context.Background())
	defer procCancel()
	go func() {
		<-ctx.Done()
		select {
		case <-time.After(*shutdownTimeout):
			procCancel()
		case <-procCtx.Done():
		}
	}()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*region))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	s3Client := awsclient.NewS3Client(s3.NewFromConfig(awsCfg))
	s3ControlClient := awsclient.NewS3ControlClient(s3control.NewFromConfig(awsCfg))
	sqsClient := awsclient.NewSQSClient(sqs.NewFromConfig(awsCfg))

	var checkpointStore checkpoint.Store
	if *checkpointTable != "" {
		checkpointStore = checkpoint.NewDynamoDBStore(awsclient.NewDynamoDBClient(dynamodb.NewFromConfig(awsCfg)), *checkpointTable, logger)
	} else {
		checkpointStore = checkpoint.NewS3Store(s3Client, cfg.CentralBackupBucket, logger)
	}

	resolver := tagresolver.New(s3Client, logger)
	writer := manifestwriter.New(s3Client, logger)
	launcher := batchcopy.New(s3Client, s3ControlClient, logger)

	agg := aggregator.New(resolver, cfg.Policy(), cfg.FilterRulesByTier(), checkpointStore, writer, launcher, aggregator.Config{
		CentralContainer:        cfg.CentralBackupBucket,
		Initiative:              cfg.Initiative,
		Generation:              cfg.GenerationIncremental,
		AccountID:               cfg.AccountID,
		BatchRoleARN:            cfg.BatchRoleARN,
		TargetBucketARN:         cfg.BackupBucketARN,
		DisableWindowCheckpoint: cfg.DisableWindowCheckpoint,
	}, logger)

	queueURLOut, err := sqsClient.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: queueNameFromARN(cfg.SQSQueueARN)})
	if err != nil {
		return fmt.Errorf("resolve queue URL: %w", err)
	}
	queueURL := *queueURLOut.QueueUrl

	go func() {
		logger.Info().Str("addr", *metricsAddr).Msg("serving metrics")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().Str("queue", queueURL).Msg("incremental aggregator consuming")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Dur("grace_period", *shutdownTimeout).Msg("shutdown requested, draining in-flight work")
			return nil
		default:
		}

		out, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &queueURL,
			MaxNumberOfMessages: int32(*maxMessages),
			WaitTimeSeconds:     int32(*waitTime),
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("receive message failed")
			continue
		}
		if len(out.Messages) == 0 {
			continue
		}

		messages := make([]aggregator.Message, 0, len(out.Messages))
		receiptByID := make(map[string]string, len(out.Messages))
		for _, m := range out.Messages {
			if m.MessageId == nil || m.Body == nil {
				continue
			}
			messages = append(messages, aggregator.Message{ID: *m.MessageId, Body: []byte(*m.Body)})
			if m.ReceiptHandle != nil {
				receiptByID[*m.MessageId] = *m.ReceiptHandle
			}
		}

		result, err := agg.ProcessBatch(procCtx, messages)
		if err != nil {
			logger.Error().Err(err).Msg("process batch failed")
			continue
		}
		logger.Info().Int("committed", len(result.Committed)).Int("failed", len(result.FailedMessageIDs)).Int("skipped_idempotent", result.SkippedIdempotent).Msg("batch processed")

		failed := make(map[string]bool, len(result.FailedMessageIDs))
		for _, id := range result.FailedMessageIDs {
			failed[id] = true
		}
		deleteBatch(procCtx, sqsClient, queueURL, messages, receiptByID, failed, logger)
	}
}

// deleteBatch removes every successfully processed message from the queue,
// leaving failed ones for SQS redelivery.
func deleteBatch(ctx context.Context, client awsclient.SQSClient, queueURL string, messages []aggregator.Message, receiptByID map[string]string, failed map[string]bool, logger zerolog.Logger) {
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(messages))
	for _, m := range messages {
		if failed[m.ID] {
			continue
		}
		receipt, ok := receiptByID[m.ID]
		if !ok {
			continue
		}
		id := m.ID
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{Id: &id, ReceiptHandle: &receipt})
	}
	if len(entries) == 0 {
		return
	}
	if _, err := client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{QueueUrl: &queueURL, Entries: entries}); err != nil {
		logger.Error().Err(err).Msg("delete message batch failed")
	}
}

func queueNameFromARN(arn string) *string {
	// arn:aws:sqs:<region>:<account>:<queue-name>
	name := arn
	for i := len(arn) - 1; i >= 0; i-- {
		if arn[i] == ':' {
			name = arn[i+1:]
			break
		}
	}
	return &name
}
