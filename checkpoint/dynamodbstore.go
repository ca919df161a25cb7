package checkpoint

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
)

// DynamoDBStore is an alternate Store backend for deployments that want
// strongly consistent reads on every checkpoint lookup rather than relying on
// the central container's read-after-write behavior. It repurposes the
// teacher module's DynamoDB write path (attributevalue marshaling,
// GetItem/PutItem) that previously drove PITR item replay.
//
// Table layout: a single table keyed by (PK, SK). Sweep checkpoints use
// PK="source#mode", SK="SWEEP". Window markers use PK="source#tier",
// SK="WINDOW#<window>".
type DynamoDBStore struct {
	client    awsclient.DynamoDBClient
	tableName string
	logger    zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDBStore instance.
func NewDynamoDBStore(client awsclient.DynamoDBClient, tableName string, logger zerolog.Logger) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName, logger: logger}
}

type sweepItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Timestamp string `dynamodbav:"Timestamp"`
}

type windowItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
}

func sweepPK(source, mode string) string { return fmt.Sprintf("%s#%s", source, mode) }
func windowPK(source, tier string) string { return fmt.Sprintf("%s#%s", source, tier) }
func windowSK(window string) string       { return "WINDOW#" + window }

// ReadSweep fails soft per section 4.1, mirroring S3Store's contract.
func (d *DynamoDBStore) ReadSweep(ctx context.Context, source, mode string) (string, bool) {
	key, err := attributevalue.MarshalMap(struct {
		PK string `dynamodbav:"PK"`
		SK string `dynamodbav:"SK"`
	}{PK: sweepPK(source, mode), SK: "SWEEP"})
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to marshal sweep checkpoint key; treating as absent")
		return "", false
	}

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &d.tableName,
		Key:            key,
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("source", source).Str("mode", mode).
			Msg("sweep checkpoint read failed; treating as absent")
		return "", false
	}
	if out.Item == nil {
		return "", false
	}

	var item sweepItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		d.logger.Warn().Err(err).Msg("failed to unmarshal sweep checkpoint; treating as absent")
		return "", false
	}
	return item.Timestamp, true
}

// WriteSweep persists the timestamp, propagating any error.
func (d *DynamoDBStore) WriteSweep(ctx context.Context, source, mode, timestamp string) error {
	item, err := attributevalue.MarshalMap(sweepItem{
		PK:        sweepPK(source, mode),
		SK:        "SWEEP",
		Timestamp: timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sweep checkpoint: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to write sweep checkpoint for %s/%s: %w", source, mode, err)
	}
	return nil
}

// HasWindow performs a strongly consistent point read.
func (d *DynamoDBStore) HasWindow(ctx context.Context, source, tier, window string) (bool, error) {
	key, err := attributevalue.MarshalMap(windowItem{PK: windowPK(source, tier), SK: windowSK(window)})
	if err != nil {
		return false, fmt.Errorf("failed to marshal window marker key: %w", err)
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &d.tableName,
		Key:            key,
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check window marker for %s/%s/%s: %w", source, tier, window, err)
	}
	return out.Item != nil, nil
}

// MarkWindow writes the marker item; the payload carries no fields beyond
// the key, consistent with section 3's "payload irrelevant" note.
func (d *DynamoDBStore) MarkWindow(ctx context.Context, source, tier, window string) error {
	item, err := attributevalue.MarshalMap(windowItem{PK: windowPK(source, tier), SK: windowSK(window)})
	if err != nil {
		return fmt.Errorf("failed to marshal window marker: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to mark window %s/%s/%s: %w", source, tier, window, err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
