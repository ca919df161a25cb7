package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

func TestMemoryStore_SweepRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok := store.ReadSweep(ctx, "orders-bucket", "incremental"); ok {
		t.Fatal("expected no checkpoint before any write")
	}

	if err := store.WriteSweep(ctx, "orders-bucket", "incremental", "2026-07-01T00:00:00Z"); err != nil {
		t.Fatalf("WriteSweep: %v", err)
	}

	ts, ok := store.ReadSweep(ctx, "orders-bucket", "incremental")
	if !ok {
		t.Fatal("expected checkpoint after write")
	}
	if ts != "2026-07-01T00:00:00Z" {
		t.Errorf("timestamp mismatch: got %s", ts)
	}

	if _, ok := store.ReadSweep(ctx, "orders-bucket", "full"); ok {
		t.Error("mode isolation violated: full checkpoint should not exist")
	}
}

func TestMemoryStore_WindowMarkerIdempotence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	has, err := store.HasWindow(ctx, "orders-bucket", "critical", "20260701T0600Z")
	if err != nil {
		t.Fatalf("HasWindow: %v", err)
	}
	if has {
		t.Fatal("window should not be marked yet")
	}

	if err := store.MarkWindow(ctx, "orders-bucket", "critical", "20260701T0600Z"); err != nil {
		t.Fatalf("MarkWindow: %v", err)
	}

	has, err = store.HasWindow(ctx, "orders-bucket", "critical", "20260701T0600Z")
	if err != nil {
		t.Fatalf("HasWindow after mark: %v", err)
	}
	if !has {
		t.Fatal("window should be marked after MarkWindow")
	}

	has, err = store.HasWindow(ctx, "orders-bucket", "critical", "20260701T1200Z")
	if err != nil {
		t.Fatalf("HasWindow for different window: %v", err)
	}
	if has {
		t.Error("different window should not be marked")
	}
}

// mockS3Client implements awsclient.S3Client for the subset of operations
// S3Store exercises.
type mockS3Client struct {
	objects map[string][]byte
	getErr  error
	putErr  error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := m.objects[aws.ToString(params.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3Client) CopyObject(context.Context, *s3.CopyObjectInput, ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) GetBucketTagging(context.Context, *s3.GetBucketTaggingInput, ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) PutBucketInventoryConfiguration(context.Context, *s3.PutBucketInventoryConfigurationInput, ...func(*s3.Options)) (*s3.PutBucketInventoryConfigurationOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) GetBucketInventoryConfiguration(context.Context, *s3.GetBucketInventoryConfigurationInput, ...func(*s3.Options)) (*s3.GetBucketInventoryConfigurationOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) PutBucketNotificationConfiguration(context.Context, *s3.PutBucketNotificationConfigurationInput, ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) GetBucketNotificationConfiguration(context.Context, *s3.GetBucketNotificationConfigurationInput, ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("not implemented")
}
func (m *mockS3Client) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errors.New("not implemented")
}

func TestS3Store_SweepRoundTrip(t *testing.T) {
	client := newMockS3Client()
	store := NewS3Store(client, "central-bucket", zerolog.Nop())
	ctx := context.Background()

	if _, ok := store.ReadSweep(ctx, "orders-bucket", "incremental"); ok {
		t.Fatal("expected no checkpoint before any write")
	}

	if err := store.WriteSweep(ctx, "orders-bucket", "incremental", "2026-07-01T00:00:00Z"); err != nil {
		t.Fatalf("WriteSweep: %v", err)
	}

	ts, ok := store.ReadSweep(ctx, "orders-bucket", "incremental")
	if !ok {
		t.Fatal("expected checkpoint after write")
	}
	if ts != "2026-07-01T00:00:00Z" {
		t.Errorf("timestamp mismatch: got %s", ts)
	}

	if _, ok := client.objects["checkpoints/orders-bucket/incremental.txt"]; !ok {
		t.Error("expected checkpoint object at the documented key grammar path")
	}
}

func TestS3Store_ReadSweep_FailsSoftOnUnexpectedError(t *testing.T) {
	client := newMockS3Client()
	client.getErr = errors.New("network blip")
	store := NewS3Store(client, "central-bucket", zerolog.Nop())

	ts, ok := store.ReadSweep(context.Background(), "orders-bucket", "incremental")
	if ok || ts != "" {
		t.Fatalf("expected fail-soft absence on unexpected error, got (%q, %v)", ts, ok)
	}
}

func TestS3Store_WindowMarker(t *testing.T) {
	client := newMockS3Client()
	store := NewS3Store(client, "central-bucket", zerolog.Nop())
	ctx := context.Background()

	has, err := store.HasWindow(ctx, "orders-bucket", "critical", "20260701T0600Z")
	if err != nil {
		t.Fatalf("HasWindow: %v", err)
	}
	if has {
		t.Fatal("window should not be marked yet")
	}

	if err := store.MarkWindow(ctx, "orders-bucket", "critical", "20260701T0600Z"); err != nil {
		t.Fatalf("MarkWindow: %v", err)
	}

	has, err = store.HasWindow(ctx, "orders-bucket", "critical", "20260701T0600Z")
	if err != nil {
		t.Fatalf("HasWindow after mark: %v", err)
	}
	if !has {
		t.Fatal("window should be marked after MarkWindow")
	}

	if _, ok := client.objects["checkpoints/incremental/orders-bucket/critical/20260701T0600Z.marker"]; !ok {
		t.Error("expected marker object at the documented key grammar path")
	}
}

// mockDynamoDBClient implements awsclient.DynamoDBClient against an
// in-memory table keyed by the marshaled PK/SK pair.
type mockDynamoDBClient struct {
	items map[string]map[string]ddbtypes.AttributeValue
}

func newMockDynamoDBClient() *mockDynamoDBClient {
	return &mockDynamoDBClient{items: make(map[string]map[string]ddbtypes.AttributeValue)}
}

func ddbItemKey(item map[string]ddbtypes.AttributeValue) string {
	pk, _ := item["PK"].(*ddbtypes.AttributeValueMemberS)
	sk, _ := item["SK"].(*ddbtypes.AttributeValueMemberS)
	if pk == nil || sk == nil {
		return ""
	}
	return pk.Value + "#" + sk.Value
}

func (m *mockDynamoDBClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item, ok := m.items[ddbItemKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (m *mockDynamoDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.items[ddbItemKey(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoDBStore_SweepAndWindow(t *testing.T) {
	client := newMockDynamoDBClient()
	store := NewDynamoDBStore(client, "vaultsweep-checkpoints", zerolog.Nop())
	ctx := context.Background()

	if _, ok := store.ReadSweep(ctx, "orders-bucket", "incremental"); ok {
		t.Fatal("expected no checkpoint before any write")
	}

	if err := store.WriteSweep(ctx, "orders-bucket", "incremental", "2026-07-01T00:00:00Z"); err != nil {
		t.Fatalf("WriteSweep: %v", err)
	}

	ts, ok := store.ReadSweep(ctx, "orders-bucket", "incremental")
	if !ok {
		t.Fatal("expected checkpoint after write")
	}
	if ts != "2026-07-01T00:00:00Z" {
		t.Errorf("timestamp mismatch: got %s", ts)
	}

	has, err := store.HasWindow(ctx, "orders-bucket", "critical", "20260701T0600Z")
	if err != nil {
		t.Fatalf("HasWindow: %v", err)
	}
	if has {
		t.Fatal("window should not be marked yet")
	}

	if err := store.MarkWindow(ctx, "orders-bucket", "critical", "20260701T0600Z"); err != nil {
		t.Fatalf("MarkWindow: %v", err)
	}

	has, err = store.HasWindow(ctx, "orders-bucket", "critical", "20260701T0600Z")
	if err != nil {
		t.Fatalf("HasWindow after mark: %v", err)
	}
	if !has {
		t.Fatal("window should be marked after MarkWindow")
	}
}
