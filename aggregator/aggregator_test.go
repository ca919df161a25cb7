package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/batchcopy"
	"github.com/brinewave/vaultsweep/checkpoint"
	"github.com/brinewave/vaultsweep/manifestwriter"
	"github.com/brinewave/vaultsweep/objectfilter"
	"github.com/brinewave/vaultsweep/tagresolver"
	"github.com/brinewave/vaultsweep/tiering"
)

type fakeAggregatorS3Client struct {
	tags          map[string]string
	objects       map[string][]byte
	uploadParts   map[string][][]byte
	nextUploadID  int
}

func newFakeAggregatorS3Client() *fakeAggregatorS3Client {
	return &fakeAggregatorS3Client{
		tags:        map[string]string{},
		objects:     map[string][]byte{},
		uploadParts: map[string][][]byte{},
	}
}

func (f *fakeAggregatorS3Client) GetBucketTagging(_ context.Context, params *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	tier, ok := f.tags[*params.Bucket]
	if !ok {
		return nil, stubAPIError{"NoSuchTagSet"}
	}
	key := tagresolver.CriticalityTagKey
	return &s3.GetBucketTaggingOutput{TagSet: []s3types.Tag{{Key: &key, Value: &tier}}}, nil
}

func (f *fakeAggregatorS3Client) CreateMultipartUpload(_ context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.nextUploadID++
	id := fmt.Sprintf("upload-%d", f.nextUploadID)
	return &s3.CreateMultipartUploadOutput{UploadId: &id}, nil
}

func (f *fakeAggregatorS3Client) UploadPart(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.uploadParts[*params.UploadId] = append(f.uploadParts[*params.UploadId], data)
	etag := "part-etag"
	return &s3.UploadPartOutput{ETag: &etag}, nil
}

func (f *fakeAggregatorS3Client) CompleteMultipartUpload(_ context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	var full bytes.Buffer
	for _, part := range f.uploadParts[*params.UploadId] {
		full.Write(part)
	}
	f.objects[*params.Key] = full.Bytes()
	etag := "final-etag"
	return &s3.CompleteMultipartUploadOutput{ETag: &etag}, nil
}

func (f *fakeAggregatorS3Client) AbortMultipartUpload(_ context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeAggregatorS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*params.Key]; !ok {
		return nil, &s3types.NotFound{}
	}
	tag := "final-etag"
	return &s3.HeadObjectOutput{ETag: &tag}, nil
}

func (f *fakeAggregatorS3Client) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, stubAPIError{"NotImplemented"}
}
func (f *fakeAggregatorS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(params.Body)
	f.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}
func (f *fakeAggregatorS3Client) CopyObject(context.Context, *s3.CopyObjectInput, ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	return nil, stubAPIError{"NotImplemented"}
}
func (f *fakeAggregatorS3Client) DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return nil, stubAPIError{"NotImplemented"}
}
func (f *fakeAggregatorS3Client) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return nil, stubAPIError{"NotImplemented"}
}
func (f *fakeAggregatorS3Client) PutBucketInventoryConfiguration(context.Context, *s3.PutBucketInventoryConfigurationInput, ...func(*s3.Options)) (*s3.PutBucketInventoryConfigurationOutput, error) {
	return nil, stubAPIError{"NotImplemented"}
}
func (f *fakeAggregatorS3Client) GetBucketInventoryConfiguration(context.Context, *s3.GetBucketInventoryConfigurationInput, ...func(*s3.Options)) (*s3.GetBucketInventoryConfigurationOutput, error) {
	return nil, stubAPIError{"NotImplemented"}
}
func (f *fakeAggregatorS3Client) PutBucketNotificationConfiguration(context.Context, *s3.PutBucketNotificationConfigurationInput, ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error) {
	return nil, stubAPIError{"NotImplemented"}
}
func (f *fakeAggregatorS3Client) GetBucketNotificationConfiguration(context.Context, *s3.GetBucketNotificationConfigurationInput, ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error) {
	return nil, stubAPIError{"NotImplemented"}
}

type stubAPIError struct{ code string }

func (e stubAPIError) Error() string     { return e.code }
func (e stubAPIError) ErrorCode() string { return e.code }

type fakeS3ControlClient struct {
	calls int
}

func (f *fakeS3ControlClient) CreateJob(_ context.Context, params *s3control.CreateJobInput, _ ...func(*s3control.Options)) (*s3control.CreateJobOutput, error) {
	f.calls++
	id := fmt.Sprintf("job-%d", f.calls)
	return &s3control.CreateJobOutput{JobId: &id}, nil
}

func testPolicy() tiering.Policy {
	return tiering.Policy{
		WindowHours: map[tiering.Tier]int{tiering.Critical: 12, tiering.LessCritical: 12, tiering.NonCritical: 0},
	}
}

func envelopeBody(messageID, bucket, key string, eventTime time.Time) []byte {
	return []byte(fmt.Sprintf(`{"Records":[{"eventName":"ObjectCreated:Put","eventTime":%q,"s3":{"bucket":{"name":%q},"object":{"key":%q}}}]}`,
		eventTime.UTC().Format(time.RFC3339), bucket, key))
}

func TestProcessBatch_CommitsSingleWindow(t *testing.T) {
	s3Client := newFakeAggregatorS3Client()
	s3Client.tags["b-1"] = string(tiering.Critical)
	resolver := tagresolver.New(s3Client, zerolog.Nop())
	writer := manifestwriter.New(s3Client, zerolog.Nop())
	s3c := &fakeS3ControlClient{}
	launcher := batchcopy.New(s3Client, s3c, zerolog.Nop())
	store := checkpoint.NewMemoryStore()

	rules := map[tiering.Tier]objectfilter.Rules{
		tiering.Critical: {},
	}

	agg := New(resolver, testPolicy(), rules, store, writer, launcher, Config{
		CentralContainer: "central", Initiative: "acme", Generation: "son",
		AccountID: "123456789012", BatchRoleARN: "arn:aws:iam::123456789012:role/batch", TargetBucketARN: "arn:aws:s3:::central",
	}, zerolog.Nop())

	eventTime := time.Date(2025, 10, 20, 13, 0, 0, 0, time.UTC)
	messages := []Message{
		{ID: "m1", Body: envelopeBody("m1", "b-1", "a.txt", eventTime)},
		{ID: "m2", Body: envelopeBody("m2", "b-1", "b.txt", eventTime)},
		{ID: "m3", Body: envelopeBody("m3", "b-1", "c.txt", eventTime)},
	}

	result, err := agg.ProcessBatch(context.Background(), messages)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(result.FailedMessageIDs) != 0 {
		t.Errorf("expected no failed messages, got %+v", result.FailedMessageIDs)
	}
	if len(result.Committed) != 1 {
		t.Fatalf("expected 1 committed group, got %+v", result.Committed)
	}
	if result.Committed[0].JobID == "" {
		t.Error("expected a job id")
	}

	has, err := store.HasWindow(context.Background(), "b-1", string(tiering.Critical), result.Committed[0].Window)
	if err != nil || !has {
		t.Errorf("expected window marker to be written, has=%v err=%v", has, err)
	}
}

func TestProcessBatch_ReplaySkipsAlreadyCommittedWindow(t *testing.T) {
	s3Client := newFakeAggregatorS3Client()
	s3Client.tags["b-1"] = string(tiering.Critical)
	resolver := tagresolver.New(s3Client, zerolog.Nop())
	writer := manifestwriter.New(s3Client, zerolog.Nop())
	s3c := &fakeS3ControlClient{}
	launcher := batchcopy.New(s3Client, s3c, zerolog.Nop())
	store := checkpoint.NewMemoryStore()

	rules := map[tiering.Tier]objectfilter.Rules{tiering.Critical: {}}
	agg := New(resolver, testPolicy(), rules, store, writer, launcher, Config{
		CentralContainer: "central", Initiative: "acme", Generation: "son",
		AccountID: "123456789012", BatchRoleARN: "arn:aws:iam::123456789012:role/batch", TargetBucketARN: "arn:aws:s3:::central",
	}, zerolog.Nop())

	eventTime := time.Date(2025, 10, 20, 13, 0, 0, 0, time.UTC)
	messages := []Message{{ID: "m1", Body: envelopeBody("m1", "b-1", "a.txt", eventTime)}}

	if _, err := agg.ProcessBatch(context.Background(), messages); err != nil {
		t.Fatalf("first ProcessBatch: %v", err)
	}
	if s3c.calls != 1 {
		t.Fatalf("expected 1 job submitted on first run, got %d", s3c.calls)
	}

	result, err := agg.ProcessBatch(context.Background(), messages)
	if err != nil {
		t.Fatalf("replay ProcessBatch: %v", err)
	}
	if len(result.Committed) != 0 {
		t.Errorf("expected zero newly committed groups on replay, got %+v", result.Committed)
	}
	if result.SkippedIdempotent != 1 {
		t.Errorf("expected 1 skipped group on replay, got %d", result.SkippedIdempotent)
	}
	if s3c.calls != 1 {
		t.Errorf("expected no additional job submitted on replay, got %d total calls", s3c.calls)
	}
}

func TestProcessBatch_MalformedMessageMarkedFailedSiblingsProceed(t *testing.T) {
	s3Client := newFakeAggregatorS3Client()
	s3Client.tags["b-1"] = string(tiering.Critical)
	resolver := tagresolver.New(s3Client, zerolog.Nop())
	writer := manifestwriter.New(s3Client, zerolog.Nop())
	s3c := &fakeS3ControlClient{}
	launcher := batchcopy.New(s3Client, s3c, zerolog.Nop())
	store := checkpoint.NewMemoryStore()

	rules := map[tiering.Tier]objectfilter.Rules{tiering.Critical: {}}
	agg := New(resolver, testPolicy(), rules, store, writer, launcher, Config{
		CentralContainer: "central", Initiative: "acme", Generation: "son",
	}, zerolog.Nop())

	eventTime := time.Date(2025, 10, 20, 13, 0, 0, 0, time.UTC)
	messages := []Message{
		{ID: "bad", Body: []byte("not json")},
		{ID: "good", Body: envelopeBody("good", "b-1", "a.txt", eventTime)},
	}

	result, err := agg.ProcessBatch(context.Background(), messages)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(result.FailedMessageIDs) != 1 || result.FailedMessageIDs[0] != "bad" {
		t.Errorf("expected exactly [bad] failed, got %+v", result.FailedMessageIDs)
	}
	if len(result.Committed) != 1 {
		t.Errorf("expected the sibling's group to still commit, got %+v", result.Committed)
	}
}

func TestProcessBatch_ExcludedPrefixProducesZeroGroups(t *testing.T) {
	s3Client := newFakeAggregatorS3Client()
	s3Client.tags["b-1"] = string(tiering.Critical)
	resolver := tagresolver.New(s3Client, zerolog.Nop())
	writer := manifestwriter.New(s3Client, zerolog.Nop())
	s3c := &fakeS3ControlClient{}
	launcher := batchcopy.New(s3Client, s3c, zerolog.Nop())
	store := checkpoint.NewMemoryStore()

	rules := map[tiering.Tier]objectfilter.Rules{
		tiering.Critical: {ExcludePrefixes: []string{"logs"}},
	}
	agg := New(resolver, testPolicy(), rules, store, writer, launcher, Config{
		CentralContainer: "central", Initiative: "acme", Generation: "son",
	}, zerolog.Nop())

	eventTime := time.Date(2025, 10, 20, 13, 15, 0, 0, time.UTC)
	messages := []Message{{ID: "m1", Body: envelopeBody("m1", "b-1", "logs/a.txt", eventTime)}}

	result, err := agg.ProcessBatch(context.Background(), messages)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(result.Committed) != 0 || len(result.FailedMessageIDs) != 0 {
		t.Errorf("expected zero groups and zero failures for an excluded key, got committed=%+v failed=%+v",
			result.Committed, result.FailedMessageIDs)
	}
}
