package inventory

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestResolveColumns_Success(t *testing.T) {
	cols, err := ResolveColumns("Bucket, Key, LastModifiedDate, Size")
	if err != nil {
		t.Fatalf("ResolveColumns: %v", err)
	}
	if cols.Bucket != 0 || cols.Key != 1 || cols.LastModifiedDate != 2 {
		t.Errorf("unexpected column indices: %+v", cols)
	}
}

func TestResolveColumns_MissingRequiredColumn(t *testing.T) {
	_, err := ResolveColumns("Bucket, Key, Size")
	if err == nil {
		t.Fatal("expected error for missing LastModifiedDate column")
	}
}

func gzipCSV(t *testing.T, rows [][]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	w := csv.NewWriter(gz)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			t.Fatalf("csv write: %v", err)
		}
	}
	w.Flush()
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

type fakeInventoryS3Client struct {
	objects map[string][]byte
	listOut []s3ObjectStub
}

type s3ObjectStub struct {
	key          string
	lastModified time.Time
}

func (f *fakeInventoryS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeInventoryS3Client) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var contents []types.Object
	for _, o := range f.listOut {
		lm := o.lastModified
		contents = append(contents, types.Object{Key: strPtr(o.key), LastModified: &lm})
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

func (f *fakeInventoryS3Client) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) CopyObject(context.Context, *s3.CopyObjectInput, ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) GetBucketTagging(context.Context, *s3.GetBucketTaggingInput, ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) PutBucketInventoryConfiguration(context.Context, *s3.PutBucketInventoryConfigurationInput, ...func(*s3.Options)) (*s3.PutBucketInventoryConfigurationOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) GetBucketInventoryConfiguration(context.Context, *s3.GetBucketInventoryConfigurationInput, ...func(*s3.Options)) (*s3.GetBucketInventoryConfigurationOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) PutBucketNotificationConfiguration(context.Context, *s3.PutBucketNotificationConfigurationInput, ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) GetBucketNotificationConfiguration(context.Context, *s3.GetBucketNotificationConfigurationInput, ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeInventoryS3Client) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errors.New("not implemented")
}

func strPtr(s string) *string { return &s }

func TestLocateLatest_PicksMostRecentlyModified(t *testing.T) {
	older := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	descriptorJSON, _ := json.Marshal(Descriptor{
		SourceBucket: "orders-bucket",
		FileSchema:   "Bucket, Key, LastModifiedDate",
		Files:        []DescriptorFile{{Key: "inventory-source/orders-bucket/run2/shard1.csv.gz"}},
	})

	client := &fakeInventoryS3Client{
		objects: map[string][]byte{
			"inventory-source/orders-bucket/run2/manifest.json": descriptorJSON,
		},
		listOut: []s3ObjectStub{
			{key: "inventory-source/orders-bucket/run1/manifest.json", lastModified: older},
			{key: "inventory-source/orders-bucket/run2/manifest.json", lastModified: newer},
		},
	}

	r := New(client, zerolog.Nop())
	descriptor, key, err := r.LocateLatest(context.Background(), "central-bucket", "inventory-source/orders-bucket/")
	if err != nil {
		t.Fatalf("LocateLatest: %v", err)
	}
	if descriptor == nil {
		t.Fatal("expected non-nil descriptor")
	}
	if key != "inventory-source/orders-bucket/run2/manifest.json" {
		t.Errorf("expected the most recently modified descriptor, got %s", key)
	}
}

func TestLocateLatest_NoneExists(t *testing.T) {
	client := &fakeInventoryS3Client{objects: map[string][]byte{}}
	r := New(client, zerolog.Nop())

	descriptor, key, err := r.LocateLatest(context.Background(), "central-bucket", "inventory-source/orders-bucket/")
	if err != nil {
		t.Fatalf("LocateLatest: %v", err)
	}
	if descriptor != nil || key != "" {
		t.Fatalf("expected no descriptor, got %+v / %s", descriptor, key)
	}
}

func TestStreamDescriptor_SkipsBadRowsAndMissingShards(t *testing.T) {
	shardData := gzipCSV(t, [][]string{
		{"orders-bucket", "a.json", "2026-07-01T00:00:00Z"},
		{"orders-bucket", "b.json", "not-a-timestamp"},
		{"orders-bucket", "c.json", "2026-07-01T01:00:00Z"},
	})

	client := &fakeInventoryS3Client{objects: map[string][]byte{
		"shard-good.csv.gz": shardData,
	}}
	r := New(client, zerolog.Nop())

	descriptor := &Descriptor{
		FileSchema: "Bucket, Key, LastModifiedDate",
		Files: []DescriptorFile{
			{Key: "shard-missing.csv.gz"},
			{Key: "shard-good.csv.gz"},
		},
	}
	cols, err := ResolveColumns(descriptor.FileSchema)
	if err != nil {
		t.Fatalf("ResolveColumns: %v", err)
	}

	var rows []Row
	count, err := r.StreamDescriptor(context.Background(), "central-bucket", descriptor, cols, func(row Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamDescriptor: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 valid rows (one skipped for bad timestamp), got %d", count)
	}
	if len(rows) != 2 || rows[0].Key != "a.json" || rows[1].Key != "c.json" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}
