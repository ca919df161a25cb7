package tagresolver

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/tiering"
)

type stubAPIError struct{ code string }

func (e *stubAPIError) Error() string   { return e.code }
func (e *stubAPIError) ErrorCode() string { return e.code }

// stubS3Client implements awsclient.S3Client, exercising only
// GetBucketTagging; every other method is unused by the resolver and panics
// if called.
type stubS3Client struct {
	tagging map[string][]types.Tag
	err     error
	calls   int
}

func (s *stubS3Client) GetBucketTagging(_ context.Context, params *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	tags, ok := s.tagging[*params.Bucket]
	if !ok {
		return nil, &stubAPIError{code: "NoSuchTagSet"}
	}
	return &s3.GetBucketTaggingOutput{TagSet: tags}, nil
}

func (s *stubS3Client) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) CopyObject(context.Context, *s3.CopyObjectInput, ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) PutBucketInventoryConfiguration(context.Context, *s3.PutBucketInventoryConfigurationInput, ...func(*s3.Options)) (*s3.PutBucketInventoryConfigurationOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) GetBucketInventoryConfiguration(context.Context, *s3.GetBucketInventoryConfigurationInput, ...func(*s3.Options)) (*s3.GetBucketInventoryConfigurationOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) PutBucketNotificationConfiguration(context.Context, *s3.PutBucketNotificationConfigurationInput, ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) GetBucketNotificationConfiguration(context.Context, *s3.GetBucketNotificationConfigurationInput, ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	panic("unused in tagresolver tests")
}
func (s *stubS3Client) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	panic("unused in tagresolver tests")
}

func strPtr(s string) *string { return &s }

func TestResolve_MissingTagSetDefaultsToLessCritical(t *testing.T) {
	client := &stubS3Client{tagging: map[string][]types.Tag{}}
	r := New(client, zerolog.Nop())

	tier, err := r.Resolve(context.Background(), "orders-bucket")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tier != tiering.LessCritical {
		t.Errorf("expected LessCritical default, got %s", tier)
	}
}

func TestResolve_ExplicitTier(t *testing.T) {
	client := &stubS3Client{tagging: map[string][]types.Tag{
		"orders-bucket": {{Key: strPtr(CriticalityTagKey), Value: strPtr("Critical")}},
	}}
	r := New(client, zerolog.Nop())

	tier, err := r.Resolve(context.Background(), "orders-bucket")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tier != tiering.Critical {
		t.Errorf("expected Critical, got %s", tier)
	}
}

func TestResolve_MemoizesAcrossCalls(t *testing.T) {
	client := &stubS3Client{tagging: map[string][]types.Tag{
		"orders-bucket": {{Key: strPtr(CriticalityTagKey), Value: strPtr("Critical")}},
	}}
	r := New(client, zerolog.Nop())

	if _, err := r.Resolve(context.Background(), "orders-bucket"); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "orders-bucket"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if client.calls != 1 {
		t.Errorf("expected exactly one GetBucketTagging call, got %d", client.calls)
	}
}

func TestResolve_UnrecognizedTierFallsBackToDefault(t *testing.T) {
	client := &stubS3Client{tagging: map[string][]types.Tag{
		"orders-bucket": {{Key: strPtr(CriticalityTagKey), Value: strPtr("Extreme")}},
	}}
	r := New(client, zerolog.Nop())

	tier, err := r.Resolve(context.Background(), "orders-bucket")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tier != tiering.DefaultTier {
		t.Errorf("expected default tier fallback, got %s", tier)
	}
}

func TestResolve_PropagatesUnexpectedFault(t *testing.T) {
	client := &stubS3Client{err: errors.New("throttled")}
	r := New(client, zerolog.Nop())

	if _, err := r.Resolve(context.Background(), "orders-bucket"); err == nil {
		t.Fatal("expected error to propagate for non-tag-related faults")
	}
}

func TestForget_ClearsMemoizedEntry(t *testing.T) {
	client := &stubS3Client{tagging: map[string][]types.Tag{
		"orders-bucket": {{Key: strPtr(CriticalityTagKey), Value: strPtr("Critical")}},
	}}
	r := New(client, zerolog.Nop())

	if _, err := r.Resolve(context.Background(), "orders-bucket"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	r.Forget("orders-bucket")
	client.tagging["orders-bucket"] = []types.Tag{{Key: strPtr(CriticalityTagKey), Value: strPtr("NonCritical")}}

	tier, err := r.Resolve(context.Background(), "orders-bucket")
	if err != nil {
		t.Fatalf("Resolve after forget: %v", err)
	}
	if tier != tiering.NonCritical {
		t.Errorf("expected re-resolved NonCritical, got %s", tier)
	}
}
