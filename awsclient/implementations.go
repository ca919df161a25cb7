package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// S3ClientImpl wraps *s3.Client to satisfy S3Client.
type S3ClientImpl struct{ client *s3.Client }

// NewS3Client creates a new S3ClientImpl instance.
func NewS3Client(client *s3.Client) *S3ClientImpl { return &S3ClientImpl{client: client} }

func (c *S3ClientImpl) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return c.client.GetObject(ctx, params, optFns...)
}

func (c *S3ClientImpl) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return c.client.PutObject(ctx, params, optFns...)
}

func (c *S3ClientImpl) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return c.client.HeadObject(ctx, params, optFns...)
}

func (c *S3ClientImpl) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	return c.client.CopyObject(ctx, params, optFns...)
}

func (c *S3ClientImpl) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return c.client.DeleteObject(ctx, params, optFns...)
}

func (c *S3ClientImpl) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return c.client.ListObjectsV2(ctx, params, optFns...)
}

func (c *S3ClientImpl) GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	return c.client.GetBucketTagging(ctx, params, optFns...)
}

func (c *S3ClientImpl) PutBucketInventoryConfiguration(ctx context.Context, params *s3.PutBucketInventoryConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketInventoryConfigurationOutput, error) {
	return c.client.PutBucketInventoryConfiguration(ctx, params, optFns...)
}

func (c *S3ClientImpl) GetBucketInventoryConfiguration(ctx context.Context, params *s3.GetBucketInventoryConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketInventoryConfigurationOutput, error) {
	return c.client.GetBucketInventoryConfiguration(ctx, params, optFns...)
}

func (c *S3ClientImpl) PutBucketNotificationConfiguration(ctx context.Context, params *s3.PutBucketNotificationConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error) {
	return c.client.PutBucketNotificationConfiguration(ctx, params, optFns...)
}

func (c *S3ClientImpl) GetBucketNotificationConfiguration(ctx context.Context, params *s3.GetBucketNotificationConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error) {
	return c.client.GetBucketNotificationConfiguration(ctx, params, optFns...)
}

func (c *S3ClientImpl) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return c.client.CreateMultipartUpload(ctx, params, optFns...)
}

func (c *S3ClientImpl) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return c.client.UploadPart(ctx, params, optFns...)
}

func (c *S3ClientImpl) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return c.client.CompleteMultipartUpload(ctx, params, optFns...)
}

func (c *S3ClientImpl) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return c.client.AbortMultipartUpload(ctx, params, optFns...)
}

// S3ControlClientImpl wraps *s3control.Client to satisfy S3ControlClient.
type S3ControlClientImpl struct{ client *s3control.Client }

// NewS3ControlClient creates a new S3ControlClientImpl instance.
func NewS3ControlClient(client *s3control.Client) *S3ControlClientImpl {
	return &S3ControlClientImpl{client: client}
}

func (c *S3ControlClientImpl) CreateJob(ctx context.Context, params *s3control.CreateJobInput, optFns ...func(*s3control.Options)) (*s3control.CreateJobOutput, error) {
	return c.client.CreateJob(ctx, params, optFns...)
}

// DynamoDBClientImpl wraps *dynamodb.Client to satisfy DynamoDBClient.
type DynamoDBClientImpl struct{ client *dynamodb.Client }

// NewDynamoDBClient creates a new DynamoDBClientImpl instance.
func NewDynamoDBClient(client *dynamodb.Client) *DynamoDBClientImpl {
	return &DynamoDBClientImpl{client: client}
}

func (c *DynamoDBClientImpl) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return c.client.GetItem(ctx, params, optFns...)
}

func (c *DynamoDBClientImpl) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return c.client.PutItem(ctx, params, optFns...)
}

// IAMClientImpl wraps *iam.Client to satisfy IAMClient.
type IAMClientImpl struct{ client *iam.Client }

// NewIAMClient creates a new IAMClientImpl instance.
func NewIAMClient(client *iam.Client) *IAMClientImpl { return &IAMClientImpl{client: client} }

func (c *IAMClientImpl) SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error) {
	return c.client.SimulatePrincipalPolicy(ctx, params, optFns...)
}

// TaggingClientImpl wraps *resourcegroupstaggingapi.Client to satisfy TaggingClient.
type TaggingClientImpl struct{ client *resourcegroupstaggingapi.Client }

// NewTaggingClient creates a new TaggingClientImpl instance.
func NewTaggingClient(client *resourcegroupstaggingapi.Client) *TaggingClientImpl {
	return &TaggingClientImpl{client: client}
}

func (c *TaggingClientImpl) GetResources(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error) {
	return c.client.GetResources(ctx, params, optFns...)
}

// SQSClientImpl wraps *sqs.Client to satisfy SQSClient.
type SQSClientImpl struct{ client *sqs.Client }

// NewSQSClient creates a new SQSClientImpl instance.
func NewSQSClient(client *sqs.Client) *SQSClientImpl { return &SQSClientImpl{client: client} }

func (c *SQSClientImpl) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	return c.client.GetQueueUrl(ctx, params, optFns...)
}

func (c *SQSClientImpl) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return c.client.ReceiveMessage(ctx, params, optFns...)
}

func (c *SQSClientImpl) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	return c.client.DeleteMessageBatch(ctx, params, optFns...)
}
