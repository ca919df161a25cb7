// Package inventory implements the Enumeration Reader from section 4.6: it
// locates and parses the object store's native point-in-time enumeration
// (a JSON descriptor plus gzipped CSV shards), mirroring the real S3
// Inventory manifest.json format.
package inventory

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
)

// DescriptorFile references one data shard within a Descriptor.
type DescriptorFile struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	MD5Checksum string `json:"MD5checksum"`
}

// Descriptor is the Enumeration Descriptor from section 3: a JSON document
// listing data shards and a comma-separated schema string.
type Descriptor struct {
	SourceBucket      string            `json:"sourceBucket"`
	DestinationBucket string            `json:"destinationBucket"`
	Version           string            `json:"version"`
	CreationTimestamp string            `json:"creationTimestamp"`
	FileFormat        string            `json:"fileFormat"`
	FileSchema        string            `json:"fileSchema"`
	Files             []DescriptorFile `json:"files"`
}

// Columns holds the resolved indices of the three required schema columns.
type Columns struct {
	Bucket           int
	Key              int
	LastModifiedDate int
}

// ResolveColumns parses a descriptor's fileSchema ("Bucket, Key,
// LastModifiedDate, Size, ...") and fails if any required column is
// missing, per section 4.6's "schema missing required columns" fatal case.
func ResolveColumns(fileSchema string) (Columns, error) {
	fields := strings.Split(fileSchema, ",")
	cols := Columns{Bucket: -1, Key: -1, LastModifiedDate: -1}
	for i, f := range fields {
		switch strings.TrimSpace(f) {
		case "Bucket":
			cols.Bucket = i
		case "Key":
			cols.Key = i
		case "LastModifiedDate":
			cols.LastModifiedDate = i
		}
	}
	var missing []string
	if cols.Bucket < 0 {
		missing = append(missing, "Bucket")
	}
	if cols.Key < 0 {
		missing = append(missing, "Key")
	}
	if cols.LastModifiedDate < 0 {
		missing = append(missing, "LastModifiedDate")
	}
	if len(missing) > 0 {
		return Columns{}, fmt.Errorf("enumeration descriptor schema missing required column(s): %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// Row is one decoded enumeration record.
type Row struct {
	Bucket           string
	Key              string
	LastModifiedDate time.Time
}

// Reader locates and streams enumeration descriptors and their shards.
type Reader struct {
	client awsclient.S3Client
	logger zerolog.Logger
}

// New creates a new Reader.
func New(client awsclient.S3Client, logger zerolog.Logger) *Reader {
	return &Reader{client: client, logger: logger}
}

// LocateLatest finds the most recently modified manifest.json under prefix
// in centralContainer and parses it. Returns (nil, "", nil) if no descriptor
// exists, consistent with section 4.6 step 1's "if none exists" branch.
func (r *Reader) LocateLatest(ctx context.Context, centralContainer, prefix string) (*Descriptor, string, error) {
	var candidates []types.Object

	var continuationToken *string
	for {
		out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &centralContainer,
			Prefix:            &prefix,
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to list enumeration descriptors under %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, "manifest.json") {
				candidates = append(candidates, obj)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	if len(candidates) == 0 {
		return nil, "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := candidates[i].LastModified, candidates[j].LastModified
		if ti == nil || tj == nil {
			return false
		}
		return ti.After(*tj)
	})

	descriptorKey := *candidates[0].Key
	descriptor, err := r.fetchDescriptor(ctx, centralContainer, descriptorKey)
	if err != nil {
		return nil, "", err
	}
	return descriptor, descriptorKey, nil
}

func (r *Reader) fetchDescriptor(ctx context.Context, bucket, key string) (*Descriptor, error) {
	resp, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("enumeration descriptor unreadable at %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var descriptor Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&descriptor); err != nil {
		return nil, fmt.Errorf("enumeration descriptor unreadable at %s: %w", key, err)
	}
	return &descriptor, nil
}

// StreamFn is called once per successfully decoded row. Returning an error
// stops the stream and propagates as a fatal invocation failure.
type StreamFn func(Row) error

// StreamDescriptor streams every shard referenced by descriptor through
// columns, invoking fn for each row. A missing shard or a row decode failure
// is logged and skipped per section 4.6's failure semantics; fn's own errors
// are treated as fatal.
func (r *Reader) StreamDescriptor(ctx context.Context, centralContainer string, descriptor *Descriptor, cols Columns, fn StreamFn) (int, error) {
	total := 0
	for _, file := range descriptor.Files {
		n, err := r.streamShard(ctx, centralContainer, file.Key, cols, fn)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Reader) streamShard(ctx context.Context, bucket, key string, cols Columns, fn StreamFn) (int, error) {
	resp, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		r.logger.Warn().Err(err).Str("shard", key).Msg("enumeration shard unreadable; skipping")
		return 0, nil
	}
	defer func() { _ = resp.Body.Close() }()

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		r.logger.Warn().Err(err).Str("shard", key).Msg("enumeration shard is not valid gzip; skipping")
		return 0, nil
	}
	defer func() { _ = gz.Close() }()

	csvReader := csv.NewReader(gz)
	csvReader.FieldsPerRecord = -1

	count := 0
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("shard", key).Msg("enumeration shard row decode failed; skipping row")
			continue
		}

		maxIdx := cols.Bucket
		if cols.Key > maxIdx {
			maxIdx = cols.Key
		}
		if cols.LastModifiedDate > maxIdx {
			maxIdx = cols.LastModifiedDate
		}
		if maxIdx >= len(record) {
			r.logger.Warn().Str("shard", key).Msg("enumeration shard row too short; skipping row")
			continue
		}

		lastModified, err := time.Parse(time.RFC3339, record[cols.LastModifiedDate])
		if err != nil {
			r.logger.Warn().Err(err).Str("shard", key).Msg("enumeration shard row has unparseable timestamp; skipping row")
			continue
		}

		row := Row{
			Bucket:           record[cols.Bucket],
			Key:              record[cols.Key],
			LastModifiedDate: lastModified,
		}
		if err := fn(row); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}
