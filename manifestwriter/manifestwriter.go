// Package manifestwriter implements the Manifest Writer from section 4.2:
// a streamed, multipart CSV upload of (source_container, key) rows to the
// central container, with integrity-tag capture and verification.
package manifestwriter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/metrics"
)

// minPartSize is the store's minimum multipart upload part size; every part
// but the last must meet it.
const minPartSize = 6 * 1024 * 1024

// verifyRetries bounds the integrity-tag verification retries from section
// 4.2's consistency contract.
const verifyRetries = 3

const verifyRetryDelay = 200 * time.Millisecond

// Row is a single manifest entry.
type Row struct {
	SourceContainer string
	Key             string
}

// RowSource streams manifest rows one at a time. Next returns (Row{}, false,
// nil) once exhausted, and a non-nil error aborts the write.
type RowSource interface {
	Next() (Row, bool, error)
}

// SliceSource adapts an in-memory slice to RowSource, for callers (like the
// Incremental Window Aggregator) that already hold the full group in memory.
type SliceSource struct {
	rows []Row
	pos  int
}

// NewSliceSource creates a RowSource over rows.
func NewSliceSource(rows []Row) *SliceSource { return &SliceSource{rows: rows} }

func (s *SliceSource) Next() (Row, bool, error) {
	if s.pos >= len(s.rows) {
		return Row{}, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

// Result is the outcome of a successful manifest write.
type Result struct {
	Bucket       string
	Key          string
	IntegrityTag string
	RowCount     int
}

// Writer streams manifests into a central container via multipart upload.
type Writer struct {
	client awsclient.S3Client
	logger zerolog.Logger
}

// New creates a new Writer.
func New(client awsclient.S3Client, logger zerolog.Logger) *Writer {
	return &Writer{client: client, logger: logger}
}

// WriteTemp writes rows to the sweep-mode temp path
// manifests/temp/<source>-<uuid>.csv. Returns (nil, nil) if rows is empty,
// per section 4.2's "on empty result, abort and return none".
func (w *Writer) WriteTemp(ctx context.Context, centralContainer, source string, rows RowSource) (*Result, error) {
	key := fmt.Sprintf("manifests/temp/%s-%s.csv", source, uuid.NewString())
	return w.write(ctx, centralContainer, key, rows, nil)
}

// WriteCanonical writes rows directly to a canonical path (incremental
// mode), attaching the supplied object metadata.
func (w *Writer) WriteCanonical(ctx context.Context, centralContainer, key string, rows RowSource, metadata map[string]string) (*Result, error) {
	return w.write(ctx, centralContainer, key, rows, metadata)
}

func (w *Writer) write(ctx context.Context, bucket, key string, rows RowSource, metadata map[string]string) (*Result, error) {
	create, err := w.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   &bucket,
		Key:      &key,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start manifest upload for %s/%s: %w", bucket, key, err)
	}
	uploadID := create.UploadId

	rowCount, parts, err := w.streamParts(ctx, bucket, key, *uploadID, rows)
	if err != nil {
		w.abort(ctx, bucket, key, *uploadID)
		return nil, err
	}

	if rowCount == 0 {
		w.abort(ctx, bucket, key, *uploadID)
		return nil, nil
	}

	complete, err := w.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          &bucket,
		Key:             &key,
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		w.abort(ctx, bucket, key, *uploadID)
		return nil, fmt.Errorf("failed to complete manifest upload for %s/%s: %w", bucket, key, err)
	}

	tag := ""
	if complete.ETag != nil {
		tag = strings.Trim(*complete.ETag, "\"")
	}

	verifiedTag, err := w.verifyTag(ctx, bucket, key, tag)
	if err != nil {
		return nil, err
	}

	return &Result{Bucket: bucket, Key: key, IntegrityTag: verifiedTag, RowCount: rowCount}, nil
}

// streamParts buffers CSV-encoded rows and uploads them as multipart parts
// once a buffer reaches minPartSize, flushing whatever remains as the final
// (possibly short) part.
func (w *Writer) streamParts(ctx context.Context, bucket, key, uploadID string, rows RowSource) (int, []types.CompletedPart, error) {
	var buf bytes.Buffer
	csvWriter := csv.NewWriter(&buf)

	var parts []types.CompletedPart
	rowCount := 0
	partNumber := int32(1)

	flush := func() error {
		if buf.Len() == 0 {
			return nil
		}
		data := make([]byte, buf.Len())
		copy(data, buf.Bytes())
		buf.Reset()

		n := partNumber
		out, err := w.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     &bucket,
			Key:        &key,
			UploadId:   &uploadID,
			PartNumber: &n,
			Body:       bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("failed to upload manifest part %d for %s/%s: %w", n, bucket, key, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: &n})
		partNumber++
		return nil
	}

	for {
		row, ok, err := rows.Next()
		if err != nil {
			return 0, nil, fmt.Errorf("manifest row source failed for %s/%s: %w", bucket, key, err)
		}
		if !ok {
			break
		}
		if err := csvWriter.Write([]string{row.SourceContainer, row.Key}); err != nil {
			return 0, nil, fmt.Errorf("failed to encode manifest row for %s/%s: %w", bucket, key, err)
		}
		rowCount++

		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			return 0, nil, fmt.Errorf("failed to flush manifest row for %s/%s: %w", bucket, key, err)
		}

		if buf.Len() >= minPartSize {
			if err := flush(); err != nil {
				return 0, nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return 0, nil, err
	}

	return rowCount, parts, nil
}

func (w *Writer) abort(ctx context.Context, bucket, key, uploadID string) {
	_, err := w.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   &bucket,
		Key:      &key,
		UploadId: &uploadID,
	})
	if err != nil {
		w.logger.Warn().Err(err).Str("bucket", bucket).Str("key", key).
			Msg("failed to abort manifest multipart upload")
	}
}

// verifyTag implements the consistency contract from section 4.2: the
// completion response's ETag is compared against a fresh metadata read,
// retrying up to verifyRetries times before treating the mismatch as fatal.
func (w *Writer) verifyTag(ctx context.Context, bucket, key, completionTag string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < verifyRetries; attempt++ {
		head, err := w.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
		if err != nil {
			lastErr = fmt.Errorf("failed to re-read manifest metadata for %s/%s: %w", bucket, key, err)
		} else {
			currentTag := ""
			if head.ETag != nil {
				currentTag = strings.Trim(*head.ETag, "\"")
			}
			if completionTag == "" || currentTag == completionTag {
				return currentTag, nil
			}
			lastErr = fmt.Errorf("manifest integrity tag mismatch for %s/%s: upload reported %s, store reports %s (attempt "+
				strconv.Itoa(attempt+1)+")", bucket, key, completionTag, currentTag)
		}

		if attempt < verifyRetries-1 {
			metrics.ManifestIntegrityRetries.Inc()
			time.Sleep(verifyRetryDelay)
		}
	}
	return "", fmt.Errorf("manifest integrity tag could not be verified for %s/%s after %d attempts: %w", bucket, key, verifyRetries, lastErr)
}
