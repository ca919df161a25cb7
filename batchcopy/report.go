package batchcopy

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
)

// ReportSummary is a compact tally of a batch-copy report CSV, supplementing
// the job-submission workflow with the same operator-facing rollup the
// original deployment's report-summary script produced.
type ReportSummary struct {
	Bucket       string
	Key          string
	TotalRows    int
	ByResult     map[string]int
	ByErrorCode  map[string]int
}

// String renders ReportSummary the way an operator reading a terminal would
// expect: counts sorted by descending frequency, ties broken alphabetically.
func (s ReportSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report: s3://%s/%s\n", s.Bucket, s.Key)
	fmt.Fprintf(&b, "Total rows: %d\n", s.TotalRows)
	b.WriteString("By result/status:\n")
	for _, k := range sortedByCountDesc(s.ByResult) {
		label := k
		if label == "" {
			label = "(blank)"
		}
		fmt.Fprintf(&b, "  %s: %d\n", label, s.ByResult[k])
	}
	if len(s.ByErrorCode) > 0 {
		b.WriteString("By error code:\n")
		for _, k := range sortedByCountDesc(s.ByErrorCode) {
			fmt.Fprintf(&b, "  %s: %d\n", k, s.ByErrorCode[k])
		}
	}
	return b.String()
}

func sortedByCountDesc(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Summarizer locates and tallies the most recent batch-copy report under a
// reports prefix in the central container.
type Summarizer struct {
	client awsclient.S3Client
	logger zerolog.Logger
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(client awsclient.S3Client, logger zerolog.Logger) *Summarizer {
	return &Summarizer{client: client, logger: logger}
}

// LatestReport finds the most recently modified CSV under prefix and returns
// its tallied ReportSummary, or (nil, nil) if none exists.
func (s *Summarizer) LatestReport(ctx context.Context, bucket, prefix string) (*ReportSummary, error) {
	key, err := s.findLatestCSV(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, nil
	}
	return s.summarize(ctx, bucket, key)
}

func (s *Summarizer) findLatestCSV(ctx context.Context, bucket, prefix string) (string, error) {
	var latestKey string
	var latestModified time.Time
	var token *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return "", fmt.Errorf("list reports under %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil || !strings.HasSuffix(strings.ToLower(*obj.Key), ".csv") {
				continue
			}
			var modified time.Time
			if obj.LastModified != nil {
				modified = *obj.LastModified
			}
			if latestKey == "" || modified.After(latestModified) {
				latestModified = modified
				latestKey = *obj.Key
			}
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	return latestKey, nil
}

func (s *Summarizer) summarize(ctx context.Context, bucket, key string) (*ReportSummary, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("fetch report %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	reader := csv.NewReader(out.Body)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return &ReportSummary{Bucket: bucket, Key: key, ByResult: map[string]int{}, ByErrorCode: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read report header %s/%s: %w", bucket, key, err)
	}

	resultCol := firstMatchingColumn(header, "Result", "Status", "OperationStatus", "TaskStatus")
	errorCol := firstMatchingColumn(header, "ErrorCode", "FailureCode", "Error")

	summary := &ReportSummary{Bucket: bucket, Key: key, ByResult: map[string]int{}, ByErrorCode: map[string]int{}}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("skipping malformed report row")
			continue
		}
		summary.TotalRows++

		result := columnValue(row, resultCol)
		summary.ByResult[result]++

		if errCode := columnValue(row, errorCol); errCode != "" {
			summary.ByErrorCode[errCode]++
		}
	}

	return summary, nil
}

func firstMatchingColumn(header []string, names ...string) int {
	for _, name := range names {
		for i, h := range header {
			if strings.EqualFold(h, name) {
				return i
			}
		}
	}
	return -1
}

func columnValue(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
