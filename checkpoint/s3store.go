package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
)

// S3Store implements Store against the central container, using the key
// grammar from section 6:
//
//	checkpoints/<source>/<mode>.txt
//	checkpoints/incremental/<source>/<tier>/<window>.marker
type S3Store struct {
	client           awsclient.S3Client
	centralContainer string
	logger           zerolog.Logger
}

// NewS3Store creates a new S3Store instance.
func NewS3Store(client awsclient.S3Client, centralContainer string, logger zerolog.Logger) *S3Store {
	return &S3Store{client: client, centralContainer: centralContainer, logger: logger}
}

func sweepKey(source, mode string) string {
	return fmt.Sprintf("checkpoints/%s/%s.txt", source, mode)
}

func windowMarkerKey(source, tier, window string) string {
	return fmt.Sprintf("checkpoints/incremental/%s/%s/%s.marker", source, tier, window)
}

// ReadSweep implements the fail-soft contract from section 4.1: any error,
// not just "not found", results in (  "", false) plus a logged warning —
// absence is treated as "process everything".
func (s *S3Store) ReadSweep(ctx context.Context, source, mode string) (string, bool) {
	key := sweepKey(source, mode)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.centralContainer,
		Key:    &key,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if !errors.As(err, &noSuchKey) {
			s.logger.Warn().Err(err).Str("source", source).Str("mode", mode).
				Msg("sweep checkpoint read failed; treating as absent")
		}
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.Warn().Err(err).Str("source", source).Str("mode", mode).
			Msg("sweep checkpoint body unreadable; treating as absent")
		return "", false
	}
	return string(data), true
}

// WriteSweep persists the timestamp, propagating any error per section 4.1.
func (s *S3Store) WriteSweep(ctx context.Context, source, mode, timestamp string) error {
	key := sweepKey(source, mode)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.centralContainer,
		Key:    &key,
		Body:   bytes.NewReader([]byte(timestamp)),
	})
	if err != nil {
		return fmt.Errorf("failed to write sweep checkpoint for %s/%s: %w", source, mode, err)
	}
	return nil
}

// HasWindow is an O(1) HeadObject existence check.
func (s *S3Store) HasWindow(ctx context.Context, source, tier, window string) (bool, error) {
	key := windowMarkerKey(source, tier, window)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.centralContainer,
		Key:    &key,
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check window marker for %s/%s/%s: %w", source, tier, window, err)
	}
	return true, nil
}

// MarkWindow is an O(1) PutObject with an empty body; the payload is
// irrelevant per section 3 — existence is the signal.
func (s *S3Store) MarkWindow(ctx context.Context, source, tier, window string) error {
	key := windowMarkerKey(source, tier, window)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.centralContainer,
		Key:    &key,
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("failed to mark window %s/%s/%s: %w", source, tier, window, err)
	}
	return nil
}
