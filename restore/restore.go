package restore

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/metrics"
)

// Streamer streams an object line by line starting from a byte offset,
// matching github.com/gurre/s3streamer's resumable read model: a restore
// interrupted mid-manifest can resume from the last byte offset it recorded
// instead of re-reading (and re-copying) rows it already replayed.
type Streamer interface {
	Stream(ctx context.Context, bucket, key string, offset int64, fn func(line []byte, byteOffset int64) error) error
}

// Args are the Restore Resolver's invocation arguments (section 4.8).
type Args struct {
	Source     string
	Tier       string
	Mode       string
	Generation string
	Initiative string
	Window     string // explicit window label; empty to auto-resolve
	Year       int
	Month      int
	Day        int
	Hour       int
	KeyPrefix  string // optional restrict-to-prefix filter
	MaxObjects int    // 0 = unlimited
	DryRun     bool
	// ResumeOffset re-starts the manifest stream at a prior byte offset,
	// skipping rows already replayed by an earlier, interrupted attempt.
	ResumeOffset int64
}

// Counts is the restore tally from section 4.8 step 4.
type Counts struct {
	Restored int
	Skipped  int
	Errors   int
}

// Result is the Restore Resolver's response.
type Result struct {
	Status      string
	Counts      Counts
	ManifestKey string
	DataPrefix  string
	// LastOffset is the byte offset of the last manifest line processed,
	// suitable as a future Args.ResumeOffset if the run was cut short.
	LastOffset int64
}

// Resolver replays manifests from the central container back to their
// origin containers.
type Resolver struct {
	client           awsclient.S3Client
	streamer         Streamer
	centralContainer string
	logger           zerolog.Logger
}

// New creates a Resolver. streamer drives the resumable manifest read; pass
// an s3streamer.Streamer wrapping the same account's raw S3 client.
func New(client awsclient.S3Client, streamer Streamer, centralContainer string, logger zerolog.Logger) *Resolver {
	return &Resolver{client: client, streamer: streamer, centralContainer: centralContainer, logger: logger}
}

// Run executes the full section 4.8 algorithm: resolve window, resolve data
// prefix, stream the manifest, and replay (or, under dry_run, merely count)
// each matching row.
func (r *Resolver) Run(ctx context.Context, args Args) (*Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RestoreDuration)

	windowLabel, err := ResolveWindow(ctx, r.client, r.centralContainer, args.Tier, args.Mode, args.Initiative, args.Source, args.Window, args.Year, args.Month, args.Day, args.Hour)
	if err != nil {
		return nil, fmt.Errorf("resolve window: %w", err)
	}

	manifestKey, err := locateManifestForWindow(ctx, r.client, r.centralContainer, args.Tier, args.Mode, args.Initiative, args.Source, windowLabel)
	if err != nil {
		return nil, fmt.Errorf("locate manifest: %w", err)
	}

	dataPrefix, err := ResolveDataPrefix(ctx, r.client, r.centralContainer, args.Tier, args.Mode, args.Generation, args.Initiative, args.Source, windowLabel)
	if err != nil {
		return nil, fmt.Errorf("resolve data prefix: %w", err)
	}

	counts, lastOffset, err := r.replay(ctx, args, manifestKey, dataPrefix)
	if err != nil {
		return nil, err
	}

	status := "done"
	if args.DryRun {
		status = "DRY_RUN"
	}

	return &Result{
		Status:      status,
		Counts:      *counts,
		ManifestKey: manifestKey,
		DataPrefix:  dataPrefix,
		LastOffset:  lastOffset,
	}, nil
}

// errMaxObjectsReached stops the stream once args.MaxObjects restores have
// happened; it is not surfaced as a Run failure.
var errMaxObjectsReached = fmt.Errorf("max objects reached")

// replay streams manifestKey row-by-row via r.streamer and, for each row
// whose source matches args.Source and key (if args.KeyPrefix is set) starts
// with it, either counts it (dry_run) or issues a server-side copy from the
// resolved data prefix back to the origin container (section 4.8 step 3).
func (r *Resolver) replay(ctx context.Context, args Args, manifestKey, dataPrefix string) (*Counts, int64, error) {
	counts := &Counts{}
	var lastOffset int64

	err := r.streamer.Stream(ctx, r.centralContainer, manifestKey, args.ResumeOffset, func(line []byte, byteOffset int64) error {
		if args.MaxObjects > 0 && counts.Restored >= args.MaxObjects {
			return errMaxObjectsReached
		}
		lastOffset = byteOffset

		record, err := parseManifestLine(line)
		if err != nil {
			return nil // malformed row; skip rather than abort the whole replay
		}
		if len(record) < 2 {
			return nil
		}
		sourceContainer, key := record[0], record[1]

		if sourceContainer != args.Source {
			counts.Skipped++
			return nil
		}
		if args.KeyPrefix != "" && !strings.HasPrefix(key, args.KeyPrefix) {
			counts.Skipped++
			return nil
		}

		if args.DryRun {
			counts.Restored++
			return nil
		}

		if err := r.copyBack(ctx, dataPrefix, key, args.Source); err != nil {
			r.logger.Warn().Err(err).Str("source", args.Source).Str("key", key).Msg("restore copy failed")
			counts.Errors++
			return nil
		}
		counts.Restored++
		metrics.RestoreObjectsCopied.WithLabelValues(args.Source).Inc()
		return nil
	})
	if err != nil && err != errMaxObjectsReached {
		return nil, lastOffset, fmt.Errorf("stream manifest %s: %w", manifestKey, err)
	}

	return counts, lastOffset, nil
}

// parseManifestLine decodes one CSV-encoded manifest line (source_container,
// key), tolerating the embedded commas and quoting a CSV writer can emit.
func parseManifestLine(line []byte) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(line))
	reader.FieldsPerRecord = -1
	return reader.Read()
}

// copyBack issues the server-side copy central_container:<dataPrefix>/<key>
// -> source_container:<key>, preserving server-side encryption (section 4.8
// step 3).
func (r *Resolver) copyBack(ctx context.Context, dataPrefix, key, sourceContainer string) error {
	source := fmt.Sprintf("%s/%s/%s", r.centralContainer, dataPrefix, key)

	_, err := r.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:               &sourceContainer,
		Key:                  &key,
		CopySource:           &source,
		MetadataDirective:    s3types.MetadataDirectiveCopy,
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	return err
}
