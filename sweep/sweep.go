// Package sweep implements the Sweep Planner from section 4.6: locates the
// most recent enumeration descriptor (falling back to direct listing when
// none exists), streams matching rows into a manifest, and advances the
// sweep checkpoint on success.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/brinewave/vaultsweep/awsclient"
	"github.com/brinewave/vaultsweep/checkpoint"
	"github.com/brinewave/vaultsweep/inventory"
	"github.com/brinewave/vaultsweep/manifestwriter"
	"github.com/brinewave/vaultsweep/metrics"
	"github.com/brinewave/vaultsweep/objectfilter"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Mode is the sweep mode requested by the caller.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Status is the terminal state of a Planner run.
type Status string

const (
	StatusManifest Status = "MANIFEST"
	StatusEmpty    Status = "EMPTY"
)

// Args are the workflow-step arguments from section 4.6's trigger clause.
type Args struct {
	Source            string
	CentralContainer   string
	Mode               Mode
	Tier               string
	EnumerationPrefix  string
}

// Result is the Planner's output: section 4.6 step 6's {bucket, key,
// integrity_tag} plus effective_mode and metadata.
type Result struct {
	Status       Status
	Bucket       string
	Key          string
	IntegrityTag string
	RowCount     int
	EffectiveMode Mode
}

// Options configures sweep-fallback and first-run-escalation behavior
// (section 6's FORCE_FULL_ON_FIRST_RUN, FALLBACK_MAX_OBJECTS,
// FALLBACK_TIME_LIMIT_SECONDS).
type Options struct {
	ForceFullOnFirstRun      bool
	FallbackMaxObjects       int
	FallbackTimeLimitSeconds int
}

// Planner runs the Sweep Planner algorithm.
type Planner struct {
	s3Client    awsclient.S3Client
	reader      *inventory.Reader
	writer      *manifestwriter.Writer
	checkpoints checkpoint.Store
	filterRules map[string]objectfilter.Rules
	opts        Options
	logger      zerolog.Logger

	now func() time.Time
}

// New creates a Planner.
func New(s3Client awsclient.S3Client, reader *inventory.Reader, writer *manifestwriter.Writer, checkpoints checkpoint.Store, filterRules map[string]objectfilter.Rules, opts Options, logger zerolog.Logger) *Planner {
	return &Planner{
		s3Client:    s3Client,
		reader:      reader,
		writer:      writer,
		checkpoints: checkpoints,
		filterRules: filterRules,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// Run executes the full section 4.6 algorithm.
func (p *Planner) Run(ctx context.Context, args Args) (*Result, error) {
	descriptor, descriptorKey, err := p.reader.LocateLatest(ctx, args.CentralContainer, args.EnumerationPrefix)
	if err != nil {
		return nil, fmt.Errorf("locate enumeration descriptor: %w", err)
	}

	effectiveMode := args.Mode
	checkpointAbsent := false
	if descriptor == nil {
		_, hasCheckpoint := p.checkpoints.ReadSweep(ctx, args.Source, string(args.Mode))
		checkpointAbsent = !hasCheckpoint
		if p.opts.ForceFullOnFirstRun && args.Mode == ModeIncremental && checkpointAbsent {
			effectiveMode = ModeFull
		}
	}

	checkpointTimestamp := ""
	if effectiveMode != ModeFull {
		ts, ok := p.checkpoints.ReadSweep(ctx, args.Source, string(effectiveMode))
		if ok {
			checkpointTimestamp = ts
		}
	}

	rules := p.filterRules[args.Tier]
	var collected []manifestwriter.Row

	if descriptor != nil {
		cols, err := inventory.ResolveColumns(descriptor.FileSchema)
		if err != nil {
			return nil, fmt.Errorf("enumeration descriptor schema: %w", err)
		}

		_, err = p.reader.StreamDescriptor(ctx, args.CentralContainer, descriptor, cols, func(row inventory.Row) error {
			if !rules.Allow(row.Key) {
				return nil
			}
			if checkpointTimestamp != "" {
				ts, err := time.Parse(time.RFC3339, checkpointTimestamp)
				if err == nil && !row.LastModifiedDate.After(ts) {
					return nil
				}
			}
			collected = append(collected, manifestwriter.Row{SourceContainer: args.Source, Key: row.Key})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("stream enumeration descriptor: %w", err)
		}
		p.logger.Debug().Str("source", args.Source).Str("descriptor", descriptorKey).Int("rows", len(collected)).Msg("streamed enumeration descriptor")
	} else {
		metrics.SweepFallbacksTotal.WithLabelValues(args.Source).Inc()
		collected, err = p.fallbackList(ctx, args, rules, checkpointTimestamp)
		if err != nil {
			return nil, fmt.Errorf("fallback listing: %w", err)
		}
	}

	if len(collected) == 0 {
		return &Result{Status: StatusEmpty, EffectiveMode: effectiveMode}, nil
	}

	result, err := p.writer.WriteTemp(ctx, args.CentralContainer, args.Source, manifestwriter.NewSliceSource(collected))
	if err != nil {
		return nil, fmt.Errorf("write sweep manifest: %w", err)
	}
	if result == nil {
		return &Result{Status: StatusEmpty, EffectiveMode: effectiveMode}, nil
	}

	metrics.SweepRowsEmitted.WithLabelValues(args.Source, string(effectiveMode)).Add(float64(result.RowCount))

	if err := p.checkpoints.WriteSweep(ctx, args.Source, string(effectiveMode), p.now().UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("write sweep checkpoint: %w", err)
	}

	return &Result{
		Status:        StatusManifest,
		Bucket:        result.Bucket,
		Key:           result.Key,
		IntegrityTag:  result.IntegrityTag,
		RowCount:      result.RowCount,
		EffectiveMode: effectiveMode,
	}, nil
}

// fallbackList directly lists the origin container under each allowed
// prefix (or the whole container if none configured), applying the
// checkpoint filter and optional hard caps on object count and elapsed wall
// time (section 4.6 step 4).
func (p *Planner) fallbackList(ctx context.Context, args Args, rules objectfilter.Rules, checkpointTimestamp string) ([]manifestwriter.Row, error) {
	prefixes := rules.AllowedPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}

	var checkpointTime time.Time
	hasCheckpoint := false
	if checkpointTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339, checkpointTimestamp); err == nil {
			checkpointTime = ts
			hasCheckpoint = true
		}
	}

	var rows []manifestwriter.Row
	start := p.now()
	deadline := time.Time{}
	if p.opts.FallbackTimeLimitSeconds > 0 {
		deadline = start.Add(time.Duration(p.opts.FallbackTimeLimitSeconds) * time.Second)
	}

	for _, prefix := range prefixes {
		var token *string
		for {
			if !deadline.IsZero() && p.now().After(deadline) {
				p.logger.Warn().Str("source", args.Source).Msg("fallback listing stopped: time limit reached")
				return rows, nil
			}
			if p.opts.FallbackMaxObjects > 0 && len(rows) >= p.opts.FallbackMaxObjects {
				p.logger.Warn().Str("source", args.Source).Msg("fallback listing stopped: object cap reached")
				return rows, nil
			}

			out, err := p.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            &args.Source,
				Prefix:            &prefix,
				ContinuationToken: token,
			})
			if err != nil {
				return nil, err
			}

			for _, obj := range out.Contents {
				if obj.Key == nil || !rules.Allow(*obj.Key) {
					continue
				}
				if hasCheckpoint && obj.LastModified != nil && !obj.LastModified.After(checkpointTime) {
					continue
				}
				rows = append(rows, manifestwriter.Row{SourceContainer: args.Source, Key: *obj.Key})
				if p.opts.FallbackMaxObjects > 0 && len(rows) >= p.opts.FallbackMaxObjects {
					break
				}
			}

			if out.NextContinuationToken == nil {
				break
			}
			token = out.NextContinuationToken
		}
	}

	return rows, nil
}
