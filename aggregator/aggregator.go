// Package aggregator implements the Incremental Window Aggregator from
// section 4.5: decodes a batch of queue messages into object-created
// records, groups them by (tier, source, window), and for each newly-seen
// window writes a manifest and submits a batch-copy job.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brinewave/vaultsweep/batchcopy"
	"github.com/brinewave/vaultsweep/checkpoint"
	"github.com/brinewave/vaultsweep/manifestwriter"
	"github.com/brinewave/vaultsweep/metrics"
	"github.com/brinewave/vaultsweep/objectevent"
	"github.com/brinewave/vaultsweep/objectfilter"
	"github.com/brinewave/vaultsweep/tagresolver"
	"github.com/brinewave/vaultsweep/tiering"
)

// maxConcurrentGroups bounds how many (tier, source, window) groups are
// committed in parallel per batch (section 5's concurrency model).
const maxConcurrentGroups = 8

// Message is one queue message carrying a provider-native event envelope.
type Message struct {
	ID   string
	Body []byte
}

// JobOutcome records one successfully committed window group.
type JobOutcome struct {
	Tier        tiering.Tier
	Source      string
	Window      string
	ManifestKey string
	JobID       string
}

// Result is the Aggregator's partial-failure response (section 4.5 step 4).
type Result struct {
	FailedMessageIDs []string
	Committed        []JobOutcome
	SkippedIdempotent int
}

// Aggregator groups event records into windows and commits each newly-seen
// group's manifest and batch-copy job.
type Aggregator struct {
	resolver     *tagresolver.Resolver
	policy       tiering.Policy
	filterRules  map[tiering.Tier]objectfilter.Rules
	checkpoints  checkpoint.Store
	writer       *manifestwriter.Writer
	launcher     *batchcopy.Launcher
	logger       zerolog.Logger

	centralContainer string
	initiative       string
	generation       string
	accountID        string
	batchRoleARN     string
	targetBucketARN  string

	disableWindowCheckpoint bool
}

// Config carries the fixed, per-deployment parameters an Aggregator needs
// beyond its collaborators.
type Config struct {
	CentralContainer        string
	Initiative              string
	Generation              string
	AccountID               string
	BatchRoleARN            string
	TargetBucketARN         string
	DisableWindowCheckpoint bool
}

// New creates an Aggregator.
func New(resolver *tagresolver.Resolver, policy tiering.Policy, filterRules map[tiering.Tier]objectfilter.Rules, checkpoints checkpoint.Store, writer *manifestwriter.Writer, launcher *batchcopy.Launcher, cfg Config, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		resolver:                resolver,
		policy:                  policy,
		filterRules:             filterRules,
		checkpoints:             checkpoints,
		writer:                  writer,
		launcher:                launcher,
		logger:                  logger,
		centralContainer:        cfg.CentralContainer,
		initiative:              cfg.Initiative,
		generation:              cfg.Generation,
		accountID:               cfg.AccountID,
		batchRoleARN:            cfg.BatchRoleARN,
		targetBucketARN:         cfg.TargetBucketARN,
		disableWindowCheckpoint: cfg.DisableWindowCheckpoint,
	}
}

type group struct {
	tier       tiering.Tier
	source     string
	window     string
	windowTime time.Time
	keys       map[string]struct{}
	messageIDs map[string]struct{}
}

func groupKey(tier tiering.Tier, source, window string) string {
	return fmt.Sprintf("%s|%s|%s", tier, source, window)
}

// ProcessBatch runs the full algorithm from section 4.5 over one batch of
// queue messages.
func (a *Aggregator) ProcessBatch(ctx context.Context, messages []Message) (*Result, error) {
	failed := make(map[string]struct{})
	groups := make(map[string]*group)

	for _, msg := range messages {
		records, err := objectevent.Decode(msg.Body)
		if err != nil {
			a.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to decode event envelope; marking message failed")
			failed[msg.ID] = struct{}{}
			continue
		}

		for _, rec := range records {
			a.absorbRecord(ctx, groups, rec, msg.ID)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentGroups)

	for _, k := range keys {
		grp := groups[k]
		g.Go(func() error {
			outcome, skipped, err := a.commitGroup(gctx, grp)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Error().Err(err).Str("source", grp.source).Str("tier", string(grp.tier)).Str("window", grp.window).
					Msg("failed to commit window group")
				for id := range grp.messageIDs {
					failed[id] = struct{}{}
				}
				metrics.QueueMessagesFailed.Add(float64(len(grp.messageIDs)))
				return nil
			}
			if skipped {
				result.SkippedIdempotent++
				metrics.WindowGroupsSkippedIdempotent.WithLabelValues(string(grp.tier), grp.source).Inc()
				return nil
			}
			result.Committed = append(result.Committed, *outcome)
			metrics.WindowGroupsProcessed.WithLabelValues(string(grp.tier), grp.source).Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for id := range failed {
		result.FailedMessageIDs = append(result.FailedMessageIDs, id)
	}
	sort.Strings(result.FailedMessageIDs)

	return result, nil
}

// absorbRecord implements section 4.5 step 2: resolve criticality, skip
// unconfigured tiers, apply the object filter, compute the window, and
// insert the key into its group.
func (a *Aggregator) absorbRecord(ctx context.Context, groups map[string]*group, rec objectevent.Record, messageID string) {
	tier, err := a.resolver.Resolve(ctx, rec.SourceContainer)
	if err != nil {
		a.logger.Warn().Err(err).Str("source", rec.SourceContainer).Msg("failed to resolve criticality; skipping record")
		return
	}

	windowHours := a.policy.WindowHoursFor(tier)
	if windowHours == 0 {
		return
	}

	rules := a.filterRules[tier]
	if !rules.Allow(rec.Key) {
		return
	}

	label, windowStart, err := objectfilter.ComputeWindowLabel(rec.EventTime, windowHours)
	if err != nil {
		a.logger.Warn().Err(err).Str("source", rec.SourceContainer).Msg("failed to compute window; skipping record")
		return
	}

	key := groupKey(tier, rec.SourceContainer, label)
	grp, ok := groups[key]
	if !ok {
		grp = &group{
			tier:       tier,
			source:     rec.SourceContainer,
			window:     label,
			windowTime: windowStart,
			keys:       make(map[string]struct{}),
			messageIDs: make(map[string]struct{}),
		}
		groups[key] = grp
	}
	grp.keys[rec.Key] = struct{}{}
	grp.messageIDs[messageID] = struct{}{}
}

// commitGroup implements section 4.5 step 3: idempotence check, manifest
// write, batch-copy submission, window-marker write. Returns
// (outcome, skipped, err).
func (a *Aggregator) commitGroup(ctx context.Context, grp *group) (*JobOutcome, bool, error) {
	if !a.disableWindowCheckpoint {
		has, err := a.checkpoints.HasWindow(ctx, grp.source, string(grp.tier), grp.window)
		if err != nil {
			return nil, false, fmt.Errorf("check window marker: %w", err)
		}
		if has {
			return nil, true, nil
		}
	}

	runID := time.Now().UTC().Format("20060102-150405")
	manifestKey := batchcopy.CanonicalManifestKey(string(grp.tier), a.initiative, grp.source, grp.window, runID)

	rows := make([]manifestwriter.Row, 0, len(grp.keys))
	sortedKeys := make([]string, 0, len(grp.keys))
	for k := range grp.keys {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)
	for _, k := range sortedKeys {
		rows = append(rows, manifestwriter.Row{SourceContainer: grp.source, Key: k})
	}

	timer := metrics.NewTimer()
	result, err := a.writer.WriteCanonical(ctx, a.centralContainer, manifestKey, manifestwriter.NewSliceSource(rows), map[string]string{
		"criticality":   string(grp.tier),
		"object-count":  fmt.Sprintf("%d", len(rows)),
		"source-bucket": grp.source,
		"window-start":  grp.windowTime.UTC().Format(time.RFC3339),
		"created-at":    time.Now().UTC().Format(time.RFC3339),
	})
	timer.ObserveDuration(metrics.ManifestWriteDuration)
	if err != nil {
		return nil, false, fmt.Errorf("write manifest: %w", err)
	}
	if result == nil {
		return nil, true, nil
	}
	metrics.ManifestRowsWritten.WithLabelValues(grp.source).Add(float64(result.RowCount))

	prefixes, err := batchcopy.IncrementalPrefixes(string(grp.tier), a.initiative, grp.source, grp.window)
	if err != nil {
		return nil, false, fmt.Errorf("compute target prefixes: %w", err)
	}

	jobID, err := a.launcher.Submit(ctx, batchcopy.JobSpec{
		Source:          grp.source,
		Mode:            "incremental",
		Generation:      a.generation,
		Tier:            string(grp.tier),
		WindowLabel:     grp.window,
		ManifestBucket:  result.Bucket,
		ManifestKey:     result.Key,
		ManifestETag:    result.IntegrityTag,
		DataPrefix:      prefixes.DataPrefix,
		ReportsPrefix:   prefixes.ReportsPrefix,
		AccountID:       a.accountID,
		BatchRoleARN:    a.batchRoleARN,
		TargetBucketARN: a.targetBucketARN,
	})
	if err != nil {
		return nil, false, fmt.Errorf("submit batch-copy job: %w", err)
	}

	if !a.disableWindowCheckpoint {
		if err := a.checkpoints.MarkWindow(ctx, grp.source, string(grp.tier), grp.window); err != nil {
			return nil, false, fmt.Errorf("mark window: %w", err)
		}
	}

	return &JobOutcome{Tier: grp.tier, Source: grp.source, Window: grp.window, ManifestKey: manifestKey, JobID: jobID}, false, nil
}
