// Package config loads and validates the engine's environment configuration
// (section 6): the central container binding, per-tier window policy, key
// filter rules, and the escalation/testing switches recognized by the
// Discovery Reconciler, Incremental Window Aggregator, Sweep Planner, and
// Batch-Copy Launcher.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/brinewave/vaultsweep/objectfilter"
	"github.com/brinewave/vaultsweep/tiering"
)

// Config holds every recognized environment option from section 6.
type Config struct {
	CentralBackupBucket string // CENTRAL_BACKUP_BUCKET (required)
	CentralAccountID    string // CENTRAL_ACCOUNT_ID
	SQSQueueARN         string // SQS_QUEUE_ARN
	BackupBucketARN     string // BACKUP_BUCKET_ARN
	BatchRoleARN        string // BATCH_ROLE_ARN
	AccountID           string // ACCOUNT_ID
	Initiative          string // INITIATIVE / INICIATIVA
	GenerationIncremental string // GENERATION_INCREMENTAL, default "son"

	BackupFrequencyHours map[tiering.Tier]int // BACKUP_FREQUENCY_HOURS_<TIER>

	AllowedPrefixes      map[tiering.Tier][]string // ALLOWED_PREFIXES
	ExcludeKeyPrefixes   []string                  // EXCLUDE_KEY_PREFIXES
	ExcludeKeySuffixes   []string                  // EXCLUDE_KEY_SUFFIXES
	CriticalitiesWithNotifications map[tiering.Tier]bool // CRITICALITIES_WITH_NOTIFICATIONS

	ForceFullOnFirstRun     bool // FORCE_FULL_ON_FIRST_RUN
	FallbackMaxObjects      int  // FALLBACK_MAX_OBJECTS, 0 = disabled
	FallbackTimeLimitSeconds int // FALLBACK_TIME_LIMIT_SECONDS, 0 = disabled
	DisableWindowCheckpoint bool // DISABLE_WINDOW_CHECKPOINT
}

const defaultGenerationIncremental = "son"

// FromEnvironment builds a Config from the process environment and
// validates it, mirroring the fail-fast validation contract the teacher
// applies to its own restore configuration.
func FromEnvironment() (*Config, error) {
	cfg := &Config{
		CentralBackupBucket:   os.Getenv("CENTRAL_BACKUP_BUCKET"),
		CentralAccountID:      os.Getenv("CENTRAL_ACCOUNT_ID"),
		SQSQueueARN:           os.Getenv("SQS_QUEUE_ARN"),
		BackupBucketARN:       os.Getenv("BACKUP_BUCKET_ARN"),
		BatchRoleARN:          os.Getenv("BATCH_ROLE_ARN"),
		AccountID:             os.Getenv("ACCOUNT_ID"),
		GenerationIncremental: defaultGenerationIncremental,
	}

	if initiative := firstNonEmpty(os.Getenv("INITIATIVE"), os.Getenv("INICIATIVA")); initiative != "" {
		cfg.Initiative = initiative
	}
	if gen := os.Getenv("GENERATION_INCREMENTAL"); gen != "" {
		cfg.GenerationIncremental = gen
	}

	frequency, err := parseTierHours(os.Getenv)
	if err != nil {
		return nil, err
	}
	cfg.BackupFrequencyHours = frequency

	allowed, err := parseAllowedPrefixes(os.Getenv("ALLOWED_PREFIXES"))
	if err != nil {
		return nil, err
	}
	cfg.AllowedPrefixes = allowed

	cfg.ExcludeKeyPrefixes, err = parseStringList(os.Getenv("EXCLUDE_KEY_PREFIXES"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXCLUDE_KEY_PREFIXES: %w", err)
	}
	cfg.ExcludeKeySuffixes, err = parseStringList(os.Getenv("EXCLUDE_KEY_SUFFIXES"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXCLUDE_KEY_SUFFIXES: %w", err)
	}

	notifTiers, err := parseTierSet(os.Getenv("CRITICALITIES_WITH_NOTIFICATIONS"))
	if err != nil {
		return nil, fmt.Errorf("invalid CRITICALITIES_WITH_NOTIFICATIONS: %w", err)
	}
	cfg.CriticalitiesWithNotifications = notifTiers

	cfg.ForceFullOnFirstRun = parseBool(os.Getenv("FORCE_FULL_ON_FIRST_RUN"))
	cfg.DisableWindowCheckpoint = parseBool(os.Getenv("DISABLE_WINDOW_CHECKPOINT"))

	cfg.FallbackMaxObjects, err = parseIntDefault(os.Getenv("FALLBACK_MAX_OBJECTS"), 0)
	if err != nil {
		return nil, fmt.Errorf("invalid FALLBACK_MAX_OBJECTS: %w", err)
	}
	cfg.FallbackTimeLimitSeconds, err = parseIntDefault(os.Getenv("FALLBACK_TIME_LIMIT_SECONDS"), 0)
	if err != nil {
		return nil, fmt.Errorf("invalid FALLBACK_TIME_LIMIT_SECONDS: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the required fields and internal consistency.
func (c *Config) Validate() error {
	if c.CentralBackupBucket == "" {
		return fmt.Errorf("CENTRAL_BACKUP_BUCKET is required")
	}
	if c.FallbackMaxObjects < 0 {
		return fmt.Errorf("FALLBACK_MAX_OBJECTS must be non-negative")
	}
	if c.FallbackTimeLimitSeconds < 0 {
		return fmt.Errorf("FALLBACK_TIME_LIMIT_SECONDS must be non-negative")
	}
	return nil
}

// NotificationsRequired reports whether tier is in the configured
// notification set, falling back to tiering's built-in policy default when
// the environment variable was not set at all.
func (c *Config) NotificationsRequired(tier tiering.Tier, fallback tiering.Policy) bool {
	if c.CriticalitiesWithNotifications != nil {
		return c.CriticalitiesWithNotifications[tier]
	}
	return fallback.NotificationsRequiredFor(tier)
}

// Policy builds the effective per-tier policy for this deployment, starting
// from tiering.DefaultPolicy and overriding window lengths and the
// notification set wherever the environment supplied an explicit value.
func (c *Config) Policy() tiering.Policy {
	policy := tiering.DefaultPolicy()
	for tier, hours := range c.BackupFrequencyHours {
		policy.WindowHours[tier] = hours
	}
	if c.CriticalitiesWithNotifications != nil {
		for tier := range policy.NotificationRequired {
			policy.NotificationRequired[tier] = c.CriticalitiesWithNotifications[tier]
		}
	}
	return policy
}

// FilterRulesByTier builds the per-tier objectfilter.Rules set from the
// shared exclude lists and each tier's allowed-prefix restriction.
func (c *Config) FilterRulesByTier() map[tiering.Tier]objectfilter.Rules {
	rules := make(map[tiering.Tier]objectfilter.Rules)
	for _, tier := range []tiering.Tier{tiering.Critical, tiering.LessCritical, tiering.NonCritical} {
		rules[tier] = objectfilter.Rules{
			ExcludePrefixes: c.ExcludeKeyPrefixes,
			ExcludeSuffixes: c.ExcludeKeySuffixes,
			AllowedPrefixes: c.AllowedPrefixes[tier],
		}
	}
	return rules
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return v
}

func parseIntDefault(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func parseTierHours(getenv func(string) string) (map[tiering.Tier]int, error) {
	result := make(map[tiering.Tier]int)
	for _, tier := range []tiering.Tier{tiering.Critical, tiering.LessCritical, tiering.NonCritical} {
		key := "BACKUP_FREQUENCY_HOURS_" + strings.ToUpper(string(tier))
		raw := strings.TrimSpace(getenv(key))
		if raw == "" {
			continue
		}
		hours, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		result[tier] = hours
	}
	return result, nil
}

// parseStringList accepts either a JSON array or a comma-separated list, per
// section 6's "JSON list or comma-separated" note.
func parseStringList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var values []string
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return nil, err
		}
		return values, nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values, nil
}

// parseAllowedPrefixes decodes ALLOWED_PREFIXES as a JSON map of tier to
// prefix list.
func parseAllowedPrefixes(raw string) (map[tiering.Tier][]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var decoded map[string][]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("invalid ALLOWED_PREFIXES: %w", err)
	}
	result := make(map[tiering.Tier][]string, len(decoded))
	for rawTier, prefixes := range decoded {
		tier, err := tiering.ParseTier(rawTier)
		if err != nil {
			return nil, fmt.Errorf("invalid ALLOWED_PREFIXES tier %q: %w", rawTier, err)
		}
		result[tier] = prefixes
	}
	return result, nil
}

// parseTierSet accepts a comma-separated tier list.
func parseTierSet(raw string) (map[tiering.Tier]bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	result := make(map[tiering.Tier]bool)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		tier, err := tiering.ParseTier(trimmed)
		if err != nil {
			return nil, err
		}
		result[tier] = true
	}
	return result, nil
}
