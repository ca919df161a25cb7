package config

import (
	"os"
	"testing"

	"github.com/brinewave/vaultsweep/tiering"
)

func withEnv(t *testing.T, vars map[string]string, fn func()) {
	t.Helper()
	var restore []func()
	for k, v := range vars {
		old, had := os.LookupEnv(k)
		if v == "" {
			os.Unsetenv(k)
		} else {
			os.Setenv(k, v)
		}
		k, old, had := k, old, had
		restore = append(restore, func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
	defer func() {
		for _, r := range restore {
			r()
		}
	}()
	fn()
}

func TestFromEnvironment_RequiresCentralBucket(t *testing.T) {
	withEnv(t, map[string]string{"CENTRAL_BACKUP_BUCKET": ""}, func() {
		_, err := FromEnvironment()
		if err == nil {
			t.Fatal("expected error when CENTRAL_BACKUP_BUCKET is unset")
		}
	})
}

func TestFromEnvironment_ParsesTierFrequencies(t *testing.T) {
	withEnv(t, map[string]string{
		"CENTRAL_BACKUP_BUCKET":           "central-bucket",
		"BACKUP_FREQUENCY_HOURS_CRITICAL": "6",
		"BACKUP_FREQUENCY_HOURS_LESSCRITICAL": "12",
	}, func() {
		cfg, err := FromEnvironment()
		if err != nil {
			t.Fatalf("FromEnvironment: %v", err)
		}
		if cfg.BackupFrequencyHours[tiering.Critical] != 6 {
			t.Errorf("expected Critical=6, got %d", cfg.BackupFrequencyHours[tiering.Critical])
		}
		if cfg.BackupFrequencyHours[tiering.LessCritical] != 12 {
			t.Errorf("expected LessCritical=12, got %d", cfg.BackupFrequencyHours[tiering.LessCritical])
		}
	})
}

func TestFromEnvironment_ParsesListsAsJSONOrCSV(t *testing.T) {
	withEnv(t, map[string]string{
		"CENTRAL_BACKUP_BUCKET": "central-bucket",
		"EXCLUDE_KEY_PREFIXES":  `["tmp/","logs/"]`,
		"EXCLUDE_KEY_SUFFIXES":  ".tmp,.bak",
	}, func() {
		cfg, err := FromEnvironment()
		if err != nil {
			t.Fatalf("FromEnvironment: %v", err)
		}
		if len(cfg.ExcludeKeyPrefixes) != 2 || cfg.ExcludeKeyPrefixes[0] != "tmp/" {
			t.Errorf("unexpected ExcludeKeyPrefixes: %+v", cfg.ExcludeKeyPrefixes)
		}
		if len(cfg.ExcludeKeySuffixes) != 2 || cfg.ExcludeKeySuffixes[1] != ".bak" {
			t.Errorf("unexpected ExcludeKeySuffixes: %+v", cfg.ExcludeKeySuffixes)
		}
	})
}

func TestFromEnvironment_ParsesAllowedPrefixesMap(t *testing.T) {
	withEnv(t, map[string]string{
		"CENTRAL_BACKUP_BUCKET": "central-bucket",
		"ALLOWED_PREFIXES":      `{"Critical":["orders/","invoices/"],"NonCritical":["scratch/"]}`,
	}, func() {
		cfg, err := FromEnvironment()
		if err != nil {
			t.Fatalf("FromEnvironment: %v", err)
		}
		if len(cfg.AllowedPrefixes[tiering.Critical]) != 2 {
			t.Errorf("unexpected Critical prefixes: %+v", cfg.AllowedPrefixes[tiering.Critical])
		}
		if len(cfg.AllowedPrefixes[tiering.NonCritical]) != 1 {
			t.Errorf("unexpected NonCritical prefixes: %+v", cfg.AllowedPrefixes[tiering.NonCritical])
		}
	})
}

func TestFromEnvironment_NotificationTierSet(t *testing.T) {
	withEnv(t, map[string]string{
		"CENTRAL_BACKUP_BUCKET":             "central-bucket",
		"CRITICALITIES_WITH_NOTIFICATIONS":  "Critical,LessCritical",
	}, func() {
		cfg, err := FromEnvironment()
		if err != nil {
			t.Fatalf("FromEnvironment: %v", err)
		}
		if !cfg.CriticalitiesWithNotifications[tiering.Critical] {
			t.Error("expected Critical to require notifications")
		}
		if cfg.CriticalitiesWithNotifications[tiering.NonCritical] {
			t.Error("expected NonCritical to not require notifications")
		}
	})
}

func TestFromEnvironment_DefaultsGenerationIncremental(t *testing.T) {
	withEnv(t, map[string]string{"CENTRAL_BACKUP_BUCKET": "central-bucket"}, func() {
		cfg, err := FromEnvironment()
		if err != nil {
			t.Fatalf("FromEnvironment: %v", err)
		}
		if cfg.GenerationIncremental != "son" {
			t.Errorf("expected default generation 'son', got %s", cfg.GenerationIncremental)
		}
	})
}

func TestFromEnvironment_InitiativeFallsBackToSpanishAlias(t *testing.T) {
	withEnv(t, map[string]string{
		"CENTRAL_BACKUP_BUCKET": "central-bucket",
		"INICIATIVA":            "acme",
	}, func() {
		cfg, err := FromEnvironment()
		if err != nil {
			t.Fatalf("FromEnvironment: %v", err)
		}
		if cfg.Initiative != "acme" {
			t.Errorf("expected Initiative from INICIATIVA fallback, got %s", cfg.Initiative)
		}
	})
}
