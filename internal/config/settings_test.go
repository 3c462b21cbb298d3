package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func withDataDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	origDir := DataDir()
	origCfg := GetConfig()
	SetDataDir(dir)

	t.Cleanup(func() {
		SetDataDir(origDir)
		configValue.Store(origCfg)
		updatePatterns(origCfg)
	})
	return dir
}

func TestReadSettingsCreatesDefaultFile(t *testing.T) {
	dir := withDataDir(t)

	ReadSettings()

	if _, err := os.Stat(filepath.Join(dir, settingsFileName)); err != nil {
		t.Fatalf("settings file not created: %v", err)
	}

	cfg := GetConfig()
	if cfg.Aggregator.CorroborationThreshold != 2 {
		t.Fatalf("corroboration threshold = %d, want 2", cfg.Aggregator.CorroborationThreshold)
	}
	if !cfg.Aggregator.PatternPromotion {
		t.Fatal("pattern promotion should default to enabled")
	}
	if cfg.Aggregator.RateLimit.MaxReports != 120 || cfg.Aggregator.RateLimit.WindowSeconds != 60 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.Aggregator.RateLimit)
	}
	if cfg.Client.ProtectionLevel != LevelBalanced || cfg.Client.CountConnections {
		t.Fatalf("unexpected client defaults: %+v", cfg.Client)
	}
	if cfg.Client.Reconnect.MaxAttempts != 10 {
		t.Fatalf("reconnect attempts = %d, want 10", cfg.Client.Reconnect.MaxAttempts)
	}
}

func TestSetConfigPersists(t *testing.T) {
	dir := withDataDir(t)

	cfg := DefaultConfig()
	cfg.Aggregator.CorroborationThreshold = 5
	cfg.TrackerPatterns = []string{`(^|\.)evil\.example$`}

	if err := SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, settingsFileName))
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}

	var stored Config
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if stored.Aggregator.CorroborationThreshold != 5 {
		t.Fatalf("persisted threshold = %d, want 5", stored.Aggregator.CorroborationThreshold)
	}
	if !TrackerPatterns().Match("cdn.evil.example") {
		t.Fatal("tracker patterns not refreshed after SetConfig")
	}
}

func TestLocalThreshold(t *testing.T) {
	cases := []struct {
		level string
		want  int64
	}{
		{LevelParanoid, 1},
		{LevelBalanced, 3},
		{LevelMinimal, 0},
		{"", 3},
		{" PARANOID ", 1},
	}

	for _, tc := range cases {
		var cfg Config
		cfg.Client.ProtectionLevel = tc.level
		if got := cfg.LocalThreshold(); got != tc.want {
			t.Errorf("LocalThreshold(%q) = %d, want %d", tc.level, got, tc.want)
		}
	}
}
