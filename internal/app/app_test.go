package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"privacyspace/internal/config"
	"privacyspace/internal/jobs/maintenance"
	"privacyspace/internal/jobs/runtime"
	"privacyspace/internal/ratelimit"
)

func TestReadPort(t *testing.T) {
	cases := map[string]struct {
		value string
		want  int
	}{
		"valid":   {"12345", 12345},
		"garbage": {"not-a-number", 0},
		"zero":    {"0", 0},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("PRIVACYSPACE_TEST_PORT", tc.value)
			if got := readPort("PRIVACYSPACE_TEST_PORT"); got != tc.want {
				t.Fatalf("readPort(%q) = %d, want %d", tc.value, got, tc.want)
			}
		})
	}
}

func TestResolvePortPrecedence(t *testing.T) {
	if got := resolvePort("PS_UNSET_A", "PS_UNSET_B", DefaultClientPort); got != DefaultClientPort {
		t.Fatalf("resolvePort with nothing set = %d, want %d", got, DefaultClientPort)
	}

	t.Setenv("PS_LEGACY_PORT", "6060")
	if got := resolvePort("PS_UNSET_A", "PS_LEGACY_PORT", DefaultClientPort); got != 6060 {
		t.Fatalf("resolvePort fell through to %d, want legacy 6060", got)
	}

	t.Setenv("PS_PRIMARY_PORT", "5050")
	if got := resolvePort("PS_PRIMARY_PORT", "PS_LEGACY_PORT", DefaultClientPort); got != 5050 {
		t.Fatalf("resolvePort = %d, want primary 5050", got)
	}
}

func TestPrepareDataDirSeedsSettings(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	t.Setenv("PRIVACYSPACE_DATA_DIR", dir)

	if got := prepareDataDir("ignored"); got != dir {
		t.Fatalf("prepareDataDir = %q, want env value %q", got, dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "settings.json")); err != nil {
		t.Fatalf("settings.json not written: %v", err)
	}
	if got := config.GetConfig().Aggregator.CorroborationThreshold; got == 0 {
		t.Fatal("default settings were not loaded")
	}
}

func TestNewLimiterWithoutRedis(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Aggregator.RateLimit.MaxReports = 7
	cfg.Aggregator.RateLimit.WindowSeconds = 30
	config.SetDataDir(t.TempDir())
	if err := config.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	limiter, ok := newLimiter(nil).(*ratelimit.MemoryLimiter)
	if !ok {
		t.Fatalf("newLimiter(nil) did not return a memory limiter")
	}
	if limiter.Limit() != 7 || limiter.Window() != 30*time.Second {
		t.Fatalf("limiter = %d per %s, want 7 per 30s", limiter.Limit(), limiter.Window())
	}
}

func TestMaintenanceSweepersCoverInMemoryState(t *testing.T) {
	activity := runtime.NewReporterActivity(nil, time.Minute)

	memory := maintenanceSweepers(ratelimit.NewMemoryLimiter(5, time.Minute), activity)
	if len(memory) != 2 {
		t.Fatalf("memory limiter: %d sweepers, want limiter and activity", len(memory))
	}

	shared := maintenanceSweepers(ratelimit.NewRedisLimiter(nil, 5, time.Minute), activity)
	if len(shared) != 1 || shared[0] != maintenance.Sweeper(activity) {
		t.Fatalf("redis limiter: sweepers = %v, want only activity", shared)
	}
}

func TestStandalonePeersWithoutRedis(t *testing.T) {
	if n := standalonePeers(context.Background(), nil, false); n != 0 {
		t.Fatalf("standalonePeers without redis = %d, want 0", n)
	}
}

func TestLoadEnvironmentLogLevel(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	t.Setenv("LOG_LEVEL", "debug")
	LoadEnvironment()
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("level = %s, want debug", log.GetLevel())
	}

	t.Setenv("LOG_LEVEL", "loud")
	LoadEnvironment()
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %s", log.GetLevel())
	}
}
