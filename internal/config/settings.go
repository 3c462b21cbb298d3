package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

type Config struct {
	Aggregator struct {
		CorroborationThreshold uint32          `json:"corroboration_threshold"`
		PatternPromotion       bool            `json:"pattern_promotion"`
		MaxClockSkewSeconds    uint32          `json:"max_clock_skew_seconds"`
		RateLimit              RateLimitConfig `json:"rate_limit"`
		SubscriberQueueSize    uint32          `json:"subscriber_queue_size"`
		SnapshotPageSize       uint32          `json:"snapshot_page_size"`
		CandidateTTL           Timer           `json:"candidate_ttl"`
		MaintenanceTimer       Timer           `json:"maintenance_timer"`
	} `json:"aggregator"`

	Client struct {
		ProtectionLevel             string          `json:"protection_level"`
		CountConnections            bool            `json:"count_connections"`
		ReportQueueSize             uint32          `json:"report_queue_size"`
		HeartbeatSeconds            uint32          `json:"heartbeat_seconds"`
		FingerprintRotationRequests uint32          `json:"fingerprint_rotation_requests"`
		Reconnect                   ReconnectConfig `json:"reconnect"`
	} `json:"client"`

	TrackerPatterns []string `json:"tracker_patterns"`
	CookiePatterns  []string `json:"cookie_patterns"`
}

type RateLimitConfig struct {
	MaxReports    uint32 `json:"max_reports"`
	WindowSeconds uint32 `json:"window_seconds"`
}

type ReconnectConfig struct {
	MaxAttempts      uint32 `json:"max_attempts"`
	InitialBackoffMs uint32 `json:"initial_backoff_ms"`
	MaxBackoffMs     uint32 `json:"max_backoff_ms"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

// Protection levels map to the local auto-block threshold.
const (
	LevelParanoid = "paranoid"
	LevelBalanced = "balanced"
	LevelMinimal  = "minimal"
)

const settingsFileName = "settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	dataDir     atomic.Value
	configMu    sync.Mutex
)

func init() {
	configValue.Store(Config{})
	dataDir.Store("data")
}

// DefaultConfig returns the embedded default settings.
func DefaultConfig() Config {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		log.Error("Error unmarshalling embedded default settings", "error", err)
	}
	return cfg
}

// SetDataDir changes the directory holding settings.json.
func SetDataDir(dir string) {
	if strings.TrimSpace(dir) == "" {
		return
	}
	dataDir.Store(dir)
}

func DataDir() string {
	return dataDir.Load().(string)
}

func settingsFilePath() string {
	return filepath.Join(DataDir(), settingsFileName)
}

func ReadSettings() {
	path := settingsFilePath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration", "path", path)

			if err := os.MkdirAll(DataDir(), 0o755); err != nil {
				log.Error("Error creating directory for settings file", "error", err)
				return
			}

			if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
				log.Error("Error writing default settings file", "error", err)
				return
			}

			data = defaultConfig
		} else {
			log.Error("Error reading settings file", "error", err)
			return
		}
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file", "error", err)
		return
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
		return
	}

	log.Debug("Settings file loaded successfully", "path", path)
}

func SetConfig(newConfig Config) error {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update", "error", err)
		return err
	}

	log.Debug("Configuration updated and written to file successfully")
	return nil
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	refreshIntervals()
	updatePatterns(newConfig)

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			log.Error("Error marshalling new configuration", "error", err)
			errs = append(errs, err)
		} else if err := os.WriteFile(settingsFilePath(), data, 0o644); err != nil {
			log.Error("Error writing new configuration to file", "error", err)
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			log.Error("Error serializing configuration for broadcast", "error", err)
			errs = append(errs, err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			log.Error("Error broadcasting configuration update", "error", err)
			errs = append(errs, err)
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	} else {
		log.Debug("Configuration applied")
	}

	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// LocalThreshold returns the hit count at which a subject is blocked locally.
// Zero disables threshold blocking.
func (c Config) LocalThreshold() int64 {
	switch strings.ToLower(strings.TrimSpace(c.Client.ProtectionLevel)) {
	case LevelParanoid:
		return 1
	case LevelMinimal:
		return 0
	default:
		return 3
	}
}
