// Package app wires the aggregator and client processes together.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"privacyspace/internal/app/clientapi"
	"privacyspace/internal/app/server"
	"privacyspace/internal/attribution"
	"privacyspace/internal/broadcast"
	"privacyspace/internal/config"
	"privacyspace/internal/database"
	"privacyspace/internal/domain"
	"privacyspace/internal/fingerprint"
	"privacyspace/internal/jobs/maintenance"
	"privacyspace/internal/jobs/runtime"
	"privacyspace/internal/observation"
	"privacyspace/internal/ratelimit"
	"privacyspace/internal/registry"
	"privacyspace/internal/reportclient"
	"privacyspace/internal/support"
	"privacyspace/internal/verdict"
)

const (
	DefaultAggregatorPort = 8082
	DefaultClientPort     = 8089

	aggregatorLeaderKey = "privacyspace:leader:aggregator"
	closeTimeout        = 10 * time.Second
)

type AggregatorOptions struct {
	Port    int
	DataDir string
}

type ClientOptions struct {
	Port          int
	DataDir       string
	AggregatorURL string
	SocksProxy    string
}

// LoadEnvironment reads .env and applies LOG_LEVEL.
func LoadEnvironment() {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	level := support.GetEnv("LOG_LEVEL", "info")
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warn("Unknown LOG_LEVEL, using info", "value", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func prepareDataDir(flagValue string) string {
	dir := support.GetEnv("PRIVACYSPACE_DATA_DIR", flagValue)
	if strings.TrimSpace(dir) == "" {
		dir = "data"
	}
	config.SetDataDir(dir)
	config.ReadSettings()
	return dir
}

// optionalRedis returns nil when REDIS_URL is unset. A configured but
// unreachable Redis is an error.
func optionalRedis() (*redis.Client, error) {
	if !support.RedisConfigured() {
		log.Info("REDIS_URL not set, running single instance")
		return nil, nil
	}
	client, err := support.GetRedisClient()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis client: %w", err)
	}
	return client, nil
}

func newLimiter(client *redis.Client) ratelimit.Limiter {
	cfg := config.GetConfig().Aggregator.RateLimit
	limit := int(cfg.MaxReports)
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if client != nil {
		return ratelimit.NewRedisLimiter(client, limit, window)
	}
	return ratelimit.NewMemoryLimiter(limit, window)
}

// maintenanceSweepers lists the per-reporter state kept in process memory.
// The redis limiter expires its own keys.
func maintenanceSweepers(limiter ratelimit.Limiter, activity *runtime.ReporterActivity) []maintenance.Sweeper {
	sweepers := []maintenance.Sweeper{activity}
	if s, ok := limiter.(maintenance.Sweeper); ok {
		sweepers = append(sweepers, s)
	}
	return sweepers
}

// standalonePeers counts other live aggregator instances when HA is off.
// It runs before this instance announces itself.
func standalonePeers(ctx context.Context, client *redis.Client, ha bool) int {
	if ha || client == nil {
		return 0
	}
	n, err := runtime.CountActiveInstances(ctx, client)
	if err != nil {
		log.Warn("Could not count aggregator instances", "error", err)
		return 0
	}
	return n
}

// RunAggregator serves the tracker registry until ctx is done.
func RunAggregator(ctx context.Context, opts AggregatorOptions) error {
	dataDir := prepareDataDir(opts.DataDir)
	port := resolvePort("AGGREGATOR_PORT", "PORT", opts.Port)

	if _, err := database.SetupDB(); err != nil {
		return err
	}
	defer func() {
		if err := database.CloseDB(); err != nil {
			log.Warn("error closing database", "error", err)
		}
	}()

	redisClient, err := optionalRedis()
	if err != nil {
		return err
	}
	if redisClient != nil {
		config.EnableRedisSynchronization(ctx, redisClient)
		defer config.DisableRedisSynchronization()
		defer func() {
			if err := support.CloseRedisClient(); err != nil {
				log.Warn("error closing redis client", "error", err)
			}
		}()
	}

	ha := support.GetEnvBool("AGGREGATOR_HA", false)
	if peers := standalonePeers(ctx, redisClient, ha); peers > 0 {
		log.Warn("Other aggregator instances run without AGGREGATOR_HA; their registries will diverge", "peers", peers)
	}

	heartbeatCancel := runtime.LaunchInstanceHeartbeat(ctx, redisClient)
	defer heartbeatCancel()

	asnDB, err := attribution.OpenASNDatabase(dataDir)
	if err != nil {
		log.Warn("ASN database unavailable, IP subjects stay unattributed", "error", err)
	}
	if asnDB != nil {
		defer asnDB.Close()
		updater := attribution.NewUpdater(asnDB, support.GetEnv("GEOLITE_LICENSE_KEY", ""))
		go runtime.StartGeoLiteUpdateRoutine(ctx, redisClient, updater, asnDB, support.GetEnvDuration("GEOLITE_UPDATE_INTERVAL", 0))
	}

	hub := broadcast.NewHub(int(config.GetConfig().Aggregator.SubscriberQueueSize))
	limiter := newLimiter(redisClient)
	activity := runtime.NewReporterActivity(redisClient, runtime.DefaultReporterActivityTTL)
	reg := registry.New(registry.Options{
		Policy:          registry.PolicyFromConfig,
		TrackerPatterns: config.TrackerPatterns,
		Limiter:         limiter,
		Store:           database.TrackerStore{},
		Publisher:       hub,
		Attributor:      attribution.NewAttributor(asnDB),
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := reg.Close(closeCtx); err != nil {
			log.Warn("error flushing registry", "error", err)
		}
	}()

	srv, err := server.New(server.Options{
		Registry:       reg,
		Hub:            hub,
		Activity:       activity,
		Redis:          redisClient,
		OriginPatterns: server.ParseOriginPatterns(support.GetEnv("WS_ALLOWED_ORIGINS", "")),
	})
	if err != nil {
		return err
	}

	serve := func(termCtx context.Context) {
		if err := reg.LoadFromStore(termCtx); err != nil {
			log.Error("Loading tracker registry failed", "error", err)
			return
		}
		go maintenance.Run(termCtx, reg, maintenanceSweepers(limiter, activity)...)
		if err := srv.ListenAndServe(termCtx, port); err != nil {
			log.Error("Aggregator server stopped", "error", err)
		}
	}

	// Without HA every instance serves its own in-memory registry and only
	// reads storage at startup.
	var leaderClient *redis.Client
	if ha {
		leaderClient = redisClient
	}

	err = support.RunWithLeader(ctx, leaderClient, aggregatorLeaderKey, support.DefaultLeadershipTTL, serve)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunClient runs the local verdict engine, its aggregator connection and the
// loopback API until ctx is done.
func RunClient(ctx context.Context, opts ClientOptions) error {
	dataDir := prepareDataDir(opts.DataDir)
	port := resolvePort("CLIENT_PORT", "PORT", opts.Port)
	cfg := config.GetConfig().Client

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if _, err := database.SetupDB(
		database.WithDialector(database.SQLiteDialector(filepath.Join(dataDir, "client.db"))),
		database.WithMigrations(database.ClientModels()...),
	); err != nil {
		return err
	}
	defer func() {
		if err := database.CloseDB(); err != nil {
			log.Warn("error closing database", "error", err)
		}
	}()

	reporterID, err := reportclient.LoadOrCreateReporterID(dataDir)
	if err != nil {
		return err
	}

	httpClient, err := reportclient.NewHTTPClient(support.GetEnv("SOCKS_PROXY", opts.SocksProxy))
	if err != nil {
		return err
	}

	var engine *verdict.Engine
	client, err := reportclient.New(reportclient.Options{
		AggregatorURL:     support.GetEnv("AGGREGATOR_URL", opts.AggregatorURL),
		ReporterID:        reporterID,
		HTTPClient:        httpClient,
		QueueSize:         int(cfg.ReportQueueSize),
		HeartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
		Reconnect: reportclient.ReconnectPolicy{
			MaxAttempts:    int(cfg.Reconnect.MaxAttempts),
			InitialBackoff: time.Duration(cfg.Reconnect.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Reconnect.MaxBackoffMs) * time.Millisecond,
		},
		OnUpdate: func(update domain.Update) {
			engine.ApplyUpdate(update)
		},
	})
	if err != nil {
		return err
	}

	engine = verdict.NewEngine(verdict.Options{
		Threshold:        config.GetConfig().LocalThreshold(),
		CountConnections: cfg.CountConnections,
		ReporterID:       reporterID,
		Store:            database.CounterStore{},
		Sink:             client,
		Snapshot:         client,
	})
	if err := engine.Load(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			log.Warn("error flushing counter entries", "error", err)
		}
	}()

	api, err := clientapi.New(clientapi.Options{
		Engine:     engine,
		Normalizer: observation.NewNormalizer(),
		Rotator:    fingerprint.NewRotator(cfg.FingerprintRotationRequests),
		Client:     client,
	})
	if err != nil {
		return err
	}

	log.Info("Client starting", "reporter_id", reporterID, "threshold", config.GetConfig().LocalThreshold())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.ServeReports(gctx)
	})
	g.Go(func() error {
		// Exhausted reconnects leave the engine on local verdicts only.
		if err := client.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Aggregator connection gave up, continuing with local verdicts", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return api.ListenAndServe(gctx, port)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
