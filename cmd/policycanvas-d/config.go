package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/engine"
	"github.com/rmax-ai/policycanvas/pkg/logging"
)

const (
	defaultAddr             = "127.0.0.1:8090"
	defaultSnapshotInterval = 5 * time.Minute
	defaultArchiveInterval  = time.Hour
	defaultWebAssetsMode    = "embedded"
)

type Config struct {
	DBPath           string
	Addr             string
	InitialGraph     engine.InitialMode
	SeedFile         string
	FetchURL         string
	PolicyID         string
	SnapshotInterval time.Duration
	RedisAddr        string
	ArchiveDir       string
	ArchiveInterval  time.Duration
	WebAssetsMode    string
	WebDir           string
	TLSCertFile      string
	TLSKeyFile       string
	LogLevel         slog.Level
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	defaultDBPath := filepath.Join(cwd, "policycanvas.db")

	dbPath := envOrDefault("POLICYCANVAS_DB_PATH", defaultDBPath)
	addr := addrFromEnv(defaultAddr)
	initialGraph := envOrDefault("POLICYCANVAS_INITIAL_GRAPH", string(engine.InitialEmpty))
	seedFile := os.Getenv("POLICYCANVAS_SEED_FILE")
	fetchURL := os.Getenv("POLICYCANVAS_FETCH_URL")
	policyID := os.Getenv("POLICYCANVAS_POLICY_ID")
	snapshotInterval, err := durationFromEnv("POLICYCANVAS_SNAPSHOT_INTERVAL", defaultSnapshotInterval)
	if err != nil {
		return Config{}, err
	}
	redisAddr := os.Getenv("POLICYCANVAS_REDIS_ADDR")
	archiveDir := os.Getenv("POLICYCANVAS_ARCHIVE_DIR")
	archiveInterval, err := durationFromEnv("POLICYCANVAS_ARCHIVE_INTERVAL", defaultArchiveInterval)
	if err != nil {
		return Config{}, err
	}
	webAssetsMode := envOrDefault("POLICYCANVAS_WEB_ASSETS_MODE", defaultWebAssetsMode)
	webDir := os.Getenv("POLICYCANVAS_WEB_DIR")
	tlsCert := os.Getenv("POLICYCANVAS_TLS_CERT")
	tlsKey := os.Getenv("POLICYCANVAS_TLS_KEY")
	logLevel := envOrDefault("POLICYCANVAS_LOG_LEVEL", "info")

	flagSet := flag.NewFlagSet("policycanvas-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", dbPath, "path to SQLite database")
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagInitial := flagSet.String("initial-graph", initialGraph, "initial graph when the log is empty: seeded|empty|fetched")
	flagSeedFile := flagSet.String("seed-file", seedFile, "YAML graph used by initial-graph=seeded instead of the demo graph")
	flagFetchURL := flagSet.String("fetch-url", fetchURL, "policy service base URL for initial-graph=fetched")
	flagPolicyID := flagSet.String("policy-id", policyID, "policy id for initial-graph=fetched")
	flagSnapshotInterval := flagSet.String("snapshot-interval", snapshotInterval.String(), "interval between graph snapshots")
	flagRedis := flagSet.String("redis-addr", redisAddr, "mirror snapshots to this redis server (off when empty)")
	flagArchiveDir := flagSet.String("archive-dir", archiveDir, "archive compacted events under this directory (off when empty)")
	flagArchiveInterval := flagSet.String("archive-interval", archiveInterval.String(), "interval between archive runs")
	flagWebAssets := flagSet.String("web-assets", webAssetsMode, "web assets mode: embedded|fs|off")
	flagWebDir := flagSet.String("web-dir", webDir, "web assets directory when web-assets=fs")
	flagTLSCert := flagSet.String("tls-cert", tlsCert, "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", tlsKey, "TLS key file")
	flagLogLevel := flagSet.String("log-level", logLevel, "log level: debug|info|warn|error")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	mode, err := engine.ParseInitialMode(strings.TrimSpace(*flagInitial))
	if err != nil {
		return Config{}, err
	}

	snapshotParsed, err := parsePositiveDuration("snapshot interval", *flagSnapshotInterval)
	if err != nil {
		return Config{}, err
	}
	archiveParsed, err := parsePositiveDuration("archive interval", *flagArchiveInterval)
	if err != nil {
		return Config{}, err
	}

	config := Config{
		DBPath:           resolvePath(*flagDB, cwd),
		Addr:             strings.TrimSpace(*flagAddr),
		InitialGraph:     mode,
		SeedFile:         resolvePath(*flagSeedFile, cwd),
		FetchURL:         strings.TrimSpace(*flagFetchURL),
		PolicyID:         strings.TrimSpace(*flagPolicyID),
		SnapshotInterval: snapshotParsed,
		RedisAddr:        strings.TrimSpace(*flagRedis),
		ArchiveDir:       resolvePath(*flagArchiveDir, cwd),
		ArchiveInterval:  archiveParsed,
		WebAssetsMode:    normalizeWebAssetsMode(*flagWebAssets),
		WebDir:           strings.TrimSpace(*flagWebDir),
		TLSCertFile:      resolvePath(*flagTLSCert, cwd),
		TLSKeyFile:       resolvePath(*flagTLSKey, cwd),
		LogLevel:         logging.ParseLevel(*flagLogLevel),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}

	if config.InitialGraph == engine.InitialFetched {
		if config.FetchURL == "" {
			return Config{}, errors.New("initial-graph=fetched requires fetch-url")
		}
		if config.PolicyID == "" {
			return Config{}, errors.New("initial-graph=fetched requires policy-id")
		}
	}

	if (config.TLSCertFile == "") != (config.TLSKeyFile == "") {
		return Config{}, errors.New("tls-cert and tls-key must be set together")
	}

	if config.WebAssetsMode == "fs" {
		if config.WebDir == "" {
			return Config{}, errors.New("web-assets=fs requires web-dir")
		}
		config.WebDir = resolvePath(config.WebDir, cwd)
	}

	if config.WebAssetsMode != "embedded" && config.WebAssetsMode != "fs" && config.WebAssetsMode != "off" {
		return Config{}, fmt.Errorf("unsupported web-assets mode: %s", config.WebAssetsMode)
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return parsed, nil
}

func parsePositiveDuration(name, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return parsed, nil
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("POLICYCANVAS_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("POLICYCANVAS_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}

func normalizeWebAssetsMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "embedded":
		return "embedded"
	case "fs", "dir", "directory":
		return "fs"
	case "off", "disabled", "none":
		return "off"
	default:
		return strings.ToLower(strings.TrimSpace(mode))
	}
}
