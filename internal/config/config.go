package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	envListenAddr      = "CONCORD_LISTEN_ADDR"
	envGRPCAddr        = "CONCORD_GRPC_ADDR"
	envDBPath          = "CONCORD_DB_PATH"
	envLogLevel        = "CONCORD_LOG_LEVEL"
	envLogFile         = "CONCORD_LOG_FILE"
	envPartyID         = "CONCORD_PARTY_ID"
	envJobTypes        = "CONCORD_JOB_TYPES"
	envCoordinatorAddr = "CONCORD_COORDINATOR_ADDR"
	envClusterAddr     = "CONCORD_CLUSTER_ADDR"
	envRetryInterval   = "CONCORD_RETRY_INTERVAL"
	envCheckInterval   = "CONCORD_CHECK_INTERVAL"
	envShutdownGrace   = "CONCORD_SHUTDOWN_GRACE"
	envWorkDir         = "CONCORD_WORK_DIR"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	GRPCAddr        string
	DBPath          string
	LogLevel        slog.Level
	LogFile         string
	PartyID         string
	JobTypes        []string
	CoordinatorAddr string
	ClusterAddr     string
	RetryInterval   time.Duration
	CheckInterval   time.Duration
	ShutdownGrace   time.Duration
	WorkDir         string
}

// Default returns the built-in configuration. Binaries that need other
// defaults adjust the result and pass it to LoadWithDefaults.
func Default() Config {
	return Config{
		ListenAddr:      ":10002",
		GRPCAddr:        ":10000",
		DBPath:          ":memory:",
		LogLevel:        slog.LevelInfo,
		JobTypes:        []string{"paddle_fl", "dummy"},
		CoordinatorAddr: "127.0.0.1:10000",
		ClusterAddr:     "127.0.0.1:10001",
		RetryInterval:   5 * time.Second,
		CheckInterval:   500 * time.Millisecond,
		ShutdownGrace:   time.Second,
		WorkDir:         "./concord-work",
	}
}

// Load reads configuration from environment variables over Default.
func Load() Config {
	return LoadWithDefaults(Default())
}

// LoadWithDefaults reads configuration from environment variables, keeping
// the given value for anything unset or unparsable. A missing party id is
// generated.
func LoadWithDefaults(cfg Config) Config {
	setString(&cfg.ListenAddr, envListenAddr)
	setString(&cfg.GRPCAddr, envGRPCAddr)
	setString(&cfg.DBPath, envDBPath)
	setString(&cfg.LogFile, envLogFile)
	setString(&cfg.PartyID, envPartyID)
	setString(&cfg.CoordinatorAddr, envCoordinatorAddr)
	setString(&cfg.ClusterAddr, envClusterAddr)
	setString(&cfg.WorkDir, envWorkDir)
	setDuration(&cfg.RetryInterval, envRetryInterval)
	setDuration(&cfg.CheckInterval, envCheckInterval)
	setDuration(&cfg.ShutdownGrace, envShutdownGrace)

	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envJobTypes); v != "" {
		cfg.JobTypes = splitList(v)
	}
	if cfg.PartyID == "" {
		cfg.PartyID = "party-" + uuid.NewString()
	}

	return cfg
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// LogOutput returns w, teed into a size-rotated file when path is set. The
// returned close func releases the file.
func LogOutput(w io.Writer, path string) (io.Writer, func() error) {
	if path == "" {
		return w, func() error { return nil }
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	return io.MultiWriter(w, rotator), rotator.Close
}
