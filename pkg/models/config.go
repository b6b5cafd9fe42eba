package models

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cuemby/modelsteward/pkg/log"
	"gopkg.in/yaml.v3"
)

// Config holds everything the Model Steward needs to construct a Catalog,
// Admission Controller, Preflight gate, and Downloader. Zero-value fields
// are filled in by withDefaults() the same way log.Init falls back to
// InfoLevel when no level is given.
type Config struct {
	StateDir string `yaml:"state_dir"`

	MaxConcurrency int  `yaml:"max_concurrency"`
	HardCap        *int `yaml:"hard_cap,omitempty"`

	IdleTimeoutSecs    int `yaml:"idle_timeout_secs"`
	RequestTimeoutSecs int `yaml:"request_timeout_secs"`
	SendRetries        int `yaml:"send_retries"`
	StreamRetries      int `yaml:"stream_retries"`
	RetryBackoffMs     int `yaml:"retry_backoff_ms"`

	PreflightEnabled bool `yaml:"preflight_enabled"`

	MaxDownloadBytes int64 `yaml:"max_download_bytes"`
	QuotaBytes       int64 `yaml:"quota_bytes"`
	DiskReserveBytes int64 `yaml:"disk_reserve_bytes"`

	SoftMs         int64 `yaml:"soft_ms"`
	HardMs         int64 `yaml:"hard_ms"`
	SoftDegradePct int   `yaml:"soft_degrade_pct"`

	EWMAAlpha float64 `yaml:"ewma_alpha"`

	ProgressEmitBytes    int64 `yaml:"progress_emit_bytes"`
	ProgressEmitInterval int   `yaml:"progress_emit_interval_ms"`

	IncludeBudgetHint bool `yaml:"include_budget_hint"`
	IncludeDiskHint   bool `yaml:"include_disk_hint"`
}

// withDefaults returns a copy of cfg with WARREN_MODELS_* environment
// overrides applied and every numeric or string field still unset filled
// to the value documented for it. Environment variables win over whatever
// a config file set, the same way a flag normally wins over a file
// default. PreflightEnabled is not defaulted here: a Config literal that
// leaves it false runs without preflight; LoadConfig is what turns it on
// by default.
func (c Config) withDefaults() Config {
	c = c.withEnvOverrides()

	if c.StateDir == "" {
		c.StateDir = "/var/lib/warren"
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 2
	}
	if c.IdleTimeoutSecs == 0 {
		c.IdleTimeoutSecs = 300
	}
	if c.RequestTimeoutSecs == 0 {
		c.RequestTimeoutSecs = 30
	}
	if c.SendRetries == 0 {
		c.SendRetries = 2
	}
	if c.StreamRetries == 0 {
		c.StreamRetries = 2
	}
	if c.RetryBackoffMs == 0 {
		c.RetryBackoffMs = 500
	}
	if c.DiskReserveBytes == 0 {
		c.DiskReserveBytes = 256 * 1024 * 1024
	}
	if c.SoftDegradePct == 0 {
		c.SoftDegradePct = 80
	}
	if c.EWMAAlpha == 0 {
		c.EWMAAlpha = 0.3
	}
	if c.ProgressEmitBytes == 0 {
		c.ProgressEmitBytes = 5 * 1024 * 1024
	}
	if c.ProgressEmitInterval == 0 {
		c.ProgressEmitInterval = 750
	}
	return c
}

// withEnvOverrides applies WARREN_MODELS_* environment variables on top of
// c, one per YAML key except hard_cap, which has no environment override
// (state_dir becomes WARREN_MODELS_STATE_DIR, and so on). Unset or
// malformed variables are
// left alone; a malformed one is logged and otherwise ignored.
func (c Config) withEnvOverrides() Config {
	envString(&c.StateDir, "WARREN_MODELS_STATE_DIR")

	envInt(&c.MaxConcurrency, "WARREN_MODELS_MAX_CONCURRENCY")
	envInt(&c.IdleTimeoutSecs, "WARREN_MODELS_IDLE_TIMEOUT_SECS")
	envInt(&c.RequestTimeoutSecs, "WARREN_MODELS_REQUEST_TIMEOUT_SECS")
	envInt(&c.SendRetries, "WARREN_MODELS_SEND_RETRIES")
	envInt(&c.StreamRetries, "WARREN_MODELS_STREAM_RETRIES")
	envInt(&c.RetryBackoffMs, "WARREN_MODELS_RETRY_BACKOFF_MS")
	envInt(&c.SoftDegradePct, "WARREN_MODELS_SOFT_DEGRADE_PCT")
	envInt(&c.ProgressEmitInterval, "WARREN_MODELS_PROGRESS_EMIT_INTERVAL_MS")

	envBool(&c.PreflightEnabled, "WARREN_MODELS_PREFLIGHT_ENABLED")
	envBool(&c.IncludeBudgetHint, "WARREN_MODELS_INCLUDE_BUDGET_HINT")
	envBool(&c.IncludeDiskHint, "WARREN_MODELS_INCLUDE_DISK_HINT")

	envInt64(&c.MaxDownloadBytes, "WARREN_MODELS_MAX_DOWNLOAD_BYTES")
	envInt64(&c.QuotaBytes, "WARREN_MODELS_QUOTA_BYTES")
	envInt64(&c.DiskReserveBytes, "WARREN_MODELS_DISK_RESERVE_BYTES")
	envInt64(&c.SoftMs, "WARREN_MODELS_SOFT_MS")
	envInt64(&c.HardMs, "WARREN_MODELS_HARD_MS")
	envInt64(&c.ProgressEmitBytes, "WARREN_MODELS_PROGRESS_EMIT_BYTES")

	envFloat64(&c.EWMAAlpha, "WARREN_MODELS_EWMA_ALPHA")

	return c
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn(fmt.Sprintf("ignoring %s: %v", key, err))
		return
	}
	*dst = n
}

func envInt64(dst *int64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn(fmt.Sprintf("ignoring %s: %v", key, err))
		return
	}
	*dst = n
}

func envFloat64(dst *float64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn(fmt.Sprintf("ignoring %s: %v", key, err))
		return
	}
	*dst = f
}

func envBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn(fmt.Sprintf("ignoring %s: %v", key, err))
		return
	}
	*dst = b
}

// LoadConfig reads a YAML config file and applies defaults to anything it
// leaves unset. Preflight defaults to enabled unless the file explicitly
// turns it off with "preflight_enabled: false".
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Config{PreflightEnabled: true}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}
