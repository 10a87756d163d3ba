// Package config reads rdsp settings from RDSP_* environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration. S3 connection details are read
// by the S3 blob driver itself.
type Config struct {
	BlobDriver string `env:"RDSP_BLOB_DRIVER" envDefault:"fs"`

	HistoryDriver string `env:"RDSP_HISTORY_DRIVER" envDefault:"sqlite"`
	HistoryDSN    string `env:"RDSP_HISTORY_DSN"`

	LogLevel     string `env:"RDSP_LOG_LEVEL"       envDefault:"info"`
	LogFormat    string `env:"RDSP_LOG_FORMAT"      envDefault:"text"`
	LogFile      string `env:"RDSP_LOG_FILE"`
	LogMaxSizeMB int    `env:"RDSP_LOG_MAX_SIZE_MB" envDefault:"10"`

	DisabledModules []string `env:"RDSP_DISABLED_MODULES" envSeparator:","`
	MetricsFile     string   `env:"RDSP_METRICS_FILE"`

	AirGapTolerance float64 `env:"RDSP_AIRGAP_TOLERANCE" envDefault:"0.01"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.AirGapTolerance < 0 {
		return Config{}, fmt.Errorf("RDSP_AIRGAP_TOLERANCE must be non-negative, got %v", cfg.AirGapTolerance)
	}
	switch cfg.HistoryDriver {
	case "sqlite", "postgres", "none":
	default:
		return Config{}, fmt.Errorf("RDSP_HISTORY_DRIVER must be sqlite, postgres or none, got %q", cfg.HistoryDriver)
	}
	return cfg, nil
}
