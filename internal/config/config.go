// Package config loads vwiz defaults from the environment. Command-line flags override them.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	LogLevel     string        `env:"VWIZ_LOG_LEVEL"     envDefault:"info"`
	OutDir       string        `env:"VWIZ_OUT_DIR"       envDefault:"outputs"`
	JPEGQuality  int           `env:"VWIZ_JPEG_QUALITY"  envDefault:"2"`
	ProbeTimeout time.Duration `env:"VWIZ_PROBE_TIMEOUT" envDefault:"30s"`
	MetricsFile  string        `env:"VWIZ_METRICS_FILE"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
