package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	StoreDir string `json:"store_dir" yaml:"store_dir" toml:"store_dir"`
	DBPath   string `json:"db_path" yaml:"db_path" toml:"db_path"`

	Serving struct {
		QueueSize    int   `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
		MaxDelayMs   int   `json:"max_delay_ms" yaml:"max_delay_ms" toml:"max_delay_ms"`
		MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	} `json:"serving" yaml:"serving" toml:"serving"`

	Deployment struct {
		// Minimum metric values a version must meet to be deployable,
		// e.g. accuracy: 0.85.
		Requirements    map[string]float64 `json:"requirements" yaml:"requirements" toml:"requirements"`
		MinMemoryMB     float64            `json:"min_memory_mb" yaml:"min_memory_mb" toml:"min_memory_mb"`
		MaxCPUPercent   float64            `json:"max_cpu_percent" yaml:"max_cpu_percent" toml:"max_cpu_percent"`
		TestCommand     []string           `json:"test_command" yaml:"test_command" toml:"test_command"`
		StatusWindowHrs float64            `json:"status_window_hours" yaml:"status_window_hours" toml:"status_window_hours"`
	} `json:"deployment" yaml:"deployment" toml:"deployment"`

	Monitoring struct {
		AlertWindowHours float64 `json:"alert_window_hours" yaml:"alert_window_hours" toml:"alert_window_hours"`
		MaxLatencyMs     float64 `json:"max_latency_ms" yaml:"max_latency_ms" toml:"max_latency_ms"`
		MaxErrorRate     float64 `json:"max_error_rate" yaml:"max_error_rate" toml:"max_error_rate"`
		MaxMemoryMB      float64 `json:"max_memory_mb" yaml:"max_memory_mb" toml:"max_memory_mb"`
		MaxCPUPercent    float64 `json:"max_cpu_percent" yaml:"max_cpu_percent" toml:"max_cpu_percent"`
		HealthIntervalS  int     `json:"health_interval_s" yaml:"health_interval_s" toml:"health_interval_s"`
	} `json:"monitoring" yaml:"monitoring" toml:"monitoring"`

	CORS struct {
		Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
		AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
		AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
		AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
	} `json:"cors" yaml:"cors" toml:"cors"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
