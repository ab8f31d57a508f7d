// Package config loads and validates the scenemixd daemon configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	InstanceID       string `yaml:"instance_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"`

	Canvas   CanvasConfig   `yaml:"canvas"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Reclaim  ReclaimConfig  `yaml:"reclaim"`
	Graph    GraphConfig    `yaml:"graph"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CanvasConfig sets the output canvas.
type CanvasConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	FrameRate int `yaml:"frame_rate"`
}

// PipelineConfig tunes the rebuild controller.
type PipelineConfig struct {
	PrerollCeilingS  int `yaml:"preroll_ceiling_s"`
	DrainGraceMS     int `yaml:"drain_grace_ms"`
	BreakerThreshold int `yaml:"breaker_threshold"`
}

// ReclaimConfig controls the optional idle-pad reclamation sweep. Disabled
// unless enabled explicitly; the pad set only ever grows otherwise.
type ReclaimConfig struct {
	Enabled      bool `yaml:"enabled"`
	IdleMinutes  int  `yaml:"idle_minutes"`
	SweepMinutes int  `yaml:"sweep_minutes"`
}

// GraphConfig selects and tunes the compositor backend.
type GraphConfig struct {
	// Driver is "gst" or "stub".
	Driver        string `yaml:"driver"`
	VideoSink     string `yaml:"video_sink"`
	AudioSink     string `yaml:"audio_sink"`
	OutputChannel string `yaml:"output_channel"`
}

// CatalogConfig selects the scene store backend.
type CatalogConfig struct {
	// Source is "memory", "file" or "redis".
	Source string      `yaml:"source"`
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig points the catalog at a Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TTLS      int    `yaml:"ttl_s"`
}

// MQTTConfig wires the control plane. An empty broker disables it.
type MQTTConfig struct {
	Broker string      `yaml:"broker"`
	Topics TopicConfig `yaml:"topics"`
	QoS    QoSConfig   `yaml:"qos"`
}

// TopicConfig names the control topics. Empty fields derive from the
// instance id during validation.
type TopicConfig struct {
	Command  string `yaml:"command"`
	Response string `yaml:"response"`
	Events   string `yaml:"events"`
}

// QoSConfig sets per-direction MQTT QoS levels.
type QoSConfig struct {
	Command  byte `yaml:"command"`
	Response byte `yaml:"response"`
	Events   byte `yaml:"events"`
}

// HealthConfig configures the HTTP health/metrics listener.
type HealthConfig struct {
	Port string `yaml:"port"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, parses and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
