package config

import (
	"fmt"
	"regexp"
	"time"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate applies defaults and rejects configurations the daemon cannot
// run with. It mutates cfg in place.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "scenemix-01"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id %q must match %s", cfg.InstanceID, instanceIDPattern)
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Canvas.Width == 0 && cfg.Canvas.Height == 0 {
		cfg.Canvas.Width = 1280
		cfg.Canvas.Height = 720
	}
	if cfg.Canvas.Width <= 0 || cfg.Canvas.Height <= 0 {
		return fmt.Errorf("canvas dimensions must be positive (got %dx%d)",
			cfg.Canvas.Width, cfg.Canvas.Height)
	}
	if cfg.Canvas.FrameRate <= 0 {
		cfg.Canvas.FrameRate = 30
	}

	if cfg.Pipeline.PrerollCeilingS <= 0 {
		cfg.Pipeline.PrerollCeilingS = 10
	}
	if cfg.Pipeline.DrainGraceMS <= 0 {
		cfg.Pipeline.DrainGraceMS = 500
	}
	if cfg.Pipeline.BreakerThreshold == 0 {
		cfg.Pipeline.BreakerThreshold = 3
	}

	if cfg.Reclaim.Enabled {
		if cfg.Reclaim.IdleMinutes <= 0 {
			cfg.Reclaim.IdleMinutes = 30
		}
		if cfg.Reclaim.SweepMinutes <= 0 {
			cfg.Reclaim.SweepMinutes = 10
		}
	}

	switch cfg.Graph.Driver {
	case "":
		cfg.Graph.Driver = "gst"
	case "gst", "stub":
	default:
		return fmt.Errorf("graph driver %q not supported (use gst or stub)", cfg.Graph.Driver)
	}

	switch cfg.Catalog.Source {
	case "":
		cfg.Catalog.Source = "memory"
	case "memory":
	case "file":
		if cfg.Catalog.Path == "" {
			return fmt.Errorf("catalog source file requires catalog.path")
		}
	case "redis":
		if cfg.Catalog.Redis.Addr == "" {
			return fmt.Errorf("catalog source redis requires catalog.redis.addr")
		}
	default:
		return fmt.Errorf("catalog source %q not supported (use memory, file or redis)",
			cfg.Catalog.Source)
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Command == "" {
			cfg.MQTT.Topics.Command = fmt.Sprintf("scenemix/%s/command", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Response == "" {
			cfg.MQTT.Topics.Response = fmt.Sprintf("scenemix/%s/response", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = fmt.Sprintf("scenemix/%s/events", cfg.InstanceID)
		}
		if cfg.MQTT.QoS.Command > 2 || cfg.MQTT.QoS.Response > 2 || cfg.MQTT.QoS.Events > 2 {
			return fmt.Errorf("mqtt qos levels must be 0, 1 or 2")
		}
	}

	if cfg.Health.Port == "" {
		cfg.Health.Port = "8080"
	}

	switch cfg.Logging.Level {
	case "":
		cfg.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q not supported", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "":
		cfg.Logging.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("log format %q not supported", cfg.Logging.Format)
	}

	return nil
}

// ShutdownTimeout returns the configured shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// PrerollCeiling returns the preroll deadline as a duration.
func (c *Config) PrerollCeiling() time.Duration {
	return time.Duration(c.Pipeline.PrerollCeilingS) * time.Second
}

// DrainGrace returns the drain grace as a duration.
func (c *Config) DrainGrace() time.Duration {
	return time.Duration(c.Pipeline.DrainGraceMS) * time.Millisecond
}

// IdleAge returns how long a pad must sit unused before reclamation.
func (c *Config) IdleAge() time.Duration {
	return time.Duration(c.Reclaim.IdleMinutes) * time.Minute
}

// SweepInterval returns how often the reclamation sweep runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Reclaim.SweepMinutes) * time.Minute
}
