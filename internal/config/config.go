// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config holds kvstreamd's configuration. The wire-level surface
// is frozen to two CLI flags (--port, --replicaof); everything ambient —
// log level/format, the metrics listener, replica fan-out throttling and
// heartbeat cadence — is carried as defaults here, optionally overridden
// by an adjacent YAML file, without growing the CLI surface.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is kvstreamd's full run-time configuration.
type Config struct {
	// Port is the TCP listen port. Set from --port; default 6379.
	Port int `yaml:"-"`

	// ReplicaOf is "host port" when this instance replicates a primary,
	// or empty when it is itself a primary. Set from --replicaof.
	ReplicaOf string `yaml:"-"`

	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Replication ReplicationConfig `yaml:"replication"`
}

// LoggingConfig configures internal/logging.NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error, default info
	Format string `yaml:"format"` // json|text, default json
}

// MetricsConfig configures the Prometheus /metrics listener, which is
// not part of the RESP wire protocol (the command protocol only names
// the TCP command port).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default true
	Listen  string `yaml:"listen"`  // default "" (derived from Port+10000)
}

// ReplicationConfig configures the ambient replication enrichment layer:
// fan-out throttling and heartbeat cadence.
type ReplicationConfig struct {
	ThrottleBytesPerSec int64  `yaml:"throttle_bytes_per_sec"` // 0 = unlimited
	HeartbeatSchedule   string `yaml:"heartbeat_schedule"`     // cron spec, default "@every 1s"
}

// Default returns a Config with every ambient field at its production
// default, Port at 6379 and ReplicaOf empty; the caller (CLI parsing)
// overwrites Port and ReplicaOf from the flags.
func Default() Config {
	return Config{
		Port:    6379,
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true},
		Replication: ReplicationConfig{
			ThrottleBytesPerSec: 0,
			HeartbeatSchedule:   "@every 1s",
		},
	}
}

// MetricsAddr returns the metrics listener address, deriving it from the
// command port when Listen is not explicitly set.
func (c Config) MetricsAddr() string {
	if c.Metrics.Listen != "" {
		return c.Metrics.Listen
	}
	port := c.Port + 10000
	if port > 65535 {
		port = 65535
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// LoadOverrides merges ambient YAML overrides from path onto cfg. A
// missing file is not an error: the ambient defaults stand on their own.
func LoadOverrides(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %q: %w", path, err)
	}
	return nil
}
