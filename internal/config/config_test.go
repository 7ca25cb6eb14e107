// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Port != 6379 {
		t.Fatalf("expected default port 6379, got %d", cfg.Port)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Replication.HeartbeatSchedule != "@every 1s" {
		t.Fatalf("unexpected heartbeat default: %q", cfg.Replication.HeartbeatSchedule)
	}
}

func TestMetricsAddr_DerivedFromPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 6379
	if got := cfg.MetricsAddr(); got != "127.0.0.1:16379" {
		t.Fatalf("expected derived metrics addr, got %q", got)
	}
}

func TestMetricsAddr_ExplicitOverride(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Listen = "0.0.0.0:9999"
	if got := cfg.MetricsAddr(); got != "0.0.0.0:9999" {
		t.Fatalf("expected explicit listen address, got %q", got)
	}
}

func TestLoadOverrides_MissingFileIsNotAnError(t *testing.T) {
	cfg := Default()
	if err := LoadOverrides(&cfg, filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
}

func TestLoadOverrides_MergesLoggingLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvstreamd.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	cfg := Default()
	if err := LoadOverrides(&cfg, path); err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected untouched default format json, got %q", cfg.Logging.Format)
	}
}
