// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command kvstreamd is the server entry point: a minimal key/value and
// stream store speaking a RESP-like protocol, with optional primary/
// replica replication.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nishisan-dev/kvstreamd/internal/clock"
	"github.com/nishisan-dev/kvstreamd/internal/config"
	"github.com/nishisan-dev/kvstreamd/internal/dispatch"
	"github.com/nishisan-dev/kvstreamd/internal/logging"
	"github.com/nishisan-dev/kvstreamd/internal/metrics"
	"github.com/nishisan-dev/kvstreamd/internal/replication"
	"github.com/nishisan-dev/kvstreamd/internal/server"
	"github.com/nishisan-dev/kvstreamd/internal/store"
)

const ambientConfigPath = "/etc/kvstreamd/kvstreamd.yaml"

func main() {
	port := flag.Int("port", 6379, "TCP listen port")
	replicaOf := flag.String("replicaof", "", `makes this instance a replica: "host port"`)
	flag.Parse()

	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "kvstreamd: unexpected argument(s): %v\n", flag.Args())
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.Port = *port
	cfg.ReplicaOf = *replicaOf
	if err := config.LoadOverrides(&cfg, ambientConfigPath); err != nil {
		fmt.Fprintf(os.Stderr, "kvstreamd: loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	st := store.New()
	clk := clock.Real{}
	sysMon := metrics.NewSystemMonitor(logger)
	sysMon.Start()
	defer sysMon.Stop()

	registry := metrics.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.Serve(ctx, cfg.MetricsAddr())
		logger.Info("metrics listening", "address", cfg.MetricsAddr())
	}

	dispatcher := &dispatch.Dispatcher{
		Store:     st,
		Clock:     clk,
		Snapshot:  replication.EmptySnapshot,
		ExtraInfo: sysMon,
		Logger:    logger,
	}

	if cfg.ReplicaOf == "" {
		primary := replication.NewPrimary(logger, cfg.Replication.ThrottleBytesPerSec)
		dispatcher.Primary = primary
		registry.ObserveReplication(ctx, primary, 2*time.Second)

		heartbeat, err := replication.NewHeartbeat(primary, cfg.Replication.HeartbeatSchedule, logger)
		if err != nil {
			logger.Error("scheduling replication heartbeat", "error", err)
			os.Exit(1)
		}
		heartbeat.Start()
		defer heartbeat.Stop()
	} else {
		primaryAddr, err := normalizeReplicaOf(cfg.ReplicaOf)
		if err != nil {
			logger.Error("replication-handshake-failed", "error", err)
			os.Exit(1)
		}
		replica, err := replication.Dial(primaryAddr, cfg.Port, st, clk, logger)
		if err != nil {
			logger.Error("replication-handshake-failed", "error", err)
			os.Exit(1)
		}
		logger.Info("replica bootstrap complete", "primary", primaryAddr)
		go func() {
			if err := replica.Run(); err != nil {
				logger.Error("replica link terminated", "error", err)
			}
		}()
	}

	handler := &server.Handler{
		Dispatcher: dispatcher,
		Clock:      clk,
		Logger:     logger,
		Metrics:    registry,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := server.Run(ctx, addr, handler); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// normalizeReplicaOf turns the "host port" CLI value into a dialable
// "host:port" address.
func normalizeReplicaOf(raw string) (string, error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return "", fmt.Errorf("replicaof must be \"host port\", got %q", raw)
	}
	if _, err := strconv.Atoi(fields[1]); err != nil {
		return "", fmt.Errorf("replicaof port must be numeric: %w", err)
	}
	return fields[0] + ":" + fields[1], nil
}
