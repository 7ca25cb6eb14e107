// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package metrics carries kvstreamd's ambient observability surface: a
// periodic system sampler and a Prometheus exporter, both outside the
// RESP wire protocol.
package metrics

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats holds the latest collected process/host metrics.
type SystemStats struct {
	CPUPercent    float64
	MemoryPercent float64
}

// SystemMonitor collects system metrics periodically in the background
// and feeds INFO's additive host-health fields.
type SystemMonitor struct {
	logger *slog.Logger
	close  chan struct{}
	wg     sync.WaitGroup
	stats  SystemStats
	mu     sync.RWMutex
}

// NewSystemMonitor creates a SystemMonitor.
func NewSystemMonitor(logger *slog.Logger) *SystemMonitor {
	return &SystemMonitor{
		logger: logger.With("component", "system_monitor"),
		close:  make(chan struct{}),
	}
}

// Start begins periodic metric collection.
func (sm *SystemMonitor) Start() {
	sm.wg.Add(1)
	go sm.run()
}

// Stop halts the monitor and waits for its goroutine to exit.
func (sm *SystemMonitor) Stop() {
	close(sm.close)
	sm.wg.Wait()
}

// Stats returns the latest collected stats.
func (sm *SystemMonitor) Stats() SystemStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stats
}

// Fields implements dispatch.ExtraInfo: it appends used_memory_percent and
// used_cpu_percent to the INFO reply, additive fields beyond the
// mandatory role/replid/offset set.
func (sm *SystemMonitor) Fields() (keys []string, values map[string]string) {
	s := sm.Stats()
	keys = []string{"used_memory_percent", "used_cpu_percent"}
	values = map[string]string{
		"used_memory_percent": formatPercent(s.MemoryPercent),
		"used_cpu_percent":    formatPercent(s.CPUPercent),
	}
	return keys, values
}

func (sm *SystemMonitor) run() {
	defer sm.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	sm.collect()
	for {
		select {
		case <-sm.close:
			return
		case <-ticker.C:
			sm.collect()
		}
	}
}

func (sm *SystemMonitor) collect() {
	stats := SystemStats{}

	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		stats.CPUPercent = percentage[0]
	} else {
		sm.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		sm.logger.Debug("failed to collect memory stats", "error", err)
	}

	sm.mu.Lock()
	sm.stats = stats
	sm.mu.Unlock()
}

func formatPercent(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
