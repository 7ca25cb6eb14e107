// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles kvstreamd's counters/gauges and the /metrics HTTP
// handler, backed by the real Prometheus client library instead of
// hand-rolled text formatting.
type Registry struct {
	CommandsProcessed prometheus.Counter
	ConnectedClients  prometheus.Gauge
	ConnectedReplicas prometheus.Gauge
	ReplicationOffset prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry constructs a Registry with its own prometheus.Registry
// (not the global DefaultRegisterer), so tests can create independent
// instances without collector-already-registered panics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		CommandsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "kvstreamd_commands_processed_total",
			Help: "Total number of commands dispatched.",
		}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvstreamd_connected_clients",
			Help: "Number of currently connected client connections.",
		}),
		ConnectedReplicas: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvstreamd_connected_replicas",
			Help: "Number of currently registered replicas.",
		}),
		ReplicationOffset: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kvstreamd_replication_offset_bytes",
			Help: "Current primary replication offset in bytes.",
		}),
	}
}

// ReplicationSource is the subset of replication.Primary's accessors
// ObserveReplication needs, kept as a local interface so metrics does not
// have to import the replication package's full surface.
type ReplicationSource interface {
	ReplicaCount() int
	Offset() int64
}

// ObserveReplication periodically samples src and publishes
// ConnectedReplicas/ReplicationOffset, until ctx is cancelled. It is a
// no-op if src is nil (replica role has nothing to report here).
func (r *Registry) ObserveReplication(ctx context.Context, src ReplicationSource, interval time.Duration) {
	if src == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ConnectedReplicas.Set(float64(src.ReplicaCount()))
				r.ReplicationOffset.Set(float64(src.Offset()))
			}
		}
	}()
}

// Handler returns the /metrics http.Handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server on addr in the background and
// shuts it down gracefully when ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		_ = srv.ListenAndServe()
	}()
}
