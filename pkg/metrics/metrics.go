// Package metrics provides Prometheus metrics for piesss-binder.
//
// This package exposes metrics for:
// - Binding outcomes and latency
// - Committed and total bandwidth per uplink
// - Ledger reconciliation
// - Port record backend operations
// - Binding API requests
//
// Metrics are served by the controller-runtime metrics server
// (default port 8080).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	// Namespace is the Prometheus metrics namespace
	Namespace = "piesss_binder"

	// Subsystem names for different metric categories
	SubsystemBinding = "binding"
	SubsystemLedger  = "ledger"
	SubsystemStore   = "store"
	SubsystemAPI     = "api"
)

var (
	registerOnce sync.Once

	// ---- Binding Metrics ----

	// BindTotal counts binding attempts
	// Labels: network_type, result (bound/unbound/failed)
	BindTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemBinding,
			Name:      "bind_total",
			Help:      "Total number of port binding attempts",
		},
		[]string{"network_type", "result"},
	)

	// BindDuration measures the time taken to bind a port
	// Labels: result (bound/unbound/failed)
	BindDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemBinding,
			Name:      "bind_duration_seconds",
			Help:      "Time taken to bind a port in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"result"},
	)

	// UnbindTotal counts released port reservations
	UnbindTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemBinding,
			Name:      "unbind_total",
			Help:      "Total number of released port reservations",
		},
	)

	// ---- Ledger Metrics ----

	// UplinkCommittedGbps is the bandwidth committed on an uplink
	UplinkCommittedGbps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLedger,
			Name:      "uplink_committed_gbps",
			Help:      "Bandwidth committed on an uplink in Gbps",
		},
		[]string{"host", "uplink"},
	)

	// UplinkCapacityGbps is the total bandwidth of an uplink
	UplinkCapacityGbps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLedger,
			Name:      "uplink_capacity_gbps",
			Help:      "Total bandwidth of an uplink in Gbps",
		},
		[]string{"host", "uplink"},
	)

	// ReconcileTotal counts per-host ledger reconciliations
	// Labels: host, result (success/failure)
	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLedger,
			Name:      "reconcile_total",
			Help:      "Total number of per-host ledger reconciliations",
		},
		[]string{"host", "result"},
	)

	// ReconcileSkippedPorts counts port records without usable reservation metadata
	ReconcileSkippedPorts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemLedger,
			Name:      "reconcile_skipped_ports_total",
			Help:      "Port records skipped during reconciliation for missing or malformed metadata",
		},
	)

	// ---- Store Metrics ----

	// StoreOperationDuration measures port record backend operations
	// Labels: backend, operation, result
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemStore,
			Name:      "operation_duration_seconds",
			Help:      "Time taken for port record backend operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend", "operation", "result"},
	)

	// OVNDBConnectionStatus is 1 while the Northbound connection is up
	OVNDBConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemStore,
			Name:      "ovn_nb_connected",
			Help:      "OVN Northbound database connection status (1 = connected)",
		},
	)

	// ---- API Metrics ----

	// APIRequestsTotal counts binding API requests
	// Labels: endpoint, result
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of binding API requests",
		},
		[]string{"endpoint", "result"},
	)
)

// Register registers all metrics with the controller-runtime metrics registry.
// It is safe to call multiple times.
func Register() {
	registerOnce.Do(func() {
		metrics.Registry.MustRegister(
			BindTotal,
			BindDuration,
			UnbindTotal,
			UplinkCommittedGbps,
			UplinkCapacityGbps,
			ReconcileTotal,
			ReconcileSkippedPorts,
			StoreOperationDuration,
			OVNDBConnectionStatus,
			APIRequestsTotal,
		)
	})
}
