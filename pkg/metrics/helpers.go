// Package metrics provides Prometheus metrics for piesss-binder.
package metrics

import (
	"time"
)

// Result constants for metric labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Store operation constants
const (
	StoreOpListPorts    = "list_ports"
	StoreOpSetBinding   = "set_binding"
	StoreOpClearBinding = "clear_binding"
)

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting from now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration returns the duration since the timer was created
func (t *Timer) ObserveDuration() time.Duration {
	return time.Since(t.start)
}

func resultOf(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordBind records a binding attempt.
//
// Parameters:
//   - networkType: Type of the segment that was bound, or "" when none applied
//   - result: bound, unbound or failed
//   - duration: The duration of the attempt
func RecordBind(networkType, result string, duration time.Duration) {
	if networkType == "" {
		networkType = "none"
	}
	BindTotal.WithLabelValues(networkType, result).Inc()
	BindDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordUnbind records a released reservation.
func RecordUnbind() {
	UnbindTotal.Inc()
}

// RecordReconcile records a per-host reconciliation.
func RecordReconcile(host string, err error, skipped int) {
	ReconcileTotal.WithLabelValues(host, resultOf(err)).Inc()
	if skipped > 0 {
		ReconcileSkippedPorts.Add(float64(skipped))
	}
}

// SetUplinkCommitted updates the committed bandwidth gauge of an uplink.
func SetUplinkCommitted(host, uplink string, gbps float64) {
	UplinkCommittedGbps.WithLabelValues(host, uplink).Set(gbps)
}

// SetUplinkCapacity sets the capacity gauge of an uplink.
func SetUplinkCapacity(host, uplink string, gbps float64) {
	UplinkCapacityGbps.WithLabelValues(host, uplink).Set(gbps)
}

// RecordStoreOperation records a port record backend operation.
func RecordStoreOperation(backend, operation string, err error, duration time.Duration) {
	StoreOperationDuration.WithLabelValues(backend, operation, resultOf(err)).Observe(duration.Seconds())
}

// SetOVNDBConnectionStatus sets the Northbound connection gauge.
func SetOVNDBConnectionStatus(connected bool) {
	if connected {
		OVNDBConnectionStatus.Set(1)
	} else {
		OVNDBConnectionStatus.Set(0)
	}
}

// RecordAPIRequest records a binding API request.
func RecordAPIRequest(endpoint string, err error) {
	APIRequestsTotal.WithLabelValues(endpoint, resultOf(err)).Inc()
}
