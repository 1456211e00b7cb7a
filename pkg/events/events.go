// Package events provides Kubernetes Event recording for piesss-binder.
//
// Events record binding outcomes on the Pod so they show up in
// kubectl describe.
//
// Event Types:
// - Normal: the port was bound or its bandwidth released
// - Warning: the binding failed or the uplinks are exhausted
//
// Usage:
//
//	recorder := events.NewRecorderFromEventRecorder(mgr.GetEventRecorderFor("piesss-binder"), "piesss-binder")
//	recorder.PortBound(pod, "port1", "2001:db8::10", 100)
//	recorder.BindFailed(pod, err)
package events

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
)

// Event reason constants
const (
	// Binding events
	ReasonPortBound         = "PortBound"
	ReasonPortUnbound       = "PortUnbound"
	ReasonBindFailed        = "BindFailed"
	ReasonNoCapacity        = "UplinkCapacityExhausted"
	ReasonHostNotFound      = "HostNotInInventory"
	ReasonInvalidSegments   = "InvalidSegments"
	ReasonBandwidthReleased = "BandwidthReleased"
	ReasonReleaseFailed     = "BandwidthReleaseFailed"

	// Store events
	ReasonStoreOperationFailed = "StoreOperationFailed"
)

// Recorder wraps the Kubernetes event recorder with binding-specific methods
type Recorder struct {
	recorder record.EventRecorder

	// component is the component name for events
	component string
}

// NewRecorder creates a recorder that writes to the API server.
func NewRecorder(clientset kubernetes.Interface, component string, scheme *runtime.Scheme) *Recorder {
	eventBroadcaster := record.NewBroadcaster()
	eventBroadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{
		Interface: clientset.CoreV1().Events(""),
	})

	recorder := eventBroadcaster.NewRecorder(scheme, corev1.EventSource{
		Component: component,
	})

	return &Recorder{
		recorder:  recorder,
		component: component,
	}
}

// NewRecorderFromEventRecorder creates a Recorder from an existing event recorder
func NewRecorderFromEventRecorder(recorder record.EventRecorder, component string) *Recorder {
	return &Recorder{
		recorder:  recorder,
		component: component,
	}
}

// PortBound records a successful binding
func (r *Recorder) PortBound(obj runtime.Object, uplink, address string, vlan int) {
	r.recorder.Eventf(obj, corev1.EventTypeNormal, ReasonPortBound,
		"Port bound to uplink %s with address %s on VLAN %d", uplink, address, vlan)
}

// PortUnbound records that no candidate segment could be bound by this mechanism
func (r *Recorder) PortUnbound(obj runtime.Object, segments int) {
	r.recorder.Eventf(obj, corev1.EventTypeNormal, ReasonPortUnbound,
		"None of %d candidate segments is handled by %s", segments, r.component)
}

// BindFailed records a failed binding
func (r *Recorder) BindFailed(obj runtime.Object, err error) {
	r.recorder.Eventf(obj, corev1.EventTypeWarning, ReasonBindFailed,
		"Failed to bind port: %v", err)
}

// NoCapacity records that no uplink on the host had room
func (r *Recorder) NoCapacity(obj runtime.Object, host string, gbps float64) {
	r.recorder.Eventf(obj, corev1.EventTypeWarning, ReasonNoCapacity,
		"No uplink on host %s has %g Gbps available", host, gbps)
}

// HostNotFound records a binding on a host without uplinks
func (r *Recorder) HostNotFound(obj runtime.Object, host string) {
	r.recorder.Eventf(obj, corev1.EventTypeWarning, ReasonHostNotFound,
		"Host %s has no configured uplinks", host)
}

// InvalidSegments records an unreadable segments annotation
func (r *Recorder) InvalidSegments(obj runtime.Object, err error) {
	r.recorder.Eventf(obj, corev1.EventTypeWarning, ReasonInvalidSegments,
		"Invalid segments: %v", err)
}

// BandwidthReleased records a released reservation
func (r *Recorder) BandwidthReleased(obj runtime.Object, uplink string, gbps float64) {
	r.recorder.Eventf(obj, corev1.EventTypeNormal, ReasonBandwidthReleased,
		"Released %g Gbps on uplink %s", gbps, uplink)
}

// ReleaseFailed records a failed release
func (r *Recorder) ReleaseFailed(obj runtime.Object, err error) {
	r.recorder.Eventf(obj, corev1.EventTypeWarning, ReasonReleaseFailed,
		"Failed to release bandwidth: %v", err)
}

// StoreOperationFailed records a port store failure
func (r *Recorder) StoreOperationFailed(obj runtime.Object, operation string, err error) {
	r.recorder.Eventf(obj, corev1.EventTypeWarning, ReasonStoreOperationFailed,
		"%s failed: %v", operation, err)
}

// Event records a generic event
func (r *Recorder) Event(obj runtime.Object, eventType, reason, message string) {
	r.recorder.Event(obj, eventType, reason, message)
}

// Eventf records a generic event with formatting
func (r *Recorder) Eventf(obj runtime.Object, eventType, reason, format string, args ...interface{}) {
	r.recorder.Event(obj, eventType, reason, fmt.Sprintf(format, args...))
}
