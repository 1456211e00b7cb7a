// Package util provides Pod annotation handling utilities.
//
// A Pod asks for a binding by carrying its candidate segments in the
// piesss.io/segments annotation. Once bound, the controller stores the
// binding in piesss.io/binding, which is also what reconciliation reads
// back after a restart.
//
// Example annotations:
//
//	piesss.io/segments: '[{"id":"seg-1","networkType":"piesss","segmentationID":42}]'
//	piesss.io/binding: '{"segment_id":"seg-1","vif_type":"vhostuser","vif_details":{...},"status":"ACTIVE"}'
package util

import (
	"encoding/json"
	"fmt"
	"net/netip"

	corev1 "k8s.io/api/core/v1"

	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

// PortBinding is a persisted binding as stored on a port record.
type PortBinding struct {
	// SegmentID is the segment the port was bound on
	SegmentID string `json:"segment_id"`

	// VIFType is the VIF type handed to the vswitch
	VIFType string `json:"vif_type"`

	// VIFDetails carries the uplink, address and VLAN the port uses
	VIFDetails map[string]interface{} `json:"vif_details"`

	// Profile is the port's binding profile
	Profile map[string]interface{} `json:"profile,omitempty"`

	// Status is the port status reported with the binding
	Status string `json:"status"`
}

// MarshalPortBinding encodes a binding to its annotation/external_id form.
func MarshalPortBinding(b *PortBinding) (string, error) {
	if b == nil {
		return "", fmt.Errorf("binding is nil")
	}
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to marshal binding: %w", err)
	}
	return string(data), nil
}

// UnmarshalPortBinding decodes a binding; an empty string yields nil.
func UnmarshalPortBinding(s string) (*PortBinding, error) {
	if s == "" {
		return nil, nil
	}
	var b PortBinding
	if err := json.Unmarshal([]byte(s), &b); err != nil {
		return nil, fmt.Errorf("failed to parse binding: %w", err)
	}
	return &b, nil
}

// GetPodSegments returns the candidate segments requested by a Pod.
//
// Returns:
//   - []segment.Segment: Segments in priority order, nil if not requested
//   - error: Parse error if the annotation is malformed
func GetPodSegments(pod *corev1.Pod) ([]segment.Segment, error) {
	if pod == nil {
		return nil, fmt.Errorf("pod is nil")
	}

	s, ok := pod.Annotations[types.SegmentsAnnotation]
	if !ok || s == "" {
		return nil, nil
	}

	var segments []segment.Segment
	if err := json.Unmarshal([]byte(s), &segments); err != nil {
		return nil, fmt.Errorf("failed to parse %s annotation: %w", types.SegmentsAnnotation, err)
	}
	return segments, nil
}

// GetPodBinding retrieves and parses the Pod binding annotation.
//
// Returns:
//   - *PortBinding: Parsed binding, nil if not set
//   - error: Parse error if annotation is malformed
func GetPodBinding(pod *corev1.Pod) (*PortBinding, error) {
	if pod == nil {
		return nil, fmt.Errorf("pod is nil")
	}
	return UnmarshalPortBinding(pod.Annotations[types.BindingAnnotation])
}

// SetPodBinding sets the Pod binding annotation.
// This function modifies the Pod object in-place; the caller must
// update the Pod in Kubernetes API.
func SetPodBinding(pod *corev1.Pod, b *PortBinding) error {
	if pod == nil {
		return fmt.Errorf("pod is nil")
	}

	s, err := MarshalPortBinding(b)
	if err != nil {
		return err
	}

	if pod.Annotations == nil {
		pod.Annotations = make(map[string]string)
	}
	pod.Annotations[types.BindingAnnotation] = s
	return nil
}

// ClearPodBinding removes the Pod binding annotation.
func ClearPodBinding(pod *corev1.Pod) {
	if pod == nil || pod.Annotations == nil {
		return
	}
	delete(pod.Annotations, types.BindingAnnotation)
}

// HasPodBinding checks if the Pod has a binding annotation set.
func HasPodBinding(pod *corev1.Pod) bool {
	if pod == nil || pod.Annotations == nil {
		return false
	}
	_, ok := pod.Annotations[types.BindingAnnotation]
	return ok
}

// GetPodDelegatedAddress returns the Pod's delegated address, or the zero
// Addr when the annotation is absent.
func GetPodDelegatedAddress(pod *corev1.Pod) (netip.Addr, error) {
	if pod == nil || pod.Annotations == nil {
		return netip.Addr{}, nil
	}
	s, ok := pod.Annotations[types.DelegatedAddressAnnotation]
	if !ok || s == "" {
		return netip.Addr{}, nil
	}
	return ParseIPv6(s)
}

// PodPortID returns the port identifier of a Pod: namespace_name.
func PodPortID(pod *corev1.Pod) string {
	return pod.Namespace + "_" + pod.Name
}
