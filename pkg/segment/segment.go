// Package segment manages provider network segment types.
//
// A segment type driver validates segments of its type when a network is
// created, and refuses tenant-driven allocation: piesss and zone segments
// are only ever provisioned by an administrator.
package segment

import (
	"fmt"

	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

// Segment is one slice of network identity a port can be bound to.
type Segment struct {
	// ID is the segment identifier passed back in the binding
	ID string `json:"id"`

	// NetworkType is the segment type, e.g. "piesss"
	NetworkType string `json:"networkType"`

	// PhysicalNetwork is the physical network label, unused by provider-only types
	PhysicalNetwork string `json:"physicalNetwork,omitempty"`

	// SegmentationID is required for provider-only types
	SegmentationID *int `json:"segmentationID,omitempty"`
}

// String renders a segment for logs.
func (s Segment) String() string {
	seg := "<none>"
	if s.SegmentationID != nil {
		seg = fmt.Sprint(*s.SegmentationID)
	}
	return fmt.Sprintf("%s(type=%s, segmentation_id=%s, physnet=%q)", s.ID, s.NetworkType, seg, s.PhysicalNetwork)
}

// New returns a segment with a segmentation id.
func New(id, networkType string, segmentationID int) Segment {
	return Segment{ID: id, NetworkType: networkType, SegmentationID: &segmentationID}
}

// TypeDriver owns the lifecycle of one segment type.
type TypeDriver interface {
	// NetworkType returns the type this driver owns
	NetworkType() string

	// IsType reports whether seg is of this driver's type
	IsType(seg Segment) bool

	// ValidateProviderSegment checks an administrator-provided segment
	ValidateProviderSegment(seg Segment) error

	// ReserveProviderSegment records an administrator-provided segment
	ReserveProviderSegment(seg Segment) error

	// AllocateTenantSegment allocates a segment for a tenant network
	AllocateTenantSegment() (*Segment, error)

	// ReleaseSegment releases a segment when its network is deleted
	ReleaseSegment(seg Segment) error
}

// NewPiesssDriver returns the driver for piesss segments.
func NewPiesssDriver(opts ...Option) TypeDriver {
	return newProviderDriver(types.NetworkTypePiesss, opts...)
}

// NewZoneDriver returns the driver for zone segments.
func NewZoneDriver(opts ...Option) TypeDriver {
	return newProviderDriver(types.NetworkTypeZone, opts...)
}
