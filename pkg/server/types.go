package server

import (
	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/segment"
)

// HTTP endpoints of the binding API
const (
	BindPath            = "/bind"
	UnbindPath          = "/unbind"
	CheckSegmentPath    = "/check-segment"
	ValidateSegmentPath = "/segments/validate"
	ReserveSegmentPath  = "/segments/reserve"
	ReleaseSegmentPath  = "/segments/release"
	AllocateTenantPath  = "/segments/allocate-tenant"
	AllocationsPath     = "/allocations"
	HealthzPath         = "/healthz"
)

// UnbindRequest releases the bandwidth of one port
type UnbindRequest struct {
	PortID string `json:"portID"`
}

// AllocateTenantRequest asks a segment type for a tenant segment
type AllocateTenantRequest struct {
	NetworkType string `json:"networkType"`
}

// Response is the body of every API response. Only the fields relevant to
// the endpoint are set.
type Response struct {
	// Outcome is set by /bind
	Outcome *binding.Outcome `json:"outcome,omitempty"`

	// Released is set by /unbind
	Released *bool `json:"released,omitempty"`

	// Applicable is set by /check-segment
	Applicable *bool `json:"applicable,omitempty"`

	// Segment is set by /segments/allocate-tenant
	Segment *segment.Segment `json:"segment,omitempty"`

	// Allocations is set by /allocations
	Allocations []binding.UplinkUsage `json:"allocations,omitempty"`

	// Error is the error message if the request failed
	Error string `json:"error,omitempty"`
}
