// Package types provides type definitions and constants.
//
// This package contains:
// - Network type identifiers
// - VIF types and vif_details keys
// - Annotation keys
// - Default paths
package types

const (
	// Network Types
	NetworkTypePiesss = "piesss"
	NetworkTypeZone   = "zone"
	NetworkTypeLocal  = "local"
	NetworkTypeFlat   = "flat"
	NetworkTypeVLAN   = "vlan"
	NetworkTypeGRE    = "gre"
	NetworkTypeVXLAN  = "vxlan"

	// VIF Types
	VIFTypeVhostUser = "vhostuser"

	// Port Status
	PortStatusActive = "ACTIVE"
	PortStatusDown   = "DOWN"

	// vif_details keys
	VIFDetailsPortFilter      = "port_filter"
	VIFDetailsPiesssHost      = "piesss_host"
	VIFDetailsPiesssIP        = "piesss_ip"
	VIFDetailsPiesssVLAN      = "piesss_vlan"
	VIFDetailsPiesssPort      = "piesss_port"
	VIFDetailsPiesssGbps      = "piesss_gbps"
	VIFDetailsVhostUserSocket = "vhostuser_socket"
	VIFDetailsVhostUserMode   = "vhostuser_mode"

	// binding:profile keys
	ProfilePiesssGbps = "piesss_gbps"

	// vhost-user socket modes
	VhostUserModeClient = "client"
	VhostUserModeServer = "server"

	// Port Store Backends
	StoreBackendMemory     = "memory"
	StoreBackendKubernetes = "kubernetes"
	StoreBackendOVN        = "ovn"

	// Annotation Keys
	// Candidate segments requested for a Pod, JSON list
	SegmentsAnnotation = "piesss.io/segments"

	// Binding result written by the controller, JSON
	BindingAnnotation = "piesss.io/binding"

	// Optional per-Pod delegated tunnel address
	DelegatedAddressAnnotation = "piesss.io/delegated-address"

	// Finalizer holding a Pod until its bandwidth is released
	BandwidthFinalizer = "piesss.io/bandwidth"

	// OVN external_ids key holding the binding JSON
	OVNBindingExternalID = "piesss:binding"

	// OVN option pinning a port to a chassis
	OVNRequestedChassisOption = "requested-chassis"

	// Default Paths
	DefaultSocketPath     = "/var/run/piesss/binder.sock"
	DefaultVhostSocketDir = "/var/run/piesss"

	// Default Binding Parameters
	DefaultRequestGbps      = 8
	DefaultDelegatedAddress = "2003::10"
)
