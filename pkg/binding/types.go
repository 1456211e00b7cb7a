package binding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"

	"github.com/jiayi-1994/piesss-binder/pkg/allocator"
	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

// State is the terminal state of a binding request.
type State string

const (
	// StateBound means the port was bound and the binding callback ran
	StateBound State = "Bound"

	// StateUnbound means no candidate segment applied; the framework may
	// try another mechanism
	StateUnbound State = "Unbound"

	// StateFailed means an applicable segment was found but the port could
	// not be bound on it
	StateFailed State = "Failed"
)

func (s State) label() string {
	return strings.ToLower(string(s))
}

// BindRequest is a port binding request.
type BindRequest struct {
	// PortID identifies the port
	PortID string `json:"portID"`

	// HostID is the host the port must be bound on
	HostID string `json:"hostID"`

	// Segments are the candidate segments in priority order
	Segments []segment.Segment `json:"segments"`

	// DelegatedAddress supplies the low 64 bits of the derived address.
	// The driver default is used when it is not valid.
	DelegatedAddress netip.Addr `json:"delegatedAddress,omitempty"`
}

// VIFDetails is handed to the vswitch with a successful binding.
type VIFDetails struct {
	PortFilter      bool    `json:"port_filter"`
	Host            string  `json:"piesss_host"`
	IP              string  `json:"piesss_ip"`
	VLAN            int     `json:"piesss_vlan"`
	Port            string  `json:"piesss_port"`
	Gbps            float64 `json:"piesss_gbps"`
	VhostUserSocket string  `json:"vhostuser_socket,omitempty"`
	VhostUserMode   string  `json:"vhostuser_mode,omitempty"`
}

// ToMap returns the details as a generic vif_details map.
func (d VIFDetails) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		types.VIFDetailsPortFilter: d.PortFilter,
		types.VIFDetailsPiesssHost: d.Host,
		types.VIFDetailsPiesssIP:   d.IP,
		types.VIFDetailsPiesssVLAN: d.VLAN,
		types.VIFDetailsPiesssPort: d.Port,
		types.VIFDetailsPiesssGbps: d.Gbps,
	}
	if d.VhostUserSocket != "" {
		m[types.VIFDetailsVhostUserSocket] = d.VhostUserSocket
	}
	if d.VhostUserMode != "" {
		m[types.VIFDetailsVhostUserMode] = d.VhostUserMode
	}
	return m
}

// Outcome is the result of BindPort.
type Outcome struct {
	State      State       `json:"state"`
	SegmentID  string      `json:"segmentID,omitempty"`
	VIFType    string      `json:"vifType,omitempty"`
	VIFDetails *VIFDetails `json:"vifDetails,omitempty"`
	Status     string      `json:"status,omitempty"`
}

// PortRecord is an existing port as returned by the port-record query.
// Profile and VIFDetails are the raw stored maps and may be nil.
type PortRecord struct {
	ID         string
	SegmentID  string
	VIFType    string
	Status     string
	Profile    map[string]interface{}
	VIFDetails map[string]interface{}
}

// PortLister is the port-record query used for reconciliation.
type PortLister interface {
	ListPorts(ctx context.Context) ([]PortRecord, error)
}

// BindingContext receives a successful binding.
type BindingContext interface {
	SetBinding(ctx context.Context, segmentID, vifType string, details VIFDetails, status string) error
}

// BindingFunc adapts a function to BindingContext.
type BindingFunc func(ctx context.Context, segmentID, vifType string, details VIFDetails, status string) error

// SetBinding calls f.
func (f BindingFunc) SetBinding(ctx context.Context, segmentID, vifType string, details VIFDetails, status string) error {
	return f(ctx, segmentID, vifType, details, status)
}

// NewPortBinding builds the persisted form of a binding.
func NewPortBinding(segmentID, vifType string, details VIFDetails, status string) *util.PortBinding {
	return &util.PortBinding{
		SegmentID:  segmentID,
		VIFType:    vifType,
		VIFDetails: details.ToMap(),
		Status:     status,
	}
}

// RecordFromBinding builds a port record from a persisted binding.
// A nil binding yields a record without metadata.
func RecordFromBinding(id string, b *util.PortBinding) PortRecord {
	rec := PortRecord{ID: id}
	if b != nil {
		rec.SegmentID = b.SegmentID
		rec.VIFType = b.VIFType
		rec.Status = b.Status
		rec.Profile = b.Profile
		rec.VIFDetails = b.VIFDetails
	}
	return rec
}

// VIFDetailsFromMap parses a stored vif_details map.
func VIFDetailsFromMap(m map[string]interface{}) VIFDetails {
	d := VIFDetails{
		Host:            stringField(m, types.VIFDetailsPiesssHost),
		IP:              stringField(m, types.VIFDetailsPiesssIP),
		Port:            stringField(m, types.VIFDetailsPiesssPort),
		VhostUserSocket: stringField(m, types.VIFDetailsVhostUserSocket),
		VhostUserMode:   stringField(m, types.VIFDetailsVhostUserMode),
	}
	d.PortFilter, _ = m[types.VIFDetailsPortFilter].(bool)
	if vlan, ok := numberField(m, types.VIFDetailsPiesssVLAN); ok {
		d.VLAN = int(vlan)
	}
	d.Gbps, _ = numberField(m, types.VIFDetailsPiesssGbps)
	return d
}

// OutcomeFromRecord rebuilds the Bound outcome of a port that already
// holds a reservation. ok is false when the record holds none.
func OutcomeFromRecord(rec PortRecord) (*Outcome, bool) {
	if _, ok := ReservationFromRecord(rec); !ok {
		return nil, false
	}
	details := VIFDetailsFromMap(rec.VIFDetails)
	return &Outcome{
		State:      StateBound,
		SegmentID:  rec.SegmentID,
		VIFType:    rec.VIFType,
		VIFDetails: &details,
		Status:     rec.Status,
	}, true
}

// ReservationFromRecord extracts the bandwidth a port holds.
//
// Host and uplink come from vif_details; bandwidth from the binding profile,
// falling back to vif_details. ok is false when any of them is missing or
// malformed, or when the bandwidth is not a finite positive number.
func ReservationFromRecord(rec PortRecord) (res allocator.Reservation, ok bool) {
	host := stringField(rec.VIFDetails, types.VIFDetailsPiesssHost)
	uplink := stringField(rec.VIFDetails, types.VIFDetailsPiesssPort)
	if host == "" || uplink == "" {
		return res, false
	}

	gbps, ok := numberField(rec.Profile, types.ProfilePiesssGbps)
	if !ok {
		gbps, ok = numberField(rec.VIFDetails, types.VIFDetailsPiesssGbps)
	}
	if !ok || !ValidGbps(gbps) {
		return res, false
	}

	return allocator.Reservation{PortID: rec.ID, Host: host, Uplink: uplink, Gbps: gbps}, true
}

// ValidGbps reports whether gbps is a finite positive bandwidth.
func ValidGbps(gbps float64) bool {
	return gbps > 0 && !math.IsInf(gbps, 0)
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func numberField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

// UplinkUsage is the capacity and committed bandwidth of one uplink.
type UplinkUsage struct {
	Host          string  `json:"host"`
	Uplink        string  `json:"uplink"`
	VLAN          int     `json:"vlan"`
	CapacityGbps  int     `json:"capacityGbps"`
	CommittedGbps float64 `json:"committedGbps"`
}

func (u UplinkUsage) String() string {
	return fmt.Sprintf("%s/%s %g/%d Gbps", u.Host, u.Uplink, u.CommittedGbps, u.CapacityGbps)
}
