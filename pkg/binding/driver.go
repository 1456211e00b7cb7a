// Package binding binds ports to uplinks for provider-only segments.
//
// For a binding request the Driver walks the candidate segments in order.
// The first segment of an accepted type wins: the driver seeds the host's
// ledger from existing port records on first use, picks the best-fit uplink,
// derives the port address, hands the binding to the caller and commits the
// bandwidth. If no segment applies the port stays unbound so the framework
// can try another mechanism.
package binding

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/jiayi-1994/piesss-binder/pkg/allocator"
	"github.com/jiayi-1994/piesss-binder/pkg/config"
	"github.com/jiayi-1994/piesss-binder/pkg/logging"
	"github.com/jiayi-1994/piesss-binder/pkg/metrics"
	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
	"github.com/jiayi-1994/piesss-binder/pkg/vhostuser"
)

// Options configures a Driver.
type Options struct {
	// Inventory is the uplink table (required)
	Inventory *allocator.Inventory

	// Ledger is the committed bandwidth; a new one is created when nil
	Ledger *allocator.Ledger

	// Ports is the port-record query used for reconciliation (required)
	Ports PortLister

	// Segments owns the segment types (required)
	Segments *segment.Manager

	// NetworkTypes are the segment types this driver binds
	NetworkTypes []string

	// RequestGbps is the bandwidth reserved per bound port
	RequestGbps float64

	// DelegatedAddress is used when a request carries none
	DelegatedAddress netip.Addr

	// VhostUser names the vhost-user socket of a port; optional
	VhostUser *vhostuser.Naming
}

// Driver is the bandwidth-aware binding mechanism.
//
// Thread Safety: BindPort and UnbindPort may be called concurrently.
// Requests on the same host are serialized by the ledger.
type Driver struct {
	inventory   *allocator.Inventory
	ledger      *allocator.Ledger
	ports       PortLister
	typeDrivers []segment.TypeDriver
	segments    *segment.Manager
	requestGbps float64
	delegated   netip.Addr
	vhost       *vhostuser.Naming
	vifType     string
}

// NewDriver validates the options and creates a Driver.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Inventory == nil {
		return nil, fmt.Errorf("inventory is required")
	}
	if opts.Ports == nil {
		return nil, fmt.Errorf("port lister is required")
	}
	if opts.Segments == nil {
		return nil, fmt.Errorf("segment manager is required")
	}
	if !ValidGbps(opts.RequestGbps) {
		return nil, fmt.Errorf("invalid request bandwidth %v", opts.RequestGbps)
	}
	if !opts.DelegatedAddress.IsValid() {
		return nil, fmt.Errorf("delegated address is required")
	}
	if len(opts.NetworkTypes) == 0 {
		opts.NetworkTypes = []string{types.NetworkTypePiesss}
	}

	d := &Driver{
		inventory:   opts.Inventory,
		ledger:      opts.Ledger,
		ports:       opts.Ports,
		segments:    opts.Segments,
		requestGbps: opts.RequestGbps,
		delegated:   opts.DelegatedAddress,
		vhost:       opts.VhostUser,
		vifType:     types.VIFTypeVhostUser,
	}
	if d.ledger == nil {
		d.ledger = allocator.NewLedger()
	}

	for _, t := range opts.NetworkTypes {
		td, ok := opts.Segments.Driver(t)
		if !ok {
			return nil, fmt.Errorf("no type driver registered for network type %s", t)
		}
		d.typeDrivers = append(d.typeDrivers, td)
	}

	for _, host := range d.inventory.Hosts() {
		uplinks, _ := d.inventory.Lookup(host)
		for _, u := range uplinks {
			metrics.SetUplinkCapacity(host, u.Name, float64(u.CapacityGbps))
		}
	}

	return d, nil
}

// NewDriverFromConfig builds the inventory, segment drivers and vhost-user
// naming from configuration. A malformed uplink descriptor returns an
// *allocator.ConfigError.
func NewDriverFromConfig(cfg *config.Config, ports PortLister) (*Driver, error) {
	inv, err := allocator.LoadInventory(cfg.Piesss.Ports)
	if err != nil {
		return nil, err
	}

	var segOpts []segment.Option
	if cfg.Binding.TrackSegmentIDs {
		segOpts = append(segOpts, segment.WithSegmentTracking())
	}
	segments, err := segment.NewManager(segment.NewPiesssDriver(segOpts...), segment.NewZoneDriver(segOpts...))
	if err != nil {
		return nil, err
	}

	naming, err := vhostuser.NewNaming(cfg.VhostUser.SocketDir, cfg.VhostUser.SocketMode)
	if err != nil {
		return nil, err
	}

	return NewDriver(Options{
		Inventory:        inv,
		Ports:            ports,
		Segments:         segments,
		NetworkTypes:     cfg.Binding.NetworkTypes,
		RequestGbps:      cfg.Binding.RequestGbps,
		DelegatedAddress: cfg.DelegatedAddr(),
		VhostUser:        naming,
	})
}

// Segments returns the segment type manager.
func (d *Driver) Segments() *segment.Manager {
	return d.segments
}

// CheckSegment reports whether the driver can bind on seg.
// It never touches the inventory or the ledger.
func (d *Driver) CheckSegment(seg segment.Segment) bool {
	for _, td := range d.typeDrivers {
		if td.IsType(seg) {
			return true
		}
	}
	return false
}

// BindPort binds a port on the first applicable segment.
//
// Returns:
//   - *Outcome: Always non-nil; Bound, Unbound or Failed
//   - error: Set only when the outcome is Failed. *allocator.NoCapacityError
//     and *allocator.NotFoundError are returned as is.
func (d *Driver) BindPort(ctx context.Context, req BindRequest, bc BindingContext) (*Outcome, error) {
	timer := metrics.NewTimer()
	log := logging.LoggerForPort(req.PortID, req.HostID)
	log.Debug("Attempting to bind port", "segments", len(req.Segments))

	for _, seg := range req.Segments {
		if !d.CheckSegment(seg) {
			log.Debug("Refusing to bind port for segment",
				"segment", seg.ID,
				"segmentationID", seg.SegmentationID,
				"physicalNetwork", seg.PhysicalNetwork,
				"networkType", seg.NetworkType)
			continue
		}

		out, err := d.bindSegment(ctx, log, req, seg, bc)
		metrics.RecordBind(seg.NetworkType, out.State.label(), timer.ObserveDuration())
		if err != nil {
			log.Error(err, "Failed to bind port", "segment", seg.ID)
			return out, err
		}
		log.Info("Bound port",
			"segment", seg.ID,
			"uplink", out.VIFDetails.Port,
			"address", out.VIFDetails.IP,
			"vlan", out.VIFDetails.VLAN)
		return out, nil
	}

	metrics.RecordBind("", StateUnbound.label(), timer.ObserveDuration())
	log.Debug("No applicable segment, port left unbound")
	return &Outcome{State: StateUnbound}, nil
}

// bindSegment runs selection, the binding callback and the commit as one
// critical section on the request's host.
func (d *Driver) bindSegment(ctx context.Context, log *logging.Logger, req BindRequest, seg segment.Segment, bc BindingContext) (*Outcome, error) {
	failed := &Outcome{State: StateFailed, SegmentID: seg.ID}

	if bc == nil {
		return failed, fmt.Errorf("no binding context for port %s", req.PortID)
	}
	// unknown hosts fail before any port records are read
	if _, err := d.inventory.Lookup(req.HostID); err != nil {
		return failed, err
	}

	delegated := req.DelegatedAddress
	if !delegated.IsValid() {
		delegated = d.delegated
	}

	var out *Outcome
	err := d.ledger.Update(req.HostID, func(tx *allocator.HostTx) error {
		if !tx.Reconciled() {
			if err := d.reconcileHost(ctx, tx); err != nil {
				return err
			}
		}
		if _, held := tx.Holds(req.PortID); held {
			return &AlreadyBoundError{PortID: req.PortID, Host: req.HostID}
		}

		uplink, err := allocator.Choose(d.inventory, tx, req.HostID, d.requestGbps)
		if err != nil {
			return err
		}
		log.Info("Selected uplink", "uplink", uplink.Name, "available", allocator.Available(uplink, tx))

		details := VIFDetails{
			PortFilter: true,
			Host:       req.HostID,
			IP:         util.ComposeAddress(delegated, uplink.BaseAddress).String(),
			VLAN:       uplink.VLAN,
			Port:       uplink.Name,
			Gbps:       d.requestGbps,
		}
		if d.vhost != nil {
			details.VhostUserSocket = d.vhost.SocketPath(req.PortID)
			details.VhostUserMode = d.vhost.Mode
		}

		if err := bc.SetBinding(ctx, seg.ID, d.vifType, details, types.PortStatusActive); err != nil {
			return fmt.Errorf("failed to set binding for port %s: %w", req.PortID, err)
		}

		tx.Reserve(allocator.Reservation{PortID: req.PortID, Uplink: uplink.Name, Gbps: d.requestGbps})
		metrics.SetUplinkCommitted(req.HostID, uplink.Name, tx.Committed(req.HostID, uplink.Name))

		out = &Outcome{
			State:      StateBound,
			SegmentID:  seg.ID,
			VIFType:    d.vifType,
			VIFDetails: &details,
			Status:     types.PortStatusActive,
		}
		return nil
	})
	if err != nil {
		return failed, err
	}
	return out, nil
}

// UnbindPort releases the bandwidth a port holds.
// A port without reservation metadata releases nothing, and neither does a
// port the ledger no longer holds, so repeated unbinds are harmless. On a
// host that was never reconciled nothing is held in memory; the next
// reconciliation reads the port records instead.
//
// Returns:
//   - bool: True if bandwidth was released
func (d *Driver) UnbindPort(ctx context.Context, rec PortRecord) (bool, error) {
	res, ok := ReservationFromRecord(rec)
	if !ok {
		return false, nil
	}
	log := logging.LoggerForPort(rec.ID, res.Host)

	var (
		held     allocator.Reservation
		released bool
	)
	err := d.ledger.Update(res.Host, func(tx *allocator.HostTx) error {
		if !tx.Reconciled() {
			return nil
		}
		held, released = tx.ReleasePort(rec.ID)
		if released {
			metrics.SetUplinkCommitted(res.Host, held.Uplink, tx.Committed(res.Host, held.Uplink))
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if !released {
		log.Debug("Port holds no bandwidth, nothing to release")
		return false, nil
	}
	metrics.RecordUnbind()
	log.Info("Released port bandwidth", "uplink", held.Uplink, "gbps", held.Gbps)
	return true, nil
}

// Usage returns capacity and committed bandwidth for every uplink.
func (d *Driver) Usage() []UplinkUsage {
	var out []UplinkUsage
	for _, host := range d.inventory.Hosts() {
		uplinks, _ := d.inventory.Lookup(host)
		for _, u := range uplinks {
			out = append(out, UplinkUsage{
				Host:          host,
				Uplink:        u.Name,
				VLAN:          u.VLAN,
				CapacityGbps:  u.CapacityGbps,
				CommittedGbps: d.ledger.Committed(host, u.Name),
			})
		}
	}
	return out
}
