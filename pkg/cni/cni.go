// Package cni implements the piesss CNI plugin.
//
// The plugin is a thin client: it forwards ADD/DEL/CHECK to the binder over
// its Unix socket and turns the binding into a CNI result. The binder owns
// uplink selection and bandwidth accounting.
//
// The port id of a Pod is <namespace>_<name>; the host id is the node's
// hostname unless PIESSS_HOST_ID is set.
package cni

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/containernetworking/cni/pkg/skel"
	cnitypes "github.com/containernetworking/cni/pkg/types"
	current "github.com/containernetworking/cni/pkg/types/100"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/config"
	"github.com/jiayi-1994/piesss-binder/pkg/logging"
	"github.com/jiayi-1994/piesss-binder/pkg/segment"
	"github.com/jiayi-1994/piesss-binder/pkg/server"
)

// HostIDEnv overrides the host id reported to the binder
const HostIDEnv = "PIESSS_HOST_ID"

// Timeout bounds one plugin invocation
const Timeout = server.ClientTimeout

// plugin holds what every command needs.
type plugin struct {
	conf   *config.CNIConfig
	args   *config.CNIArgs
	client *server.Client
	log    *logging.Logger
}

func newPlugin(args *skel.CmdArgs) (*plugin, error) {
	conf, err := config.ParseCNIConfig(args.StdinData)
	if err != nil {
		return nil, err
	}
	cniArgs, err := config.ParseCNIArgs(args.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CNI_ARGS: %w", err)
	}
	return &plugin{
		conf:   conf,
		args:   cniArgs,
		client: server.NewClient(conf.ServerSocket),
		log:    newLogger(conf).WithValues("port", cniArgs.PortID(), "container", args.ContainerID),
	}, nil
}

// newLogger logs to the configured file. stdout carries the CNI result, so
// a logger that cannot open its file discards everything.
func newLogger(conf *config.CNIConfig) *logging.Logger {
	l, err := logging.NewLogger(logging.Options{
		Level:      conf.LogLevel,
		Format:     logging.FormatJSON,
		OutputPath: conf.LogFile,
	})
	if err != nil {
		return logging.NewNop()
	}
	return l
}

// HostID returns the host id of this node.
func HostID() (string, error) {
	if id := os.Getenv(HostIDEnv); id != "" {
		return id, nil
	}
	return os.Hostname()
}

// CmdAdd binds the Pod's port and returns its address.
func CmdAdd(args *skel.CmdArgs) error {
	p, err := newPlugin(args)
	if err != nil {
		return err
	}
	host, err := HostID()
	if err != nil {
		return fmt.Errorf("failed to determine host id: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	out, err := p.client.Bind(ctx, binding.BindRequest{
		PortID:   p.args.PortID(),
		HostID:   host,
		Segments: Segments(p.conf.Segments),
	})
	if err != nil {
		p.log.Error(err, "Bind failed", "host", host)
		return fmt.Errorf("CNI ADD failed: %w", err)
	}
	if out == nil || out.State != binding.StateBound {
		return fmt.Errorf("CNI ADD failed: port %s was not bound by %s", p.args.PortID(), p.conf.Name)
	}
	p.log.Info("Port bound", "uplink", out.VIFDetails.Port, "address", out.VIFDetails.IP, "vlan", out.VIFDetails.VLAN)

	result, err := BuildResult(p.conf.CNIVersion, args, out)
	if err != nil {
		return err
	}
	return cnitypes.PrintResult(result, p.conf.CNIVersion)
}

// CmdDel releases the Pod's bandwidth. DEL is idempotent: binder errors
// are logged and swallowed.
func CmdDel(args *skel.CmdArgs) error {
	p, err := newPlugin(args)
	if err != nil {
		// nothing can be released without a port id
		fmt.Fprintf(os.Stderr, "CNI DEL warning: %v\n", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	released, err := p.client.Unbind(ctx, p.args.PortID())
	if err != nil {
		p.log.Warn("Unbind failed", "error", err.Error())
		fmt.Fprintf(os.Stderr, "CNI DEL warning: %v\n", err)
		return nil
	}
	p.log.Info("Port unbound", "released", released)
	return nil
}

// CmdCheck verifies the binder is reachable and handles one of the
// configured segments.
func CmdCheck(args *skel.CmdArgs) error {
	p, err := newPlugin(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.client.Allocations(ctx); err != nil {
		return fmt.Errorf("CNI CHECK failed: %w", err)
	}
	for _, seg := range Segments(p.conf.Segments) {
		ok, err := p.client.CheckSegment(ctx, seg)
		if err != nil {
			return fmt.Errorf("CNI CHECK failed: %w", err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("CNI CHECK failed: no configured segment is handled by the binder")
}

// Segments converts configured segments to binding candidates.
func Segments(in []config.CNISegment) []segment.Segment {
	out := make([]segment.Segment, 0, len(in))
	for _, s := range in {
		out = append(out, segment.Segment{
			ID:              s.ID,
			NetworkType:     s.NetworkType,
			PhysicalNetwork: s.PhysicalNetwork,
			SegmentationID:  s.SegmentationID,
		})
	}
	return out
}

// BuildResult turns a bound outcome into a CNI result with the derived
// address as a /128.
func BuildResult(cniVersion string, args *skel.CmdArgs, out *binding.Outcome) (*current.Result, error) {
	if out == nil || out.VIFDetails == nil {
		return nil, fmt.Errorf("outcome carries no binding")
	}
	addr, err := netip.ParseAddr(out.VIFDetails.IP)
	if err != nil {
		return nil, fmt.Errorf("binder returned invalid address %q: %w", out.VIFDetails.IP, err)
	}
	if !addr.Is6() || addr.Is4In6() {
		return nil, fmt.Errorf("binder returned non-IPv6 address %s", addr)
	}

	ipNet := net.IPNet{IP: net.IP(addr.AsSlice()), Mask: net.CIDRMask(128, 128)}

	if cniVersion == "" {
		cniVersion = current.ImplementedSpecVersion
	}
	return &current.Result{
		CNIVersion: cniVersion,
		Interfaces: []*current.Interface{{
			Name:    args.IfName,
			Sandbox: args.Netns,
		}},
		IPs: []*current.IPConfig{{
			Interface: current.Int(0),
			Address:   ipNet,
		}},
	}, nil
}
