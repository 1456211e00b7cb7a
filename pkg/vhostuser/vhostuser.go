// Package vhostuser names the vhost-user sockets handed to the vswitch.
//
// A bound port is attached to the vswitch through a vhost-user socket. The
// binder does not create the socket; it only publishes where it lives and
// which side listens, in vif_details.
//
// Modes (seen from the vswitch):
// - client: the vswitch connects, the guest side listens (dpdkvhostuserclient)
// - server: the vswitch listens (dpdkvhostuser)
package vhostuser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

const (
	// PortTypeClient is the OVS port type for client mode
	PortTypeClient = "dpdkvhostuserclient"

	// PortTypeServer is the OVS port type for server mode
	PortTypeServer = "dpdkvhostuser"

	// socketPrefix prefixes every socket name
	socketPrefix = "vhu"

	// maxSocketName keeps names within the vswitch interface name limit
	maxSocketName = 64
)

// Naming builds socket paths under one directory.
type Naming struct {
	// SocketDir is the directory holding the sockets
	SocketDir string

	// Mode is "client" or "server"
	Mode string
}

// NewNaming validates and returns a Naming.
func NewNaming(socketDir, mode string) (*Naming, error) {
	if socketDir == "" {
		return nil, fmt.Errorf("vhost-user socket directory is empty")
	}
	if mode != types.VhostUserModeClient && mode != types.VhostUserModeServer {
		return nil, fmt.Errorf("invalid vhost-user mode %q (must be 'client' or 'server')", mode)
	}
	return &Naming{SocketDir: socketDir, Mode: mode}, nil
}

// SocketName returns the socket file name for a port: vhu<portID>,
// with path separators replaced and the name truncated.
func SocketName(portID string) string {
	name := socketPrefix + strings.NewReplacer("/", "-", string(filepath.Separator), "-").Replace(portID)
	if len(name) > maxSocketName {
		name = name[:maxSocketName]
	}
	return name
}

// SocketPath returns the full socket path for a port.
func (n *Naming) SocketPath(portID string) string {
	return filepath.Join(n.SocketDir, SocketName(portID))
}

// PortType returns the OVS interface type matching the mode.
func (n *Naming) PortType() string {
	if n.Mode == types.VhostUserModeServer {
		return PortTypeServer
	}
	return PortTypeClient
}
