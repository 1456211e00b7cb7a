// Package allocator provides uplink bandwidth allocation.
//
// Inventory holds the physical uplinks of every host, parsed once from
// configuration. Ledger tracks the bandwidth committed on each uplink and
// Choose picks the uplink that fits a request most tightly.
package allocator

import (
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

// descriptorFields is the number of fields in host|uplink|gbps|vlan|address.
const descriptorFields = 5

// maxVLAN is the highest valid 802.1Q VLAN id.
const maxVLAN = 4095

// Uplink is a physical network interface on a host.
// Uplinks are immutable once the inventory is loaded.
type Uplink struct {
	// Host is the compute host the uplink belongs to
	Host string

	// Name is the uplink name, unique per host
	Name string

	// CapacityGbps is the total bandwidth of the uplink
	CapacityGbps int

	// VLAN is the tag used for ports bound to this uplink
	VLAN int

	// BaseAddress supplies the high 64 bits of derived port addresses
	BaseAddress netip.Addr
}

// Inventory is the table of uplinks per host.
//
// Thread Safety: Inventory is read-only after LoadInventory returns.
type Inventory struct {
	// hosts maps host -> uplinks sorted by name
	hosts map[string][]*Uplink
}

// LoadInventory parses uplink descriptors.
//
// Each descriptor has the form host|uplink|gbps|vlan|address, for example
// "compute1|port0|10|100|2001:db8:1::". Fields are trimmed of surrounding
// whitespace.
//
// Returns:
//   - *Inventory: Parsed inventory
//   - error: *ConfigError for the first malformed or duplicate descriptor
func LoadInventory(descriptors []string) (*Inventory, error) {
	inv := &Inventory{hosts: make(map[string][]*Uplink)}
	seen := make(map[string]map[string]struct{})

	for i, desc := range descriptors {
		uplink, reason := parseDescriptor(desc)
		if reason != "" {
			return nil, &ConfigError{Index: i, Descriptor: desc, Reason: reason}
		}

		if seen[uplink.Host] == nil {
			seen[uplink.Host] = make(map[string]struct{})
		}
		if _, dup := seen[uplink.Host][uplink.Name]; dup {
			return nil, &ConfigError{Index: i, Descriptor: desc, Reason: "duplicate uplink " + uplink.Name + " on host " + uplink.Host}
		}
		seen[uplink.Host][uplink.Name] = struct{}{}

		inv.hosts[uplink.Host] = append(inv.hosts[uplink.Host], uplink)
	}

	for _, uplinks := range inv.hosts {
		sort.Slice(uplinks, func(i, j int) bool { return uplinks[i].Name < uplinks[j].Name })
	}

	return inv, nil
}

// parseDescriptor returns the parsed uplink, or a non-empty reason.
func parseDescriptor(desc string) (*Uplink, string) {
	fields := strings.Split(desc, "|")
	if len(fields) != descriptorFields {
		return nil, "expected host|uplink|gbps|vlan|address"
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	host, name := fields[0], fields[1]
	if host == "" {
		return nil, "empty host"
	}
	if name == "" {
		return nil, "empty uplink name"
	}

	capacity, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, "capacity " + strconv.Quote(fields[2]) + " is not an integer"
	}
	if capacity <= 0 {
		return nil, "capacity must be positive"
	}

	vlan, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, "vlan " + strconv.Quote(fields[3]) + " is not an integer"
	}
	if vlan < 0 || vlan > maxVLAN {
		return nil, "vlan out of range 0-4095"
	}

	addr, err := netip.ParseAddr(fields[4])
	if err != nil {
		return nil, "invalid address " + strconv.Quote(fields[4])
	}
	if !addr.Is6() || addr.Is4In6() {
		return nil, "address " + fields[4] + " is not IPv6"
	}

	return &Uplink{
		Host:         host,
		Name:         name,
		CapacityGbps: capacity,
		VLAN:         vlan,
		BaseAddress:  addr.WithZone(""),
	}, ""
}

// Lookup returns the uplinks of a host ordered by name.
//
// Returns:
//   - []*Uplink: Uplinks of the host; callers must not modify the slice
//   - error: *NotFoundError if the host is unknown
func (inv *Inventory) Lookup(host string) ([]*Uplink, error) {
	uplinks, ok := inv.hosts[host]
	if !ok {
		return nil, &NotFoundError{Host: host}
	}
	return uplinks, nil
}

// Uplink returns a single uplink.
func (inv *Inventory) Uplink(host, name string) (*Uplink, error) {
	uplinks, err := inv.Lookup(host)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(uplinks), func(i int) bool { return uplinks[i].Name >= name })
	if i < len(uplinks) && uplinks[i].Name == name {
		return uplinks[i], nil
	}
	return nil, &NotFoundError{Host: host, Uplink: name}
}

// Hosts returns every host in the inventory, sorted.
func (inv *Inventory) Hosts() []string {
	hosts := make([]string, 0, len(inv.hosts))
	for host := range inv.hosts {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// Len returns the total number of uplinks.
func (inv *Inventory) Len() int {
	n := 0
	for _, uplinks := range inv.hosts {
		n += len(uplinks)
	}
	return n
}
