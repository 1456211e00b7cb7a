package ovndb

import (
	"github.com/ovn-org/libovsdb/model"
)

// Table names in the OVN Northbound database
const (
	LogicalSwitchTable     = "Logical_Switch"
	LogicalSwitchPortTable = "Logical_Switch_Port"
)

// LogicalSwitch is an OVN Logical Switch. Only the columns the binder reads
// are modeled.
type LogicalSwitch struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        string            `ovsdb:"name"`
	Ports       []string          `ovsdb:"ports"`
	OtherConfig map[string]string `ovsdb:"other_config"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// LogicalSwitchPort is an OVN Logical Switch Port.
//
// Key fields for binding:
// - Name: port identifier (namespace_podName for Pods)
// - Options: requested-chassis pins the port to the bound host
// - ExternalIDs: piesss:binding holds the persisted binding
type LogicalSwitchPort struct {
	UUID         string            `ovsdb:"_uuid"`
	Name         string            `ovsdb:"name"`
	Addresses    []string          `ovsdb:"addresses"`
	Type         string            `ovsdb:"type"`
	Options      map[string]string `ovsdb:"options"`
	PortSecurity []string          `ovsdb:"port_security"`
	ExternalIDs  map[string]string `ovsdb:"external_ids"`
	Enabled      *bool             `ovsdb:"enabled"`
	Up           *bool             `ovsdb:"up"`
	Tag          *int              `ovsdb:"tag"`
	TagRequest   *int              `ovsdb:"tag_request"`
}

// NBDBModel returns the database model for the OVN Northbound database
func NBDBModel() (model.ClientDBModel, error) {
	return model.NewClientDBModel("OVN_Northbound", map[string]model.Model{
		LogicalSwitchTable:     &LogicalSwitch{},
		LogicalSwitchPortTable: &LogicalSwitchPort{},
	})
}
