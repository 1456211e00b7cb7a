package ovndb

import (
	"context"
	"strconv"

	"github.com/ovn-org/libovsdb/client"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/metrics"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

// PortStore uses Logical Switch Ports as port records.
type PortStore struct {
	client *Client
}

// NewPortStore creates a PortStore over a connected Client.
func NewPortStore(c *Client) *PortStore {
	return &PortStore{client: c}
}

func (s *PortStore) nb() (client.Client, error) {
	nbClient := s.client.NBClient()
	if nbClient == nil {
		return nil, &ConnectionError{Address: s.client.config.NBDBAddress, Err: client.ErrNotConnected}
	}
	return nbClient, nil
}

// GetPort retrieves a Logical Switch Port by name.
//
// Returns:
//   - *LogicalSwitchPort: The found port
//   - error: ObjectNotFoundError if not found, or other error
func (s *PortStore) GetPort(ctx context.Context, name string) (*LogicalSwitchPort, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "port name is required"}
	}

	nbClient, err := s.nb()
	if err != nil {
		return nil, err
	}

	lsp := &LogicalSwitchPort{Name: name}
	if err := nbClient.Get(ctx, lsp); err != nil {
		if err == client.ErrNotFound {
			return nil, &ObjectNotFoundError{Port: name}
		}
		return nil, &TransactionError{Op: "get", Port: name, Err: err}
	}
	return lsp, nil
}

// ListPorts returns a record for every Logical Switch Port in the cache.
func (s *PortStore) ListPorts(ctx context.Context) ([]binding.PortRecord, error) {
	timer := metrics.NewTimer()
	ports, err := s.listPorts(ctx)
	metrics.RecordStoreOperation(types.StoreBackendOVN, metrics.StoreOpListPorts, err, timer.ObserveDuration())
	if err != nil {
		return nil, err
	}

	records := make([]binding.PortRecord, 0, len(ports))
	for _, lsp := range ports {
		records = append(records, PortRecordFromLSP(lsp))
	}
	return records, nil
}

func (s *PortStore) listPorts(ctx context.Context) ([]*LogicalSwitchPort, error) {
	nbClient, err := s.nb()
	if err != nil {
		return nil, err
	}
	var ports []*LogicalSwitchPort
	if err := nbClient.List(ctx, &ports); err != nil {
		return nil, &TransactionError{Op: "list", Err: err}
	}
	return ports, nil
}

// Record returns the port record of one port.
func (s *PortStore) Record(ctx context.Context, name string) (binding.PortRecord, error) {
	lsp, err := s.GetPort(ctx, name)
	if err != nil {
		return binding.PortRecord{ID: name}, err
	}
	return PortRecordFromLSP(lsp), nil
}

// Binder returns the binding callback for a port. The port must exist.
func (s *PortStore) Binder(portName string) binding.BindingContext {
	return binding.BindingFunc(func(ctx context.Context, segmentID, vifType string, details binding.VIFDetails, status string) error {
		timer := metrics.NewTimer()
		err := s.setBinding(ctx, portName, segmentID, vifType, details, status)
		metrics.RecordStoreOperation(types.StoreBackendOVN, metrics.StoreOpSetBinding, err, timer.ObserveDuration())
		return err
	})
}

func (s *PortStore) setBinding(ctx context.Context, portName, segmentID, vifType string, details binding.VIFDetails, status string) error {
	lsp, err := s.GetPort(ctx, portName)
	if err != nil {
		return err
	}

	b := binding.NewPortBinding(segmentID, vifType, details, status)
	b.Profile = map[string]interface{}{
		types.ProfilePiesssGbps: strconv.FormatFloat(details.Gbps, 'f', -1, 64),
	}
	if err := ApplyBinding(lsp, b, details.Host); err != nil {
		return err
	}

	klog.V(4).Infof("Setting binding on Logical Switch Port %s: uplink=%s host=%s", portName, details.Port, details.Host)
	return s.updatePort(ctx, lsp, &lsp.ExternalIDs, &lsp.Options)
}

// ClearBinding removes the binding from a port. A missing port is not an error.
func (s *PortStore) ClearBinding(ctx context.Context, portName string) error {
	lsp, err := s.GetPort(ctx, portName)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	if _, ok := lsp.ExternalIDs[types.OVNBindingExternalID]; !ok {
		return nil
	}
	delete(lsp.ExternalIDs, types.OVNBindingExternalID)

	timer := metrics.NewTimer()
	err = s.updatePort(ctx, lsp, &lsp.ExternalIDs)
	metrics.RecordStoreOperation(types.StoreBackendOVN, metrics.StoreOpClearBinding, err, timer.ObserveDuration())
	return err
}

func (s *PortStore) updatePort(ctx context.Context, lsp *LogicalSwitchPort, fields ...interface{}) error {
	nbClient, err := s.nb()
	if err != nil {
		return err
	}

	ops, err := nbClient.Where(lsp).Update(lsp, fields...)
	if err != nil {
		return &TransactionError{Op: "update", Port: lsp.Name, Err: err}
	}

	if _, err := Transact(ctx, nbClient, s.client.GetTxnTimeout(), ops...); err != nil {
		return &TransactionError{Op: "update", Port: lsp.Name, Err: err}
	}
	return nil
}

// ApplyBinding writes a binding into a port's external_ids and pins the port
// to host. A port that already carries a binding is refused with an
// *binding.AlreadyBoundError and left untouched.
func ApplyBinding(lsp *LogicalSwitchPort, b *util.PortBinding, host string) error {
	if _, bound := lsp.ExternalIDs[types.OVNBindingExternalID]; bound {
		return &binding.AlreadyBoundError{PortID: lsp.Name, Host: lsp.Options[types.OVNRequestedChassisOption]}
	}
	encoded, err := util.MarshalPortBinding(b)
	if err != nil {
		return err
	}
	if lsp.ExternalIDs == nil {
		lsp.ExternalIDs = make(map[string]string)
	}
	if lsp.Options == nil {
		lsp.Options = make(map[string]string)
	}
	lsp.ExternalIDs[types.OVNBindingExternalID] = encoded
	if host != "" {
		lsp.Options[types.OVNRequestedChassisOption] = host
	}
	return nil
}

// PortRecordFromLSP converts a port. A missing or unreadable binding yields
// a record without metadata.
func PortRecordFromLSP(lsp *LogicalSwitchPort) binding.PortRecord {
	b, err := util.UnmarshalPortBinding(lsp.ExternalIDs[types.OVNBindingExternalID])
	if err != nil {
		klog.V(4).Infof("Ignoring binding of Logical Switch Port %s: %v", lsp.Name, err)
		b = nil
	}
	return binding.RecordFromBinding(lsp.Name, b)
}
