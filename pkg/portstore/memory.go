// Package portstore provides the port-record backends the binding driver
// reconciles against and writes successful bindings to.
//
// Backends:
// - MemoryStore: process-local records, used by the binding API when no
//   external store is configured and in tests
// - PodStore: Kubernetes Pods, the binding lives in the piesss.io/binding
//   annotation
//
// The OVN Northbound backend lives in pkg/ovndb.
package portstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/logging"
	"github.com/jiayi-1994/piesss-binder/pkg/metrics"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
	"github.com/jiayi-1994/piesss-binder/pkg/util"
)

// MemoryStore keeps port bindings in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	ports map[string]*util.PortBinding
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ports: make(map[string]*util.PortBinding)}
}

// ListPorts returns every stored port, sorted by id.
func (s *MemoryStore) ListPorts(ctx context.Context) ([]binding.PortRecord, error) {
	timer := metrics.NewTimer()

	s.mu.RLock()
	records := make([]binding.PortRecord, 0, len(s.ports))
	for id, b := range s.ports {
		records = append(records, binding.RecordFromBinding(id, b))
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	metrics.RecordStoreOperation(types.StoreBackendMemory, metrics.StoreOpListPorts, nil, timer.ObserveDuration())
	return records, nil
}

// Put stores a binding for a port, replacing any previous one.
func (s *MemoryStore) Put(portID string, b *util.PortBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[portID] = b
}

// Get returns the binding of a port.
func (s *MemoryStore) Get(portID string) (*util.PortBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.ports[portID]
	return b, ok
}

// Delete removes a port and returns its record.
func (s *MemoryStore) Delete(portID string) (binding.PortRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.ports[portID]
	if !ok {
		return binding.PortRecord{ID: portID}, false
	}
	delete(s.ports, portID)
	return binding.RecordFromBinding(portID, b), true
}

// Len returns the number of stored ports.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ports)
}

// Binder returns the binding callback for one port.
// A port that already carries a binding is refused.
func (s *MemoryStore) Binder(portID string) binding.BindingContext {
	return binding.BindingFunc(func(ctx context.Context, segmentID, vifType string, details binding.VIFDetails, status string) error {
		timer := metrics.NewTimer()
		s.mu.Lock()
		defer s.mu.Unlock()

		log := logging.LoggerForStore(types.StoreBackendMemory)
		var err error
		if _, exists := s.ports[portID]; exists {
			err = &binding.AlreadyBoundError{PortID: portID}
			log.Debug("Refusing to overwrite port binding", "port", portID)
		} else {
			s.ports[portID] = binding.NewPortBinding(segmentID, vifType, details, status)
			log.Debug("Stored port binding", "port", portID, "uplink", details.Port)
		}
		metrics.RecordStoreOperation(types.StoreBackendMemory, metrics.StoreOpSetBinding, err, timer.ObserveDuration())
		return err
	})
}

// Record returns the record of a stored port.
func (s *MemoryStore) Record(ctx context.Context, portID string) (binding.PortRecord, error) {
	b, ok := s.Get(portID)
	if !ok {
		return binding.PortRecord{}, fmt.Errorf("port %s not found", portID)
	}
	return binding.RecordFromBinding(portID, b), nil
}

// ClearBinding forgets a port. Unknown ports are ignored.
func (s *MemoryStore) ClearBinding(ctx context.Context, portID string) error {
	timer := metrics.NewTimer()
	if _, ok := s.Delete(portID); ok {
		logging.LoggerForStore(types.StoreBackendMemory).Debug("Cleared port binding", "port", portID)
	}
	metrics.RecordStoreOperation(types.StoreBackendMemory, metrics.StoreOpClearBinding, nil, timer.ObserveDuration())
	return nil
}
