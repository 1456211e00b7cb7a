package segment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jiayi-1994/piesss-binder/pkg/logging"
)

// Manager dispatches segment operations to the driver owning each type.
//
// Thread Safety: All methods are thread-safe.
type Manager struct {
	mu      sync.RWMutex
	drivers map[string]TypeDriver
}

// NewManager creates a manager with the given drivers registered.
func NewManager(drivers ...TypeDriver) (*Manager, error) {
	m := &Manager{drivers: make(map[string]TypeDriver)}
	for _, d := range drivers {
		if err := m.Register(d); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register adds a driver. Registering a type twice is an error.
func (m *Manager) Register(d TypeDriver) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.drivers[d.NetworkType()]; ok {
		return fmt.Errorf("type driver for %s already registered", d.NetworkType())
	}
	m.drivers[d.NetworkType()] = d
	return nil
}

// Driver returns the driver of a type.
func (m *Manager) Driver(networkType string) (TypeDriver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.drivers[networkType]
	return d, ok
}

// Types returns the registered types, sorted.
func (m *Manager) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.drivers))
	for t := range m.drivers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) driverFor(seg Segment) (TypeDriver, error) {
	d, ok := m.Driver(seg.NetworkType)
	if !ok {
		return nil, &InvalidInputError{Message: fmt.Sprintf("network type %q is not supported", seg.NetworkType)}
	}
	return d, nil
}

// Validate validates a provider segment with its type driver.
func (m *Manager) Validate(seg Segment) error {
	return m.apply("validate", seg, TypeDriver.ValidateProviderSegment)
}

// Reserve reserves a provider segment with its type driver.
func (m *Manager) Reserve(seg Segment) error {
	return m.apply("reserve", seg, TypeDriver.ReserveProviderSegment)
}

// Release releases a segment with its type driver.
func (m *Manager) Release(seg Segment) error {
	return m.apply("release", seg, TypeDriver.ReleaseSegment)
}

func (m *Manager) apply(op string, seg Segment, fn func(TypeDriver, Segment) error) error {
	log := logging.LoggerForSegment(seg.ID, seg.NetworkType)
	d, err := m.driverFor(seg)
	if err == nil {
		err = fn(d, seg)
	}
	if err != nil {
		log.Debug("Segment operation failed", "op", op, "segment", seg.String(), "error", err)
		return err
	}
	log.Debug("Segment operation succeeded", "op", op, "segment", seg.String())
	return nil
}

// AllocateTenant asks the driver of networkType for a tenant segment.
func (m *Manager) AllocateTenant(networkType string) (*Segment, error) {
	d, err := m.driverFor(Segment{NetworkType: networkType})
	if err != nil {
		return nil, err
	}
	return d.AllocateTenantSegment()
}
