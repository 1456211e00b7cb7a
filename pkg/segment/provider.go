package segment

import (
	"strings"
	"sync"
)

// Option configures a provider driver.
type Option func(*providerDriver)

// WithSegmentTracking makes the driver remember reserved segmentation ids
// and reject a second segment reusing one.
func WithSegmentTracking() Option {
	return func(d *providerDriver) {
		d.reserved = make(map[int]string)
	}
}

// providerDriver is a type that only supports administrator-provided
// segments identified by a segmentation id.
type providerDriver struct {
	networkType string

	mu sync.Mutex
	// reserved maps segmentation id -> segment ID; nil when tracking is off
	reserved map[int]string
}

func newProviderDriver(networkType string, opts ...Option) *providerDriver {
	d := &providerDriver{networkType: networkType}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *providerDriver) NetworkType() string {
	return d.networkType
}

func (d *providerDriver) IsType(seg Segment) bool {
	return seg.NetworkType == d.networkType
}

func (d *providerDriver) ValidateProviderSegment(seg Segment) error {
	if seg.SegmentationID == nil {
		return &InvalidInputError{Message: "segmentation_id required for " + strings.ToUpper(d.networkType) + " provider network"}
	}
	return nil
}

func (d *providerDriver) ReserveProviderSegment(seg Segment) error {
	if err := d.ValidateProviderSegment(seg); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reserved == nil {
		return nil
	}
	id := *seg.SegmentationID
	if holder, ok := d.reserved[id]; ok && holder != seg.ID {
		return &InUseError{NetworkType: d.networkType, SegmentationID: id, HeldBy: holder}
	}
	d.reserved[id] = seg.ID
	return nil
}

func (d *providerDriver) AllocateTenantSegment() (*Segment, error) {
	return nil, &NoNetworkAvailableError{NetworkType: d.networkType}
}

func (d *providerDriver) ReleaseSegment(seg Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reserved == nil || seg.SegmentationID == nil {
		return nil
	}
	if d.reserved[*seg.SegmentationID] == seg.ID {
		delete(d.reserved, *seg.SegmentationID)
	}
	return nil
}
