// Package allocator provides uplink bandwidth allocation.
package allocator

import (
	"errors"
	"fmt"
)

// ConfigError indicates a malformed uplink descriptor.
type ConfigError struct {
	Index      int
	Descriptor string
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid uplink descriptor #%d %q: %s", e.Index, e.Descriptor, e.Reason)
}

// NotFoundError indicates that a host or uplink is not in the inventory.
type NotFoundError struct {
	Host   string
	Uplink string
}

func (e *NotFoundError) Error() string {
	if e.Uplink != "" {
		return fmt.Sprintf("uplink %s not found on host %s", e.Uplink, e.Host)
	}
	return fmt.Sprintf("host %s has no uplinks", e.Host)
}

// NoCapacityError indicates that no uplink on a host can carry the request.
type NoCapacityError struct {
	Host      string
	Requested float64
}

func (e *NoCapacityError) Error() string {
	return fmt.Sprintf("no uplink on host %s has %g Gbps available", e.Host, e.Requested)
}

// IsConfigError returns true if err is a ConfigError.
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// IsNotFound returns true if err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsNoCapacity returns true if err is a NoCapacityError.
func IsNoCapacity(err error) bool {
	var e *NoCapacityError
	return errors.As(err, &e)
}
