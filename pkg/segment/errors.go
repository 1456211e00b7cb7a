package segment

import (
	"errors"
	"fmt"
)

// InvalidInputError indicates a segment with missing or bad parameters.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Message
}

// NoNetworkAvailableError indicates that a type cannot allocate a tenant segment.
type NoNetworkAvailableError struct {
	NetworkType string
}

func (e *NoNetworkAvailableError) Error() string {
	return fmt.Sprintf("no %s network available for tenant allocation", e.NetworkType)
}

// InUseError indicates that a segmentation id is already held by another segment.
type InUseError struct {
	NetworkType    string
	SegmentationID int
	HeldBy         string
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("unable to create the network: %s id %d is in use by segment %s",
		e.NetworkType, e.SegmentationID, e.HeldBy)
}

// IsInvalidInput returns true if err is an InvalidInputError.
func IsInvalidInput(err error) bool {
	var e *InvalidInputError
	return errors.As(err, &e)
}

// IsNoNetworkAvailable returns true if err is a NoNetworkAvailableError.
func IsNoNetworkAvailable(err error) bool {
	var e *NoNetworkAvailableError
	return errors.As(err, &e)
}

// IsInUse returns true if err is an InUseError.
func IsInUse(err error) bool {
	var e *InUseError
	return errors.As(err, &e)
}
