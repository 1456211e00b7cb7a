package binding

import (
	"errors"
	"fmt"
)

// AlreadyBoundError indicates that a port already holds a binding.
type AlreadyBoundError struct {
	PortID string
	Host   string
}

func (e *AlreadyBoundError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("port %s is already bound on host %s", e.PortID, e.Host)
	}
	return fmt.Sprintf("port %s is already bound", e.PortID)
}

// IsAlreadyBound returns true if err is an AlreadyBoundError.
func IsAlreadyBound(err error) bool {
	var e *AlreadyBoundError
	return errors.As(err, &e)
}
