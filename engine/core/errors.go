package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized          = errors.New("not initialized")
	ErrOutOfDeviceMemory       = errors.New("out of device memory")
	ErrInvalidCompactedSize    = errors.New("invalid compacted size")
	ErrTopologyChanged         = errors.New("instance topology changed, full rebuild required")
	ErrNoAccelerationStructure = errors.New("no acceleration structure")
	ErrInvalidConfig           = errors.New("invalid configuration")
	ErrUnknown                 = errors.New("unknown")
)

// Assert panics when cond is false. It is reserved for caller bugs that
// cannot be recovered from, such as using a subsystem before Init.
func Assert(cond bool, msg string, args ...interface{}) {
	if cond {
		return
	}
	err := fmt.Errorf(msg, args...)
	LogError("assertion failed: %s", err.Error())
	panic(err)
}
