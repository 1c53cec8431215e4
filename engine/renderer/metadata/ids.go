package metadata

import "math"

const (
	// InvalidID marks an unused geometry slot.
	InvalidID uint32 = math.MaxUint32
	// InvalidGeneration marks a geometry whose buffers have been released.
	InvalidGeneration uint16 = math.MaxUint16
)
