package reclaim

import (
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// Kind identifies one of the per-resource lists of the queue.
type Kind uint8

const (
	KindPipeline Kind = iota
	KindImage
	KindBuffer
	KindDescriptorSet
	KindAccelerationStructure
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindPipeline:
		return "pipeline"
	case KindImage:
		return "image"
	case KindBuffer:
		return "buffer"
	case KindDescriptorSet:
		return "descriptor set"
	case KindAccelerationStructure:
		return "acceleration structure"
	}
	return "unknown"
}

// Resource is anything the queue knows how to destroy: device.Pipeline,
// device.Image, device.Buffer, device.DescriptorSet or
// device.AccelerationStructure.
type Resource interface {
	Label() string
}

// KindOf reports which list r belongs to.
func KindOf(r Resource) (Kind, bool) {
	// most specific method sets first
	switch r.(type) {
	case device.AccelerationStructure:
		return KindAccelerationStructure, true
	case device.Buffer:
		return KindBuffer, true
	case device.Image:
		return KindImage, true
	case device.Pipeline:
		return KindPipeline, true
	case device.DescriptorSet:
		return KindDescriptorSet, true
	}
	return 0, false
}
