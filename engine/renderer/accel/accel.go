// Package accel builds the two-level ray tracing acceleration structures of a
// scene: one bottom-level structure per instance, built in memory-bounded
// batches and optionally compacted, and one top-level structure referencing
// them.
package accel

import (
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// Retirer takes ownership of resources that may still be referenced by
// frames in flight and destroys them later. reclaim.Queue implements it.
type Retirer interface {
	TrashAccelerationStructure(as device.AccelerationStructure)
	TrashBuffer(b device.Buffer)
}

// AccelKHR is an acceleration structure together with the buffer backing
// it. It must be handled by pointer; Release and Retire give up ownership
// exactly once and later calls do nothing.
type AccelKHR struct {
	Handle  device.AccelerationStructure
	Buffer  device.Buffer
	Address device.DeviceAddress
	Size    device.DeviceSize

	released bool
}

func (a *AccelKHR) Label() string {
	if a == nil || a.Handle == nil {
		return ""
	}
	return a.Handle.Label()
}

// Released reports whether the native resources were handed back.
func (a *AccelKHR) Released() bool {
	return a == nil || a.released
}

// Release destroys the structure and then its buffer.
func (a *AccelKHR) Release(dev device.Destroyer) {
	if a.Released() {
		return
	}
	a.released = true
	if a.Handle != nil {
		dev.DestroyAccelerationStructure(a.Handle)
	}
	if a.Buffer != nil {
		dev.DestroyBuffer(a.Buffer)
	}
}

// Retire hands the structure to r, which destroys the backing buffer along
// with it.
func (a *AccelKHR) Retire(r Retirer) {
	if a.Released() {
		return
	}
	a.released = true
	if a.Handle != nil {
		r.TrashAccelerationStructure(a.Handle)
	} else if a.Buffer != nil {
		r.TrashBuffer(a.Buffer)
	}
}

// createAccel allocates a backing buffer of size bytes and a structure of
// type t on top of it.
func createAccel(dev device.Device, label string, t device.AccelerationStructureType, size device.DeviceSize) (*AccelKHR, error) {
	buf, err := dev.CreateBuffer(&device.BufferDescriptor{
		Label:  label + "-buffer",
		Size:   size,
		Usage:  device.BufferUsageAccelerationStructureStorage | device.BufferUsageShaderDeviceAddress,
		Memory: device.MemoryDeviceLocal,
	})
	if err != nil {
		return nil, err
	}
	handle, err := dev.CreateAccelerationStructure(&device.AccelerationStructureDescriptor{
		Label:  label,
		Type:   t,
		Buffer: buf,
		Size:   size,
	})
	if err != nil {
		dev.DestroyBuffer(buf)
		return nil, err
	}
	return &AccelKHR{Handle: handle, Buffer: buf, Size: size}, nil
}
