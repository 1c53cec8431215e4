package accel

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// InstanceRecordSize is the size of one top-level instance record.
const InstanceRecordSize = 64

const (
	InstanceFlagTriangleCullDisable uint8 = 0x1
	InstanceFlagForceOpaque         uint8 = 0x4

	instanceMaskAll    uint8  = 0xFF
	maxInstanceIndex   uint32 = 1<<24 - 1
	instanceFieldShift        = 24
)

// InstanceRecord mirrors the device layout of a top-level instance: a 3x4
// row-major transform, a 24-bit custom index with an 8-bit mask, a 24-bit
// hit group offset with 8 bits of flags, and the address of the referenced
// bottom-level structure.
type InstanceRecord struct {
	Transform   [12]float32
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       uint8
	Reference   device.DeviceAddress
}

func newInstanceRecord(index uint32, inst *Instance, blas device.DeviceAddress) InstanceRecord {
	core.Assert(index <= maxInstanceIndex, "instance index %d does not fit in 24 bits", index)
	return InstanceRecord{
		Transform:   inst.Transform.ToMat3x4(),
		CustomIndex: index,
		Mask:        instanceMaskAll,
		Flags:       InstanceFlagTriangleCullDisable | InstanceFlagForceOpaque,
		Reference:   blas,
	}
}

func (r *InstanceRecord) AppendBinary(b []byte) []byte {
	for _, f := range r.Transform {
		b = binary.LittleEndian.AppendUint32(b, stdmath.Float32bits(f))
	}
	b = binary.LittleEndian.AppendUint32(b, r.CustomIndex&maxInstanceIndex|uint32(r.Mask)<<instanceFieldShift)
	b = binary.LittleEndian.AppendUint32(b, r.SBTOffset&maxInstanceIndex|uint32(r.Flags)<<instanceFieldShift)
	b = binary.LittleEndian.AppendUint64(b, uint64(r.Reference))
	return b
}

// DecodeInstanceRecord reads a record written by AppendBinary.
func DecodeInstanceRecord(b []byte) InstanceRecord {
	var r InstanceRecord
	for i := range r.Transform {
		r.Transform[i] = stdmath.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	w := binary.LittleEndian.Uint32(b[48:])
	r.CustomIndex, r.Mask = w&maxInstanceIndex, uint8(w>>instanceFieldShift)
	w = binary.LittleEndian.Uint32(b[52:])
	r.SBTOffset, r.Flags = w&maxInstanceIndex, uint8(w>>instanceFieldShift)
	r.Reference = device.DeviceAddress(binary.LittleEndian.Uint64(b[56:]))
	return r
}

func encodeInstances(instances []Instance, blasAddresses []device.DeviceAddress) []byte {
	out := make([]byte, 0, max(len(instances), 1)*InstanceRecordSize)
	for i := range instances {
		rec := newInstanceRecord(uint32(i), &instances[i], blasAddresses[i])
		out = rec.AppendBinary(out)
	}
	return out
}
