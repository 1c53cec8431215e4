package accel

import (
	"testing"

	"github.com/spaghettifunk/vulture/engine/math"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

func TestInstanceRecordLayout(t *testing.T) {
	inst := Instance{Transform: math.NewMat4Translation(math.NewVec3(1, 2, 3))}
	rec := newInstanceRecord(7, &inst, 0xABCDEF00)

	b := rec.AppendBinary(nil)
	if len(b) != InstanceRecordSize {
		t.Fatalf("record is %d bytes, want %d", len(b), InstanceRecordSize)
	}

	got := DecodeInstanceRecord(b)
	if got.CustomIndex != 7 || got.Mask != 0xFF || got.SBTOffset != 0 {
		t.Fatalf("index/mask/offset = %d/%#x/%d", got.CustomIndex, got.Mask, got.SBTOffset)
	}
	if got.Flags != InstanceFlagTriangleCullDisable|InstanceFlagForceOpaque {
		t.Fatalf("flags = %#x", got.Flags)
	}
	if got.Reference != 0xABCDEF00 {
		t.Fatalf("reference = %#x", got.Reference)
	}
	// translation sits in the last column of each row
	if got.Transform[3] != 1 || got.Transform[7] != 2 || got.Transform[11] != 3 {
		t.Fatalf("transform = %v", got.Transform)
	}
	if got.Transform[0] != 1 || got.Transform[5] != 1 || got.Transform[10] != 1 {
		t.Fatalf("rotation part of identity translation = %v", got.Transform)
	}
}

func TestEncodeInstances(t *testing.T) {
	instances := make([]Instance, 3)
	for i := range instances {
		instances[i].Transform = math.NewMat4Identity()
	}
	addresses := []device.DeviceAddress{0x100, 0x200, 0x300}

	data := encodeInstances(instances, addresses)
	if len(data) != 3*InstanceRecordSize {
		t.Fatalf("encoded %d bytes", len(data))
	}
	for i := range instances {
		rec := DecodeInstanceRecord(data[i*InstanceRecordSize:])
		if rec.CustomIndex != uint32(i) || rec.Reference != addresses[i] {
			t.Errorf("record %d = index %d ref %#x", i, rec.CustomIndex, rec.Reference)
		}
	}

	if n := len(encodeInstances(nil, nil)); n != 0 {
		t.Fatalf("empty scene encoded to %d bytes", n)
	}
}
