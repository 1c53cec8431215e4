package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

func TestPipelineStageFlags(t *testing.T) {
	got := pipelineStageFlags(device.PipelineStageTransfer | device.PipelineStageAccelerationStructureBuild)
	want := vk.PipelineStageFlags(vk.PipelineStageTransferBit | pipelineStageAccelerationStructureBuildBit)
	if got != want {
		t.Fatalf("stage flags %#x, want %#x", got, want)
	}
	if pipelineStageFlags(device.PipelineStageRayTracingShader) != vk.PipelineStageFlags(pipelineStageRayTracingShaderBit) {
		t.Fatal("ray tracing shader stage not mapped")
	}
}

func TestAccessFlags(t *testing.T) {
	got := accessFlags(device.AccessAccelerationStructureRead | device.AccessAccelerationStructureWrite)
	want := vk.AccessFlags(accessAccelerationStructureReadBit | accessAccelerationStructureWriteBit)
	if got != want {
		t.Fatalf("access flags %#x, want %#x", got, want)
	}
	if accessFlags(device.AccessTransferWrite) != vk.AccessFlags(vk.AccessTransferWriteBit) {
		t.Fatal("transfer write not mapped")
	}
}

func TestBufferUsageFlags(t *testing.T) {
	usage := device.BufferUsageStorage | device.BufferUsageShaderDeviceAddress | device.BufferUsageAccelerationStructureStorage
	got := bufferUsageFlags(usage)
	want := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | bufferUsageShaderDeviceAddressBit | bufferUsageAccelerationStructureStorageBit)
	if got != want {
		t.Fatalf("usage flags %#x, want %#x", got, want)
	}
}

func TestMemoryPropertyFlags(t *testing.T) {
	if memoryPropertyFlags(device.MemoryDeviceLocal) != uint32(vk.MemoryPropertyDeviceLocalBit) {
		t.Fatal("device local memory not mapped")
	}
	host := memoryPropertyFlags(device.MemoryHostVisible)
	if host&uint32(vk.MemoryPropertyHostVisibleBit) == 0 || host&uint32(vk.MemoryPropertyHostCoherentBit) == 0 {
		t.Fatalf("host visible memory flags %#x", host)
	}
}

func TestResultError(t *testing.T) {
	if err := resultError("allocate", vk.ErrorOutOfDeviceMemory); !errors.Is(err, core.ErrOutOfDeviceMemory) {
		t.Fatalf("expected ErrOutOfDeviceMemory, got %v", err)
	}
	if err := resultError("submit", vk.ErrorDeviceLost); err == nil || errors.Is(err, core.ErrOutOfDeviceMemory) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestVulkanSafeString(t *testing.T) {
	if VulkanSafeString("") != "\x00" || VulkanSafeString("a") != "a\x00" || VulkanSafeString("b\x00") != "b\x00" {
		t.Fatal("strings must end with exactly one terminator")
	}
	if FindFirstZeroInByteArray([]byte{'a', 'b', 0, 'c'}) != 2 {
		t.Fatal("wrong terminator index")
	}
}

func TestStructureHandleOfNil(t *testing.T) {
	if structureHandle(nil) != 0 {
		t.Fatal("nil structure must map to the null handle")
	}
	as := &VulkanAccelerationStructure{Handle: 42, kind: device.AccelerationStructureTypeTopLevel}
	if structureHandle(as) != 42 || as.Type() != device.AccelerationStructureTypeTopLevel {
		t.Fatal("handle not forwarded")
	}
}

func TestBuildFlagsKHR(t *testing.T) {
	tests := []struct {
		flags device.BuildFlags
		want  uint32
	}{
		{0, 0},
		{device.BuildFlagAllowUpdate, 0x1},
		{device.BuildFlagAllowCompaction | device.BuildFlagPreferFastTrace, 0x2 | 0x4},
		{device.BuildFlagPreferFastBuild, 0x8},
	}
	for _, tt := range tests {
		if got := buildFlagsKHR(tt.flags); got != tt.want {
			t.Errorf("buildFlagsKHR(%#x) = %#x, want %#x", tt.flags, got, tt.want)
		}
	}
}
