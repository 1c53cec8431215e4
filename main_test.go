package main

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/headless"
	"github.com/spaghettifunk/vulture/engine/renderer/vulkan"
)

func TestOpenDeviceHeadless(t *testing.T) {
	dev, closeDevice, err := openDevice(core.DefaultConfig())
	if err != nil {
		t.Fatalf("openDevice: %v", err)
	}
	defer closeDevice()
	if _, ok := dev.(*headless.Device); !ok {
		t.Fatalf("default device is %T", dev)
	}
}

func TestOpenDeviceVulkanWithoutLoader(t *testing.T) {
	if vulkan.DefaultDispatch() != nil {
		t.Skip("a ray tracing loader is compiled in")
	}
	cfg := core.DefaultConfig()
	cfg.Renderer.Device = core.DeviceVulkan
	if _, _, err := openDevice(cfg); !errors.Is(err, core.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
