package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(""))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Renderer.FramesInFlight != DefaultFramesInFlight {
		t.Errorf("FramesInFlight = %d, want %d", cfg.Renderer.FramesInFlight, DefaultFramesInFlight)
	}
	if got := cfg.Renderer.BatchLimitBytes(); got != 256_000_000 {
		t.Errorf("BatchLimitBytes = %d, want 256000000", got)
	}
	if !cfg.Renderer.Compaction {
		t.Error("compaction should be enabled by default")
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
	if cfg.Renderer.Device != DeviceHeadless {
		t.Errorf("Device = %q, want %q", cfg.Renderer.Device, DeviceHeadless)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	doc := `
[renderer]
device = "vulkan"
frames_in_flight = 3
batch_limit_mb = 64
compaction = false

[log]
level = "debug"
`
	cfg, err := ParseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Renderer.Device != DeviceVulkan {
		t.Errorf("Device = %q, want %q", cfg.Renderer.Device, DeviceVulkan)
	}
	if cfg.Renderer.FramesInFlight != 3 {
		t.Errorf("FramesInFlight = %d, want 3", cfg.Renderer.FramesInFlight)
	}
	if cfg.Renderer.BatchLimitMB != 64 {
		t.Errorf("BatchLimitMB = %d, want 64", cfg.Renderer.BatchLimitMB)
	}
	if cfg.Renderer.Compaction {
		t.Error("compaction should be disabled")
	}
	// untouched keys keep their defaults
	if !cfg.Renderer.AllowUpdate {
		t.Error("allow_update should keep its default")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestParseConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"zero frames", "[renderer]\nframes_in_flight = 0\n"},
		{"zero batch", "[renderer]\nbatch_limit_mb = 0\n"},
		{"unknown device", "[renderer]\ndevice = \"metal\"\n"},
		{"syntax", "[renderer\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateDefaultsEmptyDevice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Renderer.Device = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Renderer.Device != DeviceHeadless {
		t.Fatalf("Device = %q, want %q", cfg.Renderer.Device, DeviceHeadless)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestConfigWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vulture.toml")
	if err := os.WriteFile(path, []byte("[renderer]\nframes_in_flight = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cw, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher: %v", err)
	}
	defer cw.Close()

	if err := os.WriteFile(path, []byte("[renderer]\nframes_in_flight = 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-cw.Updates():
			if cfg.Renderer.FramesInFlight == 4 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestAssertPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Assert(false) did not panic")
		}
	}()
	Assert(false, "index %d out of range", 3)
}
