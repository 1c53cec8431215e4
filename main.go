/*
Demo: builds the acceleration structures of a spinning scene, refitting them
every frame and rebuilding them periodically, while the reclamation queue
retires what frames no longer use. The scene runs on a software device by
default; -device vulkan selects the GPU backend.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/vulture/engine"
	"github.com/spaghettifunk/vulture/engine/core"
	"github.com/spaghettifunk/vulture/engine/renderer/device"
	"github.com/spaghettifunk/vulture/engine/renderer/headless"
	"github.com/spaghettifunk/vulture/engine/renderer/vulkan"
	"github.com/spaghettifunk/vulture/testbed"
)

func main() {
	configPath := flag.String("config", "vulture.toml", "path of the TOML configuration")
	deviceName := flag.String("device", "", "device backend, headless or vulkan; overrides the configuration")
	frames := flag.Uint64("frames", 600, "frames to run, 0 runs until interrupted")
	boxes := flag.Int("boxes", 64, "number of boxes in the scene")
	rebuildEvery := flag.Uint64("rebuild-every", 120, "full rebuild period in frames, 0 only refits")
	fps := flag.Float64("fps", 60, "frame rate cap, 0 disables it")
	flag.Parse()

	config, err := core.LoadConfig(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		core.LogWarn("%s not found, using the default configuration", *configPath)
		config, err = core.DefaultConfig(), nil
		*configPath = ""
	}
	if err != nil {
		os.Exit(1)
	}
	if *deviceName != "" {
		config.Renderer.Device = *deviceName
		if err := config.Validate(); err != nil {
			core.LogError(err.Error())
			os.Exit(1)
		}
	}

	app := &engine.ApplicationConfig{
		Name:            "Vulture",
		ConfigPath:      *configPath,
		MaxFrames:       *frames,
		TargetFrameRate: *fps,
	}
	game := testbed.NewTestGame(app, testbed.SceneConfig{
		Boxes:        *boxes,
		RebuildEvery: *rebuildEvery,
	})

	dev, closeDevice, err := openDevice(config)
	if err != nil {
		os.Exit(1)
	}
	e, err := engine.New(game.Game, dev, config)
	if err != nil {
		closeDevice()
		os.Exit(1)
	}
	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		closeDevice()
		os.Exit(1)
	}

	// capture sigterm and other system call here
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown failed: %s", err)
		os.Exit(1)
	}
	closeDevice()
	if runErr != nil {
		os.Exit(1)
	}
	if hd, ok := dev.(*headless.Device); ok {
		core.LogInfo("peak device memory %d bytes, %d objects destroyed, %.0f fps",
			hd.PeakAllocated(), hd.DestroyedCount(), e.Metrics().FPS())
	} else {
		core.LogInfo("%.0f fps", e.Metrics().FPS())
	}
}

// openDevice creates the backend named by the configuration. The returned
// func releases it once the engine shut down.
func openDevice(config *core.Config) (device.Device, func(), error) {
	switch config.Renderer.Device {
	case core.DeviceVulkan:
		vb, err := vulkan.New(vulkan.ContextConfig{
			AppName: "Vulture",
			Debug:   config.Log.Level == "debug",
		})
		if err != nil {
			if errors.Is(err, core.ErrNotInitialized) {
				core.LogError("no ray tracing loader compiled in, rebuild with -tags vulture_khr or use -device headless")
			}
			return nil, nil, err
		}
		return vb, vb.Shutdown, nil
	default:
		return headless.New(headless.WithName("vulture-headless")), func() {}, nil
	}
}
