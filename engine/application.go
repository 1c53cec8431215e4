package engine

type ApplicationConfig struct {
	// The application name, used in logs and as the Vulkan application name.
	Name string
	// Path of the TOML configuration. When set, the file is watched and
	// changes are applied between frames.
	ConfigPath string
	// MaxFrames stops the main loop after that many frames. Zero runs until
	// the context is cancelled.
	MaxFrames uint64
	// TargetFrameRate caps the loop, in frames per second. Zero disables
	// the cap.
	TargetFrameRate float64
}
