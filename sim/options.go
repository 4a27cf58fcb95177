package sim

import "github.com/pthm-cable/gridflock/telemetry"

// Options holds runtime settings that are not part of the config file.
type Options struct {
	Seed        int64 // RNG seed for the initial population
	Workers     int   // Overrides compute.workers when > 0
	LogStats    bool  // Log window and perf stats via slog
	StatsWindow int   // Overrides telemetry.stats_window when > 0

	// OutputDir enables CSV telemetry and a copy of the config (empty = disabled).
	OutputDir string

	// FramesPath enables the frame stream (empty = disabled).
	FramesPath string
	FrameEvery int // Write every N ticks; 0 means every tick

	// StatsCallback is called with every flushed stats window.
	StatsCallback func(telemetry.WindowStats)
}
