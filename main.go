package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pthm-cable/gridflock/config"
	"github.com/pthm-cable/gridflock/sim"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	statsWindow := flag.Int("stats-window", 0, "Stats window size in ticks (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	framesPath := flag.String("frames", "", "Write a length-delimited frame stream to this file")
	frameEvery := flag.Int("frame-every", 1, "Write a frame every N ticks")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	workers := flag.Int("workers", 0, "Worker goroutines (0 = use config)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	opts := sim.Options{
		Seed:        rngSeed,
		Workers:     *workers,
		LogStats:    *logStats,
		StatsWindow: *statsWindow,
		OutputDir:   *outputDir,
		FramesPath:  *framesPath,
		FrameEvery:  *frameEvery,
	}

	s, err := sim.New(cfg, opts)
	if err != nil {
		slog.Error("failed to create simulation", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	sc := s.Spatial()
	slog.Info("starting simulation",
		"seed", rngSeed,
		"agents", cfg.Population.Size,
		"mode", cfg.Pipeline.Mode,
		"resort", cfg.Pipeline.Resort,
		"grid_res", sc.GridRes,
		"cell_size", sc.CellSize,
		"max_ticks", *maxTicks,
	)

	code := run(s, *maxTicks, stop)
	if err := s.Close(); err != nil {
		slog.Error("failed to close outputs", "error", err)
		code = 1
	}
	os.Exit(code)
}

// run steps until maxTicks, a signal, or a dispatch failure.
func run(s *sim.Simulation, maxTicks int, stop <-chan os.Signal) int {
	for {
		select {
		case sig := <-stop:
			slog.Info("interrupted", "signal", sig.String(), "tick", s.Tick())
			return 0
		default:
		}

		if err := s.Step(); err != nil {
			if s.Halted() != nil {
				return 1
			}
			// Frame stream errors leave the simulation runnable.
			slog.Error("step failed", "tick", s.Tick(), "error", err)
		}

		if maxTicks > 0 && int(s.Tick()) >= maxTicks {
			slog.Info("max ticks reached", "tick", s.Tick())
			return 0
		}
	}
}
