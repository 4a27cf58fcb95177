package sim

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pthm-cable/gridflock/frame"
	"github.com/pthm-cable/gridflock/telemetry"
)

// openOutputs creates the CSV output directory and the frame stream.
func (s *Simulation) openOutputs(opts Options) error {
	om, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return err
	}
	s.output = om
	if err := s.output.WriteConfig(s.cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if opts.FramesPath == "" {
		return nil
	}
	f, err := os.Create(opts.FramesPath)
	if err != nil {
		return fmt.Errorf("creating frame stream: %w", err)
	}
	s.framesFile = f
	s.frames = frame.NewWriter(f)
	s.frameEvery = opts.FrameEvery
	if s.frameEvery < 1 {
		s.frameEvery = 1
	}
	return nil
}

// flushTelemetry checks if the stats window should be flushed.
func (s *Simulation) flushTelemetry() {
	if !s.collector.ShouldFlush(s.tick) {
		return
	}

	stats := s.collector.Flush(s.tick, s.sample())
	perfStats := s.perf.Stats()

	if s.onStats != nil {
		s.onStats(stats)
	}

	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if s.output != nil {
		if err := s.output.WriteTelemetry(stats); err != nil {
			slog.Error("failed to write telemetry", "error", err)
		}
		if err := s.output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}
}

// sample collects the end-of-window distributions from the latest state.
func (s *Simulation) sample() telemetry.Sample {
	n := s.cur.Len()
	neighbours := make([]float64, n)
	speeds := make([]float64, n)
	for i := 0; i < n; i++ {
		neighbours[i] = float64(s.cur.Scalar[i])
		speeds[i] = float64(s.cur.Vel[i].Len())
	}
	return telemetry.Sample{
		ScalarMin:   s.scalarRange.Min,
		ScalarMax:   s.scalarRange.Max,
		Neighbours:  neighbours,
		Speeds:      speeds,
		TreeNodes:   len(s.nodes),
		TreeDropped: s.dropped,
	}
}

// writeFrame appends the current state to the frame stream when due.
func (s *Simulation) writeFrame() error {
	if s.frames == nil || int(s.tick)%s.frameEvery != 0 {
		return nil
	}
	if err := s.frames.Write(s.Frame()); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
