package telemetry

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pthm-cable/gridflock/config"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	values := []float64{4, 2, 0, 6, 8}
	d := Describe(values)

	if math.Abs(d.Mean-4) > 1e-9 {
		t.Errorf("mean = %v, want 4", d.Mean)
	}
	// Population std of {0,2,4,6,8} is sqrt(8)
	if math.Abs(d.Std-math.Sqrt(8)) > 1e-9 {
		t.Errorf("std = %v, want %v", d.Std, math.Sqrt(8))
	}
	if d.P50 != 4 || d.Max != 8 {
		t.Errorf("p50 = %v max = %v", d.P50, d.Max)
	}
	if values[0] != 4 {
		t.Error("input was reordered")
	}

	if (Describe(nil) != Distribution{}) {
		t.Error("empty input should give a zero distribution")
	}
}

func TestCollectorFlush(t *testing.T) {
	c := NewCollector(10)
	if c.ShouldFlush(9) {
		t.Error("flush before window end")
	}
	if !c.ShouldFlush(10) {
		t.Error("no flush at window end")
	}

	c.RecordResort()
	c.RecordResort()
	c.RecordResortSkipped()
	stats := c.Flush(10, Sample{
		ScalarMin:   0,
		ScalarMax:   3,
		Neighbours:  []float64{0, 1, 2, 3},
		Speeds:      []float64{1, 2, 2, 1},
		TreeNodes:   9,
		TreeDropped: 1,
	})

	if stats.Agents != 4 || stats.Resorts != 2 || stats.ResortsSkipped != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.NeighboursMean != 1.5 || stats.SpeedMax != 2 || stats.ScalarMax != 3 {
		t.Errorf("stats = %+v", stats)
	}

	next := c.Flush(20, Sample{})
	if next.WindowStartTick != 10 || next.Resorts != 0 {
		t.Errorf("counters not reset: %+v", next)
	}
}

func TestOutputManager(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, end := range []int32{10, 20} {
		if err := om.WriteTelemetry(WindowStats{WindowEndTick: end, Agents: 4}); err != nil {
			t.Fatal(err)
		}
		if err := om.WritePerf(NewPerfCollector(1).Stats(), end); err != nil {
			t.Fatal(err)
		}
	}
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := om.WriteConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "telemetry.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("telemetry.csv has %d lines, want header + 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "window_end,agents,") {
		t.Errorf("header = %q", lines[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("config.yaml: %v", err)
	}
}

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("om = %v, err = %v", om, err)
	}
	// Methods are nil-safe.
	if err := om.WriteTelemetry(WindowStats{}); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}
