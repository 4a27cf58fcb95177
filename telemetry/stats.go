package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated flock statistics for a window of ticks.
type WindowStats struct {
	WindowStartTick int32 `csv:"-"`
	WindowEndTick   int32 `csv:"window_end"`
	Agents          int   `csv:"agents"`

	// Global scalar range from the reducer at window end
	ScalarMin float64 `csv:"scalar_min"`
	ScalarMax float64 `csv:"scalar_max"`

	// Neighbour counts at window end
	NeighboursMean float64 `csv:"neighbours_mean"`
	NeighboursStd  float64 `csv:"neighbours_std"`
	NeighboursP10  float64 `csv:"neighbours_p10"`
	NeighboursP50  float64 `csv:"neighbours_p50"`
	NeighboursP90  float64 `csv:"neighbours_p90"`

	SpeedMean float64 `csv:"speed_mean"`
	SpeedMax  float64 `csv:"speed_max"`

	// Occupancy tree at window end
	TreeNodes   int `csv:"tree_nodes"`
	TreeDropped int `csv:"tree_dropped"`

	// Partition rebuilds during the window
	Resorts        int `csv:"resorts"`
	ResortsSkipped int `csv:"resorts_skipped"`
}

// Distribution summarises a sample.
type Distribution struct {
	Mean, Std     float64
	P10, P50, P90 float64
	Max           float64
}

// Percentile calculates the p-th percentile of a sorted slice by linear
// interpolation between closest ranks. p should be in [0, 1]. Returns 0 if
// the slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Describe computes the mean, population standard deviation, percentiles and
// maximum of values. values is not modified.
func Describe(values []float64) Distribution {
	n := len(values)
	if n == 0 {
		return Distribution{}
	}

	mean, std := stat.PopMeanStdDev(values, nil)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	return Distribution{
		Mean: mean,
		Std:  std,
		P10:  Percentile(sorted, 0.10),
		P50:  Percentile(sorted, 0.50),
		P90:  Percentile(sorted, 0.90),
		Max:  sorted[n-1],
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", int(s.WindowStartTick)),
		slog.Int("window_end", int(s.WindowEndTick)),
		slog.Int("agents", s.Agents),
		slog.Float64("scalar_min", s.ScalarMin),
		slog.Float64("scalar_max", s.ScalarMax),
		slog.Float64("neighbours_mean", s.NeighboursMean),
		slog.Float64("neighbours_std", s.NeighboursStd),
		slog.Float64("neighbours_p10", s.NeighboursP10),
		slog.Float64("neighbours_p50", s.NeighboursP50),
		slog.Float64("neighbours_p90", s.NeighboursP90),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_max", s.SpeedMax),
		slog.Int("tree_nodes", s.TreeNodes),
		slog.Int("tree_dropped", s.TreeDropped),
		slog.Int("resorts", s.Resorts),
		slog.Int("resorts_skipped", s.ResortsSkipped),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
