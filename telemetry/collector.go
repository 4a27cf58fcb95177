package telemetry

// Sample is the end-of-window state the collector summarises.
type Sample struct {
	ScalarMin, ScalarMax float32
	Neighbours           []float64 // per-agent neighbour count
	Speeds               []float64 // per-agent |velocity|
	TreeNodes            int
	TreeDropped          int
}

// Collector accumulates events within windows of ticks and produces
// WindowStats.
type Collector struct {
	windowTicks     int32
	windowStartTick int32

	// Event counters for current window
	resorts        int
	resortsSkipped int
}

// NewCollector creates a stats collector flushing every windowTicks ticks.
func NewCollector(windowTicks int) *Collector {
	if windowTicks < 1 {
		windowTicks = 1
	}
	return &Collector{windowTicks: int32(windowTicks)}
}

// RecordResort records a partition rebuild.
func (c *Collector) RecordResort() {
	c.resorts++
}

// RecordResortSkipped records a step that reused the previous partition.
func (c *Collector) RecordResortSkipped() {
	c.resortsSkipped++
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int32) bool {
	return currentTick-c.windowStartTick >= c.windowTicks
}

// Flush produces a WindowStats and resets counters for the next window.
func (c *Collector) Flush(currentTick int32, s Sample) WindowStats {
	nb := Describe(s.Neighbours)
	speed := Describe(s.Speeds)

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		Agents:          len(s.Neighbours),

		ScalarMin: float64(s.ScalarMin),
		ScalarMax: float64(s.ScalarMax),

		NeighboursMean: nb.Mean,
		NeighboursStd:  nb.Std,
		NeighboursP10:  nb.P10,
		NeighboursP50:  nb.P50,
		NeighboursP90:  nb.P90,

		SpeedMean: speed.Mean,
		SpeedMax:  speed.Max,

		TreeNodes:   s.TreeNodes,
		TreeDropped: s.TreeDropped,

		Resorts:        c.resorts,
		ResortsSkipped: c.resortsSkipped,
	}

	c.windowStartTick = currentTick
	c.resorts = 0
	c.resortsSkipped = 0

	return stats
}

// WindowTicks returns the number of ticks per window.
func (c *Collector) WindowTicks() int32 {
	return c.windowTicks
}
