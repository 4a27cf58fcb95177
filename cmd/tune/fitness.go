package main

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/gridflock/config"
	"github.com/pthm-cable/gridflock/sim"
	"github.com/pthm-cable/gridflock/telemetry"
)

// failedFitness is assigned to runs that could not complete.
const failedFitness = 1e6

// Fitness component weights.
const (
	weightTarget    = 1.0
	weightStability = 0.5

	warmupWindows = 2 // skip first N windows while the flock forms
)

// FitnessEvaluator runs headless simulations and computes fitness.
type FitnessEvaluator struct {
	params      *ParamVector
	ticks       int32
	seeds       []int64
	baseConfig  *config.Config
	statsWindow int
	target      float64 // desired mean neighbour count

	mu          sync.Mutex
	lastQuality float64
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, ticks int32, seeds []int64, baseCfg *config.Config, target float64) *FitnessEvaluator {
	window := int(ticks) / 10
	if window < 1 {
		window = 1
	}
	return &FitnessEvaluator{
		params:      params,
		ticks:       ticks,
		seeds:       seeds,
		baseConfig:  baseCfg,
		statsWindow: window,
		target:      target,
	}
}

// LastQuality returns the quality score from the most recent evaluation.
func (fe *FitnessEvaluator) LastQuality() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastQuality
}

// Evaluate computes fitness for a parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]float64, len(fe.seeds))
	qualities := make([]float64, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			windows, err := fe.runSimulation(x, s)
			if err != nil {
				results[idx] = failedFitness
				return
			}
			results[idx] = fe.computeFitness(windows)
			qualities[idx] = fe.computeQuality(windows)
		}(i, seed)
	}
	wg.Wait()

	fitness := stat.Mean(results, nil)

	fe.mu.Lock()
	fe.lastQuality = stat.Mean(qualities, nil)
	fe.mu.Unlock()

	return fitness
}

// runSimulation executes a single headless run and returns its stats windows.
func (fe *FitnessEvaluator) runSimulation(x []float64, seed int64) ([]telemetry.WindowStats, error) {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)

	var windows []telemetry.WindowStats
	s, err := sim.New(cfg, sim.Options{
		Seed:        seed,
		Workers:     1, // seeds already run in parallel
		StatsWindow: fe.statsWindow,
		StatsCallback: func(stats telemetry.WindowStats) {
			windows = append(windows, stats)
		},
	})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	for s.Tick() < fe.ticks {
		if err := s.Step(); err != nil {
			return nil, fmt.Errorf("seed %d: %w", seed, err)
		}
	}
	return windows, nil
}

// copyConfig returns a copy of the base config. Config holds only values,
// so a struct copy is deep.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	return &cfg
}

// computeFitness calculates the scalar fitness (lower = better):
// squared log error of the mean neighbour count against the target, plus a
// penalty for window-to-window variation.
func (fe *FitnessEvaluator) computeFitness(windows []telemetry.WindowStats) float64 {
	means := neighbourMeans(windows)
	if len(means) == 0 {
		return failedFitness
	}

	var errSum float64
	for _, m := range means {
		e := math.Log((m + 1) / (fe.target + 1))
		errSum += e * e
	}
	targetErr := errSum / float64(len(means))

	c := cv(means)
	return weightTarget*targetErr + weightStability*c*c
}

// computeQuality maps fitness to [0, 1] for progress output.
func (fe *FitnessEvaluator) computeQuality(windows []telemetry.WindowStats) float64 {
	return clamp01(math.Exp(-fe.computeFitness(windows)))
}

// neighbourMeans returns the per-window mean neighbour count after warmup.
func neighbourMeans(windows []telemetry.WindowStats) []float64 {
	if len(windows) <= warmupWindows {
		return nil
	}
	valid := windows[warmupWindows:]
	means := make([]float64, len(valid))
	for i, w := range valid {
		means[i] = w.NeighboursMean
	}
	return means
}

// cv computes the coefficient of variation (std/mean) for a slice of values.
func cv(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}

// clamp01 clamps x to [0, 1].
func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
