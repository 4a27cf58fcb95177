// Package sim runs the flocking pipeline one step at a time.
//
// A step is a fixed sequence of phases, each a barrier-separated dispatch on
// the shared worker pool:
//
//	snapshot -> flock -> reduce -> cells -> sort -> reindex -> tree -> apply
//
// The partition built by sort and reindex is consumed by the flock phase of
// the following step.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/gridflock/agents"
	"github.com/pthm-cable/gridflock/compute"
	"github.com/pthm-cable/gridflock/config"
	"github.com/pthm-cable/gridflock/flock"
	"github.com/pthm-cable/gridflock/frame"
	"github.com/pthm-cable/gridflock/grid"
	"github.com/pthm-cable/gridflock/octree"
	"github.com/pthm-cable/gridflock/reduce"
	"github.com/pthm-cable/gridflock/space"
	"github.com/pthm-cable/gridflock/telemetry"
)

// ErrHalted is returned by Step once a previous step failed to dispatch.
var ErrHalted = errors.New("simulation halted")

// Simulation holds the complete pipeline state.
type Simulation struct {
	cfg   *config.Config
	sc    *space.Config
	store *agents.Store
	pool  *compute.Pool

	// cur holds the state the next step reads; next is scratch for its output
	cur, next agents.Buffers

	cells     *grid.CellPass
	sorter    *grid.Sorter
	reindexer *grid.Reindexer
	part      grid.Partition

	kernel  *flock.Kernel
	naive   *flock.Naive
	reducer *reduce.Reducer
	tree    *octree.Tree

	nodes       []octree.Node
	dropped     int
	scalarRange reduce.Range

	tick   int32
	halted error

	// Telemetry
	perf       *telemetry.PerfCollector
	collector  *telemetry.Collector
	output     *telemetry.OutputManager
	logStats   bool
	onStats    func(telemetry.WindowStats)
	frames     *frame.Writer
	framesFile *os.File
	frameEvery int
}

// New creates a simulation with a freshly spawned population.
func New(cfg *config.Config, opts Options) (*Simulation, error) {
	store := agents.NewStore()
	store.Spawn(rand.New(rand.NewSource(opts.Seed)), cfg.Population.Size, cfg.Spatial())
	return NewWithStore(cfg, store, opts)
}

// NewWithStore creates a simulation over an existing population. The store
// must not gain or lose agents afterwards.
func NewWithStore(cfg *config.Config, store *agents.Store, opts Options) (*Simulation, error) {
	sc := cfg.Spatial()

	workers := cfg.Compute.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	pool := compute.NewPool(workers)
	group := cfg.Compute.WorkgroupSize

	weights := flock.Weights{
		Align:      float32(cfg.Flocking.AlignWeight),
		Cohesion:   float32(cfg.Flocking.CohesionWeight),
		Separation: float32(cfg.Flocking.SeparationWeight),
	}

	statsWindow := cfg.Telemetry.StatsWindow
	if opts.StatsWindow > 0 {
		statsWindow = opts.StatsWindow
	}

	s := &Simulation{
		cfg:       cfg,
		sc:        sc,
		store:     store,
		pool:      pool,
		cells:     grid.NewCellPass(pool, group, sc),
		sorter:    grid.NewSorter(pool, cfg.Compute.InvocationWidth),
		reindexer: grid.NewReindexer(pool, group, sc.CellCount()),
		kernel:    flock.NewKernel(pool, group, sc, weights),
		naive:     flock.NewNaive(pool, group, sc, weights),
		reducer:   reduce.New(pool, group),
		tree:      octree.New(pool, cfg.Tree.MemoryLimit, cfg.Tree.SplitThreshold, cfg.Tree.MaxDepth),
		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		collector: telemetry.NewCollector(statsWindow),
		logStats:  opts.LogStats,
		onStats:   opts.StatsCallback,
	}

	if err := s.openOutputs(opts); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.prime(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// prime builds the initial partition, scalar range and tree.
func (s *Simulation) prime() error {
	s.store.Snapshot(&s.cur)
	n := s.cur.Len()

	if s.cfg.Pipeline.Mode != config.ModeNaive {
		if _, err := s.cells.Run(s.cur.Pos, s.cur.Cell); err != nil {
			return fmt.Errorf("priming partition: %w", err)
		}
		if err := s.rebuildPartition(s.cur.Cell); err != nil {
			return fmt.Errorf("priming partition: %w", err)
		}
	}

	r, err := s.reducer.Reduce(s.cur.Scalar)
	if err != nil {
		return fmt.Errorf("priming scalar range: %w", err)
	}
	s.setRange(r)

	if s.cfg.Tree.Interval > 0 {
		return s.buildTree(s.cur.Pos)
	}
	s.nodes = []octree.Node{{Low: s.sc.Low, High: s.sc.High, Count: int32(n)}}
	return nil
}

func (s *Simulation) rebuildPartition(cells []uint32) error {
	if err := s.sorter.Sort(cells); err != nil {
		return err
	}
	if err := s.reindexer.Reindex(s.sorter.Keys()); err != nil {
		return err
	}
	s.part = grid.From(s.sorter, s.reindexer)
	return nil
}

func (s *Simulation) buildTree(pos []mgl32.Vec3) error {
	nodes, err := s.tree.Build(pos, s.sc.Low, s.sc.High)
	if err != nil {
		return err
	}
	s.nodes = nodes
	s.dropped = s.tree.Dropped()
	return nil
}

func (s *Simulation) setRange(r reduce.Range) {
	s.scalarRange = r
	s.store.SetScalarRange(r.Min, r.Max)
}

// Step advances the simulation by one tick. A dispatch failure is fatal: the
// error is returned and every later call returns ErrHalted. Frame stream
// errors are returned but do not halt.
func (s *Simulation) Step() error {
	if s.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, s.halted)
	}
	if err := s.step(); err != nil {
		s.halted = err
		slog.Error("simulation halted", "tick", s.tick, "error", err)
		return fmt.Errorf("step %d: %w", s.tick, err)
	}
	return s.writeFrame()
}

func (s *Simulation) step() error {
	s.perf.StartTick()

	s.perf.StartPhase(telemetry.PhaseSnapshot)
	s.store.Snapshot(&s.cur)
	s.next.Resize(s.cur.Len())

	s.perf.StartPhase(telemetry.PhaseFlock)
	var err error
	if s.cfg.Pipeline.Mode == config.ModeNaive {
		err = s.naive.Step(&s.cur, &s.next)
	} else {
		err = s.kernel.Step(&s.cur, &s.next, &s.part)
	}
	if err != nil {
		return err
	}

	s.perf.StartPhase(telemetry.PhaseReduce)
	r, err := s.reducer.Reduce(s.next.Scalar)
	if err != nil {
		return err
	}
	s.setRange(r)

	if s.cfg.Pipeline.Mode != config.ModeNaive {
		if err := s.updatePartition(); err != nil {
			return err
		}
	}

	if iv := s.cfg.Tree.Interval; iv > 0 && int(s.tick+1)%iv == 0 {
		s.perf.StartPhase(telemetry.PhaseTree)
		if err := s.buildTree(s.next.Pos); err != nil {
			return err
		}
	}

	s.perf.StartPhase(telemetry.PhaseApply)
	s.store.Apply(&s.next)
	s.cur, s.next = s.next, s.cur

	s.tick++
	s.perf.EndTick()

	s.flushTelemetry()
	return nil
}

// updatePartition recomputes cell ids of the new positions and rebuilds the
// partition unless the resort policy allows reusing it.
func (s *Simulation) updatePartition() error {
	s.perf.StartPhase(telemetry.PhaseCells)
	copy(s.next.Cell, s.cur.Cell)
	changed, err := s.cells.Run(s.next.Pos, s.next.Cell)
	if err != nil {
		return err
	}

	if !changed && s.cfg.Pipeline.Resort == config.ResortOnChange {
		s.collector.RecordResortSkipped()
		return nil
	}

	s.perf.StartPhase(telemetry.PhaseSort)
	if err := s.sorter.Sort(s.next.Cell); err != nil {
		return err
	}
	s.perf.StartPhase(telemetry.PhaseReindex)
	if err := s.reindexer.Reindex(s.sorter.Keys()); err != nil {
		return err
	}
	s.part = grid.From(s.sorter, s.reindexer)
	s.collector.RecordResort()
	return nil
}

// Tick returns the number of completed steps.
func (s *Simulation) Tick() int32 {
	return s.tick
}

// Halted returns the dispatch error that stopped the simulation, if any.
func (s *Simulation) Halted() error {
	return s.halted
}

// Range returns the global scalar range of the last step.
func (s *Simulation) Range() reduce.Range {
	return s.scalarRange
}

// Nodes returns the current occupancy boxes, root first.
func (s *Simulation) Nodes() []octree.Node {
	return s.nodes
}

// Dropped returns how many tree nodes the last rebuild refused.
func (s *Simulation) Dropped() int {
	return s.dropped
}

// Partition returns the partition the next step will scan.
func (s *Simulation) Partition() *grid.Partition {
	return &s.part
}

// View returns the read-only agent view for the rendering side.
func (s *Simulation) View() agents.View {
	return s.store.View()
}

// Spatial returns the spatial configuration in use.
func (s *Simulation) Spatial() *space.Config {
	return s.sc
}

// Frame returns a copy of the current state as a frame.
func (s *Simulation) Frame() *frame.Frame {
	n := s.cur.Len()
	f := &frame.Frame{
		Tick:       uint64(s.tick),
		Positions:  make([]mgl32.Vec3, n),
		Velocities: make([]mgl32.Vec3, n),
		Scalars:    make([]float32, n),
		ScalarMin:  s.scalarRange.Min,
		ScalarMax:  s.scalarRange.Max,
		Boxes:      make([]frame.Box, len(s.nodes)),
		Dropped:    uint32(s.dropped),
	}
	copy(f.Positions, s.cur.Pos)
	copy(f.Velocities, s.cur.Vel)
	copy(f.Scalars, s.cur.Scalar)
	for i, node := range s.nodes {
		f.Boxes[i] = frame.Box{Low: node.Low, High: node.High}
	}
	return f
}

// Close stops the workers and flushes and closes all outputs.
func (s *Simulation) Close() error {
	s.pool.Stop()

	var firstErr error
	if s.frames != nil {
		if err := s.frames.Flush(); err != nil {
			firstErr = err
		}
		s.frames = nil
	}
	if s.framesFile != nil {
		if err := s.framesFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.framesFile = nil
	}
	if err := s.output.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.output = nil
	return firstErr
}
