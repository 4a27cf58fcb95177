// Package flock implements the per-agent flocking update: alignment, cohesion
// and separation over neighbours inside the flocking zone.
//
// Kernels read the current buffers and write the next ones. Agent a only ever
// writes slot a of the next buffers, so workgroups never contend.
package flock

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/gridflock/agents"
	"github.com/pthm-cable/gridflock/compute"
	"github.com/pthm-cable/gridflock/grid"
	"github.com/pthm-cable/gridflock/space"
)

// Weights scale the three steering terms before the force clamp.
type Weights struct {
	Align      float32
	Cohesion   float32
	Separation float32
}

// DefaultWeights weighs every term equally.
func DefaultWeights() Weights {
	return Weights{Align: 1, Cohesion: 1, Separation: 1}
}

// accum gathers the neighbour sums for one agent.
type accum struct {
	count  int
	sumVel mgl32.Vec3
	sumPos mgl32.Vec3
	sep    mgl32.Vec3
}

func (acc *accum) add(p, pb, vb mgl32.Vec3, zoneSq float32) {
	d := p.Sub(pb)
	d2 := d.LenSqr()
	if d2 >= zoneSq {
		return
	}
	acc.count++
	acc.sumVel = acc.sumVel.Add(vb)
	acc.sumPos = acc.sumPos.Add(pb)
	// Coincident agents have no direction to push apart along.
	if d2 > 0 {
		acc.sep = acc.sep.Add(d.Mul(1 / d2))
	}
}

// steer returns the clamped steering force for an agent at p moving at v.
func (acc *accum) steer(p, v mgl32.Vec3, w Weights, sc *space.Config) mgl32.Vec3 {
	if acc.count == 0 {
		return mgl32.Vec3{}
	}
	inv := 1 / float32(acc.count)
	align := acc.sumVel.Mul(inv).Sub(v)
	cohesion := acc.sumPos.Mul(inv).Sub(p)

	f := align.Mul(w.Align).
		Add(cohesion.Mul(w.Cohesion)).
		Add(acc.sep.Mul(w.Separation))
	return sc.ClampForce(f)
}

// integrate applies the force and writes agent a into next.
func integrate(a uint32, p, v mgl32.Vec3, acc *accum, w Weights, sc *space.Config, next *agents.Buffers) {
	force := acc.steer(p, v, w, sc)
	v = sc.ClampSpeed(v.Add(force))
	p, v = sc.Contain(p.Add(v), v)

	next.Pos[a] = p
	next.Vel[a] = v
	next.Force[a] = force
	next.Scalar[a] = float32(acc.count)
}

// Kernel is the FlockingKernel: it restricts the neighbour scan to the 3x3x3
// block of grid cells around each agent.
type Kernel struct {
	pool      *compute.Pool
	groupSize int
	sc        *space.Config
	weights   Weights
}

// NewKernel creates a grid flocking kernel.
func NewKernel(pool *compute.Pool, groupSize int, sc *space.Config, w Weights) *Kernel {
	return &Kernel{pool: pool, groupSize: groupSize, sc: sc, weights: w}
}

// Step updates every agent of cur into next. part must partition cur's
// positions. Agents are visited in sorted order so a workgroup walks
// neighbouring cells.
func (k *Kernel) Step(cur, next *agents.Buffers, part *grid.Partition) error {
	n := cur.Len()
	next.Resize(n)
	if part.Len() != n {
		return fmt.Errorf("partition holds %d agents, population is %d", part.Len(), n)
	}

	sc := k.sc
	res := sc.GridRes
	zoneSq := sc.ZoneSq()

	err := k.pool.Dispatch(n, k.groupSize, func(_, lo, hi int) {
		for s := lo; s < hi; s++ {
			a := part.Indices[s]
			p, v := cur.Pos[a], cur.Vel[a]
			cc := sc.CellCoords(p)

			var acc accum
			for dz := -1; dz <= 1; dz++ {
				z := int(cc[2]) + dz
				if z < 0 || z >= int(res[2]) {
					continue
				}
				for dy := -1; dy <= 1; dy++ {
					y := int(cc[1]) + dy
					if y < 0 || y >= int(res[1]) {
						continue
					}
					for dx := -1; dx <= 1; dx++ {
						x := int(cc[0]) + dx
						if x < 0 || x >= int(res[0]) {
							continue
						}
						for _, b := range part.Cell(sc.Flatten(uint32(x), uint32(y), uint32(z))) {
							if b == a {
								continue
							}
							acc.add(p, cur.Pos[b], cur.Vel[b], zoneSq)
						}
					}
				}
			}
			integrate(a, p, v, &acc, k.weights, sc, next)
		}
	})
	if err != nil {
		return fmt.Errorf("flock: %w", err)
	}
	return nil
}

// Naive is the all-pairs flocking kernel. It needs no partition.
type Naive struct {
	pool      *compute.Pool
	groupSize int
	sc        *space.Config
	weights   Weights
}

// NewNaive creates an all-pairs flocking kernel.
func NewNaive(pool *compute.Pool, groupSize int, sc *space.Config, w Weights) *Naive {
	return &Naive{pool: pool, groupSize: groupSize, sc: sc, weights: w}
}

// Step updates every agent of cur into next.
func (k *Naive) Step(cur, next *agents.Buffers) error {
	n := cur.Len()
	next.Resize(n)
	zoneSq := k.sc.ZoneSq()

	err := k.pool.Dispatch(n, k.groupSize, func(_, lo, hi int) {
		for i := lo; i < hi; i++ {
			p, v := cur.Pos[i], cur.Vel[i]
			var acc accum
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				acc.add(p, cur.Pos[j], cur.Vel[j], zoneSq)
			}
			integrate(uint32(i), p, v, &acc, k.weights, k.sc, next)
		}
	})
	if err != nil {
		return fmt.Errorf("flock naive: %w", err)
	}
	return nil
}
