// Package reduce implements the StatsReducer: a two-phase parallel min/max.
package reduce

import (
	"fmt"

	"github.com/pthm-cable/gridflock/compute"
)

// Range is a global (min, max) pair.
type Range struct {
	Min, Max float32
}

// Reducer computes the range of a per-agent scalar. Phase one reduces each
// workgroup's slice into its own scratch pair; after the barrier a single
// workgroup folds the scratch into the result.
type Reducer struct {
	pool      *compute.Pool
	groupSize int

	// scratch[2g] and scratch[2g+1] are the min and max of group g
	scratch []float32
}

// New creates a reducer with workgroups of groupSize values.
func New(pool *compute.Pool, groupSize int) *Reducer {
	return &Reducer{pool: pool, groupSize: groupSize}
}

// Reduce returns the range of values. An empty slice gives (0, 0).
func (r *Reducer) Reduce(values []float32) (Range, error) {
	n := len(values)
	if n == 0 {
		return Range{}, nil
	}

	groups := compute.Groups(n, r.groupSize)
	if cap(r.scratch) < 2*groups {
		r.scratch = make([]float32, 2*groups)
	}
	r.scratch = r.scratch[:2*groups]

	err := r.pool.Dispatch(n, r.groupSize, func(group, lo, hi int) {
		lo32, hi32 := values[lo], values[lo]
		for _, v := range values[lo+1 : hi] {
			if v < lo32 {
				lo32 = v
			}
			if v > hi32 {
				hi32 = v
			}
		}
		r.scratch[2*group] = lo32
		r.scratch[2*group+1] = hi32
	})
	if err != nil {
		return Range{}, fmt.Errorf("reduce groups: %w", err)
	}

	var out Range
	err = r.pool.Dispatch(groups, groups, func(_, lo, hi int) {
		out = Range{Min: r.scratch[2*lo], Max: r.scratch[2*lo+1]}
		for g := lo + 1; g < hi; g++ {
			if m := r.scratch[2*g]; m < out.Min {
				out.Min = m
			}
			if m := r.scratch[2*g+1]; m > out.Max {
				out.Max = m
			}
		}
	})
	if err != nil {
		return Range{}, fmt.Errorf("reduce final: %w", err)
	}
	return out, nil
}

// Scratch returns the per-group partial pairs of the last Reduce.
func (r *Reducer) Scratch() []float32 {
	return r.scratch
}
