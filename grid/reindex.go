package grid

import (
	"fmt"

	"github.com/pthm-cable/gridflock/compute"
)

// Reindexer is the GridReindexer. It derives the cell offset table from the
// sorted keys: offsets[c] is the first sorted position holding cell c, and
// offsets[cellCount] is the population size.
type Reindexer struct {
	pool      *compute.Pool
	groupSize int
	cellCount int
	offsets   []uint32
}

// NewReindexer creates a reindexer for a grid of cellCount cells.
func NewReindexer(pool *compute.Pool, groupSize, cellCount int) *Reindexer {
	if cellCount < 1 {
		cellCount = 1
	}
	return &Reindexer{
		pool:      pool,
		groupSize: groupSize,
		cellCount: cellCount,
		offsets:   make([]uint32, cellCount+1),
	}
}

// CellCount returns the number of cells covered.
func (r *Reindexer) CellCount() int {
	return r.cellCount
}

// Reindex rebuilds the offset table from keys, which must be sorted ascending
// and hold ids below CellCount.
//
// Each position k looks at its predecessor. When k opens a new run it fills
// every offset from just past the previous run's cell up to its own cell, so
// empty cells in between resolve to k. The last position also closes every
// cell after its own. Those ranges are disjoint, so every entry has exactly
// one writer.
func (r *Reindexer) Reindex(keys []uint32) error {
	n := len(keys)
	if n == 0 {
		for c := range r.offsets {
			r.offsets[c] = 0
		}
		return nil
	}

	err := r.pool.Dispatch(n, r.groupSize, func(_, lo, hi int) {
		for k := lo; k < hi; k++ {
			c := int(keys[k])
			prev := -1
			if k > 0 {
				prev = int(keys[k-1])
			}
			if prev != c {
				for x := prev + 1; x <= c; x++ {
					r.offsets[x] = uint32(k)
				}
			}
			if k == n-1 {
				for x := c + 1; x <= r.cellCount; x++ {
					r.offsets[x] = uint32(n)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	return nil
}

// Offsets returns the table of CellCount()+1 entries. Valid until the next
// Reindex.
func (r *Reindexer) Offsets() []uint32 {
	return r.offsets
}
