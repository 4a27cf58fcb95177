// Package grid builds the spatial partition: agents sorted by grid cell id
// and a per-cell offset table into that order.
package grid

import (
	"fmt"
	"math"

	"github.com/pthm-cable/gridflock/compute"
	"github.com/pthm-cable/gridflock/space"
)

// Sentinel is the key given to padding slots beyond the population so they
// sort behind every real cell id.
const Sentinel = math.MaxUint32

// Sorter is the GridSorter: a bitonic sorting network over (cell id, agent
// index) pairs, padded to the next power of two.
//
// Compare distances of at least the invocation width run as one global
// sub-pass each, separated by a barrier. The remaining distances of a stage
// fit inside one aligned block of width entries and run back to back inside a
// single workgroup.
type Sorter struct {
	pool  *compute.Pool
	width int

	n    int
	keys []uint32
	idx  []uint32
}

// NewSorter creates a sorter. width is rounded up to a power of two, minimum 2.
func NewSorter(pool *compute.Pool, width int) *Sorter {
	if width < 2 {
		width = 2
	}
	return &Sorter{pool: pool, width: space.NextPow2(width)}
}

// Width returns the invocation width in use.
func (s *Sorter) Width() int {
	return s.width
}

// Sort orders agent indices by ascending cellIDs[i]. Equal ids keep no
// particular relative order.
func (s *Sorter) Sort(cellIDs []uint32) error {
	s.n = len(cellIDs)
	if s.n == 0 {
		s.keys = s.keys[:0]
		s.idx = s.idx[:0]
		return nil
	}

	p := space.NextPow2(s.n)
	if cap(s.keys) < p {
		s.keys = make([]uint32, p)
		s.idx = make([]uint32, p)
	}
	s.keys = s.keys[:p]
	s.idx = s.idx[:p]

	for i := 0; i < p; i++ {
		s.idx[i] = uint32(i)
		if i < s.n {
			s.keys[i] = cellIDs[i]
		} else {
			s.keys[i] = Sentinel
		}
	}

	for stage := 2; stage <= p; stage <<= 1 {
		d := stage >> 1
		for ; d >= s.width; d >>= 1 {
			dist := d
			if err := s.pool.Dispatch(p, s.width, func(_, lo, hi int) {
				s.compareRange(lo, hi, stage, dist)
			}); err != nil {
				return fmt.Errorf("bitonic stage %d distance %d: %w", stage, d, err)
			}
		}
		if d == 0 {
			continue
		}

		first := d
		if err := s.pool.Dispatch(p, s.width, func(_, lo, hi int) {
			for dist := first; dist > 0; dist >>= 1 {
				s.compareRange(lo, hi, stage, dist)
			}
		}); err != nil {
			return fmt.Errorf("bitonic stage %d local pass: %w", stage, err)
		}
	}
	return nil
}

// compareRange runs one compare-and-swap sub-pass for every i in [lo, hi).
// Only the lower index of a pair acts, so each slot has a single writer.
func (s *Sorter) compareRange(lo, hi, stage, dist int) {
	for i := lo; i < hi; i++ {
		j := i ^ dist
		if j <= i {
			continue
		}
		ki, kj := s.keys[i], s.keys[j]
		ascending := i&stage == 0
		if (ascending && ki > kj) || (!ascending && ki < kj) {
			s.keys[i], s.keys[j] = kj, ki
			s.idx[i], s.idx[j] = s.idx[j], s.idx[i]
		}
	}
}

// Len returns the population size of the last sort.
func (s *Sorter) Len() int {
	return s.n
}

// Indices returns the sorted agent indices. Valid until the next Sort.
func (s *Sorter) Indices() []uint32 {
	return s.idx[:s.n]
}

// Keys returns the cell ids in sorted order. Valid until the next Sort.
func (s *Sorter) Keys() []uint32 {
	return s.keys[:s.n]
}
