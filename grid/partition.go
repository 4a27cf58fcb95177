package grid

import "fmt"

// Partition is the spatial partition consumed by the flocking kernel.
// Indices[Offsets[c]:Offsets[c+1]] are the agents in cell c.
type Partition struct {
	Indices []uint32
	Keys    []uint32
	Offsets []uint32
}

// From assembles a partition from the last sort and reindex. The slices are
// shared with s and r, not copied.
func From(s *Sorter, r *Reindexer) Partition {
	return Partition{Indices: s.Indices(), Keys: s.Keys(), Offsets: r.Offsets()}
}

// Len returns the number of agents in the partition.
func (p *Partition) Len() int {
	return len(p.Indices)
}

// CellCount returns the number of grid cells.
func (p *Partition) CellCount() int {
	if len(p.Offsets) == 0 {
		return 0
	}
	return len(p.Offsets) - 1
}

// Range returns the sorted positions [start, end) of cell c.
func (p *Partition) Range(c uint32) (int, int) {
	return int(p.Offsets[c]), int(p.Offsets[c+1])
}

// Cell returns the agent indices in cell c.
func (p *Partition) Cell(c uint32) []uint32 {
	start, end := p.Range(c)
	return p.Indices[start:end]
}

// Check verifies the partition against the cell id of every agent: the
// offsets are bounded and non-decreasing, and each cell's range holds exactly
// the agents with that id.
func (p *Partition) Check(cellIDs []uint32) error {
	n := len(cellIDs)
	if p.Len() != n {
		return fmt.Errorf("partition holds %d agents, want %d", p.Len(), n)
	}
	cells := p.CellCount()
	if cells == 0 {
		return fmt.Errorf("empty offset table")
	}
	if p.Offsets[0] != 0 {
		return fmt.Errorf("offsets[0] = %d, want 0", p.Offsets[0])
	}
	if int(p.Offsets[cells]) != n {
		return fmt.Errorf("offsets[%d] = %d, want %d", cells, p.Offsets[cells], n)
	}

	seen := make([]bool, n)
	for c := 0; c < cells; c++ {
		if p.Offsets[c] > p.Offsets[c+1] {
			return fmt.Errorf("offsets decrease at cell %d", c)
		}
		for _, a := range p.Cell(uint32(c)) {
			if int(a) >= n || seen[a] {
				return fmt.Errorf("agent %d out of range or listed twice", a)
			}
			seen[a] = true
			if cellIDs[a] != uint32(c) {
				return fmt.Errorf("agent %d with cell %d listed under cell %d", a, cellIDs[a], c)
			}
		}
	}
	return nil
}
