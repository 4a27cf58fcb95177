package grid

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/gridflock/compute"
	"github.com/pthm-cable/gridflock/space"
)

// CellPass recomputes the grid cell id of every agent and reports whether
// any of them moved to a different cell.
type CellPass struct {
	pool      *compute.Pool
	groupSize int
	sc        *space.Config

	// one flag per workgroup, written only by that group
	changed []bool
}

// NewCellPass creates a cell id pass over sc's grid.
func NewCellPass(pool *compute.Pool, groupSize int, sc *space.Config) *CellPass {
	return &CellPass{pool: pool, groupSize: groupSize, sc: sc}
}

// Run writes the cell id of pos[i] into cells[i]. cells holds the previous
// ids on entry; the result is true when at least one id differs.
func (c *CellPass) Run(pos []mgl32.Vec3, cells []uint32) (bool, error) {
	n := len(pos)
	groups := compute.Groups(n, c.groupSize)
	if cap(c.changed) < groups {
		c.changed = make([]bool, groups)
	}
	c.changed = c.changed[:groups]

	err := c.pool.Dispatch(n, c.groupSize, func(group, lo, hi int) {
		moved := false
		for i := lo; i < hi; i++ {
			id := c.sc.CellID(pos[i])
			if id != cells[i] {
				cells[i] = id
				moved = true
			}
		}
		c.changed[group] = moved
	})
	if err != nil {
		return false, fmt.Errorf("cell ids: %w", err)
	}

	for _, moved := range c.changed {
		if moved {
			return true, nil
		}
	}
	return false, nil
}
