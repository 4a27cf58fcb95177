// Package octree builds the OccupancyTree: a fixed-capacity arena of boxes
// covering the occupied parts of the domain.
//
// The tree is built one level at a time with a barrier between levels. Each
// node of the current level that holds more than the split threshold reserves
// arena slots for its non-empty octants through a bounded counter. Once the
// arena is full further reservations are refused and counted; nodes already
// placed are never evicted.
package octree

import (
	"fmt"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/gridflock/compute"
)

// Node is one box of the tree.
type Node struct {
	Low, High mgl32.Vec3
	Count     int32 // agents inside
	Depth     int32 // root is 0
}

// Tree is the arena. Nodes within a level land in reservation order, which is
// not deterministic across runs; levels are always in order.
type Tree struct {
	pool           *compute.Pool
	capacity       int
	splitThreshold int
	maxDepth       int

	nodes   []Node
	next    atomic.Int32
	dropped atomic.Int32

	// agent index segment [segLo, segHi) of each slot in the level buffer it
	// was written to
	segLo, segHi []int32
	buf          [2][]int32
}

// New creates a tree holding at most capacity nodes. A capacity below one
// still leaves room for the root.
func New(pool *compute.Pool, capacity, splitThreshold, maxDepth int) *Tree {
	if capacity < 1 {
		capacity = 1
	}
	if splitThreshold < 1 {
		splitThreshold = 1
	}
	return &Tree{
		pool:           pool,
		capacity:       capacity,
		splitThreshold: splitThreshold,
		maxDepth:       maxDepth,
		nodes:          make([]Node, capacity),
		segLo:          make([]int32, capacity),
		segHi:          make([]int32, capacity),
	}
}

// Capacity returns the node budget.
func (t *Tree) Capacity() int {
	return t.capacity
}

// reserve claims the next free slot, or reports false when the arena is full.
func (t *Tree) reserve() (int, bool) {
	for {
		c := t.next.Load()
		if int(c) >= t.capacity {
			t.dropped.Add(1)
			return 0, false
		}
		if t.next.CompareAndSwap(c, c+1) {
			return int(c), true
		}
	}
}

// Build rebuilds the tree over positions inside the box [low, high] and
// returns the nodes, root first.
func (t *Tree) Build(positions []mgl32.Vec3, low, high mgl32.Vec3) ([]Node, error) {
	n := len(positions)
	t.next.Store(0)
	t.dropped.Store(0)
	for i := range t.buf {
		if cap(t.buf[i]) < n {
			t.buf[i] = make([]int32, n)
		}
		t.buf[i] = t.buf[i][:n]
	}

	root, _ := t.reserve()
	t.nodes[root] = Node{Low: low, High: high, Count: int32(n)}
	t.segLo[root], t.segHi[root] = 0, int32(n)
	for i := 0; i < n; i++ {
		t.buf[0][i] = int32(i)
	}

	levelLo, levelHi := 0, 1
	for level := 0; levelLo < levelHi && level < t.maxDepth; level++ {
		src, dst := t.buf[level%2], t.buf[(level+1)%2]
		lo := levelLo
		err := t.pool.Dispatch(levelHi-levelLo, 1, func(_, a, b int) {
			for slot := lo + a; slot < lo+b; slot++ {
				t.split(slot, positions, src, dst)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("tree level %d: %w", level, err)
		}
		levelLo, levelHi = levelHi, t.Len()
	}
	return t.Nodes(), nil
}

// split partitions the agents of slot by octant into dst, over the same
// segment, and places one child per non-empty octant.
func (t *Tree) split(slot int, positions []mgl32.Vec3, src, dst []int32) {
	node := t.nodes[slot]
	if int(node.Count) <= t.splitThreshold {
		return
	}
	lo, hi := t.segLo[slot], t.segHi[slot]
	mid := node.Low.Add(node.High).Mul(0.5)

	var counts [8]int32
	for _, a := range src[lo:hi] {
		counts[octant(positions[a], mid)]++
	}
	var starts [8]int32
	at := lo
	for o := 0; o < 8; o++ {
		starts[o] = at
		at += counts[o]
	}
	fill := starts
	for _, a := range src[lo:hi] {
		o := octant(positions[a], mid)
		dst[fill[o]] = a
		fill[o]++
	}

	for o := 0; o < 8; o++ {
		if counts[o] == 0 {
			continue
		}
		child, ok := t.reserve()
		if !ok {
			continue
		}
		cl, ch := node.Low, node.High
		for ax := 0; ax < 3; ax++ {
			if o&(1<<ax) != 0 {
				cl[ax] = mid[ax]
			} else {
				ch[ax] = mid[ax]
			}
		}
		t.nodes[child] = Node{Low: cl, High: ch, Count: counts[o], Depth: node.Depth + 1}
		t.segLo[child], t.segHi[child] = starts[o], starts[o]+counts[o]
	}
}

func octant(p, mid mgl32.Vec3) int {
	o := 0
	if p[0] >= mid[0] {
		o |= 1
	}
	if p[1] >= mid[1] {
		o |= 2
	}
	if p[2] >= mid[2] {
		o |= 4
	}
	return o
}

// Len returns the number of nodes placed by the last Build.
func (t *Tree) Len() int {
	c := int(t.next.Load())
	if c > t.capacity {
		return t.capacity
	}
	return c
}

// Nodes returns the nodes of the last Build. Valid until the next Build.
func (t *Tree) Nodes() []Node {
	return t.nodes[:t.Len()]
}

// Dropped returns how many non-empty octants the last Build refused for lack
// of capacity.
func (t *Tree) Dropped() int {
	return int(t.dropped.Load())
}
