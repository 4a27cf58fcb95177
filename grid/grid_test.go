package grid

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/pthm-cable/gridflock/compute"
	"github.com/pthm-cable/gridflock/space"
)

func randomIDs(rng *rand.Rand, n, cells int) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(rng.Intn(cells))
	}
	return ids
}

func TestSortOrdersByCell(t *testing.T) {
	pool := compute.NewPool(4)
	defer pool.Stop()

	tests := []struct {
		name  string
		n     int
		cells int
		width int
	}{
		{"single", 1, 8, 4},
		{"tiny non power of two", 5, 3, 4},
		{"wider than population", 100, 64, 1024},
		{"many global passes", 1000, 27, 4},
		{"power of two", 4096, 512, 64},
		{"one cell", 300, 1, 8},
		{"mostly empty cells", 777, 100000, 16},
	}

	rng := rand.New(rand.NewSource(7))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := randomIDs(rng, tt.n, tt.cells)
			s := NewSorter(pool, tt.width)
			if err := s.Sort(ids); err != nil {
				t.Fatal(err)
			}

			keys, idx := s.Keys(), s.Indices()
			if len(keys) != tt.n || len(idx) != tt.n {
				t.Fatalf("len keys %d idx %d, want %d", len(keys), len(idx), tt.n)
			}
			for k := 1; k < tt.n; k++ {
				if ids[idx[k-1]] > ids[idx[k]] {
					t.Fatalf("not sorted at %d: %d > %d", k, ids[idx[k-1]], ids[idx[k]])
				}
			}
			seen := make([]bool, tt.n)
			for k, a := range idx {
				if int(a) >= tt.n || seen[a] {
					t.Fatalf("bad permutation entry %d at %d", a, k)
				}
				seen[a] = true
				if keys[k] != ids[a] {
					t.Fatalf("key %d at %d does not match agent %d cell %d", keys[k], k, a, ids[a])
				}
			}
		})
	}
}

func TestSortEmpty(t *testing.T) {
	s := NewSorter(compute.NewPool(1), 64)
	if err := s.Sort(nil); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 || len(s.Indices()) != 0 {
		t.Errorf("empty sort left %d entries", len(s.Indices()))
	}
}

func TestSortReusesBuffersAcrossSizes(t *testing.T) {
	pool := compute.NewPool(2)
	defer pool.Stop()
	s := NewSorter(pool, 8)
	rng := rand.New(rand.NewSource(3))

	for _, n := range []int{500, 17, 1024, 3} {
		ids := randomIDs(rng, n, 20)
		if err := s.Sort(ids); err != nil {
			t.Fatal(err)
		}
		r := NewReindexer(pool, 32, 20)
		if err := r.Reindex(s.Keys()); err != nil {
			t.Fatal(err)
		}
		p := From(s, r)
		if err := p.Check(ids); err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
	}
}

func TestReindexOffsets(t *testing.T) {
	pool := compute.NewPool(1)

	tests := []struct {
		name  string
		keys  []uint32
		cells int
		want  []uint32
	}{
		{"empty", nil, 3, []uint32{0, 0, 0, 0}},
		{"all in one cell", []uint32{1, 1, 1}, 3, []uint32{0, 0, 3, 3}},
		{"gaps", []uint32{0, 0, 2, 4, 4}, 5, []uint32{0, 2, 2, 3, 3, 5}},
		{"leading empty", []uint32{3}, 4, []uint32{0, 0, 0, 0, 1}},
		{"trailing empty", []uint32{0, 1}, 4, []uint32{0, 1, 2, 2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReindexer(pool, 2, tt.cells)
			if err := r.Reindex(tt.keys); err != nil {
				t.Fatal(err)
			}
			got := r.Offsets()
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for c := range got {
				if got[c] != tt.want[c] {
					t.Errorf("offsets = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestReindexClearsStaleOffsets(t *testing.T) {
	pool := compute.NewPool(1)
	r := NewReindexer(pool, 4, 4)
	if err := r.Reindex([]uint32{0, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := r.Reindex(nil); err != nil {
		t.Fatal(err)
	}
	for c, o := range r.Offsets() {
		if o != 0 {
			t.Errorf("offsets[%d] = %d after empty reindex", c, o)
		}
	}
}

func TestPartitionFromPositions(t *testing.T) {
	pool := compute.NewPool(4)
	defer pool.Stop()

	sc := space.New(space.Params{
		Low:          mgl32.Vec3{-100, -100, -100},
		High:         mgl32.Vec3{100, 100, 100},
		FlockingZone: 15,
	})
	rng := rand.New(rand.NewSource(11))
	const n = 3000
	ids := make([]uint32, n)
	for i := range ids {
		p := mgl32.Vec3{
			rng.Float32()*200 - 100,
			rng.Float32()*200 - 100,
			rng.Float32()*200 - 100,
		}
		ids[i] = sc.CellID(p)
	}

	s := NewSorter(pool, 128)
	r := NewReindexer(pool, 256, sc.CellCount())
	if err := s.Sort(ids); err != nil {
		t.Fatal(err)
	}
	if err := r.Reindex(s.Keys()); err != nil {
		t.Fatal(err)
	}
	p := From(s, r)
	if err := p.Check(ids); err != nil {
		t.Fatal(err)
	}

	total := 0
	for c := 0; c < p.CellCount(); c++ {
		total += len(p.Cell(uint32(c)))
	}
	if total != n {
		t.Errorf("cells hold %d agents, want %d", total, n)
	}
}

func TestCheckRejectsBadPartition(t *testing.T) {
	ids := []uint32{0, 1}
	p := Partition{
		Indices: []uint32{1, 0},
		Keys:    []uint32{0, 1},
		Offsets: []uint32{0, 1, 2},
	}
	if err := p.Check(ids); err == nil {
		t.Error("swapped partition passed Check")
	}
}

func BenchmarkSort(b *testing.B) {
	pool := compute.NewPool(0)
	defer pool.Stop()
	ids := randomIDs(rand.New(rand.NewSource(1)), 1<<16, 4096)
	s := NewSorter(pool, 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Sort(ids); err != nil {
			b.Fatal(err)
		}
	}
}

func TestCellPassReportsMoves(t *testing.T) {
	pool := compute.NewPool(2)
	defer pool.Stop()

	sc := space.New(space.Params{High: mgl32.Vec3{100, 100, 100}, FlockingZone: 10, SpeedFactor: 1})
	pos := make([]mgl32.Vec3, 40)
	for i := range pos {
		pos[i] = mgl32.Vec3{float32(i) * 2.5, 5, 5}
	}
	cells := make([]uint32, len(pos))
	pass := NewCellPass(pool, 8, sc)

	if _, err := pass.Run(pos, cells); err != nil {
		t.Fatal(err)
	}
	for i, p := range pos {
		if cells[i] != sc.CellID(p) {
			t.Fatalf("cell[%d] = %d, want %d", i, cells[i], sc.CellID(p))
		}
	}

	changed, err := pass.Run(pos, cells)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("unchanged positions reported a move")
	}

	// Nudging within a cell is not a move; crossing a boundary is.
	pos[3] = pos[3].Add(mgl32.Vec3{0.1, 0, 0})
	if changed, _ = pass.Run(pos, cells); changed {
		t.Error("move inside a cell reported a change")
	}
	pos[33] = mgl32.Vec3{95, 95, 95}
	if changed, _ = pass.Run(pos, cells); !changed {
		t.Error("boundary crossing not reported")
	}
	if cells[33] != sc.CellID(pos[33]) {
		t.Errorf("cell[33] = %d, want %d", cells[33], sc.CellID(pos[33]))
	}
}
