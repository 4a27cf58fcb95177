package flock

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/gridflock/agents"
	"github.com/pthm-cable/gridflock/compute"
	"github.com/pthm-cable/gridflock/grid"
	"github.com/pthm-cable/gridflock/space"
)

// partition sorts and reindexes buf by its positions.
func partition(t testing.TB, pool *compute.Pool, sc *space.Config, buf *agents.Buffers) grid.Partition {
	t.Helper()
	for i, p := range buf.Pos {
		buf.Cell[i] = sc.CellID(p)
	}
	s := grid.NewSorter(pool, 16)
	r := grid.NewReindexer(pool, 16, sc.CellCount())
	if err := s.Sort(buf.Cell); err != nil {
		t.Fatal(err)
	}
	if err := r.Reindex(s.Keys()); err != nil {
		t.Fatal(err)
	}
	return grid.From(s, r)
}

func randomBuffers(rng *rand.Rand, n int, sc *space.Config) *agents.Buffers {
	var b agents.Buffers
	b.Resize(n)
	for i := 0; i < n; i++ {
		for k := 0; k < 3; k++ {
			b.Pos[i][k] = sc.Low[k] + rng.Float32()*(sc.High[k]-sc.Low[k])
			b.Vel[i][k] = rng.Float32()*2 - 1
		}
	}
	return &b
}

func toR3(v mgl32.Vec3) r3.Vec {
	return r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

// bruteForce computes the unclamped steering force and neighbour count of
// agent a by scanning every pair in float64.
func bruteForce(buf *agents.Buffers, a int, zone float64, w Weights) (r3.Vec, int) {
	p, v := toR3(buf.Pos[a]), toR3(buf.Vel[a])
	var sumVel, sumPos, sep r3.Vec
	count := 0
	for b := range buf.Pos {
		if b == a {
			continue
		}
		pb := toR3(buf.Pos[b])
		d := r3.Sub(p, pb)
		d2 := r3.Norm2(d)
		if d2 >= zone*zone {
			continue
		}
		count++
		sumVel = r3.Add(sumVel, toR3(buf.Vel[b]))
		sumPos = r3.Add(sumPos, pb)
		if d2 > 0 {
			sep = r3.Add(sep, r3.Scale(1/d2, d))
		}
	}
	if count == 0 {
		return r3.Vec{}, 0
	}
	inv := 1 / float64(count)
	align := r3.Sub(r3.Scale(inv, sumVel), v)
	cohesion := r3.Sub(r3.Scale(inv, sumPos), p)
	f := r3.Add(r3.Scale(float64(w.Align), align), r3.Scale(float64(w.Cohesion), cohesion))
	f = r3.Add(f, r3.Scale(float64(w.Separation), sep))
	return f, count
}

func TestGridMatchesBruteForce(t *testing.T) {
	pool := compute.NewPool(4)
	defer pool.Stop()

	// 4x4x4 grid with 64 agents, force limit high enough never to bind.
	sc := space.New(space.Params{
		Low:          mgl32.Vec3{0, 0, 0},
		High:         mgl32.Vec3{40, 40, 40},
		FlockingZone: 10,
		SpeedFactor:  100,
		ForceLimit:   1e6,
	})
	w := Weights{Align: 0.5, Cohesion: 0.3, Separation: 2}

	for seed := int64(1); seed <= 5; seed++ {
		cur := randomBuffers(rand.New(rand.NewSource(seed)), 64, sc)
		part := partition(t, pool, sc, cur)

		var next agents.Buffers
		k := NewKernel(pool, 8, sc, w)
		if err := k.Step(cur, &next, &part); err != nil {
			t.Fatal(err)
		}

		for a := 0; a < cur.Len(); a++ {
			want, count := bruteForce(cur, a, 10, w)
			if int(next.Scalar[a]) != count {
				t.Fatalf("seed %d agent %d: %v neighbours, want %d", seed, a, next.Scalar[a], count)
			}
			got := toR3(next.Force[a])
			diff := r3.Norm(r3.Sub(got, want))
			if diff > 1e-3*(1+r3.Norm(want)) {
				t.Fatalf("seed %d agent %d: force %v, want %v", seed, a, got, want)
			}
		}
	}
}

func TestGridMatchesNaive(t *testing.T) {
	pool := compute.NewPool(4)
	defer pool.Stop()

	sc := space.New(space.Params{
		Low:          mgl32.Vec3{-50, -50, -50},
		High:         mgl32.Vec3{50, 50, 50},
		FlockingZone: 12,
		SpeedFactor:  2,
		ForceLimit:   0.1,
	})
	cur := randomBuffers(rand.New(rand.NewSource(42)), 500, sc)
	part := partition(t, pool, sc, cur)

	var fromGrid, fromNaive agents.Buffers
	if err := NewKernel(pool, 32, sc, DefaultWeights()).Step(cur, &fromGrid, &part); err != nil {
		t.Fatal(err)
	}
	if err := NewNaive(pool, 32, sc, DefaultWeights()).Step(cur, &fromNaive); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < cur.Len(); i++ {
		if fromGrid.Scalar[i] != fromNaive.Scalar[i] {
			t.Fatalf("agent %d: grid count %v, naive %v", i, fromGrid.Scalar[i], fromNaive.Scalar[i])
		}
		if fromGrid.Pos[i].Sub(fromNaive.Pos[i]).Len() > 1e-4 {
			t.Fatalf("agent %d: grid pos %v, naive %v", i, fromGrid.Pos[i], fromNaive.Pos[i])
		}
	}
}

func TestSpeedAndForceClamped(t *testing.T) {
	pool := compute.NewPool(2)
	defer pool.Stop()

	sc := space.New(space.Params{
		Low:          mgl32.Vec3{0, 0, 0},
		High:         mgl32.Vec3{30, 30, 30},
		FlockingZone: 6,
		SpeedFactor:  2,
		ForceLimit:   0.1,
	})
	cur := randomBuffers(rand.New(rand.NewSource(9)), 400, sc)
	for i := range cur.Vel {
		cur.Vel[i] = cur.Vel[i].Mul(5)
	}
	next := &agents.Buffers{}
	k := NewKernel(pool, 16, sc, Weights{Align: 3, Cohesion: 3, Separation: 3})

	for step := 0; step < 10; step++ {
		part := partition(t, pool, sc, cur)
		if err := k.Step(cur, next, &part); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < next.Len(); i++ {
			if next.Vel[i].Len() > sc.SpeedFactor+1e-5 {
				t.Fatalf("step %d agent %d speed %v", step, i, next.Vel[i].Len())
			}
			if next.Force[i].Len() > sc.ForceLimit+1e-5 {
				t.Fatalf("step %d agent %d force %v", step, i, next.Force[i].Len())
			}
			for ax := 0; ax < 3; ax++ {
				if next.Pos[i][ax] < sc.Low[ax] || next.Pos[i][ax] > sc.High[ax] {
					t.Fatalf("step %d agent %d left the domain: %v", step, i, next.Pos[i])
				}
			}
		}
		cur, next = next, cur
	}
}

func TestIsolatedAgentCoasts(t *testing.T) {
	pool := compute.NewPool(1)
	sc := space.New(space.Params{
		Low:          mgl32.Vec3{-100, -100, -100},
		High:         mgl32.Vec3{100, 100, 100},
		FlockingZone: 5,
		SpeedFactor:  2,
		ForceLimit:   0.1,
	})

	tests := []struct {
		name    string
		vel     mgl32.Vec3
		wantVel mgl32.Vec3
	}{
		{"slow", mgl32.Vec3{0.5, -0.25, 1}, mgl32.Vec3{0.5, -0.25, 1}},
		{"too fast", mgl32.Vec3{0, 6, 8}, mgl32.Vec3{0, 1.2, 1.6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cur, next agents.Buffers
			cur.Resize(2)
			cur.Pos[0], cur.Vel[0] = mgl32.Vec3{0, 0, 0}, tt.vel
			cur.Pos[1] = mgl32.Vec3{60, 60, 60}
			part := partition(t, pool, sc, &cur)

			if err := NewKernel(pool, 64, sc, DefaultWeights()).Step(&cur, &next, &part); err != nil {
				t.Fatal(err)
			}
			if next.Force[0] != (mgl32.Vec3{}) {
				t.Errorf("force = %v, want zero", next.Force[0])
			}
			if next.Scalar[0] != 0 {
				t.Errorf("neighbours = %v, want 0", next.Scalar[0])
			}
			if !next.Vel[0].ApproxEqualThreshold(tt.wantVel, 1e-5) {
				t.Errorf("vel = %v, want %v", next.Vel[0], tt.wantVel)
			}
			if !next.Pos[0].ApproxEqualThreshold(tt.wantVel, 1e-5) {
				t.Errorf("pos = %v, want %v", next.Pos[0], tt.wantVel)
			}
		})
	}
}

func TestFourAgentScenario(t *testing.T) {
	pool := compute.NewPool(1)
	sc := space.New(space.Params{
		Low:          mgl32.Vec3{-100, -100, -100},
		High:         mgl32.Vec3{100, 100, 100},
		FlockingZone: 5,
		SpeedFactor:  2,
		ForceLimit:   0.1,
	})

	var cur, next agents.Buffers
	cur.Resize(4)
	cur.Pos[0] = mgl32.Vec3{0, 0, 0}
	cur.Pos[1] = mgl32.Vec3{1, 0, 0}
	cur.Pos[2] = mgl32.Vec3{0, 1, 0}
	cur.Pos[3] = mgl32.Vec3{50, 50, 50}
	cur.Vel[3] = mgl32.Vec3{1, 0, 0}
	part := partition(t, pool, sc, &cur)

	if err := NewKernel(pool, 64, sc, DefaultWeights()).Step(&cur, &next, &part); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if next.Scalar[i] != 2 {
			t.Errorf("agent %d sees %v neighbours, want 2", i, next.Scalar[i])
		}
		if next.Force[i].Len() == 0 || next.Vel[i].Len() == 0 {
			t.Errorf("agent %d was not steered", i)
		}
		if math.Abs(float64(next.Force[i].Len()-sc.ForceLimit)) > 1e-5 {
			t.Errorf("agent %d force %v, want clamped to %v", i, next.Force[i].Len(), sc.ForceLimit)
		}
	}
	if next.Vel[3] != cur.Vel[3] || next.Scalar[3] != 0 {
		t.Errorf("distant agent vel %v neighbours %v", next.Vel[3], next.Scalar[3])
	}

	// The first three share a cell or touch; the fourth is far away.
	c0 := sc.CellCoords(cur.Pos[0])
	for i := 1; i < 3; i++ {
		ci := sc.CellCoords(cur.Pos[i])
		for ax := 0; ax < 3; ax++ {
			if d := int(ci[ax]) - int(c0[ax]); d < -1 || d > 1 {
				t.Errorf("agent %d cell %v not adjacent to %v", i, ci, c0)
			}
		}
	}
	c3 := sc.CellCoords(cur.Pos[3])
	if int(c3[0])-int(c0[0]) < 2 {
		t.Errorf("distant agent cell %v too close to %v", c3, c0)
	}
}

func TestPartitionSizeMismatch(t *testing.T) {
	pool := compute.NewPool(1)
	sc := space.New(space.Params{High: mgl32.Vec3{10, 10, 10}, FlockingZone: 5, SpeedFactor: 1})
	var cur, next agents.Buffers
	cur.Resize(3)
	var part grid.Partition
	if err := NewKernel(pool, 8, sc, DefaultWeights()).Step(&cur, &next, &part); err == nil {
		t.Error("stale partition accepted")
	}
}

func BenchmarkGridStep(b *testing.B) {
	pool := compute.NewPool(0)
	defer pool.Stop()
	sc := space.New(space.Params{
		Low:          mgl32.Vec3{-1000, -1000, -1000},
		High:         mgl32.Vec3{1000, 1000, 1000},
		FlockingZone: 40,
		SpeedFactor:  2,
		ForceLimit:   0.1,
	})
	cur := randomBuffers(rand.New(rand.NewSource(1)), 1<<14, sc)
	part := partition(b, pool, sc, cur)
	var next agents.Buffers
	k := NewKernel(pool, 1024, sc, DefaultWeights())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := k.Step(cur, &next, &part); err != nil {
			b.Fatal(err)
		}
	}
}
