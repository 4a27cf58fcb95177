// Package agents owns the authoritative agent state. Agents live as entities
// in an ECS world; each simulation step snapshots them into flat Buffers,
// runs the kernels on those, and applies the result back.
package agents

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/gridflock/components"
	"github.com/pthm-cable/gridflock/space"
)

// Agent is the public record of one agent.
type Agent struct {
	Position    mgl32.Vec3
	Velocity    mgl32.Vec3
	ScalarField float32
}

// Store is the AgentStore. The population is fixed once the simulation starts:
// agents are only ever added before the first step and never removed.
type Store struct {
	world  *ecs.World
	mapper *ecs.Map3[components.Position, components.Velocity, components.Scalar]

	posMap    *ecs.Map1[components.Position]
	velMap    *ecs.Map1[components.Velocity]
	scalarMap *ecs.Map1[components.Scalar]

	// entities in agent index order
	entities []ecs.Entity

	scalarMin, scalarMax float32
}

// NewStore creates an empty store.
func NewStore() *Store {
	world := ecs.NewWorld()
	return &Store{
		world:     world,
		mapper:    ecs.NewMap3[components.Position, components.Velocity, components.Scalar](world),
		posMap:    ecs.NewMap1[components.Position](world),
		velMap:    ecs.NewMap1[components.Velocity](world),
		scalarMap: ecs.NewMap1[components.Scalar](world),
	}
}

// Add appends an agent and returns its index.
func (s *Store) Add(a Agent) int {
	var pos components.Position
	var vel components.Velocity
	pos.Set(a.Position)
	vel.Set(a.Velocity)
	scalar := components.Scalar{Value: a.ScalarField}

	e := s.mapper.NewEntity(&pos, &vel, &scalar)
	s.entities = append(s.entities, e)
	return len(s.entities) - 1
}

// Spawn adds n agents with positions uniform in the domain and velocities
// uniform in the ball of radius SpeedFactor.
func (s *Store) Spawn(rng *rand.Rand, n int, sc *space.Config) {
	for i := 0; i < n; i++ {
		var p mgl32.Vec3
		for k := 0; k < 3; k++ {
			size := sc.High[k] - sc.Low[k]
			if size < 0 {
				size = 0
			}
			p[k] = sc.Low[k] + rng.Float32()*size
		}
		s.Add(Agent{Position: p, Velocity: randomInBall(rng, sc.SpeedFactor)})
	}
}

func randomInBall(rng *rand.Rand, radius float32) mgl32.Vec3 {
	if radius <= 0 {
		return mgl32.Vec3{}
	}
	// Rejection sampling from the enclosing cube
	for {
		v := mgl32.Vec3{rng.Float32()*2 - 1, rng.Float32()*2 - 1, rng.Float32()*2 - 1}
		if v.LenSqr() <= 1 {
			return v.Mul(radius)
		}
	}
}

// Len returns the population size.
func (s *Store) Len() int {
	return len(s.entities)
}

// Get returns agent i.
func (s *Store) Get(i int) Agent {
	e := s.entities[i]
	return Agent{
		Position:    s.posMap.Get(e).Vec(),
		Velocity:    s.velMap.Get(e).Vec(),
		ScalarField: s.scalarMap.Get(e).Value,
	}
}

// Snapshot copies the current state into b, resizing it as needed.
func (s *Store) Snapshot(b *Buffers) {
	b.Resize(len(s.entities))
	for i, e := range s.entities {
		b.Pos[i] = s.posMap.Get(e).Vec()
		b.Vel[i] = s.velMap.Get(e).Vec()
		b.Scalar[i] = s.scalarMap.Get(e).Value
	}
}

// Apply writes b back into the store. b must hold Len() agents.
func (s *Store) Apply(b *Buffers) {
	for i, e := range s.entities {
		s.posMap.Get(e).Set(b.Pos[i])
		s.velMap.Get(e).Set(b.Vel[i])
		s.scalarMap.Get(e).Value = b.Scalar[i]
	}
}

// SetScalarRange records the latest global (min, max) of the scalar field.
func (s *Store) SetScalarRange(lo, hi float32) {
	s.scalarMin, s.scalarMax = lo, hi
}

// ScalarRange returns the latest global (min, max) of the scalar field.
func (s *Store) ScalarRange() (float32, float32) {
	return s.scalarMin, s.scalarMax
}

// View returns a read-only view for the rendering side.
func (s *Store) View() View {
	return View{store: s}
}

// View exposes agents without allowing mutation.
type View struct {
	store *Store
}

// Len returns the population size.
func (v View) Len() int {
	if v.store == nil {
		return 0
	}
	return v.store.Len()
}

// At returns agent i.
func (v View) At(i int) Agent {
	return v.store.Get(i)
}

// ScalarRange returns the global (min, max) of the scalar field.
func (v View) ScalarRange() (float32, float32) {
	if v.store == nil {
		return 0, 0
	}
	return v.store.ScalarRange()
}
