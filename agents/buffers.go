package agents

import "github.com/go-gl/mathgl/mgl32"

// Buffers is the flat, index-addressed working copy of the population used by
// the kernels for one step. Slot i always belongs to agent i.
type Buffers struct {
	Pos    []mgl32.Vec3
	Vel    []mgl32.Vec3
	Force  []mgl32.Vec3 // steering force applied in the last update
	Scalar []float32
	Cell   []uint32 // grid cell id of Pos
}

// Len returns the number of agents held.
func (b *Buffers) Len() int {
	return len(b.Pos)
}

// Resize sets the length to n, reusing capacity where possible.
func (b *Buffers) Resize(n int) {
	b.Pos = resizeVec(b.Pos, n)
	b.Vel = resizeVec(b.Vel, n)
	b.Force = resizeVec(b.Force, n)
	if cap(b.Scalar) < n {
		b.Scalar = make([]float32, n)
	}
	b.Scalar = b.Scalar[:n]
	if cap(b.Cell) < n {
		b.Cell = make([]uint32, n)
	}
	b.Cell = b.Cell[:n]
}

func resizeVec(v []mgl32.Vec3, n int) []mgl32.Vec3 {
	if cap(v) < n {
		return make([]mgl32.Vec3, n)
	}
	return v[:n]
}

// CopyFrom makes b an exact copy of src.
func (b *Buffers) CopyFrom(src *Buffers) {
	b.Resize(src.Len())
	copy(b.Pos, src.Pos)
	copy(b.Vel, src.Vel)
	copy(b.Force, src.Force)
	copy(b.Scalar, src.Scalar)
	copy(b.Cell, src.Cell)
}
