// Package components defines the ECS components an agent is made of.
package components

import "github.com/go-gl/mathgl/mgl32"

// Position represents an agent's position in the domain.
type Position struct {
	X, Y, Z float32
}

// Vec returns the position as a vector.
func (p Position) Vec() mgl32.Vec3 {
	return mgl32.Vec3{p.X, p.Y, p.Z}
}

// Set overwrites the position from a vector.
func (p *Position) Set(v mgl32.Vec3) {
	p.X, p.Y, p.Z = v[0], v[1], v[2]
}

// Velocity represents an agent's velocity (distance per step).
type Velocity struct {
	X, Y, Z float32
}

// Vec returns the velocity as a vector.
func (v Velocity) Vec() mgl32.Vec3 {
	return mgl32.Vec3{v.X, v.Y, v.Z}
}

// Set overwrites the velocity from a vector.
func (v *Velocity) Set(u mgl32.Vec3) {
	v.X, v.Y, v.Z = u[0], u[1], u[2]
}

// Scalar is the auxiliary per-agent value (neighbor count after a step).
type Scalar struct {
	Value float32
}
