// Package space holds the immutable spatial configuration of a run: domain
// bounds, the uniform grid laid over it and the motion limits every kernel
// clamps against.
package space

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// MaxAxisRes caps the grid resolution on each axis. When the cap kicks in the
// cells simply grow wider than the flocking zone.
const MaxAxisRes = 1024

// Params are the resolved inputs from the configuration collaborator.
type Params struct {
	Low, High       mgl32.Vec3
	FlockingZone    float32
	SpeedFactor     float32
	ForceLimit      float32
	PopulationSize  int
	TreeMemoryLimit int
}

// Config is the SpatialConfig. Build it with New and do not mutate it.
type Config struct {
	Low, High       mgl32.Vec3
	FlockingZone    float32
	SpeedFactor     float32
	ForceLimit      float32
	PopulationSize  int
	TreeMemoryLimit int

	GridRes  [3]uint32
	CellSize mgl32.Vec3

	zoneSq    float32
	cellCount int
}

// New derives the grid from the domain and the flocking zone.
// Degenerate axes (size <= 0) and a non-positive zone resolve to one cell.
func New(p Params) *Config {
	c := &Config{
		Low:             p.Low,
		High:            p.High,
		FlockingZone:    p.FlockingZone,
		SpeedFactor:     p.SpeedFactor,
		ForceLimit:      p.ForceLimit,
		PopulationSize:  p.PopulationSize,
		TreeMemoryLimit: p.TreeMemoryLimit,
	}
	if p.FlockingZone > 0 {
		c.zoneSq = p.FlockingZone * p.FlockingZone
	}

	c.cellCount = 1
	for i := 0; i < 3; i++ {
		size := p.High[i] - p.Low[i]
		res := uint32(1)
		if size > 0 && p.FlockingZone > 0 {
			r := math.Ceil(float64(size) / float64(p.FlockingZone))
			if r > MaxAxisRes {
				r = MaxAxisRes
			}
			if r > 1 {
				res = uint32(r)
			}
		}
		c.GridRes[i] = res

		cell := p.FlockingZone
		if size > 0 && size/float32(res) > cell {
			cell = size / float32(res)
		}
		if cell <= 0 {
			cell = 1
		}
		c.CellSize[i] = cell
		c.cellCount *= int(res)
	}
	return c
}

// CellCount is the number of grid cells.
func (c *Config) CellCount() int {
	return c.cellCount
}

// ZoneSq is the squared flocking zone (0 when the zone is not positive).
func (c *Config) ZoneSq() float32 {
	return c.zoneSq
}

// CellCoords returns the clamped integer cell coordinates of a position.
func (c *Config) CellCoords(p mgl32.Vec3) [3]uint32 {
	var out [3]uint32
	for i := 0; i < 3; i++ {
		f := math.Floor(float64((p[i] - c.Low[i]) / c.CellSize[i]))
		switch {
		case f < 0 || math.IsNaN(f):
			out[i] = 0
		case f >= float64(c.GridRes[i]):
			out[i] = c.GridRes[i] - 1
		default:
			out[i] = uint32(f)
		}
	}
	return out
}

// Flatten maps cell coordinates to a cell id, x fastest.
func (c *Config) Flatten(x, y, z uint32) uint32 {
	return x + c.GridRes[0]*(y+c.GridRes[1]*z)
}

// CellID returns the flattened cell id of a position.
func (c *Config) CellID(p mgl32.Vec3) uint32 {
	cc := c.CellCoords(p)
	return c.Flatten(cc[0], cc[1], cc[2])
}

// Contain applies clamp-and-reflect at the domain walls so the returned
// position always lies in [Low, High].
func (c *Config) Contain(p, v mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		lo, hi := c.Low[i], c.High[i]
		if hi <= lo {
			p[i] = lo
			v[i] = 0
			continue
		}
		if p[i] < lo {
			p[i] = 2*lo - p[i]
			v[i] = absf(v[i])
		} else if p[i] > hi {
			p[i] = 2*hi - p[i]
			v[i] = -absf(v[i])
		}
		p[i] = mgl32.Clamp(p[i], lo, hi)
	}
	return p, v
}

// ClampSpeed caps the magnitude of v at SpeedFactor, keeping its direction.
func (c *Config) ClampSpeed(v mgl32.Vec3) mgl32.Vec3 {
	return clampLen(v, c.SpeedFactor)
}

// ClampForce caps the magnitude of f at ForceLimit, keeping its direction.
func (c *Config) ClampForce(f mgl32.Vec3) mgl32.Vec3 {
	return clampLen(f, c.ForceLimit)
}

func clampLen(v mgl32.Vec3, limit float32) mgl32.Vec3 {
	if limit <= 0 {
		return mgl32.Vec3{}
	}
	lenSq := v.LenSqr()
	if lenSq <= limit*limit {
		return v
	}
	return v.Mul(limit / float32(math.Sqrt(float64(lenSq))))
}

// NextPow2 returns the smallest power of two >= n (1 for n <= 1).
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
