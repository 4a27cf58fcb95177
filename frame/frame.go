// Package frame carries the per-step output handed to the rendering side and
// streams it as length-delimited protobuf-wire records.
package frame

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"google.golang.org/protobuf/encoding/protowire"
)

// Box is one occupancy tree box.
type Box struct {
	Low, High mgl32.Vec3
}

// Frame is a read-only snapshot of one simulation step.
type Frame struct {
	Tick       uint64
	Positions  []mgl32.Vec3
	Velocities []mgl32.Vec3
	Scalars    []float32
	ScalarMin  float32
	ScalarMax  float32
	Boxes      []Box
	Dropped    uint32
}

// Wire field numbers.
const (
	fieldTick       protowire.Number = 1
	fieldPositions  protowire.Number = 2
	fieldVelocities protowire.Number = 3
	fieldScalars    protowire.Number = 4
	fieldScalarMin  protowire.Number = 5
	fieldScalarMax  protowire.Number = 6
	fieldBoxes      protowire.Number = 7
	fieldDropped    protowire.Number = 8
)

// ErrMalformed is returned when a record cannot be decoded.
var ErrMalformed = errors.New("malformed frame")

// Marshal appends the wire encoding of f to b.
func (f *Frame) Marshal(b []byte) []byte {
	b = protowire.AppendTag(b, fieldTick, protowire.VarintType)
	b = protowire.AppendVarint(b, f.Tick)

	b = appendVecs(b, fieldPositions, f.Positions)
	b = appendVecs(b, fieldVelocities, f.Velocities)

	if len(f.Scalars) > 0 {
		b = protowire.AppendTag(b, fieldScalars, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(4*len(f.Scalars)))
		for _, s := range f.Scalars {
			b = protowire.AppendFixed32(b, math.Float32bits(s))
		}
	}

	b = protowire.AppendTag(b, fieldScalarMin, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(f.ScalarMin))
	b = protowire.AppendTag(b, fieldScalarMax, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(f.ScalarMax))

	if len(f.Boxes) > 0 {
		b = protowire.AppendTag(b, fieldBoxes, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(24*len(f.Boxes)))
		for _, box := range f.Boxes {
			b = appendVec(b, box.Low)
			b = appendVec(b, box.High)
		}
	}

	b = protowire.AppendTag(b, fieldDropped, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Dropped))
	return b
}

func appendVecs(b []byte, num protowire.Number, vs []mgl32.Vec3) []byte {
	if len(vs) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(12*len(vs)))
	for _, v := range vs {
		b = appendVec(b, v)
	}
	return b
}

func appendVec(b []byte, v mgl32.Vec3) []byte {
	for _, c := range v {
		b = protowire.AppendFixed32(b, math.Float32bits(c))
	}
	return b
}

// Unmarshal decodes b into f, replacing its contents. Unknown fields are
// skipped.
func (f *Frame) Unmarshal(b []byte) error {
	*f = Frame{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTick && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: tick: %v", ErrMalformed, protowire.ParseError(n))
			}
			f.Tick = v
			b = b[n:]

		case num == fieldDropped && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: dropped: %v", ErrMalformed, protowire.ParseError(n))
			}
			f.Dropped = uint32(v)
			b = b[n:]

		case (num == fieldScalarMin || num == fieldScalarMax) && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("%w: scalar range: %v", ErrMalformed, protowire.ParseError(n))
			}
			if num == fieldScalarMin {
				f.ScalarMin = math.Float32frombits(v)
			} else {
				f.ScalarMax = math.Float32frombits(v)
			}
			b = b[n:]

		case isPacked(num) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			if err := f.decodePacked(num, v); err != nil {
				return err
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func isPacked(num protowire.Number) bool {
	switch num {
	case fieldPositions, fieldVelocities, fieldScalars, fieldBoxes:
		return true
	}
	return false
}

func (f *Frame) decodePacked(num protowire.Number, v []byte) error {
	floats, err := decodeFloats(v)
	if err != nil {
		return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, err)
	}

	switch num {
	case fieldScalars:
		f.Scalars = floats
	case fieldPositions, fieldVelocities:
		if len(floats)%3 != 0 {
			return fmt.Errorf("%w: field %d holds %d floats", ErrMalformed, num, len(floats))
		}
		vs := make([]mgl32.Vec3, len(floats)/3)
		for i := range vs {
			vs[i] = mgl32.Vec3{floats[3*i], floats[3*i+1], floats[3*i+2]}
		}
		if num == fieldPositions {
			f.Positions = vs
		} else {
			f.Velocities = vs
		}
	case fieldBoxes:
		if len(floats)%6 != 0 {
			return fmt.Errorf("%w: boxes hold %d floats", ErrMalformed, len(floats))
		}
		f.Boxes = make([]Box, len(floats)/6)
		for i := range f.Boxes {
			c := floats[6*i:]
			f.Boxes[i] = Box{Low: mgl32.Vec3{c[0], c[1], c[2]}, High: mgl32.Vec3{c[3], c[4], c[5]}}
		}
	}
	return nil
}

func decodeFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("packed length %d not a multiple of 4", len(b))
	}
	out := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float32frombits(v))
		b = b[n:]
	}
	return out, nil
}
