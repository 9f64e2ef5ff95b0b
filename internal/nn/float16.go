package nn

import "math"

// Float16 is an IEEE 754 half-precision value stored in a uint16. The
// reduced-precision forward pass rounds activations through this format
// while gradients and master weights stay float32.
type Float16 uint16

// FromFloat32 converts with round-to-nearest semantics, clamping overflow to
// infinity and flushing subnormals to zero.
func FromFloat32(f float32) Float16 {
	if math.IsNaN(float64(f)) {
		return 0x7e00
	}
	bits := math.Float32bits(f)
	sign := bits & 0x80000000
	bits &= 0x7fffffff
	bits += 0x1000 // round to nearest; carry ripples into the exponent

	if bits >= 0x47800000 { // above max half magnitude
		return Float16((sign >> 16) | 0x7c00)
	}
	if bits < 0x38800000 { // below min normal half magnitude
		return Float16(sign >> 16)
	}

	exp := (bits >> 23) - 127 + 15
	mantissa := bits >> 13
	return Float16((sign >> 16) | (exp << 10) | (mantissa & 0x3ff))
}

func (h Float16) Float32() float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h&0x7c00) >> 10
	mantissa := uint32(h & 0x3ff)

	if exp == 0x1f {
		if mantissa == 0 {
			return math.Float32frombits(sign | 0x7f800000)
		}
		return math.Float32frombits(sign | 0x7fc00000)
	}
	if exp == 0 {
		// Zero; subnormals were flushed on conversion.
		return math.Float32frombits(sign)
	}

	return math.Float32frombits(sign | ((exp - 15 + 127) << 23) | (mantissa << 13))
}

// RoundHalf rounds a float32 through half precision.
func RoundHalf(f float32) float32 {
	return FromFloat32(f).Float32()
}

func roundHalfTensor(t *Tensor) {
	for i, v := range t.Data {
		t.Data[i] = RoundHalf(v)
	}
}
