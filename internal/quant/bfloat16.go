package quant

import "math"

// Float32ToBF16 truncates a float32 to bfloat16 with IEEE-754
// round-to-nearest-even: add 0x7FFF plus the lowest surviving mantissa
// bit to the raw bit pattern, then keep the top 16 bits. This must be
// explicit bit arithmetic so every platform reproduces the exact same
// stored scale/bias words.
func Float32ToBF16(v float32) uint16 {
	u := math.Float32bits(v)
	rounding := ((u >> 16) & 1) + 0x7FFF
	u += rounding
	return uint16(u >> 16)
}

// BF16ToFloat32 widens a bfloat16 by zero-filling the low mantissa.
func BF16ToFloat32(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}

// bf16Round is the value a float32 becomes after a bf16 store+load
// round trip.
func bf16Round(v float32) float32 {
	return BF16ToFloat32(Float32ToBF16(v))
}

// packScaleBias stores scale in the low half-word and bias in the
// high half-word, matching the persisted weight format.
func packScaleBias(scale, bias float32) uint32 {
	return uint32(Float32ToBF16(scale)) | uint32(Float32ToBF16(bias))<<16
}

func unpackScaleBias(word uint32) (scale, bias float32) {
	return BF16ToFloat32(uint16(word & 0xFFFF)), BF16ToFloat32(uint16(word >> 16))
}
