package uds

import "math/bits"

// SecurityConstant is XORed into the seed before rotation
const SecurityConstant uint32 = 0xDEADBEEF

// SecurityRotation is the left rotation applied after the XOR
const SecurityRotation = 13

// ComputeKey derives the security access key for seed. Both the ECU and
// the tester use it so seed/key pairs verify bit for bit.
func ComputeKey(seed uint32) uint32 {
	return bits.RotateLeft32(seed^SecurityConstant, SecurityRotation)
}
