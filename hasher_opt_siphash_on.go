//go:build cht_opt_siphash

package cht

import (
	"math/bits"
	"unsafe"

	"github.com/dchest/siphash"
)

// hashString hashes string keys with SipHash-2-4 keyed by the map seed,
// which makes collision flooding impractical without knowing the seed.
func hashString(s string, seed uint64) uintptr {
	p := unsafe.Slice(unsafe.StringData(s), len(s))
	h := siphash.Hash(seed, bits.RotateLeft64(seed, 32)^0x736f6d6570736575, p)
	if bits.UintSize == 32 {
		h ^= h >> 32
	}
	return uintptr(h)
}
