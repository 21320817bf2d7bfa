package cht

import (
	"hash/maphash"
	"math/bits"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// mixInt scrambles an integer key with the golden ratio constant so that
// sequential keys do not pile up in neighbouring slots of a linear probe.
// The high half is folded back because slot indices use the low bits.
func mixInt[T constraints.Integer](v T, seed uint64) uintptr {
	x := uint64(v) ^ seed
	if bits.UintSize == 32 {
		x ^= x >> 32
	}
	h := uintptr(x) * hashPrime
	return h ^ h>>(bits.UintSize/2)
}

// defaultHasher picks the key hash once per map, based on the key type.
//
//   - integer kinds: multiplicative mixing
//   - strings: see hashString (xxhash, or siphash with cht_opt_siphash)
//   - everything else: hash/maphash.Comparable
func defaultHasher[K comparable](seed uint64) func(key K) uintptr {
	switch any(*new(K)).(type) {
	case int:
		return func(key K) uintptr { return mixInt(*(*int)(unsafe.Pointer(&key)), seed) }
	case int8:
		return func(key K) uintptr { return mixInt(*(*int8)(unsafe.Pointer(&key)), seed) }
	case int16:
		return func(key K) uintptr { return mixInt(*(*int16)(unsafe.Pointer(&key)), seed) }
	case int32:
		return func(key K) uintptr { return mixInt(*(*int32)(unsafe.Pointer(&key)), seed) }
	case int64:
		return func(key K) uintptr { return mixInt(*(*int64)(unsafe.Pointer(&key)), seed) }
	case uint:
		return func(key K) uintptr { return mixInt(*(*uint)(unsafe.Pointer(&key)), seed) }
	case uint8:
		return func(key K) uintptr { return mixInt(*(*uint8)(unsafe.Pointer(&key)), seed) }
	case uint16:
		return func(key K) uintptr { return mixInt(*(*uint16)(unsafe.Pointer(&key)), seed) }
	case uint32:
		return func(key K) uintptr { return mixInt(*(*uint32)(unsafe.Pointer(&key)), seed) }
	case uint64:
		return func(key K) uintptr { return mixInt(*(*uint64)(unsafe.Pointer(&key)), seed) }
	case uintptr:
		return func(key K) uintptr { return mixInt(*(*uintptr)(unsafe.Pointer(&key)), seed) }
	case string:
		return func(key K) uintptr { return hashString(*(*string)(unsafe.Pointer(&key)), seed) }
	default:
		ms := maphash.MakeSeed()
		return func(key K) uintptr {
			return uintptr(maphash.Comparable(ms, key))
		}
	}
}
