//go:build cht_opt_enablepadding

package cht

import "unsafe"

// counterStripe occupies a whole cache line so that neighbouring stripes
// never share one.
type counterStripe struct {
	c int64
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(int64(0))%CacheLineSize) % CacheLineSize]byte
}
