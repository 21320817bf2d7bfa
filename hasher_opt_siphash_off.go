//go:build !cht_opt_siphash

package cht

import "github.com/cespare/xxhash/v2"

// hashString hashes string keys with xxhash. It is fast but not keyed; build
// with -tags cht_opt_siphash when keys come from untrusted input.
func hashString(s string, seed uint64) uintptr {
	return mixInt(xxhash.Sum64String(s), seed)
}
