package cht

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is used in structure padding to prevent false sharing.
// It's derived from the `golang.org/x/sys/cpu` package.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})

// sizeCounter is a striped counter of live keys. Stripes are selected by
// key hash, so writers of different keys rarely touch the same word.
type sizeCounter struct {
	stripes []counterStripe
	mask    uintptr
}

func newSizeCounter(cpus int) sizeCounter {
	n := nextPowOf2(cpus)
	return sizeCounter{
		stripes: make([]counterStripe, n),
		mask:    uintptr(n - 1),
	}
}

func (c *sizeCounter) add(hash uintptr, delta int64) {
	atomic.AddInt64(&c.stripes[hash&c.mask].c, delta)
}

// sum is exact only in quiescence; a concurrent remove may be counted on
// one stripe before the matching insert is counted on another.
func (c *sizeCounter) sum() int {
	var s int64
	for i := range c.stripes {
		s += atomic.LoadInt64(&c.stripes[i].c)
	}
	return int(max(s, 0))
}

// exceeds reports whether the counter has reached limit, stopping early.
func (c *sizeCounter) exceeds(limit int) bool {
	var s int64
	for i := range c.stripes {
		s += atomic.LoadInt64(&c.stripes[i].c)
		if s >= int64(limit) {
			return true
		}
	}
	return false
}
