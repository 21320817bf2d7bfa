// Package cht provides Map, a concurrent hash table whose insert, lookup
// and delete never take a lock, including while the table grows.
package cht

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
)

// ErrInvalidArgument is returned by New for a non-positive capacity or an
// invalid option value.
var ErrInvalidArgument = errors.New("cht: invalid argument")

// Map is a concurrent hash map with lock-free growth.
//
// Keys live in a power-of-two, open-addressed table probed linearly. Each
// slot is a pair of independently compare-and-swapped cells, a key cell
// and a value cell, carrying explicit state tags (Provisional, Published,
// Forwarded / Live, Tombstone, Forwarding) instead of sentinel values, so
// no user key or value can be mistaken for an internal marker.
//
// When an insert finds its table full, the map links a successor of
// double capacity and starts moving slots into it. Moving is cooperative:
// any goroutine that touches a slot of a table with a successor forwards
// that slot before using it, so no operation ever waits for the goroutine
// that started the growth. The goroutine that triggered growth sweeps the
// whole table (sharing chunks with any other helper) and then swaps the
// map's current table to the successor.
//
// Operations on the same key are linearizable. Put and Remove take effect
// at their successful value or key compare-and-swap; Get at the load that
// decided its result.
//
// Key features:
//   - Put / Get / Remove, plus sync.Map style Load, Store, Swap,
//     LoadOrStore, LoadAndDelete and Delete
//   - Grows only; removed keys leave tombstones that are dropped on growth
//   - Size is kept in striped counters, O(number of CPUs)
//   - Stats for diagnostics
//
// A Map must be created with New and must not be copied after first use.
type Map[K comparable, V any] struct {
	_            noCopy
	table        atomic.Pointer[table[K, V]]
	totalGrowths atomic.Uint32
	size         sizeCounter
	keyHash      func(key K) uintptr
	// sealed is the shared Forwarded(vacant) key cell. It is terminal and
	// carries no data, so every table may install the same pointer.
	sealed     *keyCell[K, V]
	probeLimit int
	parallel   bool
	cpus       int
}

// Config defines configurable Map options.
type Config struct {
	probeLimit        int
	parallelMigration bool
}

// WithProbeLimit makes Put treat a table as full once limit slots have been
// probed without placing the key, provided at least half of the table is in
// use. Zero, the default, probes the whole table before growing.
func WithProbeLimit(limit int) func(*Config) {
	return func(c *Config) {
		c.probeLimit = limit
	}
}

// WithParallelMigration enables or disables background sweepers for large
// tables. Enabled by default. Growth stays correct either way, since every
// operation forwards the slots it touches.
func WithParallelMigration(enabled bool) func(*Config) {
	return func(c *Config) {
		c.parallelMigration = enabled
	}
}

// New creates a Map able to hold initialCapacity keys before it first
// grows. The capacity is rounded up to a power of two.
func New[K comparable, V any](initialCapacity int, options ...func(*Config)) (*Map[K, V], error) {
	if initialCapacity <= 0 {
		return nil, fmt.Errorf("%w: initial capacity must be positive, got %d",
			ErrInvalidArgument, initialCapacity)
	}
	c := &Config{parallelMigration: true}
	for _, o := range options {
		o(c)
	}
	if c.probeLimit < 0 {
		return nil, fmt.Errorf("%w: probe limit must not be negative, got %d",
			ErrInvalidArgument, c.probeLimit)
	}

	cpus := runtime.GOMAXPROCS(0)
	m := &Map[K, V]{
		size:       newSizeCounter(cpus),
		keyHash:    defaultHasher[K](rand.Uint64()),
		sealed:     &keyCell[K, V]{state: keyForwarded, vacant: true},
		probeLimit: c.probeLimit,
		parallel:   c.parallelMigration,
		cpus:       cpus,
	}
	m.table.Store(newTable[K, V](nextPowOf2(initialCapacity), cpus))
	return m, nil
}

// Put stores value under key and returns the value it replaced, if any.
// It may grow the table.
func (m *Map[K, V]) Put(key K, value V) (previous V, loaded bool) {
	return m.upsert(key, value, putAlways)
}

// Get returns the value stored under key, if any.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	return m.lookup(m.table.Load(), m.keyHash(key), key)
}

// lookup searches t and its successors without forwarding any slot.
func (m *Map[K, V]) lookup(t *table[K, V], hash uintptr, key K) (value V, ok bool) {
next:
	for {
		i := hash & t.mask
		for probed := 0; probed < len(t.slots); probed++ {
			s := &t.slots[i]
			kc := s.helpLoad()
			if kc == nil {
				return
			}
			if kc.state == keyForwarded {
				if kc.vacant || kc.key == key {
					t = t.next.Load()
					continue next
				}
			} else if kc.key == key {
				return s.val.Load().resolve()
			}
			i = (i + 1) & t.mask
		}
		if t = t.next.Load(); t == nil {
			return
		}
	}
}

// Remove deletes key and returns the value it held, if any.
func (m *Map[K, V]) Remove(key K) (previous V, loaded bool) {
	hash := m.keyHash(key)
	t := m.table.Load()
next:
	for {
		i := hash & t.mask
		for probed := 0; probed < len(t.slots); probed++ {
			s := &t.slots[i]
			if t.next.Load() != nil {
				m.copySlot(t, s)
			}
			kc := s.helpLoad()
			if kc == nil {
				return
			}
			if kc.state == keyForwarded {
				if kc.vacant || kc.key == key {
					t = t.next.Load()
					continue next
				}
			} else if kc.key == key {
				var tomb *valueCell[V]
				for {
					vc := s.val.Load()
					switch vc.state {
					case valueTombstone:
						return
					case valueForwarding:
						m.copySlot(t, s)
						t = t.next.Load()
						continue next
					}
					if tomb == nil {
						tomb = &valueCell[V]{state: valueTombstone}
					}
					if s.val.CompareAndSwap(vc, tomb) {
						m.size.add(hash, -1)
						return vc.value, true
					}
				}
			}
			i = (i + 1) & t.mask
		}
		if t = t.next.Load(); t == nil {
			return
		}
	}
}

// Load retrieves a value for a key, compatible with `sync.Map`.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	return m.Get(key)
}

// Store inserts or updates a key-value pair, compatible with `sync.Map`.
func (m *Map[K, V]) Store(key K, value V) {
	m.upsert(key, value, putAlways)
}

// Swap stores a key-value pair and returns the previous value if any, compatible with `sync.Map`.
func (m *Map[K, V]) Swap(key K, value V) (previous V, loaded bool) {
	return m.upsert(key, value, putAlways)
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value, compatible with `sync.Map`.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	if actual, loaded = m.upsert(key, value, putIfAbsent); loaded {
		return actual, true
	}
	return value, false
}

// LoadAndDelete deletes the value for a key, returning the previous value if any,
// compatible with `sync.Map`.
func (m *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	return m.Remove(key)
}

// Delete deletes the value for a key, compatible with `sync.Map`.
func (m *Map[K, V]) Delete(key K) {
	m.Remove(key)
}

// HasKey reports whether key is present.
func (m *Map[K, V]) HasKey(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Size returns the number of keys in the map. It is exact when no
// operation is in flight.
func (m *Map[K, V]) Size() int {
	return m.size.sum()
}

// Capacity returns the number of slots of the current table.
func (m *Map[K, V]) Capacity() int {
	return len(m.table.Load().slots)
}

type putMode uint8

const (
	putAlways   putMode = iota // Put, Store, Swap
	putIfAbsent                // LoadOrStore
	putTransfer                // migration into a successor
)

func (m *Map[K, V]) upsert(key K, value V, mode putMode) (previous V, loaded bool) {
	hash := m.keyHash(key)
	for {
		prev, ok, full := m.insert(m.table.Load(), hash, key, value, mode)
		if full == nil {
			return prev, ok
		}
		m.grow(full)
	}
}

// insert places key in t or in a successor of t. It returns the table that
// ran out of room when the key could not be placed and t has no successor,
// or when the probe limit stopped the scan of t; putTransfer never does, it
// links a successor itself. The probe limit only applies while t has no
// successor.
func (m *Map[K, V]) insert(
	t *table[K, V],
	hash uintptr,
	key K,
	value V,
	mode putMode,
) (previous V, loaded bool, full *table[K, V]) {
	var claim *keyCell[K, V]
next:
	for {
		limit := len(t.slots)
		if m.probeLimit > 0 && mode != putTransfer &&
			m.size.exceeds(len(t.slots)/2) {
			limit = min(limit, m.probeLimit)
		}
		i := hash & t.mask
		probed := 0
		for probed < len(t.slots) {
			s := &t.slots[i]
			if t.next.Load() != nil {
				m.copySlot(t, s)
			} else if probed >= limit {
				break
			}
			kc := s.helpLoad()
			if kc == nil {
				if claim == nil {
					claim = &keyCell[K, V]{key: key, value: value, state: keyProvisional}
				}
				if s.key.CompareAndSwap(nil, claim) {
					s.publish(claim)
					if mode != putTransfer {
						m.size.add(hash, 1)
					}
					return
				}
				continue
			}
			if kc.state == keyForwarded {
				if !kc.vacant && kc.key == key && mode == putTransfer {
					// The key reached this table before; whatever it
					// holds now is newer than the snapshot being moved.
					return
				}
				if kc.vacant || kc.key == key {
					t = t.next.Load()
					continue next
				}
			} else if kc.key == key {
				if mode == putTransfer {
					return
				}
				if prev, ok, done := m.replace(t, s, hash, value, mode); done {
					return prev, ok, nil
				}
				t = t.next.Load()
				continue next
			}
			i = (i + 1) & t.mask
			probed++
		}
		if probed < len(t.slots) {
			// Cut short by the probe limit. The key may still sit further
			// along in t, so growth must finish before the put is retried.
			return previous, false, t
		}
		if n := t.next.Load(); n != nil {
			t = n
			continue
		}
		if mode == putTransfer {
			t, _ = m.link(t)
			continue
		}
		return previous, false, t
	}
}

// replace writes value into the value cell of a published key. done is
// false when the slot has been snapshotted for migration, in which case
// the successor holds the key and the caller must continue there.
func (m *Map[K, V]) replace(
	t *table[K, V],
	s *slot[K, V],
	hash uintptr,
	value V,
	mode putMode,
) (previous V, loaded, done bool) {
	var nv *valueCell[V]
	for {
		vc := s.val.Load()
		switch vc.state {
		case valueForwarding:
			m.copySlot(t, s)
			return
		case valueLive:
			if mode == putIfAbsent {
				return vc.value, true, true
			}
		}
		if nv == nil {
			nv = &valueCell[V]{value: value, state: valueLive}
		}
		if s.val.CompareAndSwap(vc, nv) {
			if vc.state == valueTombstone {
				m.size.add(hash, 1)
				return previous, false, true
			}
			return vc.value, true, true
		}
	}
}

// noCopy may be added to structs which must not be copied
// after the first use. See https://golang.org/issues/8005.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
