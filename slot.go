package cht

import "sync/atomic"

// keyState tags a key cell. A nil *keyCell is the Empty state.
type keyState uint8

const (
	// keyProvisional claims the slot for key and carries the value the
	// claimer wants to write. Anyone who sees it must publish it first.
	keyProvisional keyState = iota + 1
	// keyPublished is the bare key; the value lives in the value cell.
	keyPublished
	// keyForwarded is terminal: the slot's content lives in the successor.
	keyForwarded
)

// keyCell is immutable once installed. Every transition installs a fresh
// cell, so pointer identity is what compare-and-swap compares.
type keyCell[K comparable, V any] struct {
	key   K
	value V // keyProvisional only
	state keyState
	// vacant marks a keyForwarded cell that sealed an Empty slot. No key
	// can live past it in the probe sequence, so every probe that reaches
	// it continues in the successor.
	vacant bool
}

// valueState tags a value cell. A nil *valueCell is the Empty state, which
// is only ever seen before the owning key is published.
type valueState uint8

const (
	valueLive valueState = iota + 1
	valueTombstone
	// valueForwarding is the migration snapshot and is terminal for this
	// table. live reports whether the snapshot holds a value or a tombstone.
	valueForwarding
)

type valueCell[V any] struct {
	value V
	state valueState
	live  bool
}

// resolve maps a value cell to the logical value it carries.
func (c *valueCell[V]) resolve() (value V, ok bool) {
	if c == nil {
		return
	}
	switch c.state {
	case valueLive:
		return c.value, true
	case valueForwarding:
		if c.live {
			return c.value, true
		}
	}
	return
}

// slot is one key cell and one value cell. The two cells are written
// independently with single-word compare-and-swap.
type slot[K comparable, V any] struct {
	key atomic.Pointer[keyCell[K, V]]
	val atomic.Pointer[valueCell[V]]
}

// publish splits a Provisional claim into a bare key and a live value.
// It is idempotent: every step is a compare-and-swap from a state that
// only the claim itself can have produced, so helpers may replay it.
func (s *slot[K, V]) publish(pc *keyCell[K, V]) {
	if s.val.Load() == nil {
		s.val.CompareAndSwap(nil, &valueCell[V]{value: pc.value, state: valueLive})
	}
	s.key.CompareAndSwap(pc, &keyCell[K, V]{key: pc.key, state: keyPublished})
}

// helpLoad returns the key cell after finishing any Provisional claim it
// finds there, so callers only ever see Empty, Published or Forwarded.
func (s *slot[K, V]) helpLoad() *keyCell[K, V] {
	for {
		kc := s.key.Load()
		if kc == nil || kc.state != keyProvisional {
			return kc
		}
		s.publish(kc)
	}
}
