package cht

// copySlot forwards one slot of t into t's successor and returns once the
// slot's key cell is Forwarded, whichever goroutine finished the work.
// t.next must already be set.
//
// The steps are replayable: a goroutine that loses a compare-and-swap
// re-reads the slot and either helps finish the same forward or finds it
// done. Empty slots are sealed and tombstones are forwarded without a
// transfer, so nothing can be claimed or revived in t once the slot has
// been passed.
func (m *Map[K, V]) copySlot(t *table[K, V], s *slot[K, V]) {
	next := t.next.Load()
	for {
		kc := s.helpLoad()
		if kc == nil {
			if s.key.CompareAndSwap(nil, m.sealed) {
				return
			}
			continue
		}
		if kc.state == keyForwarded {
			return
		}

		vc := s.val.Load()
		if vc.state != valueForwarding {
			fv := &valueCell[V]{state: valueForwarding}
			if vc.state == valueLive {
				fv.value, fv.live = vc.value, true
			}
			if !s.val.CompareAndSwap(vc, fv) {
				continue
			}
			vc = fv
		}
		if vc.live {
			m.transfer(next, kc.key, vc.value)
		}
		s.key.CompareAndSwap(kc, &keyCell[K, V]{key: kc.key, state: keyForwarded})
		return
	}
}

// transfer inserts a forwarded key into next unless the key is already
// there in any state. Concurrent forwards of one slot carry the same value,
// and a key found in next may already have been overwritten or removed
// there, so an existing entry always wins.
func (m *Map[K, V]) transfer(next *table[K, V], key K, value V) {
	m.insert(next, m.keyHash(key), key, value, putTransfer)
}

// link returns the successor of t, allocating one of double capacity if
// t has none yet. Only the first compare-and-swap on t.next wins; losers
// drop their allocation.
func (m *Map[K, V]) link(t *table[K, V]) (next *table[K, V], created bool) {
	if next = t.next.Load(); next != nil {
		return next, false
	}
	next = newTable[K, V](len(t.slots)<<1, m.cpus)
	if t.next.CompareAndSwap(nil, next) {
		m.totalGrowths.Add(1)
		return next, true
	}
	return t.next.Load(), false
}

// grow handles a full table reported by insert: it links a successor,
// then sweeps and retires tables from the map's current one until the
// current table has no successor.
func (m *Map[K, V]) grow(full *table[K, V]) {
	if _, created := m.link(full); created &&
		m.parallel && m.cpus > 1 && len(full.slots) >= parallelMigrationThreshold {
		for range full.chunks - 1 {
			go m.helpMigrate(full)
		}
	}
	for {
		t := m.table.Load()
		if t.next.Load() == nil {
			return
		}
		m.helpMigrate(t)
	}
}

// helpMigrate sweeps t into its successor and swaps the map's current
// table from t to the successor. Chunks are claimed through t.process;
// once all are claimed, a helper that still sees unfinished chunks sweeps
// the whole table itself rather than wait for their owners.
func (m *Map[K, V]) helpMigrate(t *table[K, V]) {
	next := t.next.Load()
	for t.process.Load() < t.chunks {
		p := t.process.Add(1)
		if p > t.chunks {
			break
		}
		start := int(p-1) * t.chunkSize
		end := min(start+t.chunkSize, len(t.slots))
		for i := start; i < end; i++ {
			m.copySlot(t, &t.slots[i])
		}
		if t.completed.Add(1) == t.chunks {
			break
		}
	}
	if !t.swept() {
		for i := range t.slots {
			m.copySlot(t, &t.slots[i])
		}
	}
	m.table.CompareAndSwap(t, next)
}
