package cht

import (
	"fmt"
	"strings"
)

// Stats returns statistics for the Map. Just like other map
// methods, this one is thread-safe. Yet it's an O(N) operation,
// so it should be used only for diagnostics or debugging purposes.
func (m *Map[K, V]) Stats() *MapStats {
	stats := &MapStats{
		TotalGrowths: m.totalGrowths.Load(),
		Counter:      m.size.sum(),
		CounterLen:   len(m.size.stripes),
	}
	cur := m.table.Load()
	stats.Capacity = len(cur.slots)
	for t := cur; t != nil; t = t.next.Load() {
		stats.ChainLen++
		for i := range t.slots {
			s := &t.slots[i]
			kc := s.key.Load()
			if kc == nil {
				continue
			}
			switch kc.state {
			case keyForwarded:
				stats.Forwarded++
				continue
			case keyProvisional:
				// not yet split; the claimed value is live
				stats.Size++
				continue
			}
			vc := s.val.Load()
			switch vc.state {
			case valueLive:
				stats.Size++
			case valueTombstone:
				stats.Tombstones++
			case valueForwarding:
				// Snapshotted but not yet forwarded. Until the slot is
				// forwarded nothing can change the key in the successor,
				// so a copy found there is the same key counted later.
				if vc.live {
					if _, ok := m.lookup(t.next.Load(), m.keyHash(kc.key), kc.key); !ok {
						stats.Size++
					}
				}
			}
			if t == cur {
				home := m.keyHash(kc.key) & t.mask
				stats.MaxProbe = max(stats.MaxProbe, int((uintptr(i)-home)&t.mask))
			}
		}
	}
	return stats
}

// MapStats is Map statistics.
//
// Warning: map statistics are intended to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// Capacity is the number of slots of the current table.
	Capacity int
	// Size is the number of live keys found by scanning the current
	// table and its successors. A key that is mid-migration is counted
	// once: in the successor once its copy has arrived there, otherwise
	// in the table holding its snapshot.
	Size int
	// Counter is the number of keys according to the striped counter.
	// Under concurrent modification it may differ from Size.
	Counter int
	// CounterLen is the number of counter stripes.
	CounterLen int
	// Tombstones is the number of removed keys still occupying a slot.
	Tombstones int
	// Forwarded is the number of slots already moved to a successor,
	// including sealed empty slots.
	Forwarded int
	// ChainLen is the number of tables reachable from the current one.
	// It is 1 unless a growth is in progress.
	ChainLen int
	// MaxProbe is the longest distance of a key from its home slot in
	// the current table.
	MaxProbe int
	// TotalGrowths is the number of times a successor table was linked.
	TotalGrowths uint32
}

// ToString returns string representation of map stats.
func (s *MapStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("Capacity:     %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:      %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("CounterLen:   %d\n", s.CounterLen))
	sb.WriteString(fmt.Sprintf("Tombstones:   %d\n", s.Tombstones))
	sb.WriteString(fmt.Sprintf("Forwarded:    %d\n", s.Forwarded))
	sb.WriteString(fmt.Sprintf("ChainLen:     %d\n", s.ChainLen))
	sb.WriteString(fmt.Sprintf("MaxProbe:     %d\n", s.MaxProbe))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString("}\n")
	return sb.String()
}
