package sandbox

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// TableStatistics describes the occupancy of the table at one point in
// time. Like FreelistSize, the numbers are a best-effort snapshot when
// taken while mutators run.
type TableStatistics struct {
	// Capacity is the number of committed slots, the null slot included.
	Capacity int
	// LiveEntries is the number of regular entries.
	LiveEntries int
	// MarkedEntries is how many of the regular entries carry the mark bit.
	MarkedEntries int
	// EvacuationEntries is the number of unresolved evacuation records.
	EvacuationEntries int
	// FreeEntries is the number of slots on the freelist.
	FreeEntries int
}

func (s *TableStatistics) Clear() {
	s.Capacity = 0
	s.LiveEntries = 0
	s.MarkedEntries = 0
	s.EvacuationEntries = 0
	s.FreeEntries = 0
}

// AddStatistics sums another snapshot into this one.
func (s *TableStatistics) AddStatistics(other *TableStatistics) {
	s.Capacity += other.Capacity
	s.LiveEntries += other.LiveEntries
	s.MarkedEntries += other.MarkedEntries
	s.EvacuationEntries += other.EvacuationEntries
	s.FreeEntries += other.FreeEntries
}

// AddStatistics sums the table's current occupancy into stats. This walks
// every committed slot and is meant for diagnostics, not hot paths.
func (t *Table) AddStatistics(stats *TableStatistics) {
	capacity := t.capacity.Load()
	stats.Capacity += int(capacity)
	for i := uint32(1); i < capacity; i++ {
		entry := Entry(t.entries[i].Load())
		switch {
		case entry.IsFreelistEntry():
			stats.FreeEntries++
		case entry.IsEvacuationEntry():
			stats.EvacuationEntries++
		default:
			stats.LiveEntries++
			if entry.IsMarked() {
				stats.MarkedEntries++
			}
		}
	}
}

// PrintDetailedMap writes the table's occupancy to the provided JSON
// writer, for diagnostic dumps.
func (t *Table) PrintDetailedMap(writer *jwriter.Writer) {
	var stats TableStatistics
	t.AddStatistics(&stats)

	objState := writer.Object()
	defer objState.End()

	objState.Name("Capacity").Int(stats.Capacity)
	objState.Name("LiveEntries").Int(stats.LiveEntries)
	objState.Name("MarkedEntries").Int(stats.MarkedEntries)
	objState.Name("EvacuationEntries").Int(stats.EvacuationEntries)
	objState.Name("FreeEntries").Int(stats.FreeEntries)
	objState.Name("FreelistSize").Int(int(t.FreelistSize()))
	objState.Name("Compacting").Bool(t.IsCompacting())
}
