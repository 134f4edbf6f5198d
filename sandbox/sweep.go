package sandbox

import (
	"sync/atomic"

	"golang.org/x/exp/slog"
)

// SweepStatistics summarizes one sweep pass.
type SweepStatistics struct {
	// LiveEntries is the number of regular entries that survived the cycle.
	LiveEntries int
	// FreedEntries is the number of slots returned to the freelist.
	FreedEntries int
	// RelocatedEntries is the number of evacuation records resolved.
	RelocatedEntries int
}

// SweepAndCompact finishes a collection cycle: it resolves any evacuation
// records left by the marking pass, returns every dead slot to the
// freelist, clears the mark bit on every survivor so the next cycle starts
// unmarked, and resets the compaction state.
//
// The caller must have stopped all mutator and marking activity; this is
// the one operation that sees the table quiescent.
func (t *Table) SweepAndCompact() SweepStatistics {
	var stats SweepStatistics
	capacity := t.capacity.Load()
	if capacity == 0 {
		return stats
	}

	area := t.startOfEvacuationArea.Load()

	// Resolve evacuation records first. They live below the boundary while
	// the values they relocate still sit in the old slots above it, so
	// resolution must complete before the area is reclaimed. Records are
	// resolved even after an abort: the entries already moved must still
	// have their homes rewritten.
	if area != notCompactingMarker {
		boundary := area &^ compactionAbortedMarker
		for i := uint32(1); i < boundary; i++ {
			entry := Entry(t.entries[i].Load())
			if !entry.IsEvacuationEntry() {
				continue
			}
			t.resolveEvacuationEntry(i, entry)
			stats.RelocatedEntries++
		}
	}

	// Walk top-down rebuilding the freelist, so its head ends up at the
	// lowest free index and future allocations fill the table from the
	// bottom.
	var freelistHead, freelistSize uint32
	for i := capacity - 1; i >= 1; i-- {
		entry := Entry(t.entries[i].Load())
		if entry.IsRegularEntry() && entry.IsMarked() {
			entry.ClearMarkBit()
			t.entries[i].Store(uint64(entry))
			stats.LiveEntries++
			continue
		}
		freelistSize++
		t.entries[i].Store(uint64(MakeFreelistEntry(freelistHead, freelistSize)))
		freelistHead = i
	}
	stats.FreedEntries = int(freelistSize)

	t.startOfEvacuationArea.Store(notCompactingMarker)
	t.freelistHead.Store(freelistHead)

	t.logger.Debug("external pointer table swept",
		slog.Int("liveEntries", stats.LiveEntries),
		slog.Int("freedEntries", stats.FreedEntries),
		slog.Int("relocatedEntries", stats.RelocatedEntries))
	return stats
}

// resolveEvacuationEntry moves the live value referenced through an
// evacuation record into the record's slot and rewrites the external handle
// home to match. The old slot is zeroed so the reclamation walk frees it.
func (t *Table) resolveEvacuationEntry(newIndex uint32, entry Entry) {
	location := entry.ExtractEvacuationLocation()
	oldHandle := Handle(atomic.LoadUint32((*uint32)(location))) &^ visitedHandleMarker
	oldIndex := HandleToIndex(oldHandle)
	debugAssert(oldIndex > newIndex, "evacuation must move entries to lower slots")

	oldEntry := Entry(t.entries[oldIndex].Load())
	debugAssert(oldEntry.IsRegularEntry(), "evacuated slot no longer holds a regular entry")
	debugAssert(oldEntry.IsMarked(), "evacuated entries are marked by construction")

	// Keep the mark bit: the reclamation walk is what clears it.
	t.entries[newIndex].Store(uint64(oldEntry))
	atomic.StoreUint32((*uint32)(location), uint32(IndexToHandle(newIndex)))
	t.entries[oldIndex].Store(0)
}
