package sandbox

import (
	"golang.org/x/exp/slog"
)

const (
	// notCompactingMarker is the idle value of startOfEvacuationArea. No
	// valid slot index compares >= to it, so the hot-path evacuation test
	// in Mark stays a single unsigned compare.
	notCompactingMarker uint32 = 0xFFFFFFFF

	// compactionAbortedMarker is OR'd into the boundary when marking runs
	// out of free slots below it. The boundary itself is retained for the
	// entries already evacuated; no further entries are moved.
	compactionAbortedMarker uint32 = 0xF0000000
)

// StartCompacting begins evacuating the slots at index >=
// startOfEvacuationArea: during the next marking pass, live entries in that
// area are relocated below it, and the following sweep frees the area.
// Must not be called while a marking pass is running.
func (t *Table) StartCompacting(startOfEvacuationArea uint32) {
	debugAssert(startOfEvacuationArea > 0, "the evacuation area cannot include the null slot")
	debugAssert(startOfEvacuationArea <= t.capacity.Load(), "evacuation area starts beyond the committed range")
	t.startOfEvacuationArea.Store(startOfEvacuationArea)
}

// StopCompacting abandons a compaction that has not started marking yet.
func (t *Table) StopCompacting() {
	t.startOfEvacuationArea.Store(notCompactingMarker)
}

// IsCompacting reports whether an evacuation area is currently set, aborted
// or not.
func (t *Table) IsCompacting() bool {
	return t.startOfEvacuationArea.Load() != notCompactingMarker
}

// CompactingWasAbortedDuringMarking reports whether the current compaction
// ran out of free slots below the boundary and stopped evacuating.
func (t *Table) CompactingWasAbortedDuringMarking() bool {
	area := t.startOfEvacuationArea.Load()
	return area != notCompactingMarker &&
		area&compactionAbortedMarker == compactionAbortedMarker
}

// AllocateEvacuationEntry takes a slot off the freelist like
// AllocateAndInitializeEntry, but only ever from below
// startOfEvacuationArea, and never grows the table: slots at or above the
// boundary are the ones being evacuated away, so relocating into them would
// be self-defeating. Returns NullHandle when no such slot is free.
func (t *Table) AllocateEvacuationEntry(startOfEvacuationArea uint32) Handle {
	for {
		freelistHead := t.freelistHead.Load()
		if freelistHead == 0 || freelistHead >= startOfEvacuationArea {
			return NullHandle
		}
		if t.tryAllocateEntryFromFreelist(freelistHead) {
			return IndexToHandle(freelistHead)
		}
	}
}

// Mark flags the entry behind handle as live for the current collection
// cycle. location is the handle's home: the field in external storage that
// holds the handle, which must stay valid until the next sweep.
//
// If compaction is active and the entry lies in the evacuation area, a slot
// below the boundary is claimed and an evacuation record pointing at
// location is written into it; the sweep later moves the live value there
// and rewrites the home. If no slot below the boundary is free, compaction
// is aborted: entries already evacuated stay evacuated, the rest stay
// where they are, and the table remains fully correct, just less compact.
func (t *Table) Mark(handle Handle, location *Handle) {
	debugCheckHandleLocation(handle, location)

	index := HandleToIndex(handle)

	// Snapshot the boundary exactly once. Another marking goroutine may
	// abort compaction while this call runs; acting on a mix of stale and
	// fresh values could allocate the evacuation entry after the very
	// entry it targets.
	startOfEvacuationArea := t.startOfEvacuationArea.Load()
	if index >= startOfEvacuationArea {
		debugAssert(t.IsCompacting(), "an index can only reach the boundary while compacting")
		newHandle := t.AllocateEvacuationEntry(startOfEvacuationArea)
		if newHandle != NullHandle {
			newIndex := HandleToIndex(newHandle)
			debugAssert(newIndex < startOfEvacuationArea, "evacuation entry landed inside the evacuation area")
			// The new slot is only ever touched by the sweep from here on,
			// but slots are whole-word atomics anyway.
			t.entries[newIndex].Store(uint64(MakeEvacuationEntry(location)))
			debugMarkHandleVisited(location, handle)
		} else {
			// The mutators have drained the freelist below the boundary.
			// Shrinking the area and pressing on would squeeze the
			// freelist further, so give up on moving anything else.
			t.startOfEvacuationArea.Store(startOfEvacuationArea | compactionAbortedMarker)
			t.logger.Debug("table compaction aborted during marking",
				slog.Int("startOfEvacuationArea", int(startOfEvacuationArea)))
		}
	}

	// The entry must be marked even when queued for evacuation: the sweep
	// may visit it before consuming the evacuation record.
	oldEntry := Entry(t.entries[index].Load())
	debugAssert(oldEntry.IsRegularEntry(), "marked an entry that is not regular")

	newEntry := oldEntry
	newEntry.SetMarkBit()

	// One CAS, no retry: if it fails, a mutator replaced the slot between
	// the load and the CAS, and every mutator write embeds the mark bit
	// itself, so the slot is marked either way.
	t.entries[index].CompareAndSwap(uint64(oldEntry), uint64(newEntry))
}
