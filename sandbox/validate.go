package sandbox

import (
	cerrors "github.com/cockroachdb/errors"
)

// Validatable is used by DebugValidate to act upon all types with a
// Validate method.
type Validatable interface {
	Validate() error
}

var _ Validatable = (*Table)(nil)

// Validate performs internal consistency checks on the table: every
// committed slot must hold exactly one well-formed variant, the freelist
// chain must be intact with accurate remaining-size counts, and every slot
// must be accounted for either by the freelist or by a live entry. It may
// only be called at a quiescent point, with no operations in flight; under
// concurrency the snapshot it walks is not meaningful.
//
// When the table is functioning correctly this cannot return an error, but
// it helps diagnose embedder misuse that release builds deliberately do
// not check for.
func (t *Table) Validate() error {
	capacity := t.capacity.Load()
	if capacity > uint32(len(t.entries)) {
		return cerrors.Wrapf(TableCorruptionError, "capacity %d exceeds the reservation of %d slots", capacity, len(t.entries))
	}

	area := t.startOfEvacuationArea.Load()
	if area != notCompactingMarker {
		boundary := area &^ compactionAbortedMarker
		if boundary == 0 || boundary > capacity {
			return cerrors.Wrapf(TableCorruptionError, "evacuation boundary %d outside the committed range", boundary)
		}
	}

	var freeEntries, otherEntries uint32
	for i := uint32(1); i < capacity; i++ {
		if Entry(t.entries[i].Load()).IsFreelistEntry() {
			freeEntries++
		} else {
			otherEntries++
		}
	}

	// Walk the freelist chain and cross-check it against the per-slot
	// count. The walk is bounded by capacity so a cycle cannot hang it.
	head := t.freelistHead.Load()
	var walked uint32
	for next := head; next != 0; {
		if next >= capacity {
			return cerrors.Wrapf(TableCorruptionError, "freelist link to slot %d beyond capacity %d", next, capacity)
		}
		entry := Entry(t.entries[next].Load())
		if !entry.IsFreelistEntry() {
			return cerrors.Wrapf(TableCorruptionError, "freelist chain reached non-free slot %d", next)
		}
		if size := entry.ExtractFreelistSize(); size != freeEntries-walked {
			return cerrors.Wrapf(TableCorruptionError, "slot %d records %d remaining free slots, want %d", next, size, freeEntries-walked)
		}
		walked++
		if walked > capacity {
			return cerrors.Wrapf(TableCorruptionError, "freelist chain from head %d does not terminate", head)
		}
		next = entry.ExtractNextFreelistEntry()
	}
	if walked != freeEntries {
		return cerrors.Wrapf(TableCorruptionError, "freelist chain holds %d slots but %d slots are free", walked, freeEntries)
	}
	if capacity > 0 && 1+freeEntries+otherEntries != capacity {
		return cerrors.Wrapf(TableCorruptionError, "%d free and %d live slots do not add up to capacity %d", freeEntries, otherEntries, capacity)
	}
	return nil
}
