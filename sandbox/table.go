// Package sandbox provides a tag-checked indirection table for pointers
// that live outside a sandboxed memory region. Sandboxed code holds compact
// handles into the table instead of raw addresses, so an attacker who can
// corrupt sandbox memory can at worst swap one handle for another of the
// same type: fetching an address with the wrong type tag yields a garbage
// value rather than a valid pointer of another type.
//
// Mutator goroutines may allocate and access entries lock-free while one or
// more marking goroutines run a partial garbage-collection pass; only table
// growth takes a lock.
package sandbox

import (
	"fmt"
	"sync/atomic"

	"github.com/owinebar/v8/internal/utils"
	"golang.org/x/exp/slog"
)

//go:generate mockgen -destination mocks/memory_monitor.go -package mock_sandbox github.com/owinebar/v8/sandbox MemoryMonitor

// MemoryMonitor is notified when the table commits more backing memory, so
// the owning runtime can account for it. A non-nil error is treated as
// resource exhaustion, which is fatal at this layer.
type MemoryMonitor interface {
	CommitTableMemory(bytes int) error
}

const (
	// DefaultMaxEntries is the default reservation size of the table.
	DefaultMaxEntries uint32 = 1 << 20
	// DefaultGrowthStep is the default number of slots committed per
	// growth.
	DefaultGrowthStep uint32 = 1 << 12

	slotSize = 8
)

// CreateOptions configures a new Table.
type CreateOptions struct {
	// Logger receives growth, compaction and sweep diagnostics at Debug
	// level. Hot-path operations never log. Defaults to slog.Default().
	Logger *slog.Logger

	// MaxEntries is the total slot reservation, fixed for the table's
	// lifetime. The backing array never moves, which is what keeps
	// lock-free readers valid across growth. 0 selects DefaultMaxEntries.
	MaxEntries uint32

	// GrowthStep is the number of slots committed each time the freelist
	// runs dry. 0 selects DefaultGrowthStep.
	GrowthStep uint32

	// ExternallySynchronized skips the internal growth lock for embedders
	// that serialize allocation themselves. All other operations are
	// lock-free either way.
	ExternallySynchronized bool
}

// Table is a growable array of tagged-pointer slots with a lock-free
// freelist threaded through the unused ones. Slot 0 is reserved for the
// null handle. The table only ever grows; compaction reduces logical
// occupancy of high slots, never physical capacity.
type Table struct {
	entries []atomic.Uint64

	// Logical number of committed slots. Only grows, only under
	// growthMutex.
	capacity atomic.Uint32

	// Index of the first free slot, 0 when the freelist is empty. When
	// nonzero it designates a slot holding a freelist entry, except
	// transiently between a reader's load and its verifying CAS.
	freelistHead atomic.Uint32

	// Compaction state: notCompactingMarker when idle, the first index of
	// the evacuation area while compacting, or that index OR'd with
	// compactionAbortedMarker once marking ran out of low slots.
	startOfEvacuationArea atomic.Uint32

	growthMutex utils.OptionalMutex
	growthStep  uint32
	logger      *slog.Logger
}

// NewTable reserves the table's backing storage and returns an empty table.
// No slots are committed until the first allocation.
func NewTable(options CreateOptions) *Table {
	maxEntries := options.MaxEntries
	if maxEntries == 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxEntries > maxTableIndex+1 {
		maxEntries = maxTableIndex + 1
	}
	// Slot 0 is reserved, so a usable table needs at least two slots.
	if maxEntries < 2 {
		maxEntries = 2
	}
	growthStep := options.GrowthStep
	if growthStep == 0 {
		growthStep = DefaultGrowthStep
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Table{
		entries:    make([]atomic.Uint64, maxEntries),
		growthStep: growthStep,
		logger:     logger,
	}
	t.growthMutex.UseMutex = !options.ExternallySynchronized
	t.startOfEvacuationArea.Store(notCompactingMarker)
	return t
}

// Capacity returns the number of committed slots, the reserved null slot
// included.
func (t *Table) Capacity() uint32 {
	return t.capacity.Load()
}

// Get fetches the address behind a handle. The handle must have been
// returned by AllocateAndInitializeEntry with the same tag and not yet
// swept away; violations are only caught in debug builds.
func (t *Table) Get(handle Handle, tag Tag) Address {
	index := HandleToIndex(handle)
	entry := Entry(t.entries[index].Load())
	debugAssert(entry.IsRegularEntry(), "entry accessed through a live handle must be regular")
	return entry.Untag(tag)
}

// Set replaces the address behind a handle. The whole slot is replaced
// atomically, and the tag's mark bit rides along with the store: a marker
// racing this write never needs to retry, because whichever write wins the
// slot is marked either way.
func (t *Table) Set(handle Handle, value Address, tag Tag) {
	debugAssert(handle != NullHandle, "the null handle cannot be written")
	debugAssert(uint64(value)&uint64(TagMask) == 0, "address overlaps the tag region")
	debugAssert(Tag(uint64(tag)&uint64(MarkBit)) == MarkBit, "tag must carry the mark bit")

	index := HandleToIndex(handle)
	t.entries[index].Store(uint64(MakeRegularEntry(value, tag)))
}

// Exchange atomically swaps the address behind a handle and returns the
// previous one, untagged with the same tag.
func (t *Table) Exchange(handle Handle, value Address, tag Tag) Address {
	debugAssert(handle != NullHandle, "the null handle cannot be written")
	debugAssert(uint64(value)&uint64(TagMask) == 0, "address overlaps the tag region")
	debugAssert(Tag(uint64(tag)&uint64(MarkBit)) == MarkBit, "tag must carry the mark bit")

	index := HandleToIndex(handle)
	oldEntry := Entry(t.entries[index].Swap(uint64(MakeRegularEntry(value, tag))))
	debugAssert(oldEntry.IsRegularEntry(), "exchanged entry must have been regular")
	return oldEntry.Untag(tag)
}

// tryAllocateEntryFromFreelist attempts to pop the slot at freelistHead off
// the freelist. On success the caller owns that slot; on failure another
// goroutine raced ahead and the caller must retry with a fresh head.
func (t *Table) tryAllocateEntryFromFreelist(freelistHead uint32) bool {
	debugAssert(freelistHead != 0, "cannot pop an empty freelist")
	debugAssert(freelistHead < t.capacity.Load(), "freelist head out of committed range")

	entry := Entry(t.entries[freelistHead].Load())
	newFreelistHead := entry.ExtractNextFreelistEntry()

	// If the CAS succeeds the loaded entry was still a freelist entry.
	// If it fails another goroutine may have allocated the slot between
	// our load and the CAS, and the decoded next index is meaningless.
	success := t.freelistHead.CompareAndSwap(freelistHead, newFreelistHead)
	debugAssert(!success || entry.IsFreelistEntry(), "won a slot that was not free")
	return success
}

// AllocateAndInitializeEntry takes a slot off the freelist, growing the
// table if it is empty, stores a regular entry for the given address and
// tag, and returns the slot's handle. The allocation loop retries without
// bound on CAS races; starvation is accepted in exchange for an
// uncontended fast path with no lock.
//
// The monitor is passed through to growth for memory accounting and may be
// nil. Exhausting the table's reservation is fatal.
func (t *Table) AllocateAndInitializeEntry(monitor MemoryMonitor, initialValue Address, tag Tag) Handle {
	debugAssert(uint64(initialValue)&uint64(TagMask) == 0, "address overlaps the tag region")
	debugAssert(Tag(uint64(tag)&uint64(MarkBit)) == MarkBit, "tag must carry the mark bit")

	for {
		freelistHead := t.freelistHead.Load()
		if freelistHead == 0 {
			// Freelist is empty. Take the growth lock and re-check: another
			// goroutine may have grown the table in the meantime. The
			// load/store pairing around growth is what makes the freshly
			// threaded freelist links visible here without a lock on the
			// fast path.
			t.growthMutex.Lock()
			freelistHead = t.freelistHead.Load()
			if freelistHead == 0 {
				freelistHead = t.grow(monitor)
			}
			t.growthMutex.Unlock()
		}

		if t.tryAllocateEntryFromFreelist(freelistHead) {
			t.entries[freelistHead].Store(uint64(MakeRegularEntry(initialValue, tag)))
			return IndexToHandle(freelistHead)
		}
	}
}

// FreelistSize returns the number of slots currently on the freelist. The
// count is a best-effort snapshot: if the head moves between reading it and
// reading the entry there, the read is simply repeated.
func (t *Table) FreelistSize() uint32 {
	for {
		freelistHead := t.freelistHead.Load()
		if freelistHead == 0 {
			return 0
		}
		entry := Entry(t.entries[freelistHead].Load())
		if entry.IsFreelistEntry() {
			return entry.ExtractFreelistSize()
		}
	}
}

// grow commits the next block of reserved slots and threads them into the
// freelist. Must be called with the growth lock held and the freelist
// empty. The freelist head is published last, after every new link has
// been stored, so that allocation fast paths never observe a
// half-initialized link.
func (t *Table) grow(monitor MemoryMonitor) uint32 {
	capacity := t.capacity.Load()
	newCapacity := capacity + t.growthStep
	if newCapacity < capacity || newCapacity > uint32(len(t.entries)) {
		// The last block may be short.
		newCapacity = uint32(len(t.entries))
	}
	if newCapacity == capacity {
		panic(fmt.Sprintf("external pointer table exhausted its reservation of %d slots", len(t.entries)))
	}
	committedSlots := newCapacity - capacity
	if monitor != nil {
		if err := monitor.CommitTableMemory(int(committedSlots) * slotSize); err != nil {
			panic(fmt.Sprintf("external pointer table growth rejected: %v", err))
		}
	}

	// The first committed block donates slot 0 to the null handle.
	firstFree := capacity
	if firstFree == 0 {
		firstFree = 1
	}
	for i := newCapacity - 1; i >= firstFree; i-- {
		next := i + 1
		if next == newCapacity {
			next = 0
		}
		t.entries[i].Store(uint64(MakeFreelistEntry(next, newCapacity-i)))
	}

	t.capacity.Store(newCapacity)
	t.freelistHead.Store(firstFree)

	t.logger.Debug("external pointer table grown",
		slog.Int("capacity", int(newCapacity)),
		slog.Int("committedSlots", int(committedSlots)))
	return firstFree
}
