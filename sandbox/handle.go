package sandbox

// Handle is the opaque external identifier for one table slot. Code outside
// the table stores handles, never raw addresses; the slot index is recovered
// with a fixed shift so the transform is branch-free and allocation-free on
// every access.
type Handle uint32

// NullHandle means "no entry". It maps to slot 0, which is reserved and
// never allocated.
const NullHandle Handle = 0

const (
	handleIndexShift = 8

	// visitedHandleMarker is set on a handle's home location in debug
	// builds when the entry is queued for evacuation, to catch double
	// initialization of handle fields. The shift keeps the low handle bits
	// free for it.
	visitedHandleMarker Handle = 0x1

	// maxTableIndex is the largest slot index representable both by a
	// shifted 32-bit handle and by the freelist link encoding.
	maxTableIndex = (1 << (32 - handleIndexShift)) - 1
)

// HandleToIndex recovers the slot index a handle designates.
func HandleToIndex(handle Handle) uint32 {
	return uint32(handle) >> handleIndexShift
}

// IndexToHandle builds the handle designating a slot index.
func IndexToHandle(index uint32) Handle {
	return Handle(index << handleIndexShift)
}
