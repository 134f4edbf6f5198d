package sandbox

// Address is the raw out-of-sandbox pointer value stored behind an entry.
// Only the low 48 bits may be populated; the top 16 bits of every slot are
// reserved for the type tag.
type Address uint64

// Tag is a type discriminator combined into a regular entry. Embedders
// assign one tag value per logical pointer-consumer type. A tag must lie
// within TagMask, must include MarkBit, and must not collide with the
// reserved freelist and evacuation patterns.
type Tag uint64

const (
	addressBits          = 48
	addressMask   uint64 = (1 << addressBits) - 1
	tagRegionShift       = addressBits

	// TagMask covers the bits of a slot reserved for the type tag.
	TagMask Tag = 0xFFFF << tagRegionShift

	// MarkBit is the liveness bit carried inside every tag. Entries written
	// by mutators always have it set so that a value stored during a marking
	// pass survives that pass without the marker having to retry.
	MarkBit Tag = 1 << 62

	// Reserved tag-region patterns identifying the non-regular entry
	// variants. Both leave MarkBit clear so they never read as marked.
	freeEntryTag       uint64 = 0x3FFF << tagRegionShift
	evacuationEntryTag uint64 = 0x2FFF << tagRegionShift

	tagRegionMask = uint64(TagMask)
)

// Freelist entries pack the next free slot index and the number of free
// slots reachable from this entry (itself included) into the address bits.
const (
	freelistNextBits         = 24
	freelistNextMask  uint64 = (1 << freelistNextBits) - 1
	freelistSizeShift        = freelistNextBits
	freelistSizeMask  uint64 = freelistNextMask << freelistSizeShift
)

// Entry is the content of one table slot: exactly one of a regular tagged
// address, a freelist link, or an evacuation record, self-described by the
// reserved tag-region bits.
type Entry uint64

// MakeRegularEntry combines an address with its tag. The caller guarantees
// that value has no bits inside TagMask and that tag includes MarkBit.
func MakeRegularEntry(value Address, tag Tag) Entry {
	return Entry(uint64(value) | uint64(tag))
}

// Untag strips the given tag from a regular entry. Supplying a different
// tag than the one the entry was created with leaves stray tag-region bits
// in the result, yielding a non-canonical value that cannot be
// dereferenced. That is the type-confusion defense: it fails at the value
// level, not with an error.
func (e Entry) Untag(tag Tag) Address {
	return Address(uint64(e) &^ uint64(tag))
}

// IsFreelistEntry reports whether the entry is a link in the freelist.
func (e Entry) IsFreelistEntry() bool {
	return uint64(e)&tagRegionMask == freeEntryTag
}

// IsEvacuationEntry reports whether the entry is an evacuation record.
func (e Entry) IsEvacuationEntry() bool {
	return uint64(e)&tagRegionMask == evacuationEntryTag
}

// IsRegularEntry reports whether the entry holds a tagged address.
func (e Entry) IsRegularEntry() bool {
	tag := uint64(e) & tagRegionMask
	return tag != freeEntryTag && tag != evacuationEntryTag
}

// IsMarked reports whether the entry's liveness bit is set.
func (e Entry) IsMarked() bool {
	return uint64(e)&uint64(MarkBit) != 0
}

// SetMarkBit sets the liveness bit in place.
func (e *Entry) SetMarkBit() {
	*e |= Entry(MarkBit)
}

// ClearMarkBit clears the liveness bit in place.
func (e *Entry) ClearMarkBit() {
	*e &^= Entry(MarkBit)
}

// MakeFreelistEntry builds a freelist link designating next as the
// following free slot (0 terminates the list) and size as the number of
// free slots reachable from this entry, itself included.
func MakeFreelistEntry(next uint32, size uint32) Entry {
	return Entry(freeEntryTag |
		uint64(size)<<freelistSizeShift |
		uint64(next))
}

// ExtractNextFreelistEntry decodes the next free slot index.
func (e Entry) ExtractNextFreelistEntry() uint32 {
	return uint32(uint64(e) & freelistNextMask)
}

// ExtractFreelistSize decodes the remaining-freelist-size field.
func (e Entry) ExtractFreelistSize() uint32 {
	return uint32((uint64(e) & freelistSizeMask) >> freelistSizeShift)
}
