package sandbox

import "unsafe"

// MakeEvacuationEntry wraps the address of a handle's home location (the
// field that currently stores the handle being evacuated). The record is
// written during marking into a slot below the evacuation boundary and
// consumed by the next sweep, which relocates the live value and rewrites
// the home to the new handle.
func MakeEvacuationEntry(location *Handle) Entry {
	return Entry(evacuationEntryTag | uint64(uintptr(unsafe.Pointer(location)))&addressMask)
}

// ExtractEvacuationLocation recovers the handle home recorded by
// MakeEvacuationEntry.
func (e Entry) ExtractEvacuationLocation() *Handle {
	return (*Handle)(unsafe.Pointer(uintptr(uint64(e) & addressMask)))
}
