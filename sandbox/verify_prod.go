//go:build !debug_sandbox

package sandbox

// DebugValidate will call Validate on the provided object and panics if any
// errors are returned. This method no-ops unless the debug_sandbox build
// tag is present.
func DebugValidate(validatable Validatable) {
}

// debugAssert panics with msg when cond is false in builds carrying the
// debug_sandbox tag. Release builds assume callers honor the contracts and
// compile the checks away: universal checking is too expensive for the hot
// paths, and the table's defense is against corrupted handle bits, not
// internal misuse.
func debugAssert(cond bool, msg string) {
}

// debugMarkHandleVisited tags the handle's home location so that a second
// initialization of the same field can be detected during the same marking
// pass. No-op unless the debug_sandbox build tag is present.
func debugMarkHandleVisited(location *Handle, handle Handle) {
}

// debugCheckHandleLocation verifies that the home location actually stores
// the handle being marked. No-op unless the debug_sandbox build tag is
// present.
func debugCheckHandleLocation(handle Handle, location *Handle) {
}
