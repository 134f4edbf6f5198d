package sandbox

import "github.com/pkg/errors"

// TableCorruptionError is the error returned from Validate when the table's
// internal invariants do not hold.
var TableCorruptionError error = errors.New("external pointer table is corrupt")
