package repositories

import "errors"

// ErrNotFound is returned when a document does not exist, is inactive, or
// the identifier is malformed.
var ErrNotFound = errors.New("not found")
