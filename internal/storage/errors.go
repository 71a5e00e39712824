package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist. Both the
// Postgres and sqlite repositories return it so services can translate misses
// uniformly.
var ErrNotFound = errors.New("storage: not found")
