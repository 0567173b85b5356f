package storage

import "errors"

// ErrKeyNotFound is returned by Read when the key does not exist in the
// target.
var ErrKeyNotFound = errors.New("key not found")
