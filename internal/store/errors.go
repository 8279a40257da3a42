package store

import "errors"

var (
	// ErrUnsupportedVersion is returned when a record was written by a newer
	// schema version than this build understands.
	ErrUnsupportedVersion = errors.New("store: unsupported record version")

	// ErrCorruptRecord is returned when a record cannot be decoded.
	ErrCorruptRecord = errors.New("store: corrupt record")
)
