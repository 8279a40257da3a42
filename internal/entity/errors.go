package entity

import "errors"

// ErrInvalidEntityID is returned for an empty entity id.
var ErrInvalidEntityID = errors.New("entity: invalid entity id")
