package discovery

import "errors"

// ErrPartialReconcile is returned when at least one discovery publish failed.
// The Result still describes everything that was attempted.
var ErrPartialReconcile = errors.New("discovery: partial reconcile")
