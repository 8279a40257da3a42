package switchstate

import "errors"

// ErrWatchFailed is returned when a state topic cannot be subscribed.
var ErrWatchFailed = errors.New("switchstate: watch failed")
