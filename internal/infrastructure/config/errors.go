package config

import "errors"

// ErrInvalidDevice is wrapped by every error ValidateDevices reports.
var ErrInvalidDevice = errors.New("config: invalid device")
