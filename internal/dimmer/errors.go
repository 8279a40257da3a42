package dimmer

import "errors"

var (
	// ErrUnknownAction is returned for symbols outside the five actions.
	ErrUnknownAction = errors.New("dimmer: unknown action")

	// ErrControllerClosed is returned by Fire after Close.
	ErrControllerClosed = errors.New("dimmer: controller closed")

	// ErrBinderStarted is returned when Start is called twice.
	ErrBinderStarted = errors.New("dimmer: binder already started")

	// ErrBinderStopped is returned when Start is called after Stop.
	ErrBinderStopped = errors.New("dimmer: binder stopped")
)
