// Package bridge owns the running set of virtual dimmers.
//
// Apply is the single entry point for startup and reload. It runs, under
// one lock:
//
//  1. tear down every current binder, cancelling open presses
//  2. load the known device set (failure means empty)
//  3. reconcile discovery triggers
//  4. save the reconciled known set (failure is logged)
//  5. build and start a controller and binder per valid device
package bridge
