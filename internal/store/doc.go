// Package store persists the set of device ids whose discovery triggers
// were last published, so a restart can retract devices removed while the
// service was down.
package store
