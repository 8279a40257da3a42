// Package entity records which source switch entities are hidden from end
// users. A switch that feeds a dimmer is hidden by the integration unless
// something else already hid it; a user's own choice is never overwritten.
//
// The registry is a local SQLite table standing in for Home Assistant's
// entity registry. Hide records the decision in that table only: nothing is
// sent to Home Assistant, and the switch stays visible there. The recorded
// rows are listed by GET /api/v1/sources.
package entity
