// Package switchstate reads switch entity states published by Home
// Assistant's mqtt_statestream integration and reports transitions.
//
// Entity "switch.hall_up" is read from "<base>/switch/hall_up/state", where
// the payload is the plain state string ("on", "off", "unavailable", ...).
package switchstate
