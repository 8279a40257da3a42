// Package dimmer turns a pair of on/off switches into a virtual dimmer.
//
// Each switch has its own press machine with three states:
//
//	Idle --off->on--> OpenShort --window elapses--> OpenLong (emits long action)
//	OpenShort --on->off--> Idle (emits short action)
//	OpenLong  --on->off--> Idle (emits brightness_stop)
//
// The up switch maps to on / brightness_move_up, the down switch to
// off / brightness_move_down. A Controller records the last action per
// device and republishes each one on dimmer_from_switches/<id>/action.
// A Binder owns both machines, the state subscription and the controller.
package dimmer
