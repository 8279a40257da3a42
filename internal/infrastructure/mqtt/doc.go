// Package mqtt provides MQTT client connectivity for the switch dimmer.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing discovery documents (retained) and actions (non-retained)
//   - Subscriptions to Home Assistant statestream topics
//   - Last Will and Testament on dimmer_from_switches/status
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic, _ := mqtt.Topics{}.EntityState("switch.hall_up")
//	err = client.Subscribe(topic, 1, func(topic string, payload []byte) error {
//	    return nil
//	})
package mqtt
