package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots used by the switch dimmer.
const (
	// TopicPrefixBridge is the root of everything this service owns.
	TopicPrefixBridge = "dimmer_from_switches"

	// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix.
	DefaultDiscoveryPrefix = "homeassistant"

	// DefaultStatestreamBase is the default base topic of mqtt_statestream.
	DefaultStatestreamBase = "homeassistant"
)

// Topics provides builders for the MQTT topics this service reads and writes.
// The zero value uses the Home Assistant defaults.
//
//	topics := mqtt.Topics{}
//	topics.DeviceAction("living")
//	// Returns: "dimmer_from_switches/living/action"
type Topics struct {
	DiscoveryPrefix string
	StatestreamBase string
}

func (t Topics) discoveryPrefix() string {
	if t.DiscoveryPrefix == "" {
		return DefaultDiscoveryPrefix
	}
	return t.DiscoveryPrefix
}

func (t Topics) statestreamBase() string {
	if t.StatestreamBase == "" {
		return DefaultStatestreamBase
	}
	return t.StatestreamBase
}

// DeviceTrigger returns the device-automation discovery topic of one trigger.
//
// Example: homeassistant/device_automation/dimmer_from_switches_living/action_on/config
func (t Topics) DeviceTrigger(nodeID, subtype string) string {
	return fmt.Sprintf("%s/device_automation/%s/action_%s/config", t.discoveryPrefix(), nodeID, subtype)
}

// DeviceAction returns the topic a virtual dimmer's actions are published on.
//
// Example: dimmer_from_switches/living/action
func (Topics) DeviceAction(deviceID string) string {
	return fmt.Sprintf("%s/%s/action", TopicPrefixBridge, deviceID)
}

// EntityState returns the statestream topic carrying an entity's state.
// The entity id must have the form "domain.object_id".
//
// Example: homeassistant/switch/hall_up/state
func (t Topics) EntityState(entityID string) (string, error) {
	domain, object, ok := strings.Cut(entityID, ".")
	if !ok || domain == "" || object == "" || strings.ContainsAny(entityID, "/+#") {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	return fmt.Sprintf("%s/%s/%s/state", t.statestreamBase(), domain, object), nil
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: dimmer_from_switches/status
func (Topics) SystemStatus() string {
	return TopicPrefixBridge + "/status"
}
