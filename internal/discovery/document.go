package discovery

import (
	"encoding/json"

	"github.com/nerrad567/switch-dimmer/internal/infrastructure/mqtt"
)

// Defaults for the device block of every trigger document.
const (
	DefaultManufacturer = "Dimmer from Switches HACS Plugin"
	DefaultModel        = "Dimmer from Switches"
)

// NodeID returns the stable discovery node id of a device.
func NodeID(deviceID string) string {
	return mqtt.TopicPrefixBridge + "_" + deviceID
}

// Document is one device-automation trigger discovery payload.
type Document struct {
	AutomationType string     `json:"automation_type"`
	Type           string     `json:"type"`
	Subtype        string     `json:"subtype"`
	Payload        string     `json:"payload"`
	Topic          string     `json:"topic"`
	Device         DeviceInfo `json:"device"`
}

// DeviceInfo groups every trigger of one virtual dimmer into a single
// Home Assistant device.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Name         string   `json:"name"`
}

func (d Document) marshal() ([]byte, error) {
	return json.Marshal(d)
}
