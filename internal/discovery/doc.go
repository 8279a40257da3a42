// Package discovery keeps Home Assistant device-automation triggers on MQTT
// in step with the configured devices.
//
// Every device gets five retained trigger documents, one per dimmer action,
// under <prefix>/device_automation/dimmer_from_switches_<id>/action_<action>/config.
// Devices that were known from an earlier run but are no longer configured
// have those five topics cleared with empty retained payloads.
package discovery
