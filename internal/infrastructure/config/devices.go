package config

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DefaultPressWindowMS separates a short press from a long press when a
// device record does not set press_window_ms.
const DefaultPressWindowMS = 500

// DeviceConfig is one virtual dimmer built from two switch entities.
type DeviceConfig struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	UpSwitch      string `yaml:"up_switch" json:"up_switch"`
	DownSwitch    string `yaml:"down_switch" json:"down_switch"`
	PressWindowMS *int   `yaml:"press_window_ms,omitempty" json:"press_window_ms,omitempty"`
	HideSources   bool   `yaml:"hide_sources" json:"hide_sources"`
}

// PressWindow returns the short/long threshold, falling back to the default.
func (d DeviceConfig) PressWindow() time.Duration {
	ms := DefaultPressWindowMS
	if d.PressWindowMS != nil {
		ms = *d.PressWindowMS
	}
	return time.Duration(ms) * time.Millisecond
}

// DisplayName returns the configured name or the id when none is set.
func (d DeviceConfig) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// ValidateDevices returns the usable device records and one error per
// rejected record. A bad record never prevents the others from loading.
func ValidateDevices(devices []DeviceConfig) ([]DeviceConfig, []error) {
	valid := make([]DeviceConfig, 0, len(devices))
	var errs []error
	seen := make(map[string]bool, len(devices))

	for i, d := range devices {
		if err := validateDevice(d); err != nil {
			errs = append(errs, fmt.Errorf("%w: devices[%d] %q: %v", ErrInvalidDevice, i, d.ID, err))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("%w: devices[%d] %q: duplicate id", ErrInvalidDevice, i, d.ID))
			continue
		}
		seen[d.ID] = true

		if d.Name == "" {
			d.Name = d.ID
		}
		if d.PressWindowMS == nil {
			ms := DefaultPressWindowMS
			d.PressWindowMS = &ms
		}
		valid = append(valid, d)
	}

	return valid, errs
}

func validateDevice(d DeviceConfig) error {
	switch {
	case d.ID == "":
		return fmt.Errorf("id is required")
	case !topicSafe(d.ID):
		return fmt.Errorf("id must not contain '/', '+', '#' or whitespace")
	case d.UpSwitch == "":
		return fmt.Errorf("up_switch is required")
	case d.DownSwitch == "":
		return fmt.Errorf("down_switch is required")
	case d.UpSwitch == d.DownSwitch:
		return fmt.Errorf("up_switch and down_switch must differ")
	case d.PressWindowMS != nil && *d.PressWindowMS <= 0:
		return fmt.Errorf("press_window_ms must be positive")
	}
	return nil
}

// topicSafe reports whether s can be used as a single MQTT topic level.
func topicSafe(s string) bool {
	return !strings.ContainsAny(s, "/+#\x00") && strings.IndexFunc(s, unicode.IsSpace) < 0
}
