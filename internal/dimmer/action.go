package dimmer

import "fmt"

// Action is a semantic dimmer action emitted by a press classifier.
type Action string

// The closed set of actions.
const (
	ActionOn                 Action = "on"
	ActionOff                Action = "off"
	ActionBrightnessMoveUp   Action = "brightness_move_up"
	ActionBrightnessMoveDown Action = "brightness_move_down"
	ActionBrightnessStop     Action = "brightness_stop"
)

var actions = [...]Action{
	ActionOn,
	ActionOff,
	ActionBrightnessMoveUp,
	ActionBrightnessMoveDown,
	ActionBrightnessStop,
}

// Actions returns every action in its fixed order. Discovery publishes one
// trigger per entry.
func Actions() []Action {
	out := make([]Action, len(actions))
	copy(out, actions[:])
	return out
}

// Valid reports whether a is one of the five actions.
func (a Action) Valid() bool {
	for _, known := range actions {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction validates s as an action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Switch identifies one of the two physical switches of a dimmer.
type Switch string

const (
	SwitchUp   Switch = "up"
	SwitchDown Switch = "down"
)

// Binding is the pair of actions one switch produces.
type Binding struct {
	Short Action
	Long  Action
}

// bindings is a fixed policy table. The up switch turns the light on with a
// short press; the down switch turns it off.
var bindings = map[Switch]Binding{
	SwitchUp:   {Short: ActionOn, Long: ActionBrightnessMoveUp},
	SwitchDown: {Short: ActionOff, Long: ActionBrightnessMoveDown},
}

// BindingFor returns the short/long actions of sw.
func BindingFor(sw Switch) Binding {
	return bindings[sw]
}
