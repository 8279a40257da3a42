package dimmer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/switch-dimmer/internal/switchstate"
)

// Source delivers state changes of switch entities.
// *switchstate.Tracker satisfies it.
type Source interface {
	Watch(entityIDs []string, h switchstate.Handler) (switchstate.Unwatch, error)
}

// SourceHider hides a switch entity from end users. It must be idempotent.
type SourceHider interface {
	Hide(ctx context.Context, entityID string) (bool, error)
}

// BinderOptions configures a Binder.
type BinderOptions struct {
	DeviceID    string
	UpSwitch    string
	DownSwitch  string
	PressWindow time.Duration
	HideSources bool

	Controller *Controller
	Source     Source

	// Hider is required when HideSources is set.
	Hider  SourceHider
	Logger Logger

	// AfterFunc replaces time.AfterFunc, for tests.
	AfterFunc AfterFunc
}

// Binder connects the up and down switches of one device to its
// Controller through two independent press machines.
type Binder struct {
	id          string
	upSwitch    string
	downSwitch  string
	hideSources bool

	ctrl   *Controller
	source Source
	hider  SourceHider
	log    Logger

	up   *pressMachine
	down *pressMachine

	mu      sync.Mutex
	unwatch switchstate.Unwatch
	started bool
	stopped bool
}

// NewBinder creates a binder for one device. Nothing is observed until Start.
//
// Parameters:
//   - opts: Device id, switch entities, collaborators and press window.
//     Controller, Source, both switches and a positive PressWindow are
//     required; Hider is required when HideSources is set.
//
// Returns:
//   - *Binder: Binder with one press machine per switch
//   - error: If a required option is missing or the switches are the same entity
func NewBinder(opts BinderOptions) (*Binder, error) {
	switch {
	case opts.Controller == nil:
		return nil, fmt.Errorf("dimmer: binder %q requires a controller", opts.DeviceID)
	case opts.Source == nil:
		return nil, fmt.Errorf("dimmer: binder %q requires a state source", opts.DeviceID)
	case opts.UpSwitch == "" || opts.DownSwitch == "":
		return nil, fmt.Errorf("dimmer: binder %q requires both switches", opts.DeviceID)
	case opts.UpSwitch == opts.DownSwitch:
		return nil, fmt.Errorf("dimmer: binder %q up and down switch are the same entity", opts.DeviceID)
	case opts.PressWindow <= 0:
		return nil, fmt.Errorf("dimmer: binder %q press window must be positive", opts.DeviceID)
	case opts.HideSources && opts.Hider == nil:
		return nil, fmt.Errorf("dimmer: binder %q hides sources but has no hider", opts.DeviceID)
	}

	b := &Binder{
		id:          opts.DeviceID,
		upSwitch:    opts.UpSwitch,
		downSwitch:  opts.DownSwitch,
		hideSources: opts.HideSources,
		ctrl:        opts.Controller,
		source:      opts.Source,
		hider:       opts.Hider,
		log:         loggerOrNoop(opts.Logger),
	}
	b.up = newPressMachine(BindingFor(SwitchUp), opts.PressWindow, opts.AfterFunc, b.emitter(SwitchUp))
	b.down = newPressMachine(BindingFor(SwitchDown), opts.PressWindow, opts.AfterFunc, b.emitter(SwitchDown))

	return b, nil
}

func (b *Binder) emitter(sw Switch) func(Action) {
	return func(a Action) {
		if err := b.ctrl.Fire(a); err != nil {
			b.log.Warn("failed to fire action",
				"device_id", b.id,
				"switch", string(sw),
				"action", string(a),
				"error", err,
			)
			return
		}
		b.log.Debug("action fired", "device_id", b.id, "switch", string(sw), "action", string(a))
	}
}

// Start hides the source switches when configured to, then begins
// observing their state changes. A hide failure is logged, not returned.
func (b *Binder) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrBinderStopped
	}
	if b.started {
		return ErrBinderStarted
	}

	if b.hideSources {
		for _, entity := range []string{b.upSwitch, b.downSwitch} {
			changed, err := b.hider.Hide(ctx, entity)
			if err != nil {
				b.log.Warn("failed to hide source switch", "device_id", b.id, "entity_id", entity, "error", err)
				continue
			}
			if changed {
				b.log.Info("source switch hidden", "device_id", b.id, "entity_id", entity)
			}
		}
	}

	unwatch, err := b.source.Watch([]string{b.upSwitch, b.downSwitch}, b.HandleStateChange)
	if err != nil {
		return fmt.Errorf("watching switches of %q: %w", b.id, err)
	}
	b.unwatch = unwatch
	b.started = true
	return nil
}

// HandleStateChange feeds one state change into the matching press
// machine. Only exact off->on and on->off transitions are press edges;
// anything passing through another state is ignored.
func (b *Binder) HandleStateChange(ch switchstate.StateChange) {
	var m *pressMachine
	switch ch.EntityID {
	case b.upSwitch:
		m = b.up
	case b.downSwitch:
		m = b.down
	default:
		return
	}

	switch {
	case ch.OldState == "off" && ch.NewState == "on":
		m.press()
	case ch.OldState == "on" && ch.NewState == "off":
		m.release()
	}
}

// Stop ends observation, cancels open presses without emitting and closes
// the controller after its queued publishes are sent.
func (b *Binder) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	unwatch := b.unwatch
	b.unwatch = nil
	b.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	b.up.stop()
	b.down.stop()
	b.ctrl.Close()
}

// DeviceID returns the device this binder belongs to.
func (b *Binder) DeviceID() string {
	return b.id
}

// Controller returns the binder's controller.
func (b *Binder) Controller() *Controller {
	return b.ctrl
}

// PressStates reports the state of the up and down machines.
func (b *Binder) PressStates() (up, down string) {
	return b.up.current().String(), b.down.current().String()
}
