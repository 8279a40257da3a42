package dimmer

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func newTestController(t *testing.T, pub *MockPublisher, opts ControllerOptions) *Controller {
	t.Helper()
	opts.DeviceID = "living"
	opts.Name = "Living room"
	opts.Topic = "dimmer_from_switches/living/action"
	opts.QoS = 1
	opts.Publisher = pub
	c, err := NewController(opts)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c
}

func TestNewController_Validation(t *testing.T) {
	pub := &MockPublisher{}
	tests := []struct {
		name string
		opts ControllerOptions
	}{
		{"missing id", ControllerOptions{Topic: "t", Publisher: pub}},
		{"missing topic", ControllerOptions{DeviceID: "d", Publisher: pub}},
		{"missing publisher", ControllerOptions{DeviceID: "d", Topic: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewController(tt.opts); err == nil {
				t.Error("NewController() expected error")
			}
		})
	}
}

func TestController_FirePublishesInOrder(t *testing.T) {
	pub := &MockPublisher{}
	rec := &MockRecorder{}
	c := newTestController(t, pub, ControllerOptions{Recorder: rec})

	seq := []Action{ActionBrightnessMoveUp, ActionBrightnessStop, ActionOff, ActionOn}
	for _, a := range seq {
		if err := c.Fire(a); err != nil {
			t.Fatalf("Fire(%s) error = %v", a, err)
		}
	}
	c.Close()

	msgs := pub.messages()
	if len(msgs) != len(seq) {
		t.Fatalf("published %d messages, want %d", len(msgs), len(seq))
	}
	for i, msg := range msgs {
		if msg.Topic != "dimmer_from_switches/living/action" || msg.Retained || msg.QoS != 1 {
			t.Errorf("message %d = %+v, want non-retained QoS1 on action topic", i, msg)
		}
		if msg.Payload != string(seq[i]) {
			t.Errorf("message %d payload = %q, want %q", i, msg.Payload, seq[i])
		}
	}
	if len(rec.records) != len(seq) || rec.records[0] != (recordedAction{"living", "brightness_move_up"}) {
		t.Errorf("recorded = %+v", rec.records)
	}
}

func TestController_LastActionVisibleBeforePublish(t *testing.T) {
	pub := &MockPublisher{started: make(chan struct{}, 1), block: make(chan struct{})}
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	c := newTestController(t, pub, ControllerOptions{Now: func() time.Time { return fixed }})

	if err := c.Fire(ActionOn); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	<-pub.started

	// Publish is still blocked; state is already updated.
	if c.LastAction() != ActionOn {
		t.Errorf("LastAction() = %q, want on", c.LastAction())
	}
	snap := c.Snapshot()
	if snap.LastActionAt == nil || !snap.LastActionAt.Equal(fixed) {
		t.Errorf("LastActionAt = %v, want %v", snap.LastActionAt, fixed)
	}
	if len(pub.messages()) != 0 {
		t.Error("publish completed before being released")
	}

	close(pub.block)
	c.Close()
	if !reflect.DeepEqual(pub.payloads(), []string{"on"}) {
		t.Errorf("payloads = %v, want [on]", pub.payloads())
	}
}

func TestController_RejectsUnknownAction(t *testing.T) {
	pub := &MockPublisher{}
	c := newTestController(t, pub, ControllerOptions{})
	defer c.Close()

	if err := c.Fire("toggle"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Fire(toggle) error = %v, want ErrUnknownAction", err)
	}
	if c.LastAction() != "" {
		t.Errorf("LastAction() = %q after rejected fire", c.LastAction())
	}
}

func TestController_PublishFailureDoesNotAffectState(t *testing.T) {
	pub := &MockPublisher{err: errBroker}
	c := newTestController(t, pub, ControllerOptions{})

	if err := c.Fire(ActionOff); err != nil {
		t.Fatalf("Fire() error = %v, want nil (publish is fire-and-forget)", err)
	}
	c.Close()

	snap := c.Snapshot()
	if snap.LastAction != ActionOff || snap.Emitted != 1 || snap.PublishErrors != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestController_QueueOverflowDrops(t *testing.T) {
	pub := &MockPublisher{started: make(chan struct{}, 4), block: make(chan struct{})}
	c := newTestController(t, pub, ControllerOptions{QueueSize: 1})

	_ = c.Fire(ActionOn)
	<-pub.started // worker holds the first action
	_ = c.Fire(ActionBrightnessMoveUp)
	if err := c.Fire(ActionBrightnessStop); err != nil {
		t.Fatalf("Fire() on full queue error = %v, want nil", err)
	}

	if c.LastAction() != ActionBrightnessStop {
		t.Errorf("LastAction() = %q, want brightness_stop even when publish is dropped", c.LastAction())
	}

	close(pub.block)
	c.Close()

	if !reflect.DeepEqual(pub.payloads(), []string{"on", "brightness_move_up"}) {
		t.Errorf("payloads = %v", pub.payloads())
	}
	if snap := c.Snapshot(); snap.Dropped != 1 || snap.Emitted != 3 {
		t.Errorf("snapshot = %+v, want dropped=1 emitted=3", snap)
	}
}

func TestController_CloseDrainsAndRejects(t *testing.T) {
	pub := &MockPublisher{}
	c := newTestController(t, pub, ControllerOptions{})

	_ = c.Fire(ActionOn)
	_ = c.Fire(ActionOff)
	c.Close()
	c.Close()

	if len(pub.messages()) != 2 {
		t.Errorf("published %d, want 2 drained before Close returned", len(pub.messages()))
	}
	if err := c.Fire(ActionOn); !errors.Is(err, ErrControllerClosed) {
		t.Errorf("Fire() after Close error = %v, want ErrControllerClosed", err)
	}
}

func TestController_Snapshot(t *testing.T) {
	c := newTestController(t, &MockPublisher{}, ControllerOptions{})
	defer c.Close()

	snap := c.Snapshot()
	if snap.DeviceID != "living" || snap.Name != "Living room" || snap.ActionTopic != "dimmer_from_switches/living/action" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.LastAction != "" || snap.LastActionAt != nil {
		t.Errorf("fresh controller has last action %+v", snap)
	}
	if c.DeviceID() != "living" {
		t.Errorf("DeviceID() = %q", c.DeviceID())
	}
}
