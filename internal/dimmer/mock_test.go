package dimmer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/switch-dimmer/internal/switchstate"
)

// fakeClock is a manual scheduler standing in for time.AfterFunc.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// runAnyway invokes the callback even if the timer was stopped, as happens
// when Stop races with a timer that has already begun firing.
func (t *fakeTimer) runAnyway() {
	t.f()
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due callbacks in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

// actionLog collects emitted actions.
type actionLog struct {
	mu      sync.Mutex
	actions []Action
}

func (l *actionLog) emit(a Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = append(l.actions, a)
}

func (l *actionLog) all() []Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Action(nil), l.actions...)
}

type publishedMessage struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// MockPublisher records publishes. When block is set, each Publish signals
// started and then waits for block to be closed.
type MockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
	started   chan struct{}
	block     chan struct{}
}

func (m *MockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if m.block != nil {
		m.started <- struct{}{}
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, publishedMessage{topic, string(payload), qos, retained})
	return nil
}

func (m *MockPublisher) messages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.published...)
}

func (m *MockPublisher) payloads() []string {
	var out []string
	for _, msg := range m.messages() {
		out = append(out, msg.Payload)
	}
	return out
}

type recordedAction struct {
	deviceID string
	action   string
}

type MockRecorder struct {
	mu      sync.Mutex
	records []recordedAction
}

func (m *MockRecorder) RecordAction(deviceID, action string, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recordedAction{deviceID, action})
}

// MockSource hands out watches and lets tests inject state changes.
type MockSource struct {
	mu        sync.Mutex
	handler   switchstate.Handler
	entities  []string
	unwatched int
	err       error
}

func (m *MockSource) Watch(entityIDs []string, h switchstate.Handler) (switchstate.Unwatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.handler = h
	m.entities = entityIDs
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handler = nil
		m.unwatched++
	}, nil
}

func (m *MockSource) Send(entityID, oldState, newState string) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(switchstate.StateChange{EntityID: entityID, OldState: oldState, NewState: newState})
	}
}

type MockHider struct {
	mu     sync.Mutex
	hidden map[string]bool
	err    error
}

func (m *MockHider) Hide(_ context.Context, entityID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.hidden == nil {
		m.hidden = make(map[string]bool)
	}
	if m.hidden[entityID] {
		return false, nil
	}
	m.hidden[entityID] = true
	return true, nil
}

var errBroker = errors.New("broker unavailable")
