package dimmer

import (
	"sync"
	"time"
)

// Timer is a cancellable one-shot timer. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type pressState int

const (
	stateIdle pressState = iota
	stateOpenShort
	stateOpenLong
)

func (s pressState) String() string {
	switch s {
	case stateOpenShort:
		return "open_short"
	case stateOpenLong:
		return "open_long"
	default:
		return "idle"
	}
}

// pressMachine classifies the presses of one switch.
//
// Every transition and timer callback runs under mu. gen is bumped whenever
// the pending timer is abandoned, so a callback that was already running
// when its timer got stopped sees a stale generation and does nothing.
type pressMachine struct {
	mu      sync.Mutex
	state   pressState
	gen     uint64
	timer   Timer
	stopped bool

	window  time.Duration
	binding Binding
	after   AfterFunc
	emit    func(Action)
}

func newPressMachine(binding Binding, window time.Duration, after AfterFunc, emit func(Action)) *pressMachine {
	if after == nil {
		after = realAfterFunc
	}
	return &pressMachine{
		window:  window,
		binding: binding,
		after:   after,
		emit:    emit,
	}
}

// press handles an off->on edge.
func (m *pressMachine) press() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	// A new press while one is open means its release was never seen.
	// Close a running hold so the light does not keep moving.
	if m.state == stateOpenLong {
		m.emit(ActionBrightnessStop)
	}
	m.abandonTimer()

	m.state = stateOpenShort
	gen := m.gen
	m.timer = m.after(m.window, func() { m.elapse(gen) })
}

// elapse runs when the hold window passes without a release.
func (m *pressMachine) elapse(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != stateOpenShort {
		return
	}
	m.state = stateOpenLong
	m.timer = nil
	m.emit(m.binding.Long)
}

// release handles an on->off edge. The timer is always abandoned before the
// terminal action is chosen. A release with no press open (the switch was
// already on when watching began) is treated as the end of a hold.
func (m *pressMachine) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	prev := m.state
	m.abandonTimer()
	m.state = stateIdle

	switch prev {
	case stateOpenShort:
		m.emit(m.binding.Short)
	default:
		m.emit(ActionBrightnessStop)
	}
}

// stop cancels any open press without emitting and refuses later presses.
func (m *pressMachine) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.abandonTimer()
	m.state = stateIdle
	m.stopped = true
}

func (m *pressMachine) abandonTimer() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *pressMachine) current() pressState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
