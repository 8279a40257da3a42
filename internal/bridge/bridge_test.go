package bridge

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/switch-dimmer/internal/dimmer"
	"github.com/nerrad567/switch-dimmer/internal/discovery"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/config"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/influxdb"
	"github.com/nerrad567/switch-dimmer/internal/switchstate"
)

var errBroker = errors.New("broker unavailable")

// callLog records the order in which collaborators are used.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(c string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type MockStore struct {
	log     *callLog
	mu      sync.Mutex
	ids     []string
	loadErr error
	saveErr error
}

func (m *MockStore) Load(context.Context) ([]string, error) {
	m.log.add("load")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]string(nil), m.ids...), nil
}

func (m *MockStore) Save(_ context.Context, ids []string) error {
	m.log.add("save")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.ids = append([]string(nil), ids...)
	return nil
}

func (m *MockStore) saved() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

// MockSyncer wraps a real discovery.Syncer so reconcile order is observable.
type MockSyncer struct {
	log   *callLog
	inner *discovery.Syncer
	known [][]string
	err   error
}

func (m *MockSyncer) Reconcile(ctx context.Context, devices []config.DeviceConfig, known []string) (discovery.Result, error) {
	m.log.add("reconcile")
	m.known = append(m.known, known)
	if m.err != nil {
		return discovery.Result{}, m.err
	}
	return m.inner.Reconcile(ctx, devices, known)
}

type publishedMessage struct {
	Topic    string
	Payload  string
	Retained bool
}

type MockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	fail      func(topic string) bool
}

func (m *MockPublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	if m.fail != nil && m.fail(topic) {
		return errBroker
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic, string(payload), retained})
	return nil
}

func (m *MockPublisher) on(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

// MockSource supports several concurrent watches.
type MockSource struct {
	mu      sync.Mutex
	nextID  int
	watches map[int]watch
	fail    map[string]bool
}

type watch struct {
	ids []string
	h   switchstate.Handler
}

func (m *MockSource) Watch(ids []string, h switchstate.Handler) (switchstate.Unwatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if m.fail[id] {
			return nil, errBroker
		}
	}
	if m.watches == nil {
		m.watches = make(map[int]watch)
	}
	m.nextID++
	id := m.nextID
	m.watches[id] = watch{ids: ids, h: h}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watches, id)
	}, nil
}

func (m *MockSource) Send(entityID, oldState, newState string) {
	m.mu.Lock()
	var hs []switchstate.Handler
	for _, w := range m.watches {
		for _, id := range w.ids {
			if id == entityID {
				hs = append(hs, w.h)
			}
		}
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(switchstate.StateChange{EntityID: entityID, OldState: oldState, NewState: newState})
	}
}

func (m *MockSource) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

type MockHider struct {
	mu     sync.Mutex
	hidden []string
}

func (m *MockHider) Hide(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden = append(m.hidden, id)
	return true, nil
}

type MockReconciles struct {
	mu    sync.Mutex
	stats []influxdb.ReconcileStats
}

func (m *MockReconciles) RecordReconcile(s influxdb.ReconcileStats, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = append(m.stats, s)
}

// fakeClock is a manual scheduler for press windows.
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

func (c *fakeClock) AfterFunc(d time.Duration, f func()) dimmer.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

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

type fixture struct {
	bridge     *Bridge
	log        *callLog
	store      *MockStore
	syncer     *MockSyncer
	pub        *MockPublisher
	source     *MockSource
	hider      *MockHider
	reconciles *MockReconciles
	clock      *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		log:        &callLog{},
		pub:        &MockPublisher{},
		source:     &MockSource{},
		hider:      &MockHider{},
		reconciles: &MockReconciles{},
		clock:      &fakeClock{},
	}
	f.store = &MockStore{log: f.log}
	f.syncer = &MockSyncer{log: f.log, inner: discovery.NewSyncer(f.pub, discovery.Options{})}

	b, err := New(Options{
		Syncer:     f.syncer,
		Store:      f.store,
		Publisher:  f.pub,
		Source:     f.source,
		Hider:      f.hider,
		Reconciles: f.reconciles,
		AfterFunc:  f.clock.AfterFunc,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Stop)
	f.bridge = b
	return f
}

func device(id string) config.DeviceConfig {
	return config.DeviceConfig{ID: id, UpSwitch: "switch." + id + "_up", DownSwitch: "switch." + id + "_down"}
}

// drain stops the bridge so every queued action publish has landed.
func (f *fixture) drain() {
	f.bridge.Stop()
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() expected error without collaborators")
	}
}

func TestApply_ReconcilesThenPersists(t *testing.T) {
	f := newFixture(t)
	f.store.ids = []string{"garage", "living"}

	if err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("living"), device("hall")}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got := f.log.all(); !reflect.DeepEqual(got, []string{"load", "reconcile", "save"}) {
		t.Errorf("calls = %v, want load, reconcile, save", got)
	}
	if !reflect.DeepEqual(f.syncer.known[0], []string{"garage", "living"}) {
		t.Errorf("reconcile known = %v", f.syncer.known[0])
	}
	if got := f.store.saved(); !reflect.DeepEqual(got, []string{"hall", "living"}) {
		t.Errorf("saved = %v, want [hall living]", got)
	}

	sum, ok := f.bridge.LastReconcile()
	if !ok || sum.Devices != 2 || sum.Published != 10 || sum.Retracted != 5 || sum.Failures != 0 {
		t.Errorf("LastReconcile() = %+v", sum)
	}
	if len(f.reconciles.stats) != 1 || f.reconciles.stats[0].Retracted != 5 {
		t.Errorf("recorded stats = %+v", f.reconciles.stats)
	}
}

func TestApply_BindsDevices(t *testing.T) {
	f := newFixture(t)

	if err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("living")}); err != nil {
		t.Fatal(err)
	}

	f.source.Send("switch.living_up", "off", "on")
	f.source.Send("switch.living_up", "on", "off")
	f.source.Send("switch.living_down", "off", "on")
	f.clock.Advance(time.Second)
	f.source.Send("switch.living_down", "on", "off")

	st, ok := f.bridge.Device("living")
	if !ok || st.LastAction != dimmer.ActionBrightnessStop || st.PressWindowMS != 500 {
		t.Errorf("Device() = %+v, %v", st, ok)
	}

	f.drain()
	got := f.pub.on("dimmer_from_switches/living/action")
	want := []string{"on", "brightness_move_down", "brightness_stop"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("actions = %v, want %v", got, want)
	}
}

func TestApply_ReloadTearsDownOldBinders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.bridge.Apply(ctx, []config.DeviceConfig{device("living")}); err != nil {
		t.Fatal(err)
	}
	// Press open when the reload arrives.
	f.source.Send("switch.living_up", "off", "on")

	if err := f.bridge.Apply(ctx, []config.DeviceConfig{device("hall")}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute)
	f.source.Send("switch.living_up", "on", "off")

	if got := f.pub.on("dimmer_from_switches/living/action"); len(got) != 0 {
		t.Errorf("removed device emitted %v after reload", got)
	}
	if f.source.active() != 1 {
		t.Errorf("active watches = %d, want 1", f.source.active())
	}
	if _, ok := f.bridge.Device("living"); ok {
		t.Error("living still bound after reload")
	}
	if got := f.store.saved(); !reflect.DeepEqual(got, []string{"hall"}) {
		t.Errorf("saved = %v, want [hall]", got)
	}
	if got := f.pub.on("homeassistant/device_automation/dimmer_from_switches_living/action_on/config"); len(got) != 2 || got[1] != "" {
		t.Errorf("living trigger history = %q, want published then retracted", got)
	}
}

func TestApply_LoadFailureTreatedAsEmpty(t *testing.T) {
	f := newFixture(t)
	f.store.loadErr = errors.New("disk gone")

	if err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("living")}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(f.syncer.known[0]) != 0 {
		t.Errorf("reconcile known = %v, want empty", f.syncer.known[0])
	}
	if _, ok := f.bridge.Device("living"); !ok {
		t.Error("device not bound")
	}
}

func TestApply_SaveFailureLogged(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("read-only")

	if err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("living")}); err != nil {
		t.Fatalf("Apply() error = %v, want nil", err)
	}
	sum, _ := f.bridge.LastReconcile()
	if sum.PersistErr == "" {
		t.Error("summary does not report the persist failure")
	}
	if _, ok := f.bridge.Device("living"); !ok {
		t.Error("device not bound")
	}
}

func TestApply_PartialReconcile(t *testing.T) {
	f := newFixture(t)
	f.store.ids = []string{"garage"}
	f.pub.fail = func(topic string) bool {
		return topic == "homeassistant/device_automation/dimmer_from_switches_garage/action_off/config"
	}

	err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("living")})
	if !errors.Is(err, discovery.ErrPartialReconcile) {
		t.Fatalf("Apply() error = %v, want ErrPartialReconcile", err)
	}
	if got := f.store.saved(); !reflect.DeepEqual(got, []string{"garage", "living"}) {
		t.Errorf("saved = %v, want garage kept for retry", got)
	}
	if _, ok := f.bridge.Device("living"); !ok {
		t.Error("device not bound after partial reconcile")
	}

	// Next run retries the retraction and converges.
	f.pub.fail = nil
	if err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("living")}); err != nil {
		t.Fatal(err)
	}
	if got := f.store.saved(); !reflect.DeepEqual(got, []string{"living"}) {
		t.Errorf("saved = %v, want [living]", got)
	}
}

func TestApply_FailedReconcileKeepsKnownSet(t *testing.T) {
	f := newFixture(t)
	f.store.ids = []string{"garage", "living"}
	f.syncer.err = errors.New("encoding discovery document")

	err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("living")})
	if err == nil {
		t.Fatal("Apply() expected error")
	}

	if got := f.log.all(); !reflect.DeepEqual(got, []string{"load", "reconcile"}) {
		t.Errorf("calls = %v, want load, reconcile without save", got)
	}
	if got := f.store.saved(); !reflect.DeepEqual(got, []string{"garage", "living"}) {
		t.Errorf("stored = %v, want [garage living] untouched", got)
	}
	sum, ok := f.bridge.LastReconcile()
	if !ok || sum.Error == "" || sum.PersistErr == "" {
		t.Errorf("LastReconcile() = %+v, want error and skipped persist", sum)
	}
	if _, ok := f.bridge.Device("living"); !ok {
		t.Error("device not bound after failed reconcile")
	}

	// Once reconcile works again the garage retraction goes out.
	f.syncer.err = nil
	if err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("living")}); err != nil {
		t.Fatal(err)
	}
	if got := f.store.saved(); !reflect.DeepEqual(got, []string{"living"}) {
		t.Errorf("saved = %v, want [living]", got)
	}
}

func TestApply_SkipsInvalidDevices(t *testing.T) {
	f := newFixture(t)
	bad := config.DeviceConfig{ID: "broken", UpSwitch: "switch.x"}

	if err := f.bridge.Apply(context.Background(), []config.DeviceConfig{bad, device("living")}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	devs := f.bridge.Devices()
	if len(devs) != 1 || devs[0].DeviceID != "living" {
		t.Errorf("Devices() = %+v", devs)
	}
	sum, _ := f.bridge.LastReconcile()
	if sum.Skipped != 1 || sum.Devices != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestApply_WatchFailureOnlyAffectsThatDevice(t *testing.T) {
	f := newFixture(t)
	f.source.fail = map[string]bool{"switch.hall_up": true}

	err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("hall"), device("living")})
	if !errors.Is(err, errBroker) {
		t.Fatalf("Apply() error = %v, want wrapped errBroker", err)
	}
	if _, ok := f.bridge.Device("living"); !ok {
		t.Error("living not bound")
	}
	if _, ok := f.bridge.Device("hall"); ok {
		t.Error("hall bound despite watch failure")
	}
}

func TestApply_HidesSources(t *testing.T) {
	f := newFixture(t)
	d := device("living")
	d.HideSources = true

	if err := f.bridge.Apply(context.Background(), []config.DeviceConfig{d, device("hall")}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.hider.hidden, []string{"switch.living_up", "switch.living_down"}) {
		t.Errorf("hidden = %v", f.hider.hidden)
	}
}

func TestStop_TearsDownEverything(t *testing.T) {
	f := newFixture(t)
	if err := f.bridge.Apply(context.Background(), []config.DeviceConfig{device("a"), device("b")}); err != nil {
		t.Fatal(err)
	}

	f.source.Send("switch.a_down", "off", "on")
	f.bridge.Stop()
	f.clock.Advance(time.Minute)

	if f.source.active() != 0 {
		t.Errorf("active watches = %d after Stop", f.source.active())
	}
	if len(f.bridge.Devices()) != 0 {
		t.Error("devices still bound after Stop")
	}
	if got := f.pub.on("dimmer_from_switches/a/action"); len(got) != 0 {
		t.Errorf("actions after Stop = %v", got)
	}
}
