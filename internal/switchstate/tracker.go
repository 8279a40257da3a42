package switchstate

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/switch-dimmer/internal/infrastructure/mqtt"
)

// StateChange is one observed transition of an entity's state.
// OldState is empty for the first state seen for an entity.
type StateChange struct {
	EntityID string
	OldState string
	NewState string
}

// Handler receives state changes for watched entities.
type Handler func(StateChange)

// Unwatch ends a watch. Calling it more than once is harmless.
type Unwatch func()

// Subscriber is the bus surface the tracker needs. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Options configures a Tracker.
type Options struct {
	Topics mqtt.Topics
	QoS    byte
	Logger Logger
}

// Tracker turns Home Assistant statestream messages into StateChange events.
//
// One broker subscription is held per entity no matter how many watches
// share it. Handlers run on the subscriber's delivery goroutine, outside the
// tracker's lock, in message order.
type Tracker struct {
	sub    Subscriber
	topics mqtt.Topics
	qos    byte
	log    Logger

	// opMu serialises broker subscribe/unsubscribe calls. It is never held
	// while mu is held by message delivery.
	opMu sync.Mutex

	mu       sync.Mutex
	last     map[string]string
	byTopic  map[string]string
	watchers map[string]map[uint64]Handler
	nextID   uint64
}

// NewTracker creates a Tracker reading from sub.
func NewTracker(sub Subscriber, opts Options) *Tracker {
	return &Tracker{
		sub:      sub,
		topics:   opts.Topics,
		qos:      opts.QoS,
		log:      loggerOrNoop(opts.Logger),
		last:     make(map[string]string),
		byTopic:  make(map[string]string),
		watchers: make(map[string]map[uint64]Handler),
	}
}

// Watch calls h for every state change of the given entities until the
// returned Unwatch is called.
//
// Entities already watched by another caller share that subscription. For
// the rest, Watch subscribes to each entity's state topic in id order; if
// one subscribe fails, the ones already made are undone.
//
// Parameters:
//   - entityIDs: Home Assistant entity ids, e.g. "switch.hall_up"
//   - h: Called with the previous and new state of each change
//
// Returns:
//   - Unwatch: Idempotent; stops delivery and drops unused subscriptions
//   - error: If h is nil, an id is not topic safe, or wraps ErrWatchFailed
func (t *Tracker) Watch(entityIDs []string, h Handler) (Unwatch, error) {
	if h == nil {
		return nil, fmt.Errorf("switchstate: handler cannot be nil")
	}

	topics := make(map[string]string, len(entityIDs))
	for _, id := range entityIDs {
		topic, err := t.topics.EntityState(id)
		if err != nil {
			return nil, err
		}
		topics[id] = topic
	}

	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	var fresh []string
	for entity, topic := range topics {
		ws := t.watchers[entity]
		if ws == nil {
			ws = make(map[uint64]Handler)
			t.watchers[entity] = ws
			t.byTopic[topic] = entity
			fresh = append(fresh, entity)
		}
		ws[id] = h
	}
	t.mu.Unlock()

	sort.Strings(fresh)
	for i, entity := range fresh {
		if err := t.sub.Subscribe(topics[entity], t.qos, t.handleMessage); err != nil {
			t.rollback(id, topics, fresh[:i])
			return nil, fmt.Errorf("%w: %s: %w", ErrWatchFailed, entity, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { t.unwatch(id, topics) })
	}, nil
}

// rollback removes watch id after a failed subscribe and unsubscribes the
// topics that were already subscribed for it.
func (t *Tracker) rollback(id uint64, topics map[string]string, subscribed []string) {
	emptied := t.removeWatcher(id, topics)
	for _, entity := range subscribed {
		if emptied[entity] {
			t.unsubscribe(topics[entity])
		}
	}
}

func (t *Tracker) unwatch(id uint64, topics map[string]string) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	emptied := t.removeWatcher(id, topics)
	entities := make([]string, 0, len(emptied))
	for entity := range emptied {
		entities = append(entities, entity)
	}
	sort.Strings(entities)
	for _, entity := range entities {
		t.unsubscribe(topics[entity])
	}
}

// removeWatcher drops watch id and returns the entities left without watchers.
func (t *Tracker) removeWatcher(id uint64, topics map[string]string) map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	emptied := make(map[string]bool)
	for entity, topic := range topics {
		ws := t.watchers[entity]
		if ws == nil {
			continue
		}
		delete(ws, id)
		if len(ws) == 0 {
			delete(t.watchers, entity)
			delete(t.byTopic, topic)
			emptied[entity] = true
		}
	}
	return emptied
}

func (t *Tracker) unsubscribe(topic string) {
	if err := t.sub.Unsubscribe(topic); err != nil {
		t.log.Warn("failed to unsubscribe state topic", "topic", topic, "error", err)
	}
}

// handleMessage is the MessageHandler for every statestream topic.
func (t *Tracker) handleMessage(topic string, payload []byte) error {
	state := strings.TrimSpace(string(payload))

	t.mu.Lock()
	entity, ok := t.byTopic[topic]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	old := t.last[entity]
	if old == state {
		// Retained redelivery after (re)subscribe.
		t.mu.Unlock()
		return nil
	}
	t.last[entity] = state

	handlers := make([]Handler, 0, len(t.watchers[entity]))
	ids := make([]uint64, 0, len(t.watchers[entity]))
	for id := range t.watchers[entity] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		handlers = append(handlers, t.watchers[entity][id])
	}
	t.mu.Unlock()

	change := StateChange{EntityID: entity, OldState: old, NewState: state}
	t.log.Debug("state changed", "entity_id", entity, "old", old, "new", state)
	for _, h := range handlers {
		h(change)
	}
	return nil
}

// LastState returns the last state seen for entityID.
func (t *Tracker) LastState(entityID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.last[entityID]
	return s, ok
}

// Watched returns the entities that currently have at least one watcher.
func (t *Tracker) Watched() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.watchers))
	for entity := range t.watchers {
		out = append(out, entity)
	}
	sort.Strings(out)
	return out
}
