package dimmer

import (
	"fmt"
	"sync"
	"time"
)

const defaultQueueSize = 64

// Publisher sends a message on the bus. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// ActionRecorder stores emitted actions as telemetry. *influxdb.Client
// satisfies it.
type ActionRecorder interface {
	RecordAction(deviceID, action string, at time.Time)
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	DeviceID string
	Name     string

	// Topic is the device's action topic.
	Topic string
	QoS   byte

	Publisher Publisher

	// Recorder is optional.
	Recorder ActionRecorder
	Logger   Logger

	// QueueSize bounds publishes waiting for the worker. Default 64.
	QueueSize int

	// Now is used for timestamps. Default time.Now.
	Now func() time.Time
}

// Controller is the virtual dimmer of one device. It exposes the last
// emitted action and republishes every action, non-retained, on the
// device's action topic from a single worker goroutine.
type Controller struct {
	id    string
	name  string
	topic string
	qos   byte

	pub Publisher
	rec ActionRecorder
	log Logger
	now func() time.Time

	mu            sync.RWMutex
	last          Action
	lastAt        time.Time
	emitted       uint64
	dropped       uint64
	publishErrors uint64
	closed        bool

	queue chan queuedAction
	done  chan struct{}
}

type queuedAction struct {
	action Action
	at     time.Time
}

// Snapshot is the externally visible state of a Controller.
type Snapshot struct {
	DeviceID      string     `json:"device_id"`
	Name          string     `json:"name"`
	ActionTopic   string     `json:"action_topic"`
	LastAction    Action     `json:"last_action,omitempty"`
	LastActionAt  *time.Time `json:"last_action_at,omitempty"`
	Emitted       uint64     `json:"emitted"`
	Dropped       uint64     `json:"dropped"`
	PublishErrors uint64     `json:"publish_errors"`
}

// NewController starts the controller's publish worker.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("dimmer: controller requires a device id")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("dimmer: controller %q requires an action topic", opts.DeviceID)
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("dimmer: controller %q requires a publisher", opts.DeviceID)
	}

	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		id:    opts.DeviceID,
		name:  opts.Name,
		topic: opts.Topic,
		qos:   opts.QoS,
		pub:   opts.Publisher,
		rec:   opts.Recorder,
		log:   loggerOrNoop(opts.Logger),
		now:   now,
		queue: make(chan queuedAction, size),
		done:  make(chan struct{}),
	}
	go c.run()

	return c, nil
}

// Fire records action as the current state, then queues its publish.
// It never blocks: when the queue is full the publish is dropped.
func (c *Controller) Fire(action Action) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}

	at := c.now()
	c.last = action
	c.lastAt = at
	c.emitted++

	select {
	case c.queue <- queuedAction{action: action, at: at}:
	default:
		c.dropped++
		c.log.Warn("action publish queue full, dropping publish",
			"device_id", c.id,
			"action", string(action),
		)
	}
	return nil
}

func (c *Controller) run() {
	defer close(c.done)

	for qa := range c.queue {
		if err := c.pub.Publish(c.topic, []byte(qa.action), c.qos, false); err != nil {
			c.mu.Lock()
			c.publishErrors++
			c.mu.Unlock()
			c.log.Warn("failed to publish action",
				"device_id", c.id,
				"action", string(qa.action),
				"error", err,
			)
		} else {
			c.log.Debug("action published", "device_id", c.id, "action", string(qa.action))
		}

		if c.rec != nil {
			c.rec.RecordAction(c.id, string(qa.action), qa.at)
		}
	}
}

// Close stops accepting actions, publishes what is already queued and
// waits for the worker to exit. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	<-c.done
}

// DeviceID returns the device this controller belongs to.
func (c *Controller) DeviceID() string {
	return c.id
}

// LastAction returns the most recent action, or "" before the first one.
func (c *Controller) LastAction() Action {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Snapshot returns a copy of the controller's state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		DeviceID:      c.id,
		Name:          c.name,
		ActionTopic:   c.topic,
		LastAction:    c.last,
		Emitted:       c.emitted,
		Dropped:       c.dropped,
		PublishErrors: c.publishErrors,
	}
	if !c.lastAt.IsZero() {
		at := c.lastAt
		s.LastActionAt = &at
	}
	return s
}
