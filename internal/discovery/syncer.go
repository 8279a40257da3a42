package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/switch-dimmer/internal/dimmer"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/config"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/mqtt"
)

const defaultConcurrency = 8

// Publisher sends a message on the bus. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Options configures a Syncer.
type Options struct {
	Topics       mqtt.Topics
	Manufacturer string
	Model        string
	QoS          byte

	// Concurrency bounds in-flight publishes. Default 8.
	Concurrency int
	Logger      Logger
}

// Syncer publishes and retracts trigger discovery documents.
type Syncer struct {
	pub          Publisher
	topics       mqtt.Topics
	manufacturer string
	model        string
	qos          byte
	limit        int
	log          Logger
}

// NewSyncer creates a Syncer publishing through pub.
func NewSyncer(pub Publisher, opts Options) *Syncer {
	s := &Syncer{
		pub:          pub,
		topics:       opts.Topics,
		manufacturer: opts.Manufacturer,
		model:        opts.Model,
		qos:          opts.QoS,
		limit:        opts.Concurrency,
		log:          loggerOrNoop(opts.Logger),
	}
	if s.manufacturer == "" {
		s.manufacturer = DefaultManufacturer
	}
	if s.model == "" {
		s.model = DefaultModel
	}
	if s.limit <= 0 {
		s.limit = defaultConcurrency
	}
	return s
}

// Document builds the trigger document of one action of a device.
func (s *Syncer) Document(dev config.DeviceConfig, action dimmer.Action) Document {
	node := NodeID(dev.ID)
	return Document{
		AutomationType: "trigger",
		Type:           "action",
		Subtype:        string(action),
		Payload:        string(action),
		Topic:          s.topics.DeviceAction(dev.ID),
		Device: DeviceInfo{
			Identifiers:  []string{node},
			Manufacturer: s.manufacturer,
			Model:        s.model,
			Name:         dev.DisplayName(),
		},
	}
}

// Failure describes one discovery publish that did not succeed.
type Failure struct {
	DeviceID   string `json:"device_id"`
	Topic      string `json:"topic"`
	Retraction bool   `json:"retraction"`
	Err        error  `json:"-"`
}

// Error returns the failure's message.
func (f Failure) Error() string {
	kind := "publish"
	if f.Retraction {
		kind = "retraction"
	}
	return fmt.Sprintf("%s of %s for %q: %v", kind, f.Topic, f.DeviceID, f.Err)
}

// Result summarises one reconciliation.
type Result struct {
	// CurrentIDs are the configured device ids, sorted.
	CurrentIDs []string `json:"current_ids"`
	// RemovedIDs are the known ids that are no longer configured, sorted.
	RemovedIDs []string      `json:"removed_ids"`
	Published  int           `json:"published"`
	Retracted  int           `json:"retracted"`
	Failures   []Failure     `json:"failures,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// KnownIDs is the set to persist after this reconciliation: the current ids
// plus every removed id with a retraction that failed, so the next run tries
// again. It equals CurrentIDs when nothing failed.
func (r Result) KnownIDs() []string {
	set := make(map[string]struct{}, len(r.CurrentIDs))
	for _, id := range r.CurrentIDs {
		set[id] = struct{}{}
	}
	for _, f := range r.Failures {
		if f.Retraction {
			set[f.DeviceID] = struct{}{}
		}
	}
	return sortedKeys(set)
}

type job struct {
	deviceID   string
	topic      string
	payload    []byte
	retraction bool
}

// Reconcile brings the broker's discovery triggers in line with devices.
//
// This method:
//  1. Computes the removed set: ids in known but not in devices
//  2. Plans an empty retained retraction for every trigger of a removed id
//  3. Plans a retained discovery document for every trigger of a device
//  4. Publishes the plan with bounded concurrency
//
// All publishes are attempted and have completed when Reconcile returns.
// If encoding a document fails nothing is published and the Result is
// empty; callers must not persist anything from it.
//
// Parameters:
//   - ctx: Cancelling it fails the publishes not yet started
//   - devices: Validated device records
//   - known: Device ids persisted by the previous run
//
// Returns:
//   - Result: Counts, failures and the id sets; see Result.KnownIDs
//   - error: Wraps ErrPartialReconcile if any publish failed
func (s *Syncer) Reconcile(ctx context.Context, devices []config.DeviceConfig, known []string) (Result, error) {
	start := time.Now()

	current := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		current[d.ID] = struct{}{}
	}
	removed := make(map[string]struct{})
	for _, id := range known {
		if _, ok := current[id]; !ok {
			removed[id] = struct{}{}
		}
	}

	res := Result{
		CurrentIDs: sortedKeys(current),
		RemovedIDs: sortedKeys(removed),
	}

	jobs, err := s.plan(devices, res.RemovedIDs)
	if err != nil {
		return Result{}, err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.limit)

	for _, j := range jobs {
		j := j // per-iteration copy; go directive is below 1.22
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = s.pub.Publish(j.topic, j.payload, s.qos, true)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failures = append(res.Failures, Failure{
					DeviceID:   j.deviceID,
					Topic:      j.topic,
					Retraction: j.retraction,
					Err:        err,
				})
			case j.retraction:
				res.Retracted++
			default:
				res.Published++
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // jobs never return errors; failures are collected

	sort.Slice(res.Failures, func(i, k int) bool { return res.Failures[i].Topic < res.Failures[k].Topic })
	res.Duration = time.Since(start)

	s.log.Info("discovery reconciled",
		"devices", len(res.CurrentIDs),
		"removed", len(res.RemovedIDs),
		"published", res.Published,
		"retracted", res.Retracted,
		"failures", len(res.Failures),
	)

	if len(res.Failures) > 0 {
		for _, f := range res.Failures {
			s.log.Warn("discovery publish failed",
				"device_id", f.DeviceID,
				"topic", f.Topic,
				"retraction", f.Retraction,
				"error", f.Err,
			)
		}
		return res, fmt.Errorf("%w: %d of %d publishes failed", ErrPartialReconcile, len(res.Failures), len(jobs))
	}
	return res, nil
}

// plan lists every publish of one reconciliation: retractions first, then
// the documents of the configured devices.
func (s *Syncer) plan(devices []config.DeviceConfig, removed []string) ([]job, error) {
	actions := dimmer.Actions()
	jobs := make([]job, 0, (len(devices)+len(removed))*len(actions))

	for _, id := range removed {
		for _, a := range actions {
			jobs = append(jobs, job{
				deviceID:   id,
				topic:      s.topics.DeviceTrigger(NodeID(id), string(a)),
				payload:    []byte{},
				retraction: true,
			})
		}
	}

	for _, d := range devices {
		for _, a := range actions {
			payload, err := s.Document(d, a).marshal()
			if err != nil {
				return nil, fmt.Errorf("encoding discovery document for %q: %w", d.ID, err)
			}
			jobs = append(jobs, job{
				deviceID: d.ID,
				topic:    s.topics.DeviceTrigger(NodeID(d.ID), string(a)),
				payload:  payload,
			})
		}
	}

	s.log.Debug("discovery plan", "jobs", len(jobs))
	return jobs, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
