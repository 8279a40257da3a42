package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/switch-dimmer/internal/dimmer"
	"github.com/nerrad567/switch-dimmer/internal/discovery"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/config"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/influxdb"
	"github.com/nerrad567/switch-dimmer/internal/infrastructure/mqtt"
)

// Syncer reconciles discovery triggers. *discovery.Syncer satisfies it.
type Syncer interface {
	Reconcile(ctx context.Context, devices []config.DeviceConfig, known []string) (discovery.Result, error)
}

// KnownStore persists the known device set. *store.KnownDevices satisfies it.
type KnownStore interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, ids []string) error
}

// ReconcileRecorder stores reconcile outcomes as telemetry.
// *influxdb.Client satisfies it.
type ReconcileRecorder interface {
	RecordReconcile(stats influxdb.ReconcileStats, at time.Time)
}

// Options wires a Bridge to its collaborators.
type Options struct {
	Syncer    Syncer
	Store     KnownStore
	Publisher dimmer.Publisher
	Source    dimmer.Source

	// Hider is required for devices with hide_sources set.
	Hider dimmer.SourceHider

	// Optional telemetry.
	Actions    dimmer.ActionRecorder
	Reconciles ReconcileRecorder

	Topics mqtt.Topics
	QoS    byte
	Logger Logger

	// AfterFunc replaces time.AfterFunc in every press machine, for tests.
	AfterFunc dimmer.AfterFunc
	Now       func() time.Time
}

// DeviceStatus is the runtime view of one bound device.
type DeviceStatus struct {
	dimmer.Snapshot
	UpSwitch      string `json:"up_switch"`
	DownSwitch    string `json:"down_switch"`
	PressWindowMS int64  `json:"press_window_ms"`
	HideSources   bool   `json:"hide_sources"`
	UpState       string `json:"up_state"`
	DownState     string `json:"down_state"`
}

// ReconcileSummary describes the most recent Apply.
type ReconcileSummary struct {
	At         time.Time     `json:"at"`
	Devices    int           `json:"devices"`
	Skipped    int           `json:"skipped"`
	Published  int           `json:"published"`
	Retracted  int           `json:"retracted"`
	Failures   int           `json:"failures"`
	KnownIDs   []string      `json:"known_ids"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
	PersistErr string        `json:"persist_error,omitempty"`
}

type binding struct {
	device config.DeviceConfig
	binder *dimmer.Binder
}

// Bridge owns the live device set. Apply replaces it wholesale: previous
// binders are torn down before discovery is reconciled and new binders are
// started. Apply, Stop and the read accessors are safe for concurrent use.
type Bridge struct {
	opts Options
	log  Logger
	now  func() time.Time

	mu       sync.Mutex
	bindings map[string]*binding
	last     *ReconcileSummary
}

// New creates a Bridge. No device is bound until Apply.
func New(opts Options) (*Bridge, error) {
	switch {
	case opts.Syncer == nil:
		return nil, fmt.Errorf("bridge: syncer is required")
	case opts.Store == nil:
		return nil, fmt.Errorf("bridge: known device store is required")
	case opts.Publisher == nil:
		return nil, fmt.Errorf("bridge: publisher is required")
	case opts.Source == nil:
		return nil, fmt.Errorf("bridge: state source is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Bridge{
		opts:     opts,
		log:      loggerOrNoop(opts.Logger),
		now:      now,
		bindings: make(map[string]*binding),
	}, nil
}

// Apply makes devices the live configuration.
//
// This method:
//  1. Validates the records; invalid ones are logged and skipped
//  2. Stops every running binder
//  3. Loads the known set; a load failure counts as empty
//  4. Reconciles discovery triggers against the known set
//  5. Saves the resulting known set, unless the reconcile produced no result
//  6. Records reconcile telemetry when configured
//  7. Starts a binder for each valid device
//
// A failed save is only logged; the next Apply corrects it.
//
// Parameters:
//   - ctx: Context for storage and publishes
//   - devices: Device records as loaded from config
//
// Returns:
//   - error: Joins the reconcile error and any binder that failed to start.
//     Devices that did start stay live either way.
func (b *Bridge) Apply(ctx context.Context, devices []config.DeviceConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	valid, invalid := config.ValidateDevices(devices)
	for _, err := range invalid {
		b.log.Warn("skipping device", "error", err)
	}

	b.teardownLocked()

	known, err := b.opts.Store.Load(ctx)
	if err != nil {
		b.log.Warn("failed to load known devices, assuming none", "error", err)
		known = nil
	}

	at := b.now()
	res, reconcileErr := b.opts.Syncer.Reconcile(ctx, valid, known)

	summary := &ReconcileSummary{
		At:        at,
		Devices:   len(res.CurrentIDs),
		Skipped:   len(invalid),
		Published: res.Published,
		Retracted: res.Retracted,
		Failures:  len(res.Failures),
		KnownIDs:  res.KnownIDs(),
		Duration:  res.Duration,
	}
	if reconcileErr != nil {
		summary.Error = reconcileErr.Error()
	}

	switch {
	case reconcileErr != nil && !errors.Is(reconcileErr, discovery.ErrPartialReconcile):
		// No result: keep the previous known set so removed ids are retried.
		b.log.Error("reconcile failed, known devices not saved", "error", reconcileErr)
		summary.PersistErr = "skipped: reconcile failed"
	default:
		if err := b.opts.Store.Save(ctx, summary.KnownIDs); err != nil {
			b.log.Warn("failed to save known devices", "error", err)
			summary.PersistErr = err.Error()
		}
	}

	if b.opts.Reconciles != nil {
		b.opts.Reconciles.RecordReconcile(influxdb.ReconcileStats{
			Devices:   summary.Devices,
			Published: summary.Published,
			Retracted: summary.Retracted,
			Failures:  summary.Failures,
			Duration:  summary.Duration,
		}, at)
	}
	b.last = summary

	errs := []error{reconcileErr}
	for _, dev := range valid {
		bd, err := b.bind(ctx, dev)
		if err != nil {
			b.log.Error("failed to bind device", "device_id", dev.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		b.bindings[dev.ID] = bd
	}

	b.log.Info("devices applied",
		"devices", len(b.bindings),
		"skipped", len(invalid),
		"published", summary.Published,
		"retracted", summary.Retracted,
		"failures", summary.Failures,
	)
	return errors.Join(errs...)
}

func (b *Bridge) bind(ctx context.Context, dev config.DeviceConfig) (*binding, error) {
	ctrl, err := dimmer.NewController(dimmer.ControllerOptions{
		DeviceID:  dev.ID,
		Name:      dev.DisplayName(),
		Topic:     b.opts.Topics.DeviceAction(dev.ID),
		QoS:       b.opts.QoS,
		Publisher: b.opts.Publisher,
		Recorder:  b.opts.Actions,
		Logger:    b.log,
	})
	if err != nil {
		return nil, err
	}

	binder, err := dimmer.NewBinder(dimmer.BinderOptions{
		DeviceID:    dev.ID,
		UpSwitch:    dev.UpSwitch,
		DownSwitch:  dev.DownSwitch,
		PressWindow: dev.PressWindow(),
		HideSources: dev.HideSources,
		Controller:  ctrl,
		Source:      b.opts.Source,
		Hider:       b.opts.Hider,
		Logger:      b.log,
		AfterFunc:   b.opts.AfterFunc,
	})
	if err != nil {
		ctrl.Close()
		return nil, err
	}

	if err := binder.Start(ctx); err != nil {
		binder.Stop()
		return nil, err
	}
	return &binding{device: dev, binder: binder}, nil
}

// Stop tears down every binder. Open presses are cancelled without emitting.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked()
}

func (b *Bridge) teardownLocked() {
	for id, bd := range b.bindings {
		bd.binder.Stop()
		delete(b.bindings, id)
	}
}

// Devices returns the status of every bound device, ordered by id.
func (b *Bridge) Devices() []DeviceStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]DeviceStatus, 0, len(b.bindings))
	for _, bd := range b.bindings {
		out = append(out, bd.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Device returns the status of one bound device.
func (b *Bridge) Device(id string) (DeviceStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bd, ok := b.bindings[id]
	if !ok {
		return DeviceStatus{}, false
	}
	return bd.status(), true
}

// LastReconcile returns the summary of the most recent Apply, if any.
func (b *Bridge) LastReconcile() (ReconcileSummary, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last == nil {
		return ReconcileSummary{}, false
	}
	s := *b.last
	s.KnownIDs = append([]string(nil), b.last.KnownIDs...)
	return s, true
}

func (bd *binding) status() DeviceStatus {
	up, down := bd.binder.PressStates()
	return DeviceStatus{
		Snapshot:      bd.binder.Controller().Snapshot(),
		UpSwitch:      bd.device.UpSwitch,
		DownSwitch:    bd.device.DownSwitch,
		PressWindowMS: bd.device.PressWindow().Milliseconds(),
		HideSources:   bd.device.HideSources,
		UpState:       up,
		DownState:     down,
	}
}
