package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAction    = "dimmer_action"
	MeasurementReconcile = "discovery_reconcile"
)

// ReconcileStats summarises one discovery reconciliation.
type ReconcileStats struct {
	Devices   int
	Published int
	Retracted int
	Failures  int
	Duration  time.Duration
}

// RecordAction writes one emitted dimmer action. Non-blocking; points are
// batched and sent asynchronously.
func (c *Client) RecordAction(deviceID, action string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(actionPoint(deviceID, action, at))
}

// RecordReconcile writes the outcome of a discovery reconciliation.
func (c *Client) RecordReconcile(stats ReconcileStats, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(reconcilePoint(stats, at))
}

func actionPoint(deviceID, action string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAction,
		map[string]string{
			"device_id": deviceID,
			"action":    action,
		},
		map[string]any{
			"count": int64(1),
		},
		at,
	)
}

func reconcilePoint(stats ReconcileStats, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementReconcile,
		nil,
		map[string]any{
			"devices":     int64(stats.Devices),
			"published":   int64(stats.Published),
			"retracted":   int64(stats.Retracted),
			"failures":    int64(stats.Failures),
			"duration_ms": stats.Duration.Milliseconds(),
		},
		at,
	)
}
