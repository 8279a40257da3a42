// Package influxdb records switch dimmer telemetry in InfluxDB v2.
//
// Every emitted dimmer action and every discovery reconciliation is written
// as a point through the non-blocking write API. Telemetry is optional:
// when influxdb.enabled is false, Connect returns ErrDisabled and the
// service runs without it.
package influxdb
