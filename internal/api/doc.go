// Package api implements the operations HTTP API of the switch dimmer.
//
// Endpoints, all under /api/v1:
//   - GET  /health       dependency checks; 503 when any fails
//   - GET  /metrics      runtime, MQTT, device and database counters
//   - GET  /devices      every bound virtual dimmer
//   - GET  /devices/{id} one dimmer with its press machine states
//   - GET  /sources      source switches hidden from users
//   - GET  /reconcile    summary of the last discovery reconcile
//   - POST /reload       re-read the configuration and re-apply devices
//
// Errors use the envelope {status, code, message}. Every response carries
// an X-Request-ID header.
//
// When api.auth.jwt_secret is set, every endpoint except /health needs a
// bearer token (see package auth): viewer for reads, operator for /reload.
package api
