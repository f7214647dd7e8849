// Package api implements the HTTP query API and WebSocket event stream for
// Homie Core.
//
// This package provides:
//   - Read-only endpoints for assembled devices, nodes and properties
//   - The discovery journal listing (admin role)
//   - A WebSocket hub that streams registry events by event type
//   - JWT bearer authentication, enabled when a secret is configured
//   - Middleware stack (request ID, logging, recovery, metrics, CORS)
//
// # Architecture
//
// The server reads from the homie.Registry, which is fed by the MQTT
// ingestion loop. The Hub subscribes to the registry as an observer and
// serialises each event during dispatch, so clients only ever see values
// that were current when the event fired.
//
// # Routes
//
//	GET /api/v1/health
//	GET /api/v1/devices
//	GET /api/v1/devices/{id}
//	GET /api/v1/devices/{id}/nodes/{nodeID}
//	GET /api/v1/devices/{id}/nodes/{nodeID}/properties/{propertyID}
//	GET /api/v1/discoveries
//	GET /api/v1/ws
//	GET /metrics
//
// Incomplete devices are invisible: they return 404 exactly like unknown ones.
package api
