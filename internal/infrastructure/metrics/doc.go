// Package metrics exposes Homie Core counters and gauges to Prometheus.
//
// A Registry owns a private prometheus.Registry, so tests can create as many
// as they like. It plugs into the rest of the service in three places:
//
//	handler := m.Instrument(registry.HandleMessage) // ingestion counters
//	registry.Subscribe(m)                           // events by type
//	registry.SetFailureHook(m.RecordObserverFailure)
//
// The API mounts Handler at /metrics.
package metrics
